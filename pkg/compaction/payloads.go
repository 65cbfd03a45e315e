package compaction

import (
	"encoding/json"

	"github.com/papercomputeco/mnemo/pkg/memory"
)

// UsagePayload accompanies compaction:warning and compaction:imminent.
type UsagePayload struct {
	Ratio     float64 `json:"ratio"`
	Threshold float64 `json:"threshold"`
}

// PrePayload accompanies compaction:pre. The captured snapshot is only
// reachable through Snapshot, so every handler and asynchronous consumer
// reads its own copy and none can alter what the others see.
type PrePayload struct {
	snapshot memory.Snapshot
}

// NewPrePayload wraps a copy of s.
func NewPrePayload(s memory.Snapshot) PrePayload {
	return PrePayload{snapshot: s.Clone()}
}

// Snapshot returns a deep copy of the captured session state.
func (p PrePayload) Snapshot() memory.Snapshot {
	return p.snapshot.Clone()
}

type prePayloadJSON struct {
	Snapshot memory.Snapshot `json:"snapshot"`
}

func (p PrePayload) MarshalJSON() ([]byte, error) {
	return json.Marshal(prePayloadJSON{Snapshot: p.snapshot})
}

func (p *PrePayload) UnmarshalJSON(data []byte) error {
	var raw prePayloadJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	p.snapshot = raw.Snapshot
	return nil
}

// PostPayload accompanies compaction:post.
type PostPayload struct {
	Summary         string `json:"summary"`
	TokensBefore    int    `json:"tokens_before"`
	TokensAfter     int    `json:"tokens_after"`
	MessagesRemoved int    `json:"messages_removed"`
}

// FailedPayload accompanies compaction:failed.
type FailedPayload struct {
	Phase string `json:"phase"`
	Error string `json:"error"`
}

// RecoveryPayload accompanies compaction:recovery.
type RecoveryPayload struct {
	Topics  []string        `json:"topics"`
	Results []memory.Result `json:"results"`
	Error   string          `json:"error,omitempty"`
}
