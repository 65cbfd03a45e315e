package memory

import (
	"maps"
	"slices"
	"time"
)

// Result is a single memory returned by a backend recall. Results are
// produced per call and never persisted by this layer.
type Result struct {
	// Content is the recalled memory text.
	Content string `json:"content"`

	// Score is the backend-declared relevance in [0,1]. Backends are
	// required to emit comparable scores; no normalization is applied.
	Score float64 `json:"score"`

	// Source is the id of the backend that produced the result.
	Source string `json:"source"`

	// Metadata is optional backend-specific detail.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Insight is a reflection output. Insights are concatenated across backends,
// never ranked or deduplicated.
type Insight struct {
	Content string `json:"content"`
	Source  string `json:"source"`
}

// Message is one conversation message held by the host runtime.
type Message struct {
	ID        string            `json:"id"`
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Tokens    int               `json:"tokens"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ToolInvocation is one tool call recorded by the host runtime.
type ToolInvocation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Arguments string    `json:"arguments"`
	Result    string    `json:"result"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot is the full session state captured before a compaction. It is
// immutable once captured; every consumer receives its own deep copy.
type Snapshot struct {
	SessionKey string           `json:"session_key"`
	Messages   []Message        `json:"messages"`
	Tools      []ToolInvocation `json:"tools"`
	Context    []byte           `json:"context,omitempty"`
	TokenCount int              `json:"token_count"`
	CapturedAt time.Time        `json:"captured_at"`
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		SessionKey: s.SessionKey,
		Tools:      slices.Clone(s.Tools),
		Context:    slices.Clone(s.Context),
		TokenCount: s.TokenCount,
		CapturedAt: s.CapturedAt,
	}

	if s.Messages != nil {
		out.Messages = make([]Message, len(s.Messages))
		for i, m := range s.Messages {
			m.Metadata = maps.Clone(m.Metadata)
			out.Messages[i] = m
		}
	}

	return out
}

// PreCompaction is delivered to compaction-aware backends after the
// compaction:pre event has been dispatched and before the host compacts.
type PreCompaction struct {
	SessionKey string   `json:"session_key"`
	Seq        uint64   `json:"seq"`
	Snapshot   Snapshot `json:"snapshot"`
}

// PostCompaction is delivered to compaction-aware backends once the host
// compaction succeeded.
type PostCompaction struct {
	SessionKey      string `json:"session_key"`
	Seq             uint64 `json:"seq"`
	Summary         string `json:"summary"`
	TokensBefore    int    `json:"tokens_before"`
	TokensAfter     int    `json:"tokens_after"`
	MessagesRemoved int    `json:"messages_removed"`
}

// RetainOptions tunes a retain fan-out.
type RetainOptions struct {
	// SessionKey scopes the memory to a session when the backend supports it.
	SessionKey string

	// Metadata is passed through to every backend.
	Metadata map[string]any

	// Backends restricts the fan-out to the listed ids. Empty means all.
	Backends []string
}

// RecallOptions tunes a recall fan-out. Backends receive a copy with
// Backends and Timeout cleared.
type RecallOptions struct {
	// Limit caps the fused output. Zero means no cap.
	Limit int

	// SessionKey scopes the query to a session when the backend supports it.
	SessionKey string

	// Backends restricts the fan-out to the listed ids. Empty means all.
	Backends []string

	// Timeout overrides the client's per-backend timeout.
	Timeout time.Duration

	// AsOf, when set, turns the recall into a temporal query routed only to
	// backends with the temporal capability.
	AsOf *time.Time
}
