package eventstream

import (
	"time"

	"github.com/papercomputeco/mnemo/pkg/events"
)

// SchemaVersionV1 is the first version of the record schema.
const SchemaVersionV1 = 1

// Record is the transport-neutral envelope of a bus event.
type Record struct {
	SchemaVersion int         `json:"schema_version"`
	EventID       string      `json:"event_id"`
	EventType     events.Type `json:"event_type"`
	SessionKey    string      `json:"session_key"`
	AgentID       string      `json:"agent_id,omitempty"`
	Seq           uint64      `json:"seq"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Payload       any         `json:"payload,omitempty"`
}

// NewRecord wraps a bus event.
func NewRecord(ev events.Event) *Record {
	return &Record{
		SchemaVersion: SchemaVersionV1,
		EventID:       ev.ID,
		EventType:     ev.Type,
		SessionKey:    ev.SessionKey,
		AgentID:       ev.AgentID,
		Seq:           ev.Seq,
		EmittedAt:     ev.Timestamp,
		Payload:       ev.Payload,
	}
}
