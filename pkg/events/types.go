// Package events provides the ordered publish/subscribe bus that carries
// session, message, tool, agent and compaction lifecycle events.
//
// A Bus is an explicit instance: construct one per running agent and pass it
// to every component that emits or observes events. Emit dispatches
// sequentially in the caller's goroutine and returns only after every
// matching handler finished, so anything the caller does after Emit runs
// strictly after all current observers processed the event.
package events

import (
	"context"
	"time"
)

// Type is an event tag from a closed enumeration.
type Type string

const (
	SessionStart Type = "session:start"
	SessionEnd   Type = "session:end"

	MessageReceived Type = "message:received"
	MessageSent     Type = "message:sent"

	ToolCalled Type = "tool:called"
	ToolResult Type = "tool:result"

	AgentStart Type = "agent:start"
	AgentEnd   Type = "agent:end"

	CompactionWarning  Type = "compaction:warning"
	CompactionImminent Type = "compaction:imminent"
	CompactionPre      Type = "compaction:pre"
	CompactionPost     Type = "compaction:post"
	CompactionFailed   Type = "compaction:failed"
	CompactionRecovery Type = "compaction:recovery"

	// Any is the wildcard subscription pattern. It is not an emittable type.
	Any Type = "*"
)

var knownTypes = map[Type]struct{}{
	SessionStart:       {},
	SessionEnd:         {},
	MessageReceived:    {},
	MessageSent:        {},
	ToolCalled:         {},
	ToolResult:         {},
	AgentStart:         {},
	AgentEnd:           {},
	CompactionWarning:  {},
	CompactionImminent: {},
	CompactionPre:      {},
	CompactionPost:     {},
	CompactionFailed:   {},
	CompactionRecovery: {},
}

// Valid reports whether t is an emittable event type.
func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}

// Types returns every emittable event type.
func Types() []Type {
	return []Type{
		SessionStart, SessionEnd,
		MessageReceived, MessageSent,
		ToolCalled, ToolResult,
		AgentStart, AgentEnd,
		CompactionWarning, CompactionImminent, CompactionPre,
		CompactionPost, CompactionFailed, CompactionRecovery,
	}
}

// Event is one emitted lifecycle event.
type Event struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	SessionKey string    `json:"session_key"`
	AgentID    string    `json:"agent_id,omitempty"`
	Type       Type      `json:"type"`
	Payload    any       `json:"payload,omitempty"`
}

// Handler processes a dispatched event.
type Handler interface {
	Handle(ctx context.Context, ev Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev Event) error

func (f HandlerFunc) Handle(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}
