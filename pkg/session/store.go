// Package session is the built-in compaction host: an in-memory record of
// each session's messages and tool calls with token accounting.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/mnemo/pkg/compaction"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

const (
	DefaultContextWindow = 128000
	DefaultKeepMessages  = 8

	// charsPerToken approximates token counts the host did not report.
	charsPerToken = 4
)

// ErrUnknownSession is returned for operations on sessions never written to.
var ErrUnknownSession = errors.New("unknown session")

type Config struct {
	// ContextWindow is the token budget usage ratios are computed against.
	ContextWindow int

	// KeepMessages is how many of the most recent messages survive Compact.
	// Zero selects DefaultKeepMessages.
	KeepMessages int

	// Now overrides the clock used to stamp messages and tools.
	Now func() time.Time
}

// Usage is a session's current context consumption.
type Usage struct {
	SessionKey string  `json:"session_key"`
	Tokens     int     `json:"tokens"`
	Messages   int     `json:"messages"`
	Tools      int     `json:"tools"`
	Ratio      float64 `json:"ratio"`

	// Created is set on the write that started the session.
	Created bool `json:"created,omitempty"`
}

type state struct {
	messages []memory.Message
	tools    []memory.ToolInvocation
	tokens   int
}

// Store implements compaction.Host.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*state
	window   int
	keep     int
	now      func() time.Time
}

var _ compaction.Host = (*Store)(nil)

func NewStore(c Config) *Store {
	if c.ContextWindow <= 0 {
		c.ContextWindow = DefaultContextWindow
	}
	if c.KeepMessages <= 0 {
		c.KeepMessages = DefaultKeepMessages
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Store{
		sessions: make(map[string]*state),
		window:   c.ContextWindow,
		keep:     c.KeepMessages,
		now:      c.Now,
	}
}

// AddMessage appends m to the session, filling in a missing id, timestamp
// and token estimate, and returns the resulting usage.
func (s *Store) AddMessage(sessionKey string, m memory.Message) Usage {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	if m.Tokens <= 0 {
		m.Tokens = EstimateTokens(m.Content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, created := s.session(sessionKey)
	st.messages = append(st.messages, m)
	st.tokens += m.Tokens

	u := s.usage(sessionKey, st)
	u.Created = created
	return u
}

// AddTool appends a tool invocation to the session. Its arguments and
// result count against the context window.
func (s *Store) AddTool(sessionKey string, t memory.ToolInvocation) Usage {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, created := s.session(sessionKey)
	st.tools = append(st.tools, t)
	st.tokens += toolTokens(t)

	u := s.usage(sessionKey, st)
	u.Created = created
	return u
}

// Usage returns the session's current usage.
func (s *Store) Usage(sessionKey string) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionKey]
	if !ok {
		return Usage{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionKey)
	}
	return s.usage(sessionKey, st), nil
}

// Keys returns the known session keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Delete drops the session.
func (s *Store) Delete(sessionKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey)
}

// CaptureFullState returns a deep copy of the session.
func (s *Store) CaptureFullState(_ context.Context, sessionKey string) (memory.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionKey]
	if !ok {
		return memory.Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionKey)
	}

	snap := memory.Snapshot{
		SessionKey: sessionKey,
		Messages:   st.messages,
		Tools:      st.tools,
		TokenCount: st.tokens,
		CapturedAt: s.now(),
	}
	return snap.Clone(), nil
}

// Compact keeps the most recent KeepMessages messages and the tool calls
// made since the oldest of them. Everything older is dropped.
func (s *Store) Compact(_ context.Context, sessionKey string) (compaction.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[sessionKey]
	if !ok {
		return compaction.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownSession, sessionKey)
	}

	removed := 0
	if len(st.messages) > s.keep {
		removed = len(st.messages) - s.keep
		st.messages = slices.Clone(st.messages[removed:])
	}

	droppedTools := 0
	if removed > 0 {
		var cutoff time.Time
		if len(st.messages) > 0 {
			cutoff = st.messages[0].CreatedAt
		}
		kept := st.tools[:0:0]
		for _, t := range st.tools {
			if len(st.messages) > 0 && !t.CreatedAt.Before(cutoff) {
				kept = append(kept, t)
			}
		}
		droppedTools = len(st.tools) - len(kept)
		st.tools = kept
	}

	st.tokens = 0
	for _, m := range st.messages {
		st.tokens += m.Tokens
	}
	for _, t := range st.tools {
		st.tokens += toolTokens(t)
	}

	return compaction.Outcome{
		Summary: fmt.Sprintf("removed %d messages and %d tool calls, kept %d messages",
			removed, droppedTools, len(st.messages)),
		TokensAfter:     st.tokens,
		MessagesRemoved: removed,
	}, nil
}

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

func toolTokens(t memory.ToolInvocation) int {
	return EstimateTokens(t.Name) + EstimateTokens(t.Arguments) + EstimateTokens(t.Result) + EstimateTokens(t.Error)
}

// session returns the state for key, creating it. Callers hold s.mu.
func (s *Store) session(key string) (*state, bool) {
	st, ok := s.sessions[key]
	if !ok {
		st = &state{}
		s.sessions[key] = st
	}
	return st, !ok
}

func (s *Store) usage(key string, st *state) Usage {
	return Usage{
		SessionKey: key,
		Tokens:     st.tokens,
		Messages:   len(st.messages),
		Tools:      len(st.tools),
		Ratio:      float64(st.tokens) / float64(s.window),
	}
}
