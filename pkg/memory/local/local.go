// Package local provides an in-process implementation of the memory.Backend
// interface.
//
// Memories are kept in insertion order and recalled by term overlap with the
// query. This is a simple local-dev story; durable and semantic backends
// live in the sibling sqlite, sqlitevec, postgres and qdrant packages.
package local

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/utils"
)

// Config holds configuration for the local memory backend.
type Config struct {
	// ID is the backend id. Defaults to "local".
	ID string

	// MaxEntries caps the number of memories held; the oldest are evicted
	// first. Zero means unbounded.
	MaxEntries int

	// Now overrides the clock used to stamp memories.
	Now func() time.Time
}

type entry struct {
	id         string
	content    string
	terms      map[string]struct{}
	sessionKey string
	meta       map[string]any
	createdAt  time.Time
}

// Backend implements memory.Backend using in-process data structures.
type Backend struct {
	config Config

	mu      sync.RWMutex
	entries []entry
}

// NewBackend creates a local in-memory backend.
func NewBackend(config Config) *Backend {
	if config.ID == "" {
		config.ID = "local"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Backend{config: config}
}

func (b *Backend) ID() string {
	return b.config.ID
}

// Retain stores content as a memory. A "session_key" metadata entry scopes
// it to that session.
func (b *Backend) Retain(_ context.Context, content string, meta map[string]any) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	e := entry{
		id:        uuid.NewString(),
		content:   content,
		terms:     utils.TermSet(content),
		meta:      maps.Clone(meta),
		createdAt: b.config.Now(),
	}
	if key, ok := meta["session_key"].(string); ok {
		e.sessionKey = key
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, e)
	if b.config.MaxEntries > 0 && len(b.entries) > b.config.MaxEntries {
		b.entries = slices.Delete(b.entries, 0, len(b.entries)-b.config.MaxEntries)
	}

	return nil
}

// Recall scores every memory by the share of query terms it contains.
func (b *Backend) Recall(_ context.Context, query string, opts memory.RecallOptions) ([]memory.Result, error) {
	return b.search(query, opts, time.Time{}), nil
}

// RecallAsOf is Recall restricted to memories created at or before asOf.
func (b *Backend) RecallAsOf(_ context.Context, query string, asOf time.Time, opts memory.RecallOptions) ([]memory.Result, error) {
	return b.search(query, opts, asOf), nil
}

// Reflect reports which terms most often co-occur with the topic.
func (b *Backend) Reflect(_ context.Context, topic string) ([]string, error) {
	topicTerms := utils.TermSet(topic)
	if len(topicTerms) == 0 {
		return nil, nil
	}

	b.mu.RLock()
	var related []string
	for _, e := range b.entries {
		if utils.Overlap(topicTerms, e.terms) > 0 {
			related = append(related, e.content)
		}
	}
	b.mu.RUnlock()

	if len(related) == 0 {
		return nil, nil
	}

	insights := make([]string, 0, 3)
	for _, term := range utils.TopTerms(0, related...) {
		if _, isTopic := topicTerms[term]; isTopic {
			continue
		}
		insights = append(insights, fmt.Sprintf("%q is frequently mentioned alongside %q", topic, term))
		if len(insights) == cap(insights) {
			break
		}
	}
	return insights, nil
}

// OnCompactionPre retains every message and tool invocation of the snapshot
// before the host compacts it.
func (b *Backend) OnCompactionPre(ctx context.Context, ev memory.PreCompaction) error {
	for _, r := range ev.Records() {
		if err := b.Retain(ctx, r.Content, r.Meta); err != nil {
			return err
		}
	}
	return nil
}

// HealthCheck always reports healthy.
func (b *Backend) HealthCheck(_ context.Context) memory.HealthStatus {
	return memory.HealthStatus{OK: true}
}

// Len returns the number of stored memories.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

func (b *Backend) search(query string, opts memory.RecallOptions, asOf time.Time) []memory.Result {
	queryTerms := utils.TermSet(query)
	if len(queryTerms) == 0 {
		return []memory.Result{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]memory.Result, 0)
	for _, e := range b.entries {
		if !asOf.IsZero() && e.createdAt.After(asOf) {
			continue
		}
		if opts.SessionKey != "" && e.sessionKey != opts.SessionKey {
			continue
		}

		score := utils.Overlap(queryTerms, e.terms)
		if score == 0 {
			continue
		}

		meta := maps.Clone(e.meta)
		if meta == nil {
			meta = map[string]any{}
		}
		meta["id"] = e.id
		meta["created_at"] = e.createdAt

		results = append(results, memory.Result{
			Content:  e.content,
			Score:    score,
			Metadata: meta,
		})
	}

	// Best match first, newest first among equals.
	slices.SortStableFunc(results, func(x, y memory.Result) int {
		switch {
		case x.Score > y.Score:
			return -1
		case x.Score < y.Score:
			return 1
		}
		return y.Metadata["created_at"].(time.Time).Compare(x.Metadata["created_at"].(time.Time))
	})

	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}
