// Package semantic provides a memory.Backend over a vector.Driver.
//
// Content is embedded with an embeddings.Embedder on retain and recall.
// The same backend serves the sqlitevec, chroma and qdrant providers; only
// the driver differs.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/mnemo/pkg/embeddings"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/vector"
)

// DefaultTopK is the number of neighbours fetched when a recall has no limit.
const DefaultTopK = 10

// Config holds configuration for the semantic backend.
type Config struct {
	// ID is the backend id. Defaults to "semantic".
	ID string

	Driver   vector.Driver
	Embedder embeddings.Embedder
	Logger   *slog.Logger

	// Now overrides the clock used to stamp memories.
	Now func() time.Time
}

// Backend implements memory.Backend with embedding similarity search.
type Backend struct {
	id       string
	driver   vector.Driver
	embedder embeddings.Embedder
	logger   *slog.Logger
	now      func() time.Time
}

// NewBackend creates a semantic backend. Driver and Embedder are required.
func NewBackend(c Config) (*Backend, error) {
	if c.Driver == nil {
		return nil, &memory.ConfigurationError{Field: "driver", Reason: "vector driver is required"}
	}
	if c.Embedder == nil {
		return nil, &memory.ConfigurationError{Field: "embedder", Reason: "embedder is required"}
	}
	if c.ID == "" {
		c.ID = "semantic"
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Backend{
		id:       c.ID,
		driver:   c.Driver,
		embedder: c.Embedder,
		logger:   c.Logger,
		now:      c.Now,
	}, nil
}

func (b *Backend) ID() string {
	return b.id
}

// Retain embeds and stores content. A "session_key" metadata entry scopes
// the memory to that session; other entries are stored as strings.
func (b *Backend) Retain(ctx context.Context, content string, meta map[string]any) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	doc, err := b.document(ctx, content, meta)
	if err != nil {
		return err
	}
	return b.driver.Add(ctx, []vector.Document{doc})
}

func (b *Backend) Recall(ctx context.Context, query string, opts memory.RecallOptions) ([]memory.Result, error) {
	return b.query(ctx, query, opts, time.Time{})
}

// RecallAsOf is Recall restricted to memories created at or before asOf.
func (b *Backend) RecallAsOf(ctx context.Context, query string, asOf time.Time, opts memory.RecallOptions) ([]memory.Result, error) {
	return b.query(ctx, query, opts, asOf)
}

// OnCompactionPre embeds the whole snapshot and stores it in one batch.
func (b *Backend) OnCompactionPre(ctx context.Context, ev memory.PreCompaction) error {
	records := ev.Records()
	if len(records) == 0 {
		return nil
	}

	docs := make([]vector.Document, 0, len(records))
	for _, r := range records {
		doc, err := b.document(ctx, r.Content, r.Meta)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	if err := b.driver.Add(ctx, docs); err != nil {
		return fmt.Errorf("storing snapshot of session %s: %w", ev.SessionKey, err)
	}

	b.logger.Debug("captured snapshot", "backend", b.id, "session_key", ev.SessionKey, "memories", len(docs))
	return nil
}

// HealthCheck pings the vector store.
func (b *Backend) HealthCheck(ctx context.Context) memory.HealthStatus {
	if err := b.driver.Ping(ctx); err != nil {
		return memory.HealthStatus{Error: err.Error()}
	}
	return memory.HealthStatus{OK: true}
}

// Stop closes the driver and the embedder.
func (b *Backend) Stop(_ context.Context) error {
	return errors.Join(b.driver.Close(), b.embedder.Close())
}

func (b *Backend) document(ctx context.Context, content string, meta map[string]any) (vector.Document, error) {
	emb, err := b.embedder.Embed(ctx, content)
	if err != nil {
		return vector.Document{}, err
	}

	doc := vector.Document{
		ID:        uuid.NewString(),
		Content:   content,
		CreatedAt: b.now(),
		Metadata:  make(map[string]string, len(meta)),
		Embedding: emb,
	}
	for k, v := range meta {
		if k == "session_key" {
			doc.SessionKey, _ = v.(string)
			continue
		}
		doc.Metadata[k] = fmt.Sprint(v)
	}
	return doc, nil
}

func (b *Backend) query(ctx context.Context, query string, opts memory.RecallOptions, asOf time.Time) ([]memory.Result, error) {
	if strings.TrimSpace(query) == "" {
		return []memory.Result{}, nil
	}

	emb, err := b.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	topK := opts.Limit
	if topK <= 0 {
		topK = DefaultTopK
	}

	hits, err := b.driver.Query(ctx, emb, topK, vector.Filter{
		SessionKey: opts.SessionKey,
		Before:     asOf,
	})
	if err != nil {
		return nil, err
	}

	results := make([]memory.Result, 0, len(hits))
	for _, h := range hits {
		meta := make(map[string]any, len(h.Metadata)+3)
		for k, v := range h.Metadata {
			meta[k] = v
		}
		meta["id"] = h.ID
		meta["created_at"] = h.CreatedAt
		if h.SessionKey != "" {
			meta["session_key"] = h.SessionKey
		}

		results = append(results, memory.Result{
			Content:  h.Content,
			Score:    min(max(float64(h.Score), 0), 1),
			Metadata: meta,
		})
	}
	return results, nil
}
