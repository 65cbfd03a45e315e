// Package sqlite provides a durable memory.Backend on SQLite.
//
// Memories are prefiltered in SQL with LIKE on a normalised term column and
// scored in Go by term overlap, the same scoring as the local backend.
// Pre-compaction snapshots are written in full to a snapshots table so a
// session can be reconstructed after its context window was compacted.
package sqlite

import (
	"cmp"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id          TEXT PRIMARY KEY,
	content     TEXT NOT NULL,
	terms       TEXT NOT NULL,
	session_key TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}',
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_session ON memories(session_key, created_at);

CREATE TABLE IF NOT EXISTS snapshots (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_key TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	snapshot    TEXT NOT NULL,
	captured_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots(session_key, id);
`

// Config holds configuration for the SQLite memory backend.
type Config struct {
	// ID is the backend id. Defaults to "sqlite".
	ID string

	// DBPath is a file path or ":memory:".
	DBPath string

	Logger *slog.Logger

	// Now overrides the clock used to stamp memories.
	Now func() time.Time
}

// Backend implements memory.Backend on SQLite.
type Backend struct {
	id     string
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewBackend opens the database and creates the schema.
func NewBackend(c Config) (*Backend, error) {
	if c.DBPath == "" {
		return nil, &memory.ConfigurationError{Field: "path", Reason: "database path is required"}
	}
	if c.ID == "" {
		c.ID = "sqlite"
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	db, err := sql.Open("sqlite3", c.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite serialises writers anyway, and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	c.Logger.Debug("sqlite memory backend initialized", "backend", c.ID, "db_path", c.DBPath)

	return &Backend{id: c.ID, db: db, logger: c.Logger, now: c.Now}, nil
}

func (b *Backend) ID() string {
	return b.id
}

// Retain stores content. A "session_key" metadata entry scopes it to that
// session.
func (b *Backend) Retain(ctx context.Context, content string, meta map[string]any) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	return b.insert(ctx, b.db, content, meta)
}

func (b *Backend) Recall(ctx context.Context, query string, opts memory.RecallOptions) ([]memory.Result, error) {
	return b.search(ctx, query, opts, time.Time{})
}

// RecallAsOf is Recall restricted to memories created at or before asOf.
func (b *Backend) RecallAsOf(ctx context.Context, query string, asOf time.Time, opts memory.RecallOptions) ([]memory.Result, error) {
	return b.search(ctx, query, opts, asOf)
}

// Reflect reports the terms that most often co-occur with the topic.
func (b *Backend) Reflect(ctx context.Context, topic string) ([]string, error) {
	topicTerms := utils.TermSet(topic)
	rows, err := b.candidates(ctx, topicTerms, memory.RecallOptions{}, time.Time{})
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(rows))
	for _, r := range rows {
		texts = append(texts, r.content)
	}

	var insights []string
	for _, term := range utils.TopTerms(0, texts...) {
		if _, isTopic := topicTerms[term]; isTopic {
			continue
		}
		insights = append(insights, fmt.Sprintf("%q recurs in %s memories", term, topic))
		if len(insights) == 3 {
			break
		}
	}
	return insights, nil
}

// OnCompactionPre stores the full snapshot and its records in one
// transaction. Nothing is written if any part fails.
func (b *Backend) OnCompactionPre(ctx context.Context, ev memory.PreCompaction) error {
	raw, err := json.Marshal(ev.Snapshot)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshots(session_key, seq, snapshot, captured_at) VALUES (?, ?, ?, ?)`,
		ev.SessionKey, ev.Seq, string(raw), b.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("storing snapshot: %w", err)
	}

	for _, r := range ev.Records() {
		if err := b.insert(ctx, tx, r.Content, r.Meta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing snapshot: %w", err)
	}
	return nil
}

// Snapshots returns every snapshot captured for the session, oldest first.
func (b *Backend) Snapshots(ctx context.Context, sessionKey string) ([]memory.Snapshot, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT snapshot FROM snapshots WHERE session_key = ? ORDER BY id`, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var out []memory.Snapshot
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		var s memory.Snapshot
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (b *Backend) HealthCheck(ctx context.Context) memory.HealthStatus {
	if err := b.db.PingContext(ctx); err != nil {
		return memory.HealthStatus{Error: err.Error()}
	}
	return memory.HealthStatus{OK: true}
}

// Stop closes the database.
func (b *Backend) Stop(_ context.Context) error {
	return b.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (b *Backend) insert(ctx context.Context, db execer, content string, meta map[string]any) error {
	sessionKey, _ := meta["session_key"].(string)

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if meta == nil {
		raw = []byte("{}")
	}

	// Terms are stored space-delimited with a leading and trailing space so
	// LIKE '% term %' only matches whole terms.
	terms := " " + strings.Join(utils.Terms(content), " ") + " "

	if _, err := db.ExecContext(ctx,
		`INSERT INTO memories(id, content, terms, session_key, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), content, terms, sessionKey, string(raw), b.now().UnixNano(),
	); err != nil {
		return fmt.Errorf("inserting memory: %w", err)
	}
	return nil
}

type row struct {
	id        string
	content   string
	terms     string
	metadata  string
	createdAt int64
}

// candidates returns rows containing at least one of the terms.
func (b *Backend) candidates(ctx context.Context, terms map[string]struct{}, opts memory.RecallOptions, asOf time.Time) ([]row, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	var (
		likes []string
		args  []any
	)
	for t := range terms {
		likes = append(likes, "terms LIKE ? ESCAPE '\\'")
		args = append(args, "% "+escapeLike(t)+" %")
	}
	where := "(" + strings.Join(likes, " OR ") + ")"

	if opts.SessionKey != "" {
		where += " AND session_key = ?"
		args = append(args, opts.SessionKey)
	}
	if !asOf.IsZero() {
		where += " AND created_at <= ?"
		args = append(args, asOf.UnixNano())
	}

	rows, err := b.db.QueryContext(ctx,
		`SELECT id, content, terms, metadata, created_at FROM memories WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memories: %w", err)
	}
	defer rows.Close()

	var out []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.content, &r.terms, &r.metadata, &r.createdAt); err != nil {
			return nil, fmt.Errorf("scanning memory: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *Backend) search(ctx context.Context, query string, opts memory.RecallOptions, asOf time.Time) ([]memory.Result, error) {
	queryTerms := utils.TermSet(query)
	rows, err := b.candidates(ctx, queryTerms, opts, asOf)
	if err != nil {
		return nil, err
	}

	type scored struct {
		result    memory.Result
		createdAt int64
	}
	hits := make([]scored, 0, len(rows))
	for _, r := range rows {
		docTerms := map[string]struct{}{}
		for _, t := range strings.Fields(r.terms) {
			docTerms[t] = struct{}{}
		}

		meta := map[string]any{}
		if err := json.Unmarshal([]byte(r.metadata), &meta); err != nil {
			return nil, fmt.Errorf("decoding metadata of memory %s: %w", r.id, err)
		}
		meta["id"] = r.id
		meta["created_at"] = time.Unix(0, r.createdAt)

		hits = append(hits, scored{
			result: memory.Result{
				Content:  r.content,
				Score:    utils.Overlap(queryTerms, docTerms),
				Metadata: meta,
			},
			createdAt: r.createdAt,
		})
	}

	// Best match first, newest first among equals.
	slices.SortFunc(hits, func(x, y scored) int {
		if c := cmp.Compare(y.result.Score, x.result.Score); c != 0 {
			return c
		}
		return cmp.Compare(y.createdAt, x.createdAt)
	})

	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	results := make([]memory.Result, len(hits))
	for i, h := range hits {
		results[i] = h.result
	}
	return results, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
