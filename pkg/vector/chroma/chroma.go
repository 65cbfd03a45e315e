// Package chroma provides a Chroma vector database driver implementation.
package chroma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	mnemologger "github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/utils"
	"github.com/papercomputeco/mnemo/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection name for storing memories.
	DefaultCollectionName = "mnemo"

	defaultMaxRetries    = 5
	defaultRetryDelay    = 500 * time.Millisecond
	defaultMaxRetryDelay = 5 * time.Second

	apiPrefix = "/api/v2/tenants/default_tenant/databases/default_database/collections"

	metaSessionKey = "session_key"
	metaCreatedAt  = "created_at"
)

// Driver implements vector.Driver using Chroma's REST API.
type Driver struct {
	baseURL        string
	collectionName string
	collectionID   string
	httpClient     *http.Client
	logger         *slog.Logger
}

// Config holds configuration for the Chroma driver.
type Config struct {
	// URL is the Chroma server URL (e.g., "http://localhost:8000").
	URL string

	// CollectionName is the name of the collection to use.
	// Defaults to DefaultCollectionName if empty.
	CollectionName string

	// MaxRetries bounds how many times the collection lookup is attempted
	// while Chroma is starting up.
	MaxRetries int

	// RetryDelay is the initial backoff, doubled per attempt up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

// NewDriver creates a new Chroma vector driver.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	if c.URL == "" {
		return nil, errors.New("chroma URL is required")
	}
	if logger == nil {
		logger = mnemologger.Nop()
	}
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = defaultMaxRetryDelay
	}

	d := &Driver{
		baseURL:        c.URL,
		collectionName: c.CollectionName,
		httpClient:     &http.Client{Timeout: 60 * time.Second},
		logger:         logger,
	}

	var (
		lastErr error
		delay   = c.RetryDelay
	)
	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		id, err := d.getOrCreateCollection(context.Background())
		if err == nil {
			d.collectionID = id
			logger.Info("connected to chroma",
				"url", c.URL,
				"collection", c.CollectionName,
				"collection_id", id,
			)
			return d, nil
		}

		lastErr = err
		logger.Debug("chroma not ready, retrying", "attempt", attempt, "error", err)
		if attempt < c.MaxRetries {
			time.Sleep(delay)
			delay = min(delay*2, c.MaxRetryDelay)
		}
	}

	return nil, fmt.Errorf("getting or creating collection %q after %d attempts: %w",
		c.CollectionName, c.MaxRetries, lastErr)
}

func (d *Driver) getOrCreateCollection(ctx context.Context) (string, error) {
	var collection chromaCollection

	status, err := d.do(ctx, http.MethodGet, d.baseURL+apiPrefix+"/"+d.collectionName, nil, &collection)
	if err == nil && status == http.StatusOK {
		return collection.ID, nil
	}

	if _, err := d.do(ctx, http.MethodPost, d.baseURL+apiPrefix, map[string]string{"name": d.collectionName}, &collection); err != nil {
		return "", fmt.Errorf("creating collection: %w", err)
	}
	return collection.ID, nil
}

// Add stores documents with their embeddings.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	req := chromaUpsertRequest{
		IDs:        make([]string, len(docs)),
		Embeddings: make([][]float32, len(docs)),
		Metadatas:  make([]map[string]any, len(docs)),
		Documents:  make([]string, len(docs)),
	}
	for i, doc := range docs {
		meta := make(map[string]any, len(doc.Metadata)+2)
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		meta[metaSessionKey] = doc.SessionKey
		meta[metaCreatedAt] = doc.CreatedAt.UnixMilli()

		req.IDs[i] = doc.ID
		req.Embeddings[i] = doc.Embedding
		req.Metadatas[i] = meta
		req.Documents[i] = doc.Content
	}

	if _, err := d.do(ctx, http.MethodPost, d.collectionURL("upsert"), req, nil); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}

	d.logger.Debug("added documents to chroma", "count", len(docs))
	return nil
}

// Query finds the topK most similar documents to the given embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	req := chromaQueryRequest{
		QueryEmbeddings: [][]float32{embedding},
		NResults:        topK,
		Include:         []string{"documents", "metadatas", "distances"},
		Where:           whereClause(filter),
	}

	var resp chromaQueryResponse
	if _, err := d.do(ctx, http.MethodPost, d.collectionURL("query"), req, &resp); err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}

	results := []vector.QueryResult{}

	// only one query embedding is ever sent
	if len(resp.IDs) == 0 {
		return results, nil
	}

	for i, id := range resp.IDs[0] {
		doc := vector.Document{ID: id, Metadata: map[string]string{}}

		if len(resp.Documents) > 0 && i < len(resp.Documents[0]) {
			doc.Content = resp.Documents[0][i]
		}
		if len(resp.Metadatas) > 0 && i < len(resp.Metadatas[0]) {
			for k, v := range resp.Metadatas[0][i] {
				switch k {
				case metaSessionKey:
					doc.SessionKey, _ = v.(string)
				case metaCreatedAt:
					if ms, ok := v.(float64); ok {
						doc.CreatedAt = time.UnixMilli(int64(ms))
					}
				default:
					doc.Metadata[k] = metaString(v)
				}
			}
		}

		result := vector.QueryResult{Document: doc}
		if len(resp.Distances) > 0 && i < len(resp.Distances[0]) {
			result.Score = 1.0 / (1.0 + resp.Distances[0][i])
		}
		results = append(results, result)
	}

	d.logger.Debug("queried chroma", "results", len(results))
	return results, nil
}

// Ping calls the Chroma heartbeat endpoint.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.do(ctx, http.MethodGet, d.baseURL+"/api/v2/heartbeat", nil, nil); err != nil {
		return fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}
	return nil
}

// Close releases resources held by the driver.
func (d *Driver) Close() error {
	return nil
}

func (d *Driver) collectionURL(op string) string {
	return d.baseURL + apiPrefix + "/" + d.collectionID + "/" + op
}

// do sends a JSON request and decodes a JSON response into out when non-nil.
// Any status other than 200 or 201 is an error.
func (d *Driver) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", utils.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func whereClause(f vector.Filter) map[string]any {
	var conds []map[string]any
	if f.SessionKey != "" {
		conds = append(conds, map[string]any{metaSessionKey: map[string]any{"$eq": f.SessionKey}})
	}
	if !f.Before.IsZero() {
		conds = append(conds, map[string]any{metaCreatedAt: map[string]any{"$lte": f.Before.UnixMilli()}})
	}

	switch len(conds) {
	case 0:
		return nil
	case 1:
		return conds[0]
	default:
		return map[string]any{"$and": conds}
	}
}

func metaString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
