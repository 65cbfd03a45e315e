// Package qdrant provides a Qdrant vector database driver over the gRPC client.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/vector"
)

const (
	// DefaultCollectionName is the default collection for memories.
	DefaultCollectionName = "mnemo"

	// DefaultPort is Qdrant's gRPC port.
	DefaultPort = 6334

	payloadDocID      = "doc_id"
	payloadContent    = "content"
	payloadSessionKey = "session_key"
	payloadCreatedAt  = "created_at"
)

// pointsClient is the subset of *qdrant.Client the driver uses.
type pointsClient interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config holds configuration for the Qdrant driver.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool

	// CollectionName defaults to DefaultCollectionName.
	CollectionName string

	// Dimensions is the vector size used when the collection is created.
	Dimensions uint64

	Logger *slog.Logger
}

// Driver implements vector.Driver on a Qdrant collection with cosine distance.
type Driver struct {
	client     pointsClient
	collection string
	logger     *slog.Logger
}

// NewDriver connects to Qdrant and ensures the collection exists.
func NewDriver(ctx context.Context, c Config) (*Driver, error) {
	if c.Host == "" {
		return nil, errors.New("qdrant host is required")
	}
	if c.Dimensions == 0 {
		return nil, errors.New("qdrant embedding dimensions cannot be 0, must be configured")
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   c.Host,
		Port:   c.Port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}

	d, err := newDriver(ctx, client, c)
	if err != nil {
		client.Close()
		return nil, err
	}
	return d, nil
}

func newDriver(ctx context.Context, client pointsClient, c Config) (*Driver, error) {
	if c.CollectionName == "" {
		c.CollectionName = DefaultCollectionName
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	exists, err := client.CollectionExists(ctx, c.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("checking collection %q: %w", c.CollectionName, err)
	}
	if !exists {
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: c.CollectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     c.Dimensions,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("creating collection %q: %w", c.CollectionName, err)
		}
	}

	c.Logger.Info("qdrant vector driver initialized",
		"host", c.Host,
		"collection", c.CollectionName,
		"created", !exists,
	)

	return &Driver{client: client, collection: c.CollectionName, logger: c.Logger}, nil
}

// Add upserts documents as points. Qdrant point ids must be UUIDs or
// integers, so other ids are mapped to a stable name-based UUID and the
// original id is kept in the payload.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		payload := make(map[string]any, len(doc.Metadata)+4)
		for k, v := range doc.Metadata {
			payload[k] = v
		}
		payload[payloadDocID] = doc.ID
		payload[payloadContent] = doc.Content
		payload[payloadSessionKey] = doc.SessionKey
		payload[payloadCreatedAt] = doc.CreatedAt.UnixMilli()

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(doc.ID)),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	wait := true
	if _, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("upserting points: %w", err)
	}

	d.logger.Debug("added documents to qdrant", "count", len(docs))
	return nil
}

// Query runs a nearest-neighbour query with the filter applied server side.
// Cosine similarity in [-1,1] is mapped onto [0,1].
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}
	limit := uint64(topK)

	points, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("querying points: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		doc := vector.Document{Metadata: map[string]string{}}
		for k, v := range p.GetPayload() {
			switch k {
			case payloadDocID:
				doc.ID = v.GetStringValue()
			case payloadContent:
				doc.Content = v.GetStringValue()
			case payloadSessionKey:
				doc.SessionKey = v.GetStringValue()
			case payloadCreatedAt:
				doc.CreatedAt = time.UnixMilli(v.GetIntegerValue())
			default:
				doc.Metadata[k] = v.GetStringValue()
			}
		}
		if doc.ID == "" {
			doc.ID = p.GetId().GetUuid()
		}

		results = append(results, vector.QueryResult{
			Document: doc,
			Score:    (p.GetScore() + 1) / 2,
		})
	}

	d.logger.Debug("queried qdrant", "results", len(results))
	return results, nil
}

// Ping runs the Qdrant health check.
func (d *Driver) Ping(ctx context.Context) error {
	if _, err := d.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: %w", vector.ErrConnection, err)
	}
	return nil
}

// Close closes the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

func buildFilter(f vector.Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.SessionKey != "" {
		must = append(must, qdrant.NewMatch(payloadSessionKey, f.SessionKey))
	}
	if !f.Before.IsZero() {
		lte := float64(f.Before.UnixMilli())
		must = append(must, qdrant.NewRange(payloadCreatedAt, &qdrant.Range{Lte: &lte}))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}
