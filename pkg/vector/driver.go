// Package vector provides interfaces and implementations for vector storage.
package vector

import (
	"context"
	"time"
)

// Document represents a stored memory with its embedding.
type Document struct {
	// ID is a unique identifier for the document.
	ID string

	// Content is the memory text the embedding was computed from.
	Content string

	// SessionKey scopes the document to a session. Empty means unscoped.
	SessionKey string

	// CreatedAt is when the memory was retained.
	CreatedAt time.Time

	// Metadata is free-form string metadata stored alongside the vector.
	Metadata map[string]string

	// Embedding is the vector representation of the content.
	Embedding []float32
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score represents the similarity score in [0,1] (higher = more similar).
	Score float32
}

// Filter narrows a query. Zero values do not filter.
type Filter struct {
	// SessionKey keeps only documents of that session.
	SessionKey string

	// Before keeps only documents created at or before the instant.
	Before time.Time
}

// Driver handles storage and retrieval of vector embeddings.
type Driver interface {
	// Add stores documents with their embeddings.
	// If a document with the same ID already exists, implementers should update
	// the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the given embedding
	// that pass the filter.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]QueryResult, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the driver.
	Close() error
}
