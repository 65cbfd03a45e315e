// Package hashing implements an offline Embedder using feature hashing.
//
// Each significant term of the text is hashed into one of Dimensions
// buckets with a sign bit, and the result is L2-normalised. Texts sharing
// terms land close together under cosine or euclidean distance. It needs no
// model server, which makes it the default for local setups and tests.
package hashing

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/papercomputeco/mnemo/pkg/embeddings"
	"github.com/papercomputeco/mnemo/pkg/utils"
)

// DefaultDimensions is used when no size is configured.
const DefaultDimensions = 256

// Embedder is a deterministic feature-hashing embedder.
type Embedder struct {
	dimensions int
}

// NewEmbedder creates a hashing embedder producing vectors of the given size.
func NewEmbedder(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &Embedder{dimensions: dimensions}
}

// Dimensions returns the vector size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Embed hashes the terms of text into a normalised vector. Text without
// significant terms embeds to the zero vector.
func (e *Embedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dimensions)

	for _, term := range utils.Terms(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(term))
		sum := h.Sum64()

		idx := int(sum % uint64(e.dimensions))
		if sum>>63 == 1 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (e *Embedder) Close() error {
	return nil
}

var _ embeddings.Embedder = (*Embedder)(nil)
