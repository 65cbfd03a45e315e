package testutils

import (
	"context"
	"fmt"
	"sync"
)

// MockEmbedder returns fixed vectors for known texts and records every text
// it was asked to embed.
type MockEmbedder struct {
	// Vectors maps exact texts to their embedding. Unknown texts embed to
	// Fallback, or a three-dimensional constant when Fallback is nil.
	Vectors  map[string][]float32
	Fallback []float32

	// FailOn makes Embed fail with ErrMockFailure for that exact text.
	FailOn string

	mu    sync.Mutex
	texts []string
}

func (m *MockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.texts = append(m.texts, text)
	m.mu.Unlock()

	if m.FailOn != "" && text == m.FailOn {
		return nil, fmt.Errorf("%w: embedding %q", ErrMockFailure, text)
	}
	if v, ok := m.Vectors[text]; ok {
		return v, nil
	}
	if m.Fallback != nil {
		return m.Fallback, nil
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// Texts returns every text passed to Embed, in call order.
func (m *MockEmbedder) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.texts...)
}

func (m *MockEmbedder) Close() error {
	return nil
}
