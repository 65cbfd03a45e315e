package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/embeddings"
	"github.com/papercomputeco/mnemo/pkg/embeddings/ollama"
)

var _ = Describe("Embedder", func() {
	It("posts the model and input and returns the first embedding", func() {
		var (
			got  map[string]string
			path string
		)
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path = r.URL.Path
			_ = json.NewDecoder(r.Body).Decode(&got)
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{{0.1, 0.2}}})
		}))
		defer server.Close()

		e := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL})
		vec, err := e.Embed(context.Background(), "hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(vec).To(Equal([]float32{0.1, 0.2}))
		Expect(path).To(Equal("/api/embed"))
		Expect(got).To(Equal(map[string]string{"model": ollama.DefaultEmbeddingModel, "input": "hello"}))
	})

	It("wraps non-200 responses in ErrEmbedding", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not found", http.StatusNotFound)
		}))
		defer server.Close()

		_, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL}).Embed(context.Background(), "x")
		Expect(err).To(MatchError(embeddings.ErrEmbedding))
		Expect(err.Error()).To(ContainSubstring("model not found"))
	})

	It("fails when no embeddings come back", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"embeddings": [][]float32{}})
		}))
		defer server.Close()

		_, err := ollama.NewEmbedder(ollama.EmbedderConfig{BaseURL: server.URL}).Embed(context.Background(), "x")
		Expect(err).To(MatchError(ContainSubstring("no embeddings returned")))
	})
})
