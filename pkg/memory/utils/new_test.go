package memoryutils_test

import (
	"context"
	"errors"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/config"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	memoryutils "github.com/papercomputeco/mnemo/pkg/memory/utils"
)

var _ = Describe("NewBackend", func() {
	var (
		ctx     context.Context
		dataDir string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dataDir = GinkgoT().TempDir()
	})

	build := func(bc config.BackendConfig) (memory.Backend, error) {
		return memoryutils.NewBackend(ctx, &memoryutils.NewBackendOpts{
			Backend:   bc,
			Embedding: config.EmbeddingConfig{Provider: "hashing", Dimensions: 32},
			DataDir:   dataDir,
		})
	}

	stop := func(b memory.Backend) {
		if s, ok := b.(memory.Stopper); ok {
			Expect(s.Stop(ctx)).To(Succeed())
		}
	}

	It("builds the local backend", func() {
		b, err := build(config.BackendConfig{ID: "scratch", Provider: "local"})
		Expect(err).NotTo(HaveOccurred())
		Expect(b.ID()).To(Equal("scratch"))
		Expect(memory.DetectCapabilities(b).Has(memory.CapCompactionPre)).To(BeTrue())
	})

	It("builds a sqlite backend under the data dir", func() {
		b, err := build(config.BackendConfig{ID: "episodic", Provider: "sqlite"})
		Expect(err).NotTo(HaveOccurred())
		defer stop(b)

		Expect(filepath.Join(dataDir, "episodic.db")).To(BeAnExistingFile())
		Expect(b.Retain(ctx, "the deploy runs on fridays", nil)).To(Succeed())

		results, err := b.Recall(ctx, "deploy", memory.RecallOptions{Limit: 5})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
	})

	It("builds a semantic backend over sqlite-vec", func() {
		b, err := build(config.BackendConfig{ID: "vec", Provider: "sqlitevec", Target: "vectors.db"})
		Expect(err).NotTo(HaveOccurred())
		defer stop(b)

		Expect(filepath.Join(dataDir, "vectors.db")).To(BeAnExistingFile())
		Expect(b.Retain(ctx, "postgres connection pool exhausted", nil)).To(Succeed())

		results, err := b.Recall(ctx, "connection pool", memory.RecallOptions{Limit: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Content).To(Equal("postgres connection pool exhausted"))
	})

	It("rejects postgres without a DSN", func() {
		_, err := build(config.BackendConfig{ID: "pg", Provider: "postgres"})
		var ce *memory.ConfigurationError
		Expect(errors.As(err, &ce)).To(BeTrue())
	})

	It("rejects unknown providers", func() {
		_, err := build(config.BackendConfig{ID: "x", Provider: "redis"})
		var ce *memory.ConfigurationError
		Expect(errors.As(err, &ce)).To(BeTrue())
		Expect(ce.Reason).To(ContainSubstring("redis"))
	})

	It("rejects unknown embedding providers for vector backends", func() {
		_, err := memoryutils.NewBackend(ctx, &memoryutils.NewBackendOpts{
			Backend:   config.BackendConfig{ID: "vec", Provider: "sqlitevec"},
			Embedding: config.EmbeddingConfig{Provider: "word2vec"},
		})
		Expect(err).To(MatchError(ContainSubstring("unsupported embedding provider")))
	})
})

var _ = Describe("RegisterBackends", func() {
	It("registers every configured backend with its options", func() {
		ctx := context.Background()
		cfg := config.NewDefaultConfig()
		cfg.Memory.Backends = []config.BackendConfig{
			{ID: "local", Provider: "local", Priority: 2},
			{ID: "episodic", Name: "Episodic", Provider: "sqlite", Required: true},
		}

		r := memory.NewRegistry(logger.Nop())
		Expect(memoryutils.RegisterBackends(ctx, r, cfg, "", logger.Nop())).To(Succeed())
		DeferCleanup(func() { _ = r.Stop(ctx) })

		ds := r.Descriptors()
		Expect(ds).To(HaveLen(2))
		Expect(ds[0].ID).To(Equal("episodic"))
		Expect(ds[0].Name).To(Equal("Episodic"))
		Expect(ds[0].Required).To(BeTrue())
		Expect(ds[1].ID).To(Equal("local"))
		Expect(ds[1].Priority).To(Equal(2))
	})

	It("fails on a backend that cannot be built", func() {
		cfg := config.NewDefaultConfig()
		cfg.Memory.Backends = append(cfg.Memory.Backends, config.BackendConfig{ID: "bad", Provider: "redis"})

		r := memory.NewRegistry(logger.Nop())
		err := memoryutils.RegisterBackends(context.Background(), r, cfg, "", logger.Nop())
		Expect(err).To(MatchError(ContainSubstring(`building backend "bad"`)))
	})
})
