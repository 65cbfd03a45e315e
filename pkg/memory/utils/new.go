// Package memoryutils builds memory backends from configuration.
package memoryutils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/papercomputeco/mnemo/pkg/config"
	embeddingutils "github.com/papercomputeco/mnemo/pkg/embeddings/utils"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/memory/local"
	"github.com/papercomputeco/mnemo/pkg/memory/postgres"
	"github.com/papercomputeco/mnemo/pkg/memory/semantic"
	"github.com/papercomputeco/mnemo/pkg/memory/sqlite"
	vectorutils "github.com/papercomputeco/mnemo/pkg/vector/utils"
)

const inMemory = ":memory:"

type NewBackendOpts struct {
	Backend   config.BackendConfig
	Embedding config.EmbeddingConfig

	// DataDir anchors relative file targets. With no DataDir and no target,
	// file backed providers run in memory.
	DataDir string

	Logger *slog.Logger
}

// NewBackend builds the backend described by o.Backend.
func NewBackend(ctx context.Context, o *NewBackendOpts) (memory.Backend, error) {
	log := o.Logger
	if log == nil {
		log = logger.Nop()
	}
	b := o.Backend
	log = log.With("backend", b.ID, "provider", b.Provider)

	switch b.Provider {
	case config.ProviderLocal:
		return local.NewBackend(local.Config{ID: b.ID, MaxEntries: b.MaxEntries}), nil

	case config.ProviderSQLite:
		return sqlite.NewBackend(sqlite.Config{
			ID:     b.ID,
			DBPath: filePath(o.DataDir, b.Target, b.ID+".db"),
			Logger: log,
		})

	case config.ProviderPostgres:
		return postgres.NewBackend(postgres.Config{ID: b.ID, DSN: b.Target, Logger: log})

	case config.ProviderSQLiteVec, config.ProviderChroma, config.ProviderQdrant:
		embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
			ProviderType: o.Embedding.Provider,
			TargetURL:    o.Embedding.Target,
			Model:        o.Embedding.Model,
			Dimensions:   int(o.Embedding.Dimensions),
		})
		if err != nil {
			return nil, err
		}

		target := b.Target
		if b.Provider == config.ProviderSQLiteVec {
			target = filePath(o.DataDir, b.Target, b.ID+".db")
		}

		driver, err := vectorutils.NewVectorDriver(ctx, &vectorutils.NewVectorDriverOpts{
			ProviderType: b.Provider,
			Target:       target,
			Port:         b.Port,
			APIKey:       b.APIKey,
			Collection:   b.Collection,
			Dimensions:   o.Embedding.Dimensions,
			Logger:       log,
		})
		if err != nil {
			return nil, errors.Join(err, embedder.Close())
		}

		return semantic.NewBackend(semantic.Config{
			ID:       b.ID,
			Driver:   driver,
			Embedder: embedder,
			Logger:   log,
		})

	default:
		return nil, &memory.ConfigurationError{
			Field:  "memory.backends." + b.ID + ".provider",
			Reason: fmt.Sprintf("unknown provider %q", b.Provider),
		}
	}
}

// RegisterBackends builds every configured backend and registers it with r.
// Backends built before a failure are stopped again.
func RegisterBackends(ctx context.Context, r *memory.Registry, cfg *config.Config, dataDir string, log *slog.Logger) error {
	built := make([]memory.Backend, 0, len(cfg.Memory.Backends))

	fail := func(err error) error {
		for _, b := range built {
			if s, ok := b.(memory.Stopper); ok {
				err = errors.Join(err, s.Stop(ctx))
			}
		}
		return err
	}

	for _, bc := range cfg.Memory.Backends {
		b, err := NewBackend(ctx, &NewBackendOpts{
			Backend:   bc,
			Embedding: cfg.Embedding,
			DataDir:   dataDir,
			Logger:    log,
		})
		if err != nil {
			return fail(fmt.Errorf("building backend %q: %w", bc.ID, err))
		}
		built = append(built, b)

		opts := []memory.RegisterOption{
			memory.WithPriority(bc.Priority),
			memory.WithRequired(bc.Required),
		}
		if bc.Name != "" {
			opts = append(opts, memory.WithName(bc.Name))
		}
		if err := r.Register(b, opts...); err != nil {
			return fail(err)
		}
	}
	return nil
}

func filePath(dataDir, target, fallback string) string {
	switch {
	case target == inMemory:
		return inMemory
	case target == "" && dataDir == "":
		return inMemory
	case target == "":
		return filepath.Join(dataDir, fallback)
	case filepath.IsAbs(target) || dataDir == "":
		return target
	default:
		return filepath.Join(dataDir, target)
	}
}
