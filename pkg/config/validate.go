package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/mnemo/pkg/compaction"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

// Backend providers.
const (
	ProviderLocal     = "local"
	ProviderSQLite    = "sqlite"
	ProviderPostgres  = "postgres"
	ProviderSQLiteVec = "sqlitevec"
	ProviderChroma    = "chroma"
	ProviderQdrant    = "qdrant"
)

// ValidProviders returns the supported backend providers.
func ValidProviders() []string {
	return []string{ProviderLocal, ProviderSQLite, ProviderPostgres, ProviderSQLiteVec, ProviderChroma, ProviderQdrant}
}

// IsVectorProvider reports whether provider stores embeddings and therefore
// needs an embedder.
func IsVectorProvider(provider string) bool {
	switch provider {
	case ProviderSQLiteVec, ProviderChroma, ProviderQdrant:
		return true
	}
	return false
}

// Validate checks cross-field constraints. Errors are *memory.ConfigurationError.
func (c *Config) Validate() error {
	if err := c.Guard().Validate(); err != nil {
		return err
	}

	if !memory.Strategy(c.Memory.Strategy).Valid() {
		return &memory.ConfigurationError{
			Field:  "memory.strategy",
			Reason: fmt.Sprintf("unknown strategy %q", c.Memory.Strategy),
		}
	}

	if c.Memory.MinScore < 0 || c.Memory.MinScore > 1 {
		return &memory.ConfigurationError{
			Field:  "memory.min_score",
			Reason: fmt.Sprintf("%v is outside [0,1]", c.Memory.MinScore),
		}
	}

	if c.Memory.Timeout < 0 {
		return &memory.ConfigurationError{Field: "memory.timeout", Reason: "must not be negative"}
	}

	if _, err := logger.ParseFormat(c.Log.Format); err != nil {
		return &memory.ConfigurationError{Field: "log.format", Reason: err.Error()}
	}

	seen := make(map[string]bool, len(c.Memory.Backends))
	for i, b := range c.Memory.Backends {
		field := fmt.Sprintf("memory.backends[%d]", i)
		if b.ID == "" {
			return &memory.ConfigurationError{Field: field + ".id", Reason: "must not be empty"}
		}
		if seen[b.ID] {
			return &memory.ConfigurationError{
				Field:  field + ".id",
				Reason: fmt.Sprintf("duplicate backend id %q", b.ID),
			}
		}
		seen[b.ID] = true

		if !isProvider(b.Provider) {
			return &memory.ConfigurationError{
				Field: field + ".provider",
				Reason: fmt.Sprintf("unknown provider %q (available: %s)",
					b.Provider, strings.Join(ValidProviders(), ", ")),
			}
		}
		if b.Provider == ProviderPostgres && b.Target == "" {
			return &memory.ConfigurationError{Field: field + ".target", Reason: "postgres requires a DSN"}
		}
	}

	for id, a := range c.Agents {
		if _, err := c.ForAgent(id); err != nil {
			return err
		}
		if a.Strategy != nil && !memory.Strategy(*a.Strategy).Valid() {
			return &memory.ConfigurationError{
				Field:  "agents." + id + ".strategy",
				Reason: fmt.Sprintf("unknown strategy %q", *a.Strategy),
			}
		}
	}

	return nil
}

func isProvider(p string) bool {
	for _, v := range ValidProviders() {
		if p == v {
			return true
		}
	}
	return false
}

// ForAgent returns a copy of c with the overrides of agent id applied. An
// unknown id returns an unchanged copy.
func (c *Config) ForAgent(id string) (*Config, error) {
	out := *c
	out.Memory.Backends = append([]BackendConfig(nil), c.Memory.Backends...)

	a, ok := c.Agents[id]
	if !ok {
		return &out, nil
	}

	if a.WarningThreshold != nil {
		out.Compaction.WarningThreshold = *a.WarningThreshold
	}
	if a.ImminentThreshold != nil {
		out.Compaction.ImminentThreshold = *a.ImminentThreshold
	}
	if a.RequireAck != nil {
		out.Compaction.RequireAck = *a.RequireAck
	}
	if a.AckTimeout != nil {
		out.Compaction.AckTimeout = *a.AckTimeout
	}
	if a.Strategy != nil {
		out.Memory.Strategy = *a.Strategy
	}
	if a.MinScore != nil {
		out.Memory.MinScore = *a.MinScore
	}

	if err := compaction.ValidateThresholds(out.Compaction.WarningThreshold, out.Compaction.ImminentThreshold); err != nil {
		var ce *memory.ConfigurationError
		if errors.As(err, &ce) {
			return nil, &memory.ConfigurationError{
				Field:  "agents." + id + "." + strings.TrimPrefix(ce.Field, "compaction."),
				Reason: ce.Reason,
			}
		}
		return nil, err
	}

	return &out, nil
}

// Guard returns the compaction guard configuration.
func (c *Config) Guard() compaction.Config {
	return compaction.Config{
		WarningThreshold:  c.Compaction.WarningThreshold,
		ImminentThreshold: c.Compaction.ImminentThreshold,
		RequireAck:        c.Compaction.RequireAck,
		AckTimeout:        c.Compaction.AckTimeout.Std(),
		RecoveryLimit:     c.Compaction.RecoveryLimit,
		RecoveryTopics:    c.Compaction.RecoveryTopics,
	}
}

// MemoryClient returns the unified client configuration.
func (c *Config) MemoryClient() memory.ClientConfig {
	return memory.ClientConfig{
		FallbackOnError: c.Memory.FallbackOnError,
		Strategy:        memory.Strategy(c.Memory.Strategy),
		MinScore:        c.Memory.MinScore,
		RecallTimeout:   c.Memory.Timeout.Std(),
	}
}

// LogLevel parses Log.Level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
