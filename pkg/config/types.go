package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config represents the persistent mnemo configuration stored as config.toml
// in the .mnemo/ directory. The TOML layout uses sections for logical grouping.
type Config struct {
	Version    int              `toml:"version"`
	Log        LogConfig        `toml:"log"`
	Agent      IdentityConfig   `toml:"agent"`
	API        APIConfig        `toml:"api"`
	Client     ClientConfig     `toml:"client"`
	Events     EventsConfig     `toml:"events"`
	Compaction CompactionConfig `toml:"compaction"`
	Session    SessionConfig    `toml:"session"`
	Memory     MemoryConfig     `toml:"memory"`
	Embedding  EmbeddingConfig  `toml:"embedding"`

	// Agents holds per-agent overrides keyed by agent id. See ForAgent.
	Agents map[string]AgentConfig `toml:"agents,omitempty"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level,omitempty"`

	// Format is one of text, json, pretty.
	Format string `toml:"format,omitempty"`

	// File, when set, also appends JSON records to this path. Relative
	// paths are resolved against the .mnemo directory.
	File string `toml:"file,omitempty"`
}

// IdentityConfig names the agent this server runs for.
type IdentityConfig struct {
	// ID is stamped on every emitted event and selects the matching
	// [agents.<id>] overrides.
	ID string `toml:"id,omitempty"`
}

// APIConfig holds API server settings.
type APIConfig struct {
	Listen string `toml:"listen,omitempty"`
}

// ClientConfig holds settings for CLI commands that talk to a running
// mnemo API server. The target is a full URL (scheme + host + port).
type ClientConfig struct {
	APITarget string `toml:"api_target,omitempty"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	// Strict makes Emit return handler failures as an error.
	Strict bool `toml:"strict,omitempty"`

	Kafka KafkaConfig `toml:"kafka"`
}

// KafkaConfig enables forwarding bus events to Kafka when Brokers is set.
type KafkaConfig struct {
	Brokers   []string `toml:"brokers,omitempty"`
	Topic     string   `toml:"topic,omitempty"`
	ClientID  string   `toml:"client_id,omitempty"`
	Workers   int      `toml:"workers,omitempty"`
	QueueSize int      `toml:"queue_size,omitempty"`
}

// CompactionConfig holds the compaction guard settings.
type CompactionConfig struct {
	WarningThreshold  float64  `toml:"warning_threshold"`
	ImminentThreshold float64  `toml:"imminent_threshold"`
	RequireAck        bool     `toml:"require_ack"`
	AckTimeout        Duration `toml:"ack_timeout"`
	RecoveryLimit     int      `toml:"recovery_limit,omitempty"`
	RecoveryTopics    int      `toml:"recovery_topics,omitempty"`
}

// SessionConfig holds settings of the built-in session host.
type SessionConfig struct {
	// ContextWindow is the token budget usage ratios are computed against.
	ContextWindow int `toml:"context_window,omitempty"`

	// KeepMessages is how many recent messages survive a compaction.
	KeepMessages int `toml:"keep_messages,omitempty"`
}

// MemoryConfig holds the unified client settings and the backend list.
type MemoryConfig struct {
	Strategy        string          `toml:"strategy,omitempty"`
	MinScore        float64         `toml:"min_score,omitempty"`
	Timeout         Duration        `toml:"timeout,omitempty"`
	FallbackOnError bool            `toml:"fallback_on_error,omitempty"`
	Backends        []BackendConfig `toml:"backends,omitempty"`
}

// BackendConfig declares one memory backend.
//
// Target is interpreted per provider: a file path for sqlite and sqlitevec,
// a DSN for postgres, a URL for chroma and a host for qdrant.
type BackendConfig struct {
	ID         string `toml:"id"`
	Name       string `toml:"name,omitempty"`
	Provider   string `toml:"provider"`
	Priority   int    `toml:"priority,omitempty"`
	Required   bool   `toml:"required,omitempty"`
	Target     string `toml:"target,omitempty"`
	Port       int    `toml:"port,omitempty"`
	APIKey     string `toml:"api_key,omitempty"`
	Collection string `toml:"collection,omitempty"`
	MaxEntries int    `toml:"max_entries,omitempty"`
}

// EmbeddingConfig holds embedding provider settings for vector backends.
type EmbeddingConfig struct {
	Provider   string `toml:"provider,omitempty"`
	Target     string `toml:"target,omitempty"`
	Model      string `toml:"model,omitempty"`
	Dimensions uint   `toml:"dimensions,omitempty"`
}

// AgentConfig overrides global settings for one agent. A nil field keeps
// the global value.
type AgentConfig struct {
	WarningThreshold  *float64  `toml:"warning_threshold,omitempty"`
	ImminentThreshold *float64  `toml:"imminent_threshold,omitempty"`
	RequireAck        *bool     `toml:"require_ack,omitempty"`
	AckTimeout        *Duration `toml:"ack_timeout,omitempty"`
	Strategy          *string   `toml:"strategy,omitempty"`
	MinScore          *float64  `toml:"min_score,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("5s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// configKeyInfo maps a user-facing dotted key name to a getter and setter on *Config.
type configKeyInfo struct {
	get func(c *Config) string
	set func(c *Config, v string) error
}

func stringKey(field func(c *Config) *string) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return *field(c) },
		set: func(c *Config, v string) error { *field(c) = v; return nil },
	}
}

func boolKey(name string, field func(c *Config) *bool) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatBool(*field(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = b
			return nil
		},
	}
}

func intKey(name string, field func(c *Config) *int) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string {
			if *field(c) == 0 {
				return ""
			}
			return strconv.Itoa(*field(c))
		},
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = n
			return nil
		},
	}
}

func floatKey(name string, field func(c *Config) *float64) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return strconv.FormatFloat(*field(c), 'f', -1, 64) },
		set: func(c *Config, v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			*field(c) = f
			return nil
		},
	}
}

func durationKey(name string, field func(c *Config) *Duration) configKeyInfo {
	return configKeyInfo{
		get: func(c *Config) string { return field(c).String() },
		set: func(c *Config, v string) error {
			if err := field(c).UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid value for %s: %w", name, err)
			}
			return nil
		},
	}
}

// configKeys is the authoritative map of all supported config keys.
// Keys use dotted notation matching the TOML section structure. Backends
// and agent overrides are tables and are edited in config.toml directly.
var configKeys = map[string]configKeyInfo{
	"log.level":  stringKey(func(c *Config) *string { return &c.Log.Level }),
	"log.format": stringKey(func(c *Config) *string { return &c.Log.Format }),
	"log.file":   stringKey(func(c *Config) *string { return &c.Log.File }),

	"agent.id": stringKey(func(c *Config) *string { return &c.Agent.ID }),

	"api.listen":        stringKey(func(c *Config) *string { return &c.API.Listen }),
	"client.api_target": stringKey(func(c *Config) *string { return &c.Client.APITarget }),

	"events.strict": boolKey("events.strict", func(c *Config) *bool { return &c.Events.Strict }),
	"events.kafka.brokers": {
		get: func(c *Config) string { return strings.Join(c.Events.Kafka.Brokers, ",") },
		set: func(c *Config, v string) error {
			c.Events.Kafka.Brokers = nil
			for _, b := range strings.Split(v, ",") {
				if b = strings.TrimSpace(b); b != "" {
					c.Events.Kafka.Brokers = append(c.Events.Kafka.Brokers, b)
				}
			}
			return nil
		},
	},
	"events.kafka.topic":      stringKey(func(c *Config) *string { return &c.Events.Kafka.Topic }),
	"events.kafka.client_id":  stringKey(func(c *Config) *string { return &c.Events.Kafka.ClientID }),
	"events.kafka.workers":    intKey("events.kafka.workers", func(c *Config) *int { return &c.Events.Kafka.Workers }),
	"events.kafka.queue_size": intKey("events.kafka.queue_size", func(c *Config) *int { return &c.Events.Kafka.QueueSize }),

	"compaction.warning_threshold":  floatKey("compaction.warning_threshold", func(c *Config) *float64 { return &c.Compaction.WarningThreshold }),
	"compaction.imminent_threshold": floatKey("compaction.imminent_threshold", func(c *Config) *float64 { return &c.Compaction.ImminentThreshold }),
	"compaction.require_ack":        boolKey("compaction.require_ack", func(c *Config) *bool { return &c.Compaction.RequireAck }),
	"compaction.ack_timeout":        durationKey("compaction.ack_timeout", func(c *Config) *Duration { return &c.Compaction.AckTimeout }),
	"compaction.recovery_limit":     intKey("compaction.recovery_limit", func(c *Config) *int { return &c.Compaction.RecoveryLimit }),
	"compaction.recovery_topics":    intKey("compaction.recovery_topics", func(c *Config) *int { return &c.Compaction.RecoveryTopics }),

	"session.context_window": intKey("session.context_window", func(c *Config) *int { return &c.Session.ContextWindow }),
	"session.keep_messages":  intKey("session.keep_messages", func(c *Config) *int { return &c.Session.KeepMessages }),

	"memory.strategy":          stringKey(func(c *Config) *string { return &c.Memory.Strategy }),
	"memory.min_score":         floatKey("memory.min_score", func(c *Config) *float64 { return &c.Memory.MinScore }),
	"memory.timeout":           durationKey("memory.timeout", func(c *Config) *Duration { return &c.Memory.Timeout }),
	"memory.fallback_on_error": boolKey("memory.fallback_on_error", func(c *Config) *bool { return &c.Memory.FallbackOnError }),

	"embedding.provider": stringKey(func(c *Config) *string { return &c.Embedding.Provider }),
	"embedding.target":   stringKey(func(c *Config) *string { return &c.Embedding.Target }),
	"embedding.model":    stringKey(func(c *Config) *string { return &c.Embedding.Model }),
	"embedding.dimensions": {
		get: func(c *Config) string {
			if c.Embedding.Dimensions == 0 {
				return ""
			}
			return strconv.FormatUint(uint64(c.Embedding.Dimensions), 10)
		},
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid value for embedding.dimensions: %w", err)
			}
			c.Embedding.Dimensions = uint(n)
			return nil
		},
	},
}

// orderedKeys is the stable listing order, matching the TOML section layout.
var orderedKeys = []string{
	"log.level",
	"log.format",
	"log.file",
	"agent.id",
	"api.listen",
	"client.api_target",
	"events.strict",
	"events.kafka.brokers",
	"events.kafka.topic",
	"events.kafka.client_id",
	"events.kafka.workers",
	"events.kafka.queue_size",
	"compaction.warning_threshold",
	"compaction.imminent_threshold",
	"compaction.require_ack",
	"compaction.ack_timeout",
	"compaction.recovery_limit",
	"compaction.recovery_topics",
	"session.context_window",
	"session.keep_messages",
	"memory.strategy",
	"memory.min_score",
	"memory.timeout",
	"memory.fallback_on_error",
	"embedding.provider",
	"embedding.target",
	"embedding.model",
	"embedding.dimensions",
}
