package config

import (
	"time"

	"github.com/papercomputeco/mnemo/pkg/compaction"
)

const (
	defaultLogLevel  = "info"
	defaultLogFormat = "text"

	defaultAPIListen       = ":8090"
	defaultClientAPITarget = "http://localhost:8090"

	defaultKafkaTopic     = "mnemo.events"
	defaultKafkaClientID  = "mnemo"
	defaultKafkaWorkers   = 1
	defaultKafkaQueueSize = 256

	defaultContextWindow = 128000
	defaultKeepMessages  = 8

	defaultStrategy      = "parallel"
	defaultMemoryTimeout = 10 * time.Second

	defaultEmbeddingProvider   = "hashing"
	defaultEmbeddingTarget     = "http://localhost:11434"
	defaultEmbeddingModel      = "nomic-embed-text"
	defaultEmbeddingDimensions = 256

	defaultBackendID       = "local"
	defaultBackendProvider = "local"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	guard := compaction.DefaultConfig()

	return &Config{
		Version: CurrentV,
		Log: LogConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		API: APIConfig{
			Listen: defaultAPIListen,
		},
		Client: ClientConfig{
			APITarget: defaultClientAPITarget,
		},
		Events: EventsConfig{
			Kafka: KafkaConfig{
				Topic:     defaultKafkaTopic,
				ClientID:  defaultKafkaClientID,
				Workers:   defaultKafkaWorkers,
				QueueSize: defaultKafkaQueueSize,
			},
		},
		Compaction: CompactionConfig{
			WarningThreshold:  guard.WarningThreshold,
			ImminentThreshold: guard.ImminentThreshold,
			RequireAck:        guard.RequireAck,
			AckTimeout:        Duration(guard.AckTimeout),
			RecoveryLimit:     guard.RecoveryLimit,
			RecoveryTopics:    guard.RecoveryTopics,
		},
		Session: SessionConfig{
			ContextWindow: defaultContextWindow,
			KeepMessages:  defaultKeepMessages,
		},
		Memory: MemoryConfig{
			Strategy: defaultStrategy,
			Timeout:  Duration(defaultMemoryTimeout),
			Backends: []BackendConfig{
				{ID: defaultBackendID, Provider: defaultBackendProvider},
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   defaultEmbeddingProvider,
			Target:     defaultEmbeddingTarget,
			Model:      defaultEmbeddingModel,
			Dimensions: defaultEmbeddingDimensions,
		},
	}
}
