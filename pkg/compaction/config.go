package compaction

import (
	"fmt"
	"time"

	"github.com/papercomputeco/mnemo/pkg/memory"
)

const (
	DefaultWarningThreshold  = 0.80
	DefaultImminentThreshold = 0.95
	DefaultAckTimeout        = 5 * time.Second
	DefaultRecoveryLimit     = 5
	DefaultRecoveryTopics    = 5
)

// Config tunes the guard.
type Config struct {
	// WarningThreshold and ImminentThreshold are context-usage ratios in
	// (0,1]. Warning must be strictly below imminent.
	WarningThreshold  float64
	ImminentThreshold float64

	// RequireAck makes the guard wait for every capture-capable backend to
	// acknowledge compaction:pre before compacting.
	RequireAck bool

	// AckTimeout bounds the acknowledgement wait.
	AckTimeout time.Duration

	// RecoveryLimit caps the recovery recall results.
	RecoveryLimit int

	// RecoveryTopics is how many key topics from the snapshot seed the
	// recovery recall.
	RecoveryTopics int
}

// DefaultConfig returns the default guard configuration.
func DefaultConfig() Config {
	return Config{
		WarningThreshold:  DefaultWarningThreshold,
		ImminentThreshold: DefaultImminentThreshold,
		RequireAck:        true,
		AckTimeout:        DefaultAckTimeout,
		RecoveryLimit:     DefaultRecoveryLimit,
		RecoveryTopics:    DefaultRecoveryTopics,
	}
}

// Validate rejects out-of-range or inverted thresholds.
func (c Config) Validate() error {
	if err := ValidateThresholds(c.WarningThreshold, c.ImminentThreshold); err != nil {
		return err
	}
	if c.AckTimeout <= 0 {
		return &memory.ConfigurationError{Field: "compaction.ack_timeout", Reason: "must be positive"}
	}
	if c.RecoveryLimit < 0 {
		return &memory.ConfigurationError{Field: "compaction.recovery_limit", Reason: "must not be negative"}
	}
	return nil
}

// ValidateThresholds checks 0 < warning < imminent <= 1.
func ValidateThresholds(warning, imminent float64) error {
	if warning <= 0 || warning > 1 {
		return &memory.ConfigurationError{
			Field:  "compaction.warning_threshold",
			Reason: fmt.Sprintf("%v is outside (0,1]", warning),
		}
	}
	if imminent <= 0 || imminent > 1 {
		return &memory.ConfigurationError{
			Field:  "compaction.imminent_threshold",
			Reason: fmt.Sprintf("%v is outside (0,1]", imminent),
		}
	}
	if warning >= imminent {
		return &memory.ConfigurationError{
			Field:  "compaction.warning_threshold",
			Reason: fmt.Sprintf("warning %v must be below imminent %v", warning, imminent),
		}
	}
	return nil
}
