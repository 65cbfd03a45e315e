package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNoBackends is returned when an operation has no eligible backend to
	// run against.
	ErrNoBackends = errors.New("no eligible memory backends")

	// ErrUnknownBackend is returned when a caller selects a backend id that
	// is not registered.
	ErrUnknownBackend = errors.New("unknown memory backend")
)

// BackendError reports that a single backend operation failed. It is
// non-fatal for fan-out operations unless the backend is marked required.
type BackendError struct {
	BackendID string
	Op        string
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.BackendID, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// AckTimeoutError reports that the bounded pre-compaction acknowledgement
// wait expired. It is reported, not raised: compaction proceeds with the
// acknowledgements that did arrive.
type AckTimeoutError struct {
	Timeout        time.Duration
	Unacknowledged []string
}

func (e *AckTimeoutError) Error() string {
	return fmt.Sprintf("acknowledgement wait expired after %s, missing: %s",
		e.Timeout, strings.Join(e.Unacknowledged, ", "))
}

// CompactionError reports that the host's compaction operation failed. The
// session is left exactly as the host operation left it.
type CompactionError struct {
	SessionKey string
	Err        error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction of session %s failed: %v", e.SessionKey, e.Err)
}

func (e *CompactionError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports an invalid setup, such as a duplicate backend id
// or inverted thresholds. It is raised at setup time, before any event flows.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
