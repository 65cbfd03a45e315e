// Package memory provides a single interface over several independent,
// unreliable memory backends.
//
// A [Backend] must implement Retain and Recall. Everything else is optional
// and detected once at registration time by interface assertion:
// [Reflector], [TemporalRecaller], [PreCompactionCapturer],
// [PostCompactionObserver], [Starter], [Stopper] and [HealthChecker]. The
// detected set is cached on the backend's [Descriptor] as a [Capability]
// bitset and never re-checked per call.
//
// The [Registry] owns backend lifecycle; the [Client] routes retain, recall,
// reflect and search calls across the registry and fuses their results.
//
// Backends are pluggable via configuration:
//
//	[[memory.backends]]
//	id       = "episodic"
//	provider = "sqlite"   # or "local", "sqlitevec", "postgres", "qdrant"
//	priority = 0
//	required = false
package memory

import (
	"context"
	"strings"
	"time"
)

// Backend is the mandatory backend contract.
type Backend interface {
	// ID returns the backend's unique identifier.
	ID() string

	// Retain ingests content into the backend.
	Retain(ctx context.Context, content string, meta map[string]any) error

	// Recall returns results ordered by the backend's own relevance, each
	// scored in [0,1].
	Recall(ctx context.Context, query string, opts RecallOptions) ([]Result, error)
}

// Reflector synthesizes new insights from existing memories.
type Reflector interface {
	Reflect(ctx context.Context, topic string) ([]string, error)
}

// TemporalRecaller answers a recall as of a point in time.
type TemporalRecaller interface {
	RecallAsOf(ctx context.Context, query string, asOf time.Time, opts RecallOptions) ([]Result, error)
}

// PreCompactionCapturer durably captures session state before a destructive
// compaction. Returning from OnCompactionPre is the acknowledgement.
type PreCompactionCapturer interface {
	OnCompactionPre(ctx context.Context, ev PreCompaction) error
}

// PostCompactionObserver is notified after a successful compaction.
type PostCompactionObserver interface {
	OnCompactionPost(ctx context.Context, ev PostCompaction) error
}

// Starter acquires backend resources.
type Starter interface {
	Start(ctx context.Context) error
}

// Stopper releases backend resources.
type Stopper interface {
	Stop(ctx context.Context) error
}

// HealthChecker reports the backend's own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}

// HealthStatus is a single backend's health check outcome.
type HealthStatus struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Capability is a bitset of the operations a backend implements.
type Capability uint16

const (
	CapRetain Capability = 1 << iota
	CapRecall
	CapReflect
	CapTemporal
	CapCompactionPre
	CapCompactionPost
	CapStart
	CapStop
	CapHealth
)

var capabilityNames = []struct {
	cap  Capability
	name string
}{
	{CapRetain, "retain"},
	{CapRecall, "recall"},
	{CapReflect, "reflect"},
	{CapTemporal, "temporal"},
	{CapCompactionPre, "compaction_pre"},
	{CapCompactionPost, "compaction_post"},
	{CapStart, "start"},
	{CapStop, "stop"},
	{CapHealth, "health"},
}

// Has reports whether every bit of c2 is set in c.
func (c Capability) Has(c2 Capability) bool {
	return c&c2 == c2
}

// Names returns the capability names in declaration order.
func (c Capability) Names() []string {
	names := make([]string, 0, len(capabilityNames))
	for _, cn := range capabilityNames {
		if c.Has(cn.cap) {
			names = append(names, cn.name)
		}
	}
	return names
}

func (c Capability) String() string {
	return strings.Join(c.Names(), "|")
}

// DetectCapabilities inspects which optional operations b provides.
func DetectCapabilities(b Backend) Capability {
	c := CapRetain | CapRecall

	if _, ok := b.(Reflector); ok {
		c |= CapReflect
	}
	if _, ok := b.(TemporalRecaller); ok {
		c |= CapTemporal
	}
	if _, ok := b.(PreCompactionCapturer); ok {
		c |= CapCompactionPre
	}
	if _, ok := b.(PostCompactionObserver); ok {
		c |= CapCompactionPost
	}
	if _, ok := b.(Starter); ok {
		c |= CapStart
	}
	if _, ok := b.(Stopper); ok {
		c |= CapStop
	}
	if _, ok := b.(HealthChecker); ok {
		c |= CapHealth
	}

	return c
}
