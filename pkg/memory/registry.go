package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/papercomputeco/mnemo/pkg/logger"
)

// LifecycleState is a backend's position in Registered -> Started -> Stopped.
type LifecycleState int

const (
	StateRegistered LifecycleState = iota
	StateStarted
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Descriptor is the registry's record of one backend.
type Descriptor struct {
	ID           string
	Name         string
	Capabilities Capability

	// Priority breaks fusion ties; lower values win.
	Priority int

	// Required backends propagate their retain failures to the caller.
	Required bool

	State LifecycleState

	// Unavailable is set when Start failed. Unavailable backends are
	// excluded from fan-out.
	Unavailable bool
	StartErr    error

	backend Backend
	order   int
}

// Backend returns the registered backend value.
func (d *Descriptor) Backend() Backend {
	return d.backend
}

// Active reports whether the backend takes part in fan-out.
func (d *Descriptor) Active() bool {
	return d.State == StateStarted && !d.Unavailable
}

// RegisterOption configures a backend at registration.
type RegisterOption func(*Descriptor)

// WithName sets the display name. Defaults to the id.
func WithName(name string) RegisterOption {
	return func(d *Descriptor) {
		d.Name = name
	}
}

// WithPriority sets the fusion tie-break priority (lower wins).
func WithPriority(priority int) RegisterOption {
	return func(d *Descriptor) {
		d.Priority = priority
	}
}

// WithRequired marks the backend as required.
func WithRequired(required bool) RegisterOption {
	return func(d *Descriptor) {
		d.Required = required
	}
}

// LifecycleReport lists per-backend start failures.
type LifecycleReport struct {
	Started []string
	Failed  map[string]error
}

// HealthReport aggregates every backend's own health check.
type HealthReport struct {
	OK       bool                    `json:"ok"`
	Backends map[string]BackendHealth `json:"backends"`
}

// BackendHealth is one entry of a HealthReport.
type BackendHealth struct {
	HealthStatus
	Name         string   `json:"name"`
	State        string   `json:"state"`
	Capabilities []string `json:"capabilities"`
	Required     bool     `json:"required"`
}

// Registry holds backend descriptors and owns their lifecycle.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]*Descriptor
	next     int
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger discards output.
func NewRegistry(l *slog.Logger) *Registry {
	if l == nil {
		l = logger.Nop()
	}

	return &Registry{
		backends: make(map[string]*Descriptor),
		logger:   l,
	}
}

// Register adds a backend. Capabilities are detected once here.
func (r *Registry) Register(b Backend, opts ...RegisterOption) error {
	if b == nil {
		return &ConfigurationError{Field: "backend", Reason: "nil backend"}
	}

	id := b.ID()
	if id == "" {
		return &ConfigurationError{Field: "backend.id", Reason: "empty backend id"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.backends[id]; exists {
		return &ConfigurationError{Field: "backend.id", Reason: fmt.Sprintf("duplicate backend id %q", id)}
	}

	d := &Descriptor{
		ID:           id,
		Name:         id,
		Capabilities: DetectCapabilities(b),
		State:        StateRegistered,
		backend:      b,
		order:        r.next,
	}
	for _, opt := range opts {
		opt(d)
	}

	r.next++
	r.backends[id] = d

	r.logger.Debug("registered memory backend",
		"backend", id,
		"capabilities", d.Capabilities.String(),
		"priority", d.Priority,
		"required", d.Required,
	)

	return nil
}

// Get returns a copy of the descriptor for id.
func (r *Registry) Get(id string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.backends[id]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Descriptors returns copies of all descriptors ordered by priority, then
// registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.backends))
	for _, d := range r.backends {
		out = append(out, *d)
	}
	sortDescriptors(out)
	return out
}

// Active returns the descriptors eligible for fan-out, ordered by priority.
func (r *Registry) Active() []Descriptor {
	all := r.Descriptors()
	out := all[:0]
	for _, d := range all {
		if d.Active() {
			out = append(out, d)
		}
	}
	return out
}

// Start starts registered backends one at a time. A failure marks that
// backend unavailable and is reported; the registry remains usable.
func (r *Registry) Start(ctx context.Context) *LifecycleReport {
	report := &LifecycleReport{Failed: make(map[string]error)}

	for _, d := range r.pending() {
		var err error
		if s, ok := d.backend.(Starter); ok {
			err = s.Start(ctx)
		}

		r.mu.Lock()
		if err != nil {
			d.Unavailable = true
			d.StartErr = err
		} else {
			d.State = StateStarted
			d.Unavailable = false
			d.StartErr = nil
		}
		r.mu.Unlock()

		if err != nil {
			report.Failed[d.ID] = &BackendError{BackendID: d.ID, Op: "start", Err: err}
			r.logger.Warn("memory backend failed to start",
				"backend", d.ID,
				"error", err,
			)
			continue
		}

		report.Started = append(report.Started, d.ID)
		r.logger.Info("memory backend started", "backend", d.ID)
	}

	return report
}

// Stop stops every started backend regardless of earlier failures and
// returns the joined stop errors.
func (r *Registry) Stop(ctx context.Context) error {
	r.mu.RLock()
	targets := make([]*Descriptor, 0, len(r.backends))
	for _, d := range r.backends {
		if d.State == StateStarted {
			targets = append(targets, d)
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(targets, func(a, b *Descriptor) int {
		return compareDescriptors(*a, *b)
	})

	var errs []error
	for _, d := range targets {
		if s, ok := d.backend.(Stopper); ok {
			if err := s.Stop(ctx); err != nil {
				errs = append(errs, &BackendError{BackendID: d.ID, Op: "stop", Err: err})
				r.logger.Warn("memory backend failed to stop",
					"backend", d.ID,
					"error", err,
				)
			}
		}

		r.mu.Lock()
		d.State = StateStopped
		r.mu.Unlock()
	}

	return errors.Join(errs...)
}

// Health aggregates each backend's own health check. Backends without a
// health check are healthy when active.
func (r *Registry) Health(ctx context.Context) HealthReport {
	report := HealthReport{OK: true, Backends: make(map[string]BackendHealth)}

	for _, d := range r.Descriptors() {
		status := HealthStatus{OK: d.Active()}
		switch {
		case d.Unavailable:
			status.Error = fmt.Sprintf("unavailable: %v", d.StartErr)
		case d.State != StateStarted:
			status.Error = "backend is " + d.State.String()
		default:
			if hc, ok := d.backend.(HealthChecker); ok {
				status = hc.HealthCheck(ctx)
			}
		}

		if !status.OK {
			report.OK = false
		}

		report.Backends[d.ID] = BackendHealth{
			HealthStatus: status,
			Name:         d.Name,
			State:        d.State.String(),
			Capabilities: d.Capabilities.Names(),
			Required:     d.Required,
		}
	}

	return report
}

// pending returns the descriptors that still need starting, in priority order.
func (r *Registry) pending() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.backends))
	for _, d := range r.backends {
		if d.State == StateRegistered {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b *Descriptor) int {
		return compareDescriptors(*a, *b)
	})
	return out
}

func sortDescriptors(ds []Descriptor) {
	slices.SortFunc(ds, compareDescriptors)
}

func compareDescriptors(a, b Descriptor) int {
	if a.Priority != b.Priority {
		return a.Priority - b.Priority
	}
	return a.order - b.order
}
