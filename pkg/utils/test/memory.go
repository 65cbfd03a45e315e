package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/papercomputeco/mnemo/pkg/memory"
)

// ErrMockFailure is returned by mocks configured to fail.
var ErrMockFailure = errors.New("mock backend failure")

// RetainCall records one Retain invocation.
type RetainCall struct {
	Content string
	Meta    map[string]any
}

// MockBackend is a test backend implementing only the mandatory contract.
// It records calls and returns configurable results.
type MockBackend struct {
	mu sync.Mutex
	id string

	// Retained accumulates every successful Retain call.
	Retained []RetainCall

	// RecallResults is returned by Recall for any query.
	RecallResults []memory.Result

	// RetainErr and RecallErr are returned when set.
	RetainErr error
	RecallErr error

	// RecallDelay makes Recall wait before answering. The wait honors ctx.
	RecallDelay time.Duration

	// PanicOnRecall makes Recall panic.
	PanicOnRecall bool

	recallCalls int
}

// NewMockBackend creates a mock backend with the given id.
func NewMockBackend(id string) *MockBackend {
	return &MockBackend{id: id}
}

func (m *MockBackend) ID() string {
	return m.id
}

func (m *MockBackend) Retain(_ context.Context, content string, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RetainErr != nil {
		return m.RetainErr
	}
	m.Retained = append(m.Retained, RetainCall{Content: content, Meta: meta})
	return nil
}

func (m *MockBackend) Recall(ctx context.Context, _ string, _ memory.RecallOptions) ([]memory.Result, error) {
	m.mu.Lock()
	m.recallCalls++
	delay, err, results, panics := m.RecallDelay, m.RecallErr, m.RecallResults, m.PanicOnRecall
	m.mu.Unlock()

	if panics {
		panic("mock recall panic")
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	return results, nil
}

// RecallCalls returns how many times Recall was invoked.
func (m *MockBackend) RecallCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recallCalls
}

// RetainedCount returns how many Retain calls succeeded.
func (m *MockBackend) RetainedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Retained)
}

// MockFullBackend implements every optional capability on top of MockBackend.
type MockFullBackend struct {
	*MockBackend

	// Insights is returned by Reflect.
	Insights []string

	// TemporalResults is returned by RecallAsOf.
	TemporalResults []memory.Result

	// StartErr, StopErr and CaptureErr are returned when set.
	StartErr   error
	StopErr    error
	CaptureErr error

	// CaptureDelay makes OnCompactionPre wait before acknowledging.
	// A zero delay acknowledges immediately; the wait honors ctx.
	CaptureDelay time.Duration

	// Health is returned by HealthCheck.
	Health memory.HealthStatus

	mu        sync.Mutex
	started   bool
	stopped   bool
	captured  []memory.PreCompaction
	completed []memory.PostCompaction
	asOf      []time.Time
}

// NewMockFullBackend creates a fully capable mock backend.
func NewMockFullBackend(id string) *MockFullBackend {
	return &MockFullBackend{
		MockBackend: NewMockBackend(id),
		Health:      memory.HealthStatus{OK: true},
	}
}

func (m *MockFullBackend) Reflect(_ context.Context, _ string) ([]string, error) {
	return m.Insights, nil
}

func (m *MockFullBackend) RecallAsOf(_ context.Context, _ string, asOf time.Time, _ memory.RecallOptions) ([]memory.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asOf = append(m.asOf, asOf)
	return m.TemporalResults, nil
}

func (m *MockFullBackend) OnCompactionPre(ctx context.Context, ev memory.PreCompaction) error {
	if m.CaptureDelay > 0 {
		select {
		case <-time.After(m.CaptureDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.CaptureErr != nil {
		return m.CaptureErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.captured = append(m.captured, ev)
	return nil
}

func (m *MockFullBackend) OnCompactionPost(_ context.Context, ev memory.PostCompaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed = append(m.completed, ev)
	return nil
}

func (m *MockFullBackend) Start(_ context.Context) error {
	if m.StartErr != nil {
		return m.StartErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	return nil
}

func (m *MockFullBackend) Stop(_ context.Context) error {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()
	return m.StopErr
}

func (m *MockFullBackend) HealthCheck(_ context.Context) memory.HealthStatus {
	return m.Health
}

// Captured returns the pre-compaction events this backend acknowledged.
func (m *MockFullBackend) Captured() []memory.PreCompaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.PreCompaction(nil), m.captured...)
}

// Completed returns the post-compaction events this backend observed.
func (m *MockFullBackend) Completed() []memory.PostCompaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.PostCompaction(nil), m.completed...)
}

// AsOf returns the points in time passed to RecallAsOf.
func (m *MockFullBackend) AsOf() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.asOf...)
}

// Started reports whether Start succeeded.
func (m *MockFullBackend) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Stopped reports whether Stop was called.
func (m *MockFullBackend) Stopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}
