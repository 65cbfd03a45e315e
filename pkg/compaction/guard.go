// Package compaction coordinates protected compaction of a session's history.
//
// The [Guard] guarantees that observers and memory backends see the full
// session state before the host's destructive compaction runs:
//
//	capture snapshot -> emit compaction:pre -> wait for backend acks (bounded)
//	  -> host Compact (exactly once) -> emit compaction:post -> recovery recall
//
// compaction:pre always precedes Compact and compaction:post always follows
// it; neither is skipped, reordered or duplicated within a cycle. A failing
// Compact emits compaction:failed instead of compaction:post and is returned
// to the caller as a *memory.CompactionError.
package compaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/logger"
	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/utils"
)

// ErrCompactionInProgress is returned when a session already has a running
// compaction cycle.
var ErrCompactionInProgress = errors.New("compaction already in progress")

// Report is the outcome of one HandleCompaction cycle.
type Report struct {
	SessionKey       string        `json:"session_key"`
	TokensBefore     int           `json:"tokens_before"`
	MessagesCaptured int           `json:"messages_captured"`
	PreSeq           uint64        `json:"pre_seq"`
	PostSeq          uint64        `json:"post_seq,omitempty"`
	Outcome          Outcome       `json:"outcome"`
	Duration         time.Duration `json:"duration"`

	// HandlerFailures lists observer failures on compaction:pre. They are
	// reported and never abort the cycle.
	HandlerFailures []events.HandlerFailure `json:"-"`

	// Acks is the backend acknowledgement outcome. AckTimeout is set when
	// the bounded wait expired; the cycle still proceeded.
	Acks       *memory.AckReport       `json:"acks,omitempty"`
	AckTimeout *memory.AckTimeoutError `json:"-"`

	// PostErr is set when compaction:post could not be emitted. The host
	// has already compacted, so the cycle is not failed; PostSeq stays zero.
	PostErr error `json:"-"`

	RecoveryTopics []string        `json:"recovery_topics,omitempty"`
	Recovery       []memory.Result `json:"recovery,omitempty"`
	RecoveryErr    error           `json:"-"`
}

// Guard is the per-session compaction state machine.
type Guard struct {
	bus    *events.Bus
	memory Memory
	host   Host
	logger *slog.Logger

	mu       sync.Mutex
	config   Config
	sessions map[string]*sessionState
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMemory sets the memory client used for backend acknowledgements and
// recovery recall. Without one the guard only emits events.
func WithMemory(m Memory) GuardOption {
	return func(g *Guard) {
		g.memory = m
	}
}

// WithLogger sets the guard logger.
func WithLogger(l *slog.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard validates c and creates a guard emitting on bus and compacting
// through host.
func NewGuard(bus *events.Bus, host Host, c Config, opts ...GuardOption) (*Guard, error) {
	if bus == nil {
		return nil, &memory.ConfigurationError{Field: "bus", Reason: "nil event bus"}
	}
	if host == nil {
		return nil, &memory.ConfigurationError{Field: "host", Reason: "nil host"}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	g := &Guard{
		bus:      bus,
		host:     host,
		logger:   logger.Nop(),
		config:   c,
		sessions: make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Config returns the current configuration.
func (g *Guard) Config() Config {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.config
}

// SetThresholds swaps the usage thresholds. Latches are kept; they re-arm
// against the new thresholds on the next observation.
func (g *Guard) SetThresholds(warning, imminent float64) error {
	if err := ValidateThresholds(warning, imminent); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.config.WarningThreshold = warning
	g.config.ImminentThreshold = imminent
	return nil
}

// State returns the session's current state.
func (g *Guard) State(sessionKey string) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.sessions[sessionKey]; ok {
		return s.state
	}
	return Idle
}

// Forget drops the tracked state of an ended session.
func (g *Guard) Forget(sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if s, ok := g.sessions[sessionKey]; ok && !s.busy {
		delete(g.sessions, sessionKey)
	}
}

// ObserveUsage evaluates the host-reported context usage ratio. Each
// threshold fires once per upward crossing and re-arms only after the ratio
// drops back below it. A jump past both thresholds fires warning, then
// imminent. It returns the event types emitted.
func (g *Guard) ObserveUsage(ctx context.Context, sessionKey string, ratio float64) ([]events.Type, error) {
	g.mu.Lock()
	s := g.session(sessionKey)
	warning, imminent := g.config.WarningThreshold, g.config.ImminentThreshold

	type firing struct {
		typ       events.Type
		threshold float64
	}
	var fire []firing

	if ratio >= warning {
		if !s.warned {
			s.warned = true
			fire = append(fire, firing{events.CompactionWarning, warning})
		}
	} else {
		s.warned = false
	}

	if ratio >= imminent {
		if !s.imminent {
			s.imminent = true
			fire = append(fire, firing{events.CompactionImminent, imminent})
		}
	} else {
		s.imminent = false
	}

	s.ratio = ratio
	if !s.state.inCycle() {
		switch {
		case ratio >= imminent:
			s.state = ImminentIssued
		case ratio >= warning:
			s.state = WarningIssued
		default:
			s.state = Idle
		}
	}
	g.mu.Unlock()

	fired := make([]events.Type, 0, len(fire))
	for _, f := range fire {
		if _, err := g.emit(ctx, f.typ, UsagePayload{Ratio: ratio, Threshold: f.threshold}, sessionKey); err != nil {
			return fired, err
		}
		fired = append(fired, f.typ)
		g.logger.Info("context usage crossed threshold",
			"session", sessionKey,
			"event", string(f.typ),
			"ratio", ratio,
			"threshold", f.threshold,
		)
	}

	return fired, nil
}

// HandleCompaction runs one protected compaction cycle for the session.
//
// The snapshot is captured before anything else. The caller's context is
// honoured up to the end of the acknowledgement wait; once the host's
// Compact starts it runs to completion and the remaining events are always
// emitted.
func (g *Guard) HandleCompaction(ctx context.Context, sessionKey string) (*Report, error) {
	if err := g.begin(sessionKey); err != nil {
		return nil, err
	}
	defer g.end(sessionKey)

	start := time.Now()
	report := &Report{SessionKey: sessionKey}
	cfg := g.Config()

	// Capture.
	snapshot, err := g.host.CaptureFullState(ctx, sessionKey)
	if err != nil {
		return nil, fmt.Errorf("capturing session %s: %w", sessionKey, err)
	}
	if snapshot.SessionKey == "" {
		snapshot.SessionKey = sessionKey
	}
	if snapshot.CapturedAt.IsZero() {
		snapshot.CapturedAt = time.Now()
	}
	report.TokensBefore = snapshot.TokenCount
	report.MessagesCaptured = len(snapshot.Messages)

	pre, err := g.emit(ctx, events.CompactionPre, NewPrePayload(snapshot), sessionKey)
	if err != nil {
		return nil, err
	}
	report.PreSeq = pre.Event.Seq
	report.HandlerFailures = pre.Failures

	// Acknowledgements.
	g.setState(sessionKey, AwaitingAcks)
	if g.memory != nil {
		acks, err := g.memory.NotifyPreCompaction(ctx, memory.PreCompaction{
			SessionKey: sessionKey,
			Seq:        pre.Event.Seq,
			Snapshot:   snapshot,
		}, cfg.RequireAck, cfg.AckTimeout)
		report.Acks = acks

		if err != nil {
			g.fail(ctx, sessionKey, "awaiting_acks", err)
			return report, err
		}
		if acks.Timeout != nil {
			report.AckTimeout = acks.Timeout
			g.logger.Warn("proceeding with compaction without every acknowledgement",
				"session", sessionKey,
				"unacknowledged", acks.Timeout.Unacknowledged,
			)
		}
	}

	// Compaction. Not cancellable once started.
	detached := context.WithoutCancel(ctx)
	g.setState(sessionKey, Compacting)
	outcome, err := g.host.Compact(detached, sessionKey)
	if err != nil {
		g.fail(detached, sessionKey, "compacting", err)
		return report, &memory.CompactionError{SessionKey: sessionKey, Err: err}
	}
	report.Outcome = outcome

	// Post.
	g.setState(sessionKey, NotifyingPost)
	post := PostPayload{
		Summary:         outcome.Summary,
		TokensBefore:    snapshot.TokenCount,
		TokensAfter:     outcome.TokensAfter,
		MessagesRemoved: outcome.MessagesRemoved,
	}
	postReport, err := g.emit(detached, events.CompactionPost, post, sessionKey)
	if err != nil {
		report.PostErr = err
		g.logger.Error("failed to emit compaction:post", "session", sessionKey, "error", err)
	} else {
		report.PostSeq = postReport.Event.Seq
	}

	if g.memory != nil {
		if _, err := g.memory.NotifyPostCompaction(detached, memory.PostCompaction{
			SessionKey:      sessionKey,
			Seq:             report.PostSeq,
			Summary:         outcome.Summary,
			TokensBefore:    snapshot.TokenCount,
			TokensAfter:     outcome.TokensAfter,
			MessagesRemoved: outcome.MessagesRemoved,
		}, cfg.AckTimeout); err != nil {
			g.logger.Warn("post-compaction notification failed", "session", sessionKey, "error", err)
		}
	}

	g.recoverContext(detached, sessionKey, snapshot, cfg, report)

	report.Duration = time.Since(start)
	g.logger.Info("compaction cycle complete",
		"session", sessionKey,
		"tokens_before", report.TokensBefore,
		"tokens_after", outcome.TokensAfter,
		"messages_removed", outcome.MessagesRemoved,
		"duration", report.Duration,
	)

	return report, nil
}

// recoverContext issues a best-effort recall seeded by the snapshot's key topics
// and emits compaction:recovery. Failures are logged, never returned.
func (g *Guard) recoverContext(ctx context.Context, sessionKey string, snapshot memory.Snapshot, cfg Config, report *Report) {
	topics := KeyTopics(snapshot, cfg.RecoveryTopics)
	report.RecoveryTopics = topics

	payload := RecoveryPayload{Topics: topics, Results: []memory.Result{}}

	if g.memory != nil && len(topics) > 0 {
		recallCtx, cancel := context.WithTimeout(ctx, cfg.AckTimeout)
		recall, err := g.memory.Recall(recallCtx, strings.Join(topics, " "), memory.RecallOptions{
			Limit:      cfg.RecoveryLimit,
			SessionKey: sessionKey,
		})
		cancel()

		switch {
		case err != nil:
			report.RecoveryErr = err
			payload.Error = err.Error()
			g.logger.Warn("recovery recall failed", "session", sessionKey, "error", err)
		default:
			report.Recovery = recall.Results
			payload.Results = recall.Results
		}
	}

	if _, err := g.emit(ctx, events.CompactionRecovery, payload, sessionKey); err != nil {
		g.logger.Warn("failed to emit compaction:recovery", "session", sessionKey, "error", err)
	}
}

// fail moves the session to Failed and emits compaction:failed.
func (g *Guard) fail(ctx context.Context, sessionKey, phase string, cause error) {
	g.setState(sessionKey, Failed)
	g.logger.Error("compaction cycle failed",
		"session", sessionKey,
		"phase", phase,
		"error", cause,
	)

	payload := FailedPayload{Phase: phase, Error: cause.Error()}
	if _, err := g.emit(context.WithoutCancel(ctx), events.CompactionFailed, payload, sessionKey); err != nil {
		g.logger.Error("failed to emit compaction:failed", "session", sessionKey, "error", err)
	}
}

// emit dispatches on the bus. Strict-mode handler failures are already in
// the returned report and are not treated as errors here.
func (g *Guard) emit(ctx context.Context, typ events.Type, payload any, sessionKey string) (*events.Report, error) {
	report, err := g.bus.Emit(ctx, typ, payload, sessionKey)
	var dispatchErr *events.DispatchError
	if errors.As(err, &dispatchErr) {
		return report, nil
	}
	return report, err
}

func (g *Guard) begin(sessionKey string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.session(sessionKey)
	if s.busy {
		return fmt.Errorf("%w: session %s", ErrCompactionInProgress, sessionKey)
	}
	s.busy = true
	s.state = CapturingPre
	return nil
}

func (g *Guard) end(sessionKey string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := g.session(sessionKey)
	s.busy = false
	s.state = Idle
}

func (g *Guard) setState(sessionKey string, state State) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session(sessionKey).state = state
}

// session returns the tracked state, creating it. Callers hold g.mu.
func (g *Guard) session(sessionKey string) *sessionState {
	s, ok := g.sessions[sessionKey]
	if !ok {
		s = &sessionState{state: Idle}
		g.sessions[sessionKey] = s
	}
	return s
}

// KeyTopics extracts up to n recurring terms from the snapshot's messages
// and tool names, most frequent first.
func KeyTopics(snapshot memory.Snapshot, n int) []string {
	texts := make([]string, 0, len(snapshot.Messages)+len(snapshot.Tools))
	for _, m := range snapshot.Messages {
		texts = append(texts, m.Content)
	}
	for _, t := range snapshot.Tools {
		texts = append(texts, t.Name)
	}
	return utils.TopTerms(n, texts...)
}
