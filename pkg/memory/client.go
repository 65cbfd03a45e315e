package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/mnemo/pkg/logger"
)

// Strategy selects how Search consults backends.
type Strategy string

const (
	// StrategyParallel fans out to every selected backend and fuses.
	StrategyParallel Strategy = "parallel"

	// StrategyCascade consults backends in priority order and stops at the
	// first one returning a result at or above the minimum score.
	StrategyCascade Strategy = "cascade"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	return s == StrategyParallel || s == StrategyCascade
}

const defaultRecallTimeout = 10 * time.Second

// ClientConfig tunes routing across backends.
type ClientConfig struct {
	// FallbackOnError replaces a failing recall backend with the next
	// unconsulted backend by ascending priority.
	FallbackOnError bool

	// Strategy is the default Search strategy.
	Strategy Strategy

	// MinScore is the default Search score gate.
	MinScore float64

	// RecallTimeout bounds each backend call. Defaults to 10s.
	RecallTimeout time.Duration
}

// RetainReport lists per-backend retain outcomes.
type RetainReport struct {
	Succeeded []string         `json:"succeeded"`
	Failed    map[string]error `json:"-"`
}

// RecallReport is the fused recall output plus per-backend status.
type RecallReport struct {
	Results   []Result          `json:"results"`
	Consulted []string          `json:"consulted"`
	Failed    map[string]error  `json:"-"`
	Fallbacks map[string]string `json:"fallbacks,omitempty"`
}

// ReflectReport is the concatenated reflection output.
type ReflectReport struct {
	Insights []Insight        `json:"insights"`
	Failed   map[string]error `json:"-"`
}

// SearchOptions tunes Search. Zero Strategy and nil MinScore fall back to
// the client configuration.
type SearchOptions struct {
	RecallOptions
	Strategy Strategy
	MinScore *float64
}

// SearchReport is the Search output.
type SearchReport struct {
	RecallReport
	Strategy Strategy `json:"strategy"`

	// AnsweredBy names the backend that satisfied a cascade search.
	AnsweredBy string `json:"answered_by,omitempty"`
}

// AckReport lists the outcome of a compaction broadcast to backends.
type AckReport struct {
	Acknowledged   []string         `json:"acknowledged"`
	Unacknowledged []string         `json:"unacknowledged"`
	Failed         map[string]error `json:"-"`

	// Timeout is set when the bounded wait expired before every backend
	// acknowledged.
	Timeout *AckTimeoutError `json:"-"`
}

// Client routes memory operations across the registry's active backends.
type Client struct {
	registry *Registry
	config   ClientConfig
	logger   *slog.Logger
}

// NewClient creates a client over r. A nil logger discards output.
func NewClient(r *Registry, c ClientConfig, l *slog.Logger) *Client {
	if c.RecallTimeout <= 0 {
		c.RecallTimeout = defaultRecallTimeout
	}
	if c.Strategy == "" {
		c.Strategy = StrategyParallel
	}
	if l == nil {
		l = logger.Nop()
	}

	return &Client{
		registry: r,
		config:   c,
		logger:   l,
	}
}

// Registry returns the client's backend registry.
func (c *Client) Registry() *Registry {
	return c.registry
}

// Retain writes content to every active retain-capable backend in parallel.
// Failures of non-required backends are logged and reported; a required
// backend's failure is returned as the call's error.
func (c *Client) Retain(ctx context.Context, content string, opts RetainOptions) (*RetainReport, error) {
	targets, err := c.selectTargets(opts.Backends, CapRetain)
	if err != nil {
		return nil, err
	}

	meta := maps.Clone(opts.Metadata)
	if meta == nil {
		meta = make(map[string]any)
	}
	if opts.SessionKey != "" {
		meta["session_key"] = opts.SessionKey
	}

	outcomes := make([]error, len(targets))

	var g errgroup.Group
	for i, d := range targets {
		g.Go(func() error {
			outcomes[i] = safeCall(func() error {
				return d.backend.Retain(ctx, content, maps.Clone(meta))
			})
			return nil
		})
	}
	_ = g.Wait()

	report := &RetainReport{Failed: make(map[string]error)}
	var requiredErrs []error

	for i, d := range targets {
		if outcomes[i] == nil {
			report.Succeeded = append(report.Succeeded, d.ID)
			continue
		}

		be := &BackendError{BackendID: d.ID, Op: "retain", Err: outcomes[i]}
		report.Failed[d.ID] = be

		if d.Required {
			requiredErrs = append(requiredErrs, be)
			c.logger.Error("required memory backend failed to retain",
				"backend", d.ID,
				"error", outcomes[i],
			)
			continue
		}

		c.logger.Warn("memory backend failed to retain",
			"backend", d.ID,
			"error", outcomes[i],
		)
	}

	return report, errors.Join(requiredErrs...)
}

// Recall queries the selected backends in parallel, each under its own
// timeout, and fuses the results. With FallbackOnError a failing backend is
// replaced by the next unconsulted backend by ascending priority. An error
// is returned only when every consulted backend failed.
func (c *Client) Recall(ctx context.Context, query string, opts RecallOptions) (*RecallReport, error) {
	report, batches, err := c.recall(ctx, query, opts)
	if err != nil {
		return report, err
	}

	report.Results = limitResults(Fuse(batches...), opts.Limit)
	return report, nil
}

func (c *Client) recall(ctx context.Context, query string, opts RecallOptions) (*RecallReport, []Batch, error) {
	capability := CapRecall
	if opts.AsOf != nil {
		capability = CapTemporal
	}

	targets, err := c.selectTargets(opts.Backends, capability)
	if err != nil {
		return nil, nil, err
	}

	report := &RecallReport{
		Failed:    make(map[string]error),
		Fallbacks: make(map[string]string),
	}

	// Batches keep fan-out order (priority, then registration) regardless
	// of which backend answers first, so fusion ties break deterministically.
	type outcome struct {
		results []Result
		err     error
	}
	outcomes := make([]outcome, len(targets))

	var g errgroup.Group
	for i, d := range targets {
		report.Consulted = append(report.Consulted, d.ID)
		g.Go(func() error {
			results, err := c.recallOne(ctx, d, query, opts)
			outcomes[i] = outcome{results: results, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var (
		batches []Batch
		failed  []Descriptor
	)
	for i, d := range targets {
		if err := outcomes[i].err; err != nil {
			report.Failed[d.ID] = &BackendError{BackendID: d.ID, Op: "recall", Err: err}
			failed = append(failed, d)
			continue
		}
		batches = append(batches, Batch{BackendID: d.ID, Priority: d.Priority, Results: outcomes[i].results})
	}

	for id, err := range report.Failed {
		c.logger.Warn("memory backend failed to recall", "backend", id, "error", err)
	}

	if c.config.FallbackOnError && len(failed) > 0 {
		sortDescriptors(failed)
		for _, f := range failed {
			if b, ok := c.fallback(ctx, f, capability, query, opts, report); ok {
				batches = append(batches, b)
			}
		}
	}

	if len(batches) == 0 && len(report.Failed) > 0 {
		errs := make([]error, 0, len(report.Failed))
		for _, id := range report.Consulted {
			if err, ok := report.Failed[id]; ok {
				errs = append(errs, err)
			}
		}
		return report, nil, errors.Join(errs...)
	}

	return report, batches, nil
}

// fallback walks the linear chain of unconsulted backends for one failure.
func (c *Client) fallback(ctx context.Context, failed Descriptor, capability Capability, query string, opts RecallOptions, report *RecallReport) (Batch, bool) {
	for _, d := range c.registry.Active() {
		if !d.Capabilities.Has(capability) || slices.Contains(report.Consulted, d.ID) {
			continue
		}

		report.Consulted = append(report.Consulted, d.ID)
		results, err := c.recallOne(ctx, d, query, opts)
		if err != nil {
			report.Failed[d.ID] = &BackendError{BackendID: d.ID, Op: "recall", Err: err}
			c.logger.Warn("fallback memory backend failed to recall",
				"backend", d.ID,
				"replacing", failed.ID,
				"error", err,
			)
			continue
		}

		report.Fallbacks[failed.ID] = d.ID
		c.logger.Info("recall fell back to next backend",
			"failed", failed.ID,
			"fallback", d.ID,
		)
		return Batch{BackendID: d.ID, Priority: d.Priority, Results: results}, true
	}

	return Batch{}, false
}

// recallOne races one backend call against its timeout. The timer is
// released as soon as the call completes.
func (c *Client) recallOne(ctx context.Context, d Descriptor, query string, opts RecallOptions) ([]Result, error) {
	timeout := c.config.RecallTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backendOpts := opts
	backendOpts.Backends = nil
	backendOpts.Timeout = 0

	type outcome struct {
		results []Result
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		o.err = safeCall(func() error {
			var err error
			if opts.AsOf != nil {
				tr, ok := d.backend.(TemporalRecaller)
				if !ok {
					return fmt.Errorf("temporal recall not supported")
				}
				o.results, err = tr.RecallAsOf(callCtx, query, *opts.AsOf, backendOpts)
				return err
			}
			o.results, err = d.backend.Recall(callCtx, query, backendOpts)
			return err
		})
		done <- o
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return nil, o.err
		}
		results := make([]Result, len(o.results))
		for i, r := range o.results {
			r.Source = d.ID
			results[i] = r
		}
		return results, nil
	case <-callCtx.Done():
		return nil, fmt.Errorf("recall timed out after %s: %w", timeout, callCtx.Err())
	}
}

// Reflect delegates to reflect-capable backends and concatenates their
// insights in priority order.
func (c *Client) Reflect(ctx context.Context, topic string) (*ReflectReport, error) {
	targets, err := c.selectTargets(nil, CapReflect)
	if err != nil {
		return nil, err
	}

	outputs := make([][]string, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	for i, d := range targets {
		g.Go(func() error {
			errs[i] = safeCall(func() error {
				var err error
				outputs[i], err = d.backend.(Reflector).Reflect(ctx, topic)
				return err
			})
			return nil
		})
	}
	_ = g.Wait()

	report := &ReflectReport{Insights: []Insight{}, Failed: make(map[string]error)}
	for i, d := range targets {
		if errs[i] != nil {
			report.Failed[d.ID] = &BackendError{BackendID: d.ID, Op: "reflect", Err: errs[i]}
			c.logger.Warn("memory backend failed to reflect", "backend", d.ID, "error", errs[i])
			continue
		}
		for _, content := range outputs[i] {
			report.Insights = append(report.Insights, Insight{Content: content, Source: d.ID})
		}
	}

	return report, nil
}

// Search runs a recall with the parallel or cascade strategy and keeps only
// results at or above the minimum score.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) (*SearchReport, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = c.config.Strategy
	}
	if !strategy.Valid() {
		return nil, &ConfigurationError{Field: "strategy", Reason: fmt.Sprintf("unknown strategy %q", strategy)}
	}

	minScore := c.config.MinScore
	if opts.MinScore != nil {
		minScore = *opts.MinScore
	}

	if strategy == StrategyCascade {
		return c.cascade(ctx, query, opts.RecallOptions, minScore)
	}

	recall, batches, err := c.recall(ctx, query, opts.RecallOptions)
	if err != nil {
		return nil, err
	}

	recall.Results = limitResults(filterMinScore(Fuse(batches...), minScore), opts.Limit)
	return &SearchReport{RecallReport: *recall, Strategy: StrategyParallel}, nil
}

func (c *Client) cascade(ctx context.Context, query string, opts RecallOptions, minScore float64) (*SearchReport, error) {
	capability := CapRecall
	if opts.AsOf != nil {
		capability = CapTemporal
	}

	targets, err := c.selectTargets(opts.Backends, capability)
	if err != nil {
		return nil, err
	}

	report := &SearchReport{
		RecallReport: RecallReport{Results: []Result{}, Failed: make(map[string]error)},
		Strategy:     StrategyCascade,
	}

	for _, d := range targets {
		report.Consulted = append(report.Consulted, d.ID)

		results, err := c.recallOne(ctx, d, query, opts)
		if err != nil {
			report.Failed[d.ID] = &BackendError{BackendID: d.ID, Op: "recall", Err: err}
			c.logger.Warn("cascade backend failed to recall", "backend", d.ID, "error", err)
			continue
		}

		kept := filterMinScore(results, minScore)
		if len(kept) == 0 {
			continue
		}

		report.Results = limitResults(Fuse(Batch{BackendID: d.ID, Priority: d.Priority, Results: kept}), opts.Limit)
		report.AnsweredBy = d.ID
		break
	}

	return report, nil
}

// NotifyPreCompaction delivers a deep copy of the pre-compaction snapshot to
// every active capture-capable backend. When wait is true it blocks until
// every backend acknowledged or the timeout expired, whichever comes first;
// an expired wait is reported in AckReport.Timeout, not returned. The only
// returned error is the caller's context error.
func (c *Client) NotifyPreCompaction(ctx context.Context, ev PreCompaction, wait bool, timeout time.Duration) (*AckReport, error) {
	targets, err := c.selectTargets(nil, CapCompactionPre)
	if err != nil {
		return nil, err
	}

	return c.broadcast(ctx, targets, wait, timeout, func(ctx context.Context, d Descriptor) error {
		copied := ev
		copied.Snapshot = ev.Snapshot.Clone()
		return d.backend.(PreCompactionCapturer).OnCompactionPre(ctx, copied)
	})
}

// NotifyPostCompaction tells every active post-compaction observer that the
// compaction finished. Delivery is bounded by timeout.
func (c *Client) NotifyPostCompaction(ctx context.Context, ev PostCompaction, timeout time.Duration) (*AckReport, error) {
	targets, err := c.selectTargets(nil, CapCompactionPost)
	if err != nil {
		return nil, err
	}

	return c.broadcast(ctx, targets, true, timeout, func(ctx context.Context, d Descriptor) error {
		return d.backend.(PostCompactionObserver).OnCompactionPost(ctx, ev)
	})
}

type ack struct {
	id  string
	err error
}

// broadcast starts fn for every target before waiting on any of them, then
// races completion against a cancellable timer.
func (c *Client) broadcast(ctx context.Context, targets []Descriptor, wait bool, timeout time.Duration, fn func(context.Context, Descriptor) error) (*AckReport, error) {
	report := &AckReport{
		Acknowledged:   []string{},
		Unacknowledged: []string{},
		Failed:         make(map[string]error),
	}
	if len(targets) == 0 {
		return report, nil
	}

	if !wait {
		detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		var g errgroup.Group
		for _, d := range targets {
			g.Go(func() error {
				if err := safeCall(func() error { return fn(detached, d) }); err != nil {
					c.logger.Warn("memory backend failed compaction notification", "backend", d.ID, "error", err)
				}
				return nil
			})
			report.Unacknowledged = append(report.Unacknowledged, d.ID)
		}
		go func() {
			_ = g.Wait()
			cancel()
		}()
		return report, nil
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	acks := make(chan ack, len(targets))
	pending := make(map[string]bool, len(targets))
	for _, d := range targets {
		pending[d.ID] = true
		go func() {
			acks <- ack{id: d.ID, err: safeCall(func() error { return fn(callCtx, d) })}
		}()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	unacked := func() []string {
		out := []string{}
		for _, d := range targets {
			if pending[d.ID] {
				out = append(out, d.ID)
			}
		}
		return out
	}

	for len(pending) > 0 {
		select {
		case a := <-acks:
			delete(pending, a.id)
			if a.err != nil {
				report.Failed[a.id] = &BackendError{BackendID: a.id, Op: "compaction", Err: a.err}
				c.logger.Warn("memory backend failed compaction notification", "backend", a.id, "error", a.err)
				continue
			}
			report.Acknowledged = append(report.Acknowledged, a.id)

		case <-timer.C:
			report.Unacknowledged = unacked()
			report.Timeout = &AckTimeoutError{Timeout: timeout, Unacknowledged: report.Unacknowledged}
			c.logger.Warn("compaction acknowledgement wait expired",
				"timeout", timeout,
				"unacknowledged", report.Unacknowledged,
			)
			return report, nil

		case <-ctx.Done():
			report.Unacknowledged = unacked()
			return report, ctx.Err()
		}
	}

	return report, nil
}

// selectTargets resolves the fan-out set: every active backend with the
// capability, or the explicit subset, always in priority order.
func (c *Client) selectTargets(ids []string, capability Capability) ([]Descriptor, error) {
	active := c.registry.Active()

	if len(ids) == 0 {
		out := make([]Descriptor, 0, len(active))
		for _, d := range active {
			if d.Capabilities.Has(capability) {
				out = append(out, d)
			}
		}
		return out, nil
	}

	out := make([]Descriptor, 0, len(ids))
	for _, d := range active {
		if slices.Contains(ids, d.ID) && d.Capabilities.Has(capability) {
			out = append(out, d)
		}
	}

	for _, id := range ids {
		if _, ok := c.registry.Get(id); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, id)
		}
	}

	if len(out) == 0 {
		return nil, ErrNoBackends
	}

	return out, nil
}

// safeCall converts a backend panic into an error so one backend cannot take
// down a fan-out.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()
	return fn()
}
