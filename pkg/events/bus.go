package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/mnemo/pkg/logger"
)

// sessionLock serializes emissions of one session. refs counts holders and
// waiters so idle locks can be dropped.
type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// dispatchKey marks a context as being inside a handler of the given bus
// and session.
type dispatchKey struct {
	bus        *Bus
	sessionKey string
}

type subscription struct {
	id      uint64
	handler Handler
}

// Report is the outcome of one Emit.
type Report struct {
	Event    Event
	Failures []HandlerFailure
}

// Bus is an ordered in-process event dispatcher with per-session sequencing.
type Bus struct {
	mu       sync.RWMutex
	typed    map[Type][]*subscription
	wildcard []*subscription
	nextID   uint64
	closed   bool

	seqMu sync.Mutex
	seqs  map[string]uint64
	locks map[string]*sessionLock

	agentID string
	strict  bool
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithStrict makes Emit return a *DispatchError when any handler failed.
func WithStrict(strict bool) Option {
	return func(b *Bus) {
		b.strict = strict
	}
}

// WithAgentID stamps every emitted event with the agent id.
func WithAgentID(id string) Option {
	return func(b *Bus) {
		b.agentID = id
	}
}

// WithLogger sets the bus logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		typed:  make(map[Type][]*subscription),
		seqs:   make(map[string]uint64),
		locks:  make(map[string]*sessionLock),
		logger: logger.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for pattern, either an event type or Any. The
// returned function deactivates the subscription starting with the next
// dispatch; calling it again is a no-op. Subscribing to a pattern outside
// the type enumeration panics.
func (b *Bus) Subscribe(pattern Type, h Handler) (unsubscribe func()) {
	if pattern != Any && !pattern.Valid() {
		panic(fmt.Sprintf("events: subscribe to %v: %q", ErrUnknownEventType, pattern))
	}

	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: h}
	if pattern == Any {
		b.wildcard = append(b.wildcard, sub)
	} else {
		b.typed[pattern] = append(b.typed[pattern], sub)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(pattern, sub)
		})
	}
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus) SubscribeFunc(pattern Type, fn func(context.Context, Event) error) func() {
	return b.Subscribe(pattern, HandlerFunc(fn))
}

func (b *Bus) remove(pattern Type, sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.wildcard
	if pattern != Any {
		list = b.typed[pattern]
	}

	out := make([]*subscription, 0, len(list))
	for _, s := range list {
		if s != sub {
			out = append(out, s)
		}
	}

	if pattern == Any {
		b.wildcard = out
	} else {
		b.typed[pattern] = out
	}
}

// Emit assigns the event its id, timestamp and next per-session sequence
// number, then dispatches it to the subscriptions active at this moment:
// exact-type handlers first, then wildcard handlers, each in registration
// order. Handler failures are isolated and recorded in the report.
//
// Emissions for one session are serialized from seq assignment until the
// last handler returns, so observers see that session's events in seq
// order. Different sessions dispatch concurrently. A handler that emits
// for its own session with the ctx it was given runs that emission inline.
func (b *Bus) Emit(ctx context.Context, typ Type, payload any, sessionKey string) (*Report, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, typ)
	}

	key := dispatchKey{bus: b, sessionKey: sessionKey}
	if ctx.Value(key) == nil {
		release := b.lockSession(sessionKey)
		defer release()
		ctx = context.WithValue(ctx, key, struct{}{})
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrClosed
	}
	targets := make([]*subscription, 0, len(b.typed[typ])+len(b.wildcard))
	targets = append(targets, b.typed[typ]...)
	targets = append(targets, b.wildcard...)
	b.mu.RUnlock()

	ev := Event{
		ID:         uuid.NewString(),
		Seq:        b.nextSeq(sessionKey),
		Timestamp:  b.now(),
		SessionKey: sessionKey,
		AgentID:    b.agentID,
		Type:       typ,
		Payload:    payload,
	}

	report := &Report{Event: ev}
	for _, sub := range targets {
		if err := dispatch(ctx, sub.handler, ev); err != nil {
			report.Failures = append(report.Failures, HandlerFailure{SubscriptionID: sub.id, Err: err})
			b.logger.Warn("event handler failed",
				"event", string(typ),
				"session", sessionKey,
				"seq", ev.Seq,
				"subscription", sub.id,
				"error", err,
			)
		}
	}

	if b.strict && len(report.Failures) > 0 {
		return report, &DispatchError{Event: ev, Failures: report.Failures}
	}
	return report, nil
}

// lockSession blocks until the caller holds sessionKey's dispatch lock and
// returns its release.
func (b *Bus) lockSession(sessionKey string) (release func()) {
	b.seqMu.Lock()
	l, ok := b.locks[sessionKey]
	if !ok {
		l = &sessionLock{}
		b.locks[sessionKey] = l
	}
	l.refs++
	b.seqMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		b.seqMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(b.locks, sessionKey)
		}
		b.seqMu.Unlock()
	}
}

func (b *Bus) nextSeq(sessionKey string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()

	b.seqs[sessionKey]++
	return b.seqs[sessionKey]
}

// LastSeq returns the last sequence number assigned for sessionKey.
func (b *Bus) LastSeq(sessionKey string) uint64 {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	return b.seqs[sessionKey]
}

// ForgetSession drops the sequence counter of an ended session. A later
// emission for the same key starts again at 1.
func (b *Bus) ForgetSession(sessionKey string) {
	b.seqMu.Lock()
	defer b.seqMu.Unlock()
	delete(b.seqs, sessionKey)
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := len(b.wildcard)
	for _, subs := range b.typed {
		count += len(subs)
	}
	return count
}

// Close stops further emissions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func dispatch(ctx context.Context, h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Handle(ctx, ev)
}
