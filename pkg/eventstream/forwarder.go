package eventstream

import (
	"context"

	"github.com/papercomputeco/mnemo/pkg/events"
)

// Forwarder is a bus handler that enqueues every event on a Pool. A dropped
// record is reported to the bus as a handler failure.
type Forwarder struct {
	pool  *Pool
	types map[events.Type]struct{}
}

// NewForwarder creates a forwarder. With no types every event is forwarded.
func NewForwarder(pool *Pool, types ...events.Type) *Forwarder {
	f := &Forwarder{pool: pool}
	if len(types) > 0 {
		f.types = make(map[events.Type]struct{}, len(types))
		for _, t := range types {
			f.types[t] = struct{}{}
		}
	}
	return f
}

// Handle implements events.Handler.
func (f *Forwarder) Handle(_ context.Context, ev events.Event) error {
	if f.types != nil {
		if _, ok := f.types[ev.Type]; !ok {
			return nil
		}
	}

	if !f.pool.Enqueue(NewRecord(ev)) {
		return ErrQueueFull
	}
	return nil
}

// Attach subscribes the forwarder to every event on bus.
func (f *Forwarder) Attach(bus *events.Bus) (unsubscribe func()) {
	return bus.Subscribe(events.Any, f)
}
