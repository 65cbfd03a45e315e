// Package nop provides the publisher used when event forwarding is disabled.
package nop

import (
	"context"
	"sync/atomic"

	"github.com/papercomputeco/mnemo/pkg/eventstream"
)

// Publisher accepts records and drops them, counting what it dropped.
type Publisher struct {
	discarded atomic.Uint64
}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// Publish rejects nil records and discards everything else.
func (p *Publisher) Publish(_ context.Context, record *eventstream.Record) error {
	if record == nil {
		return eventstream.ErrNilRecord
	}
	p.discarded.Add(1)
	return nil
}

// Discarded reports how many records were dropped so far.
func (p *Publisher) Discarded() uint64 {
	return p.discarded.Load()
}

func (p *Publisher) Close() error {
	return nil
}
