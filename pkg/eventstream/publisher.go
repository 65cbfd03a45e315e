// Package eventstream forwards bus events to an external event stream.
//
// A [Forwarder] subscribes to the bus and hands every event to a [Pool],
// which publishes records asynchronously so slow brokers never hold up
// dispatch. Publishers live in sub-packages: nop for disabled mode and
// kafka for a Kafka topic keyed by session.
package eventstream

import "context"

// Publisher publishes event records to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, record *Record) error
	Close() error
}
