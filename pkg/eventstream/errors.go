package eventstream

import "errors"

var (
	// ErrNilRecord indicates a nil record was provided to a publisher.
	ErrNilRecord = errors.New("nil event record")

	// ErrQueueFull indicates the pool dropped a record because its queue
	// was full.
	ErrQueueFull = errors.New("event stream queue full, record dropped")
)
