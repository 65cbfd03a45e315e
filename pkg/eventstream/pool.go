package eventstream

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/papercomputeco/mnemo/pkg/logger"
)

var (
	defaultNumWorkers     uint = 1
	defaultQueueSize      uint = 256
	defaultPublishTimeout      = 5 * time.Second
)

// PoolConfig is the configuration for the publishing pool.
type PoolConfig struct {
	// Publisher receives every enqueued record.
	Publisher Publisher

	// NumWorkers is the number of background publishers. A single worker
	// keeps records in emission order.
	NumWorkers uint

	// QueueSize is the capacity of the buffered record channel (defaults to 256).
	QueueSize uint

	// PublishTimeout bounds each Publish call (defaults to 5s).
	PublishTimeout time.Duration

	Logger *slog.Logger
}

// Pool publishes records asynchronously via a worker pool.
type Pool struct {
	config *PoolConfig
	queue  chan *Record
	wg     sync.WaitGroup
	logger *slog.Logger

	closeOnce sync.Once
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *PoolConfig) (*Pool, error) {
	if c.Publisher == nil {
		return nil, fmt.Errorf("eventstream pool requires a publisher")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultQueueSize
	}

	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = logger.Nop()
	}

	p := &Pool{
		config: c,
		queue:  make(chan *Record, c.QueueSize),
		logger: c.Logger,
	}

	p.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go p.worker(i)
	}

	return p, nil
}

// Enqueue submits a record for publishing.
// Returns true if enqueued, false if the queue is full, resulting in the record being dropped
func (p *Pool) Enqueue(record *Record) bool {
	select {
	case p.queue <- record:
		p.logger.Debug("record queued",
			"event_type", string(record.EventType),
			"session", record.SessionKey,
			"seq", record.Seq,
		)
		return true
	default:
		p.logger.Error("record not queued, queue full, record dropped",
			"event_type", string(record.EventType),
			"session", record.SessionKey,
			"seq", record.Seq,
		)
		return false
	}
}

// Close signals workers to stop, waits for queued records to drain and then
// closes the publisher.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.queue)
		p.wg.Wait()
		err = p.config.Publisher.Close()
	})
	return err
}

// worker is the inner worker thread that continuously pulls records off the queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("eventstream worker started", "worker_id", id)

	for record := range p.queue {
		p.publish(record)
	}

	p.logger.Debug("eventstream worker stopped", "worker_id", id)
}

func (p *Pool) publish(record *Record) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	if err := p.config.Publisher.Publish(ctx, record); err != nil {
		p.logger.Warn("failed to publish event record",
			"event_type", string(record.EventType),
			"session", record.SessionKey,
			"seq", record.Seq,
			"error", err,
		)
		return
	}

	p.logger.Debug("event record published",
		"event_type", string(record.EventType),
		"session", record.SessionKey,
		"seq", record.Seq,
	)
}
