// Package kafka publishes event records to a Kafka topic.
//
// Messages are keyed by session so a hash balancer keeps every session's
// events on one partition, in sequence order.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/mnemo/pkg/eventstream"
)

const defaultBatchTimeout = 50 * time.Millisecond

// Config configures the Kafka publisher.
type Config struct {
	Brokers  []string
	Topic    string
	ClientID string

	// BatchTimeout is how long the writer waits to fill a batch.
	BatchTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes records to Kafka.
type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher validates c and creates a publisher. No connection is made
// until the first Publish.
func NewPublisher(c Config) (*Publisher, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if c.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = defaultBatchTimeout
	}

	w := &kafkago.Writer{
		Addr:         kafkago.TCP(c.Brokers...),
		Topic:        c.Topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: c.BatchTimeout,
	}
	if c.ClientID != "" {
		w.Transport = &kafkago.Transport{ClientID: c.ClientID}
	}

	return &Publisher{writer: w, topic: c.Topic}, nil
}

// Publish writes one record, keyed by session.
func (p *Publisher) Publish(ctx context.Context, record *eventstream.Record) error {
	if record == nil {
		return eventstream.ErrNilRecord
	}

	msg, err := toMessage(record)
	if err != nil {
		return err
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing to kafka topic %s: %w", p.topic, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

func toMessage(record *eventstream.Record) (kafkago.Message, error) {
	value, err := json.Marshal(record)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("encoding event record: %w", err)
	}

	return kafkago.Message{
		Key:   []byte(record.SessionKey),
		Value: value,
		Time:  record.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(record.EventType)},
			{Key: "schema_version", Value: []byte(strconv.Itoa(record.SchemaVersion))},
		},
	}, nil
}
