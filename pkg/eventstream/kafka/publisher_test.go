package kafka

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/eventstream"
)

type fakeWriter struct {
	messages []kafkago.Message
	err      error
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

var _ = Describe("Kafka Publisher", func() {
	Describe("NewPublisher", func() {
		It("requires brokers", func() {
			_, err := NewPublisher(Config{Topic: "events"})
			Expect(err).To(HaveOccurred())
		})

		It("requires a topic", func() {
			_, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}})
			Expect(err).To(HaveOccurred())
		})

		It("builds a hash-balanced writer", func() {
			p, err := NewPublisher(Config{Brokers: []string{"localhost:9092"}, Topic: "events", ClientID: "mnemo"})
			Expect(err).NotTo(HaveOccurred())

			w, ok := p.writer.(*kafkago.Writer)
			Expect(ok).To(BeTrue())
			Expect(w.Topic).To(Equal("events"))
			Expect(w.Balancer).To(BeAssignableToTypeOf(&kafkago.Hash{}))
		})
	})

	Describe("Publish", func() {
		var (
			writer *fakeWriter
			p      *Publisher
		)

		BeforeEach(func() {
			writer = &fakeWriter{}
			p = &Publisher{writer: writer, topic: "events"}
		})

		It("keys messages by session and encodes the record", func() {
			record := eventstream.NewRecord(events.Event{ID: "e1", Seq: 7, SessionKey: "s1", Type: events.CompactionPre})
			Expect(p.Publish(context.Background(), record)).To(Succeed())

			Expect(writer.messages).To(HaveLen(1))
			msg := writer.messages[0]
			Expect(string(msg.Key)).To(Equal("s1"))
			Expect(msg.Headers).To(ContainElement(kafkago.Header{Key: "event_type", Value: []byte("compaction:pre")}))

			var decoded eventstream.Record
			Expect(json.Unmarshal(msg.Value, &decoded)).To(Succeed())
			Expect(decoded.Seq).To(Equal(uint64(7)))
		})

		It("rejects nil records", func() {
			Expect(p.Publish(context.Background(), nil)).To(MatchError(eventstream.ErrNilRecord))
		})

		It("wraps writer errors", func() {
			writer.err = errors.New("leader not available")
			err := p.Publish(context.Background(), &eventstream.Record{})
			Expect(err).To(MatchError(writer.err))
		})

		It("closes the writer", func() {
			Expect(p.Close()).To(Succeed())
			Expect(writer.closed).To(BeTrue())
		})
	})
})
