package nop_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/eventstream"
	"github.com/papercomputeco/mnemo/pkg/eventstream/nop"
)

var _ = Describe("Publisher", func() {
	var p *nop.Publisher

	BeforeEach(func() {
		p = nop.NewPublisher()
	})

	It("rejects nil records without counting them", func() {
		Expect(p.Publish(context.Background(), nil)).To(MatchError(eventstream.ErrNilRecord))
		Expect(p.Discarded()).To(BeZero())
	})

	It("counts every discarded record", func() {
		for seq := uint64(1); seq <= 3; seq++ {
			record := eventstream.NewRecord(events.Event{Seq: seq, SessionKey: "s1", Type: events.MessageReceived})
			Expect(p.Publish(context.Background(), record)).To(Succeed())
		}
		Expect(p.Discarded()).To(Equal(uint64(3)))
	})

	It("closes cleanly", func() {
		Expect(p.Close()).To(Succeed())
	})
})
