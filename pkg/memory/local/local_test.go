package local

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/memory"
)

// steppedClock advances one minute per call.
func steppedClock(start time.Time) func() time.Time {
	now := start
	return func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
}

var _ = Describe("Local Memory Backend", func() {
	var (
		ctx   context.Context
		b     *Backend
		start time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		b = NewBackend(Config{Now: steppedClock(start)})
	})

	Describe("NewBackend", func() {
		It("defaults the id", func() {
			Expect(b.ID()).To(Equal("local"))
		})

		It("declares its optional capabilities", func() {
			caps := memory.DetectCapabilities(b)
			Expect(caps.Has(memory.CapReflect | memory.CapTemporal | memory.CapCompactionPre | memory.CapHealth)).To(BeTrue())
			Expect(caps.Has(memory.CapStart)).To(BeFalse())
		})
	})

	Describe("Retain", func() {
		It("stores content", func() {
			Expect(b.Retain(ctx, "The capital of France is Paris", nil)).To(Succeed())
			Expect(b.Len()).To(Equal(1))
		})

		It("ignores blank content", func() {
			Expect(b.Retain(ctx, "   ", nil)).To(Succeed())
			Expect(b.Len()).To(Equal(0))
		})

		It("evicts the oldest entries beyond MaxEntries", func() {
			b = NewBackend(Config{MaxEntries: 2})
			Expect(b.Retain(ctx, "first memory", nil)).To(Succeed())
			Expect(b.Retain(ctx, "second memory", nil)).To(Succeed())
			Expect(b.Retain(ctx, "third memory", nil)).To(Succeed())

			results, err := b.Recall(ctx, "first", memory.RecallOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
			Expect(b.Len()).To(Equal(2))
		})
	})

	Describe("Recall", func() {
		BeforeEach(func() {
			Expect(b.Retain(ctx, "postgres runs on port 5432", nil)).To(Succeed())
			Expect(b.Retain(ctx, "the staging postgres cluster has three replicas", nil)).To(Succeed())
			Expect(b.Retain(ctx, "kafka brokers live in another region", nil)).To(Succeed())
		})

		It("scores by the share of query terms matched", func() {
			results, err := b.Recall(ctx, "staging postgres", memory.RecallOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Content).To(ContainSubstring("staging"))
			Expect(results[0].Score).To(Equal(1.0))
			Expect(results[1].Score).To(Equal(0.5))
		})

		It("returns nothing for a query without terms", func() {
			results, err := b.Recall(ctx, "a an", memory.RecallOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("honors the limit", func() {
			results, err := b.Recall(ctx, "postgres", memory.RecallOptions{Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
		})

		It("scopes to the session when asked", func() {
			Expect(b.Retain(ctx, "redis cache for session one", map[string]any{"session_key": "one"})).To(Succeed())
			Expect(b.Retain(ctx, "redis cache for session two", map[string]any{"session_key": "two"})).To(Succeed())

			results, err := b.Recall(ctx, "redis", memory.RecallOptions{SessionKey: "one"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Content).To(ContainSubstring("one"))
		})
	})

	Describe("RecallAsOf", func() {
		It("ignores memories created after the point in time", func() {
			Expect(b.Retain(ctx, "deploy version one", nil)).To(Succeed())
			Expect(b.Retain(ctx, "deploy version two", nil)).To(Succeed())

			// The first retain is stamped start+1m, the second start+2m.
			results, err := b.RecallAsOf(ctx, "deploy", start.Add(90*time.Second), memory.RecallOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			Expect(results[0].Content).To(Equal("deploy version one"))
		})
	})

	Describe("Reflect", func() {
		It("reports co-occurring terms", func() {
			Expect(b.Retain(ctx, "billing outage caused by expired certificate", nil)).To(Succeed())
			Expect(b.Retain(ctx, "billing certificate rotation is manual", nil)).To(Succeed())

			insights, err := b.Reflect(ctx, "billing")
			Expect(err).NotTo(HaveOccurred())
			Expect(insights).NotTo(BeEmpty())
			Expect(insights[0]).To(ContainSubstring("certificate"))
		})

		It("returns nothing for an unknown topic", func() {
			insights, err := b.Reflect(ctx, "nonexistent")
			Expect(err).NotTo(HaveOccurred())
			Expect(insights).To(BeEmpty())
		})
	})

	Describe("OnCompactionPre", func() {
		It("retains the snapshot's messages and tools", func() {
			err := b.OnCompactionPre(ctx, memory.PreCompaction{
				SessionKey: "s1",
				Snapshot: memory.Snapshot{
					Messages: []memory.Message{
						{ID: "m1", Role: "user", Content: "remember the launch date"},
						{ID: "m2", Role: "assistant", Content: "launch date noted"},
					},
					Tools: []memory.ToolInvocation{{Name: "calendar", Arguments: "{}", Result: "ok"}},
				},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(b.Len()).To(Equal(3))

			results, err := b.Recall(ctx, "launch", memory.RecallOptions{SessionKey: "s1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Metadata).To(HaveKeyWithValue("origin", "compaction"))
		})
	})
})
