package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/memory"
	"github.com/papercomputeco/mnemo/pkg/memory/sqlite"
)

var _ = Describe("SQLite Backend", func() {
	var (
		ctx     context.Context
		backend *sqlite.Backend
		now     time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

		var err error
		backend, err = sqlite.NewBackend(sqlite.Config{
			DBPath: ":memory:",
			Now: func() time.Time {
				now = now.Add(time.Minute)
				return now
			},
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(backend.Stop(ctx)).To(Succeed())
	})

	It("requires a database path", func() {
		_, err := sqlite.NewBackend(sqlite.Config{})
		var cfgErr *memory.ConfigurationError
		Expect(errors.As(err, &cfgErr)).To(BeTrue())
	})

	It("declares its capabilities", func() {
		caps := memory.DetectCapabilities(backend)
		Expect(caps.Has(memory.CapReflect | memory.CapTemporal | memory.CapCompactionPre | memory.CapHealth | memory.CapStop)).To(BeTrue())
		Expect(backend.ID()).To(Equal("sqlite"))
		Expect(backend.HealthCheck(ctx).OK).To(BeTrue())
	})

	Describe("Recall", func() {
		BeforeEach(func() {
			Expect(backend.Retain(ctx, "The billing deploy failed on staging", nil)).To(Succeed())
			Expect(backend.Retain(ctx, "Billing invoices are generated nightly", nil)).To(Succeed())
			Expect(backend.Retain(ctx, "Gardening needs sunshine", nil)).To(Succeed())
		})

		It("scores by the share of query terms matched", func() {
			results, err := backend.Recall(ctx, "billing deploy", memory.RecallOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			Expect(results[0].Content).To(Equal("The billing deploy failed on staging"))
			Expect(results[0].Score).To(Equal(1.0))
			Expect(results[1].Score).To(Equal(0.5))
		})

		It("matches whole terms only", func() {
			results, err := backend.Recall(ctx, "bill", memory.RecallOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("treats LIKE wildcards in the query literally", func() {
			results, err := backend.Recall(ctx, "bill_ng", memory.RecallOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(BeEmpty())
		})

		It("honours the limit", func() {
			results, err := backend.Recall(ctx, "billing", memory.RecallOptions{Limit: 1})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(1))
			// equal scores: newest first
			Expect(results[0].Content).To(Equal("Billing invoices are generated nightly"))
		})

		It("returns metadata with id and creation time", func() {
			Expect(backend.Retain(ctx, "kafka brokers rebalanced", map[string]any{"channel": "ops"})).To(Succeed())
			results, err := backend.Recall(ctx, "kafka", memory.RecallOptions{})
			Expect(err).NotTo(HaveOccurred())
			Expect(results[0].Metadata).To(HaveKeyWithValue("channel", "ops"))
			Expect(results[0].Metadata).To(HaveKey("id"))
			Expect(results[0].Metadata).To(HaveKey("created_at"))
		})
	})

	It("scopes recall strictly to the session", func() {
		Expect(backend.Retain(ctx, "billing for alpha", map[string]any{"session_key": "alpha"})).To(Succeed())
		Expect(backend.Retain(ctx, "billing for beta", map[string]any{"session_key": "beta"})).To(Succeed())
		Expect(backend.Retain(ctx, "billing unscoped", nil)).To(Succeed())

		results, err := backend.Recall(ctx, "billing", memory.RecallOptions{SessionKey: "alpha"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Content).To(Equal("billing for alpha"))
	})

	It("answers temporal queries", func() {
		Expect(backend.Retain(ctx, "billing plan version one", nil)).To(Succeed())
		cutoff := now
		Expect(backend.Retain(ctx, "billing plan version two", nil)).To(Succeed())

		results, err := backend.RecallAsOf(ctx, "billing plan", cutoff, memory.RecallOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
		Expect(results[0].Content).To(Equal("billing plan version one"))
	})

	It("reflects on terms recurring with the topic", func() {
		Expect(backend.Retain(ctx, "postgres migration failed", nil)).To(Succeed())
		Expect(backend.Retain(ctx, "postgres migration retried", nil)).To(Succeed())
		Expect(backend.Retain(ctx, "postgres vacuum", nil)).To(Succeed())

		insights, err := backend.Reflect(ctx, "postgres")
		Expect(err).NotTo(HaveOccurred())
		Expect(insights).NotTo(BeEmpty())
		Expect(insights[0]).To(ContainSubstring(`"migration"`))
	})

	Describe("OnCompactionPre", func() {
		var ev memory.PreCompaction

		BeforeEach(func() {
			ev = memory.PreCompaction{
				SessionKey: "s1",
				Seq:        7,
				Snapshot: memory.Snapshot{
					SessionKey: "s1",
					Messages: []memory.Message{
						{ID: "m1", Role: "user", Content: "rotate the billing credentials"},
					},
					Tools:      []memory.ToolInvocation{{Name: "vault", Arguments: "rotate billing", Result: "rotated"}},
					TokenCount: 1200,
				},
			}
		})

		It("persists the full snapshot", func() {
			Expect(backend.OnCompactionPre(ctx, ev)).To(Succeed())

			snaps, err := backend.Snapshots(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(snaps).To(HaveLen(1))
			Expect(snaps[0].TokenCount).To(Equal(1200))
			Expect(snaps[0].Messages[0].Content).To(Equal("rotate the billing credentials"))

			other, err := backend.Snapshots(ctx, "s2")
			Expect(err).NotTo(HaveOccurred())
			Expect(other).To(BeEmpty())
		})

		It("makes the captured content recallable in the session", func() {
			Expect(backend.OnCompactionPre(ctx, ev)).To(Succeed())

			results, err := backend.Recall(ctx, "billing", memory.RecallOptions{SessionKey: "s1"})
			Expect(err).NotTo(HaveOccurred())
			Expect(results).To(HaveLen(2))
			for _, r := range results {
				Expect(r.Metadata).To(HaveKeyWithValue("origin", "compaction"))
			}
		})

		It("writes nothing when the context is already cancelled", func() {
			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			Expect(backend.OnCompactionPre(cancelled, ev)).NotTo(Succeed())

			snaps, err := backend.Snapshots(ctx, "s1")
			Expect(err).NotTo(HaveOccurred())
			Expect(snaps).To(BeEmpty())
		})
	})

	It("persists across reopen of a file database", func() {
		path := filepath.Join(GinkgoT().TempDir(), "memory.db")
		first, err := sqlite.NewBackend(sqlite.Config{DBPath: path})
		Expect(err).NotTo(HaveOccurred())
		Expect(first.Retain(ctx, "durable billing memory", nil)).To(Succeed())
		Expect(first.Stop(ctx)).To(Succeed())

		second, err := sqlite.NewBackend(sqlite.Config{DBPath: path})
		Expect(err).NotTo(HaveOccurred())
		defer second.Stop(ctx)

		results, err := second.Recall(ctx, "billing", memory.RecallOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(1))
	})
})
