package utils

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("truncate", func() {
	It("returns the string unchanged when within the limit", func() {
		Expect(Truncate("short", 10)).To(Equal("short"))
	})

	It("returns the string unchanged when exactly at the limit", func() {
		Expect(Truncate("12345", 5)).To(Equal("12345"))
	})

	It("truncates with ellipsis when over the limit", func() {
		result := Truncate("this is a long string", 10)
		Expect(result).To(Equal("this is a ..."))
	})
})

var _ = Describe("Terms", func() {
	It("lowercases and drops short words and stopwords", func() {
		Expect(Terms("The Deploy pipeline, with Kafka!")).To(Equal([]string{"deploy", "pipeline", "kafka"}))
	})

	It("keeps duplicates in order", func() {
		Expect(Terms("cache cache miss")).To(Equal([]string{"cache", "cache", "miss"}))
	})

	It("returns nothing for empty text", func() {
		Expect(Terms("")).To(BeEmpty())
	})
})

var _ = Describe("TopTerms", func() {
	It("ranks by frequency across texts", func() {
		top := TopTerms(2, "postgres migration failed", "retry the postgres migration", "postgres is down")
		Expect(top).To(Equal([]string{"postgres", "migration"}))
	})

	It("breaks ties by first appearance", func() {
		Expect(TopTerms(0, "alpha beta", "gamma")).To(Equal([]string{"alpha", "beta", "gamma"}))
	})
})

var _ = Describe("Overlap", func() {
	It("is the share of query terms found in the document", func() {
		q := TermSet("billing deploy staging rollback")
		d := TermSet("the billing deploy went fine")
		Expect(Overlap(q, d)).To(BeNumerically("~", 0.5))
	})

	It("is zero for an empty query", func() {
		Expect(Overlap(TermSet("a an"), TermSet("billing"))).To(BeZero())
	})
})

var _ = Describe("UserAgent", func() {
	var version, sha string

	BeforeEach(func() {
		version, sha = Version, Sha
		DeferCleanup(func() { Version, Sha = version, sha })
	})

	It("omits the commit for development builds", func() {
		Version, Sha = "dev", "HEAD"
		Expect(UserAgent()).To(Equal("mnemo/dev"))
	})

	It("includes the commit for release builds", func() {
		Version, Sha = "0.4.0", "3f2a9c1"
		Expect(UserAgent()).To(Equal("mnemo/0.4.0 (3f2a9c1)"))
	})
})
