package cliui_test

import (
	"bytes"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/mnemo/pkg/cliui"
	"github.com/papercomputeco/mnemo/pkg/memory"
)

var _ = Describe("cliui", func() {
	Describe("FormatDuration", func() {
		It("uses milliseconds under a second", func() {
			Expect(cliui.FormatDuration(12 * time.Millisecond)).To(Equal("12ms"))
		})

		It("uses one decimal of seconds otherwise", func() {
			Expect(cliui.FormatDuration(3200 * time.Millisecond)).To(Equal("3.2s"))
		})
	})

	Describe("Step", func() {
		It("prints one line and returns fn's error when not on a terminal", func() {
			var buf bytes.Buffer
			boom := errors.New("boom")

			err := cliui.Step(&buf, "starting backends", func() error { return boom })
			Expect(err).To(MatchError(boom))
			Expect(buf.String()).To(ContainSubstring("starting backends"))
			Expect(buf.String()).To(ContainSubstring(cliui.FailMark))
			Expect(buf.String()).NotTo(ContainSubstring("\r"))
		})
	})

	It("does not treat a buffer as a terminal", func() {
		Expect(cliui.IsTerminal(&bytes.Buffer{})).To(BeFalse())
	})

	Describe("ResultsMarkdown", func() {
		It("lists results with score and source", func() {
			md := cliui.ResultsMarkdown("db", []memory.Result{
				{Content: "use postgres\nnot mysql", Score: 0.9, Source: "episodic"},
			})
			Expect(md).To(ContainSubstring(`# Results for "db"`))
			Expect(md).To(ContainSubstring("1. **0.900** `episodic`"))
			Expect(md).To(ContainSubstring("   > not mysql"))
		})

		It("notes an empty result set", func() {
			Expect(cliui.ResultsMarkdown("db", nil)).To(ContainSubstring("No memories matched"))
		})
	})

	It("prints markdown verbatim to non-terminals", func() {
		var buf bytes.Buffer
		cliui.PrintMarkdown(&buf, "# hi\n")
		Expect(buf.String()).To(Equal("# hi\n"))
	})

	It("prints failures sorted by backend", func() {
		var buf bytes.Buffer
		cliui.PrintFailures(&buf, map[string]string{"b": "down", "a": "slow"})
		Expect(buf.String()).To(MatchRegexp(`(?s)a.*slow.*b.*down`))
	})

	It("prints backend health", func() {
		var buf bytes.Buffer
		cliui.PrintHealth(&buf, &memory.HealthReport{Backends: map[string]memory.BackendHealth{
			"local": {HealthStatus: memory.HealthStatus{OK: true}, State: "active", Required: true},
			"vec":   {HealthStatus: memory.HealthStatus{Error: "unreachable"}, State: "unavailable"},
		}})
		Expect(buf.String()).To(ContainSubstring("local"))
		Expect(buf.String()).To(ContainSubstring("required"))
		Expect(buf.String()).To(ContainSubstring("unreachable"))
	})
})
