package cliui

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/papercomputeco/mnemo/pkg/memory"
)

// ResultsMarkdown formats recall results as a markdown document.
func ResultsMarkdown(query string, results []memory.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Results for %q\n\n", query)
	if len(results) == 0 {
		b.WriteString("_No memories matched._\n")
		return b.String()
	}
	for i, r := range results {
		fmt.Fprintf(&b, "%d. **%.3f** `%s`\n\n", i+1, r.Score, r.Source)
		for line := range strings.SplitSeq(strings.TrimSpace(r.Content), "\n") {
			fmt.Fprintf(&b, "   > %s\n", line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// InsightsMarkdown formats reflection insights as a markdown document.
func InsightsMarkdown(topic string, insights []memory.Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Reflections on %q\n\n", topic)
	if len(insights) == 0 {
		b.WriteString("_No insights._\n")
		return b.String()
	}
	for _, in := range insights {
		fmt.Fprintf(&b, "- %s _(%s)_\n", in.Content, in.Source)
	}
	return b.String()
}

// PrintMarkdown writes md to w, rendering it with glamour when w is a terminal.
func PrintMarkdown(w io.Writer, md string) {
	if IsTerminal(w) {
		if rendered, err := RenderMarkdown(md); err == nil {
			md = rendered
		}
	}
	fmt.Fprint(w, md)
}

// PrintFailures lists per-backend failures, sorted by backend id.
func PrintFailures(w io.Writer, failed map[string]string) {
	for _, id := range slices.Sorted(maps.Keys(failed)) {
		fmt.Fprintf(w, "  %s %s %s\n", WarnMark, id, StepStyle.Render(failed[id]))
	}
}

// PrintHealth writes one line per backend of a health report.
func PrintHealth(w io.Writer, report *memory.HealthReport) {
	fmt.Fprintln(w, HeaderStyle.Render("Backends"))
	for _, id := range slices.Sorted(maps.Keys(report.Backends)) {
		h := report.Backends[id]
		var err error
		if !h.OK {
			err = fmt.Errorf("%s", h.Error)
		}
		line := fmt.Sprintf("  %s %s %s", Mark(err), id, StepStyle.Render(h.State))
		if h.Required {
			line += StepStyle.Render(" required")
		}
		if len(h.Capabilities) > 0 {
			line += StepStyle.Render(" [" + strings.Join(h.Capabilities, ", ") + "]")
		}
		if h.Error != "" {
			line += " " + h.Error
		}
		fmt.Fprintln(w, line)
	}
}
