// Package sse reads and writes Server-Sent Events streams.
//
// The API server encodes bus events with Event.WriteTo and the API client
// decodes them with a Reader. Only the event, data and id fields are
// supported; retry is ignored.
//
// See https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

import (
	"fmt"
	"io"
	"strings"
)

// Event is one SSE event, delimited by a blank line on the wire.
type Event struct {
	// Type is the "event:" field. Empty means the default "message" type.
	Type string

	// Data is every "data:" line of the event joined with "\n".
	Data string

	// ID is the "id:" field.
	ID string
}

// WriteTo writes e in wire format followed by the terminating blank line.
// Multi-line data is split over one data field per line.
func (e Event) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	if e.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", oneLine(e.ID))
	}
	if e.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", oneLine(e.Type))
	}
	for line := range strings.SplitSeq(e.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")

	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

// WriteComment writes a comment line. Readers skip comments, which makes
// them usable as keep-alives.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", oneLine(text))
	return err
}

func oneLine(s string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(s)
}
