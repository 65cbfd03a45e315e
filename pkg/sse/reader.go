package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 1024 * 1024

// Reader parses SSE events from a stream.
type Reader struct {
	scanner *bufio.Scanner

	current Event
	pending bool
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// Next blocks until a complete event is read. It returns nil, nil once the
// stream is exhausted; an event left unterminated at the end of the stream
// is still returned.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		switch {
		case line == "":
			if ev := r.flush(); ev != nil {
				return ev, nil
			}
		case strings.HasPrefix(line, ":"):
			// comment
		default:
			r.field(line)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return r.flush(), nil
}

// field accumulates one "name:value" line. A single space after the colon
// is dropped; a line without a colon is a field with an empty value.
func (r *Reader) field(line string) {
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "data":
		if r.pending && r.current.Data != "" {
			r.current.Data += "\n"
		}
		r.current.Data += value
	case "event":
		r.current.Type = value
	case "id":
		r.current.ID = value
	default:
		return
	}
	r.pending = true
}

func (r *Reader) flush() *Event {
	if !r.pending {
		return nil
	}
	ev := r.current
	r.current = Event{}
	r.pending = false
	return &ev
}
