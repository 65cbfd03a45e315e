package api

import (
	"bufio"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/mnemo/pkg/events"
	"github.com/papercomputeco/mnemo/pkg/sse"
)

const (
	eventStreamBuffer = 256
	heartbeatInterval = 15 * time.Second
)

// eventFilter selects which bus events a watcher receives.
type eventFilter struct {
	sessionKey string
	types      map[events.Type]struct{}
}

func (f eventFilter) match(ev events.Event) bool {
	if f.sessionKey != "" && ev.SessionKey != f.sessionKey {
		return false
	}
	if len(f.types) == 0 {
		return true
	}
	_, ok := f.types[ev.Type]
	return ok
}

func parseEventFilter(c *fiber.Ctx) (eventFilter, string) {
	f := eventFilter{sessionKey: c.Query("session")}
	raw := c.Query("types")
	if raw == "" {
		return f, ""
	}
	f.types = make(map[events.Type]struct{})
	for t := range strings.SplitSeq(raw, ",") {
		typ := events.Type(strings.TrimSpace(t))
		if !typ.Valid() {
			return f, "unknown event type: " + string(typ)
		}
		f.types[typ] = struct{}{}
	}
	return f, ""
}

// handleEvents streams bus events to the caller as Server-Sent Events until
// the client disconnects or the server shuts down.
func (s *Server) handleEvents(c *fiber.Ctx) error {
	filter, msg := parseEventFilter(c)
	if msg != "" {
		return badRequest(c, msg)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		s.streamEvents(w, filter)
	})

	return nil
}

// streamEvents owns a watcher's bus subscription for exactly as long as the
// stream is written. Bus handlers never block on a slow watcher: events that
// do not fit its buffer are dropped and the gap shows in the per-session
// sequence numbers.
func (s *Server) streamEvents(w *bufio.Writer, filter eventFilter) {
	queue := make(chan events.Event, eventStreamBuffer)
	unsubscribe := s.config.Bus.SubscribeFunc(events.Any, func(_ context.Context, ev events.Event) error {
		if !filter.match(ev) {
			return nil
		}
		select {
		case queue <- ev:
		default:
			s.logger.Debug("event watcher lagging, dropping event",
				"event", string(ev.Type),
				"session", ev.SessionKey,
				"seq", ev.Seq,
			)
		}
		return nil
	})
	defer unsubscribe()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	if err := sse.WriteComment(w, "connected"); err != nil || w.Flush() != nil {
		return
	}

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := sse.WriteComment(w, "ping"); err != nil || w.Flush() != nil {
				return
			}
		case ev := <-queue:
			data, err := json.Marshal(ev)
			if err != nil {
				s.logger.Warn("encoding event for watcher", "event", string(ev.Type), "error", err)
				continue
			}
			out := sse.Event{
				ID:   strconv.FormatUint(ev.Seq, 10),
				Type: string(ev.Type),
				Data: string(data),
			}
			if _, err := out.WriteTo(w); err != nil || w.Flush() != nil {
				return
			}
		}
	}
}
