package events

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownEventType is returned when emitting a type outside the
	// closed enumeration.
	ErrUnknownEventType = errors.New("unknown event type")

	// ErrClosed is returned when emitting on a closed bus.
	ErrClosed = errors.New("event bus is closed")
)

// HandlerFailure records one handler's failure during a dispatch.
type HandlerFailure struct {
	SubscriptionID uint64
	Err            error
}

// DispatchError aggregates handler failures in strict mode.
type DispatchError struct {
	Event    Event
	Failures []HandlerFailure
}

func (e *DispatchError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("subscription %d: %v", f.SubscriptionID, f.Err)
	}
	return fmt.Sprintf("%d handler(s) failed for %s: %s", len(e.Failures), e.Event.Type, strings.Join(msgs, "; "))
}

// Unwrap exposes the individual handler errors to errors.Is and errors.As.
func (e *DispatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
