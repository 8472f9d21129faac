package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no projection exists for an order id.
	ErrNotFound = errors.New("order not found")
	// ErrAlreadyExists is returned when creating a projection that is already stored.
	ErrAlreadyExists = errors.New("order already exists")
	// ErrConcurrentModification is returned when the stored version moved on
	// since the writer read the order.
	ErrConcurrentModification = errors.New("order has been modified concurrently")
	// ErrDecode is returned for malformed envelopes and payloads.
	ErrDecode = errors.New("malformed event")
	// ErrTopicMismatch is returned when a message is delivered to a worker
	// that does not handle its subject.
	ErrTopicMismatch = errors.New("event delivered to the wrong topic")
)

// Kind classifies a failure so callers can branch without string matching.
type Kind string

// Failure kinds.
const (
	KindNotFound               Kind = "not_found"
	KindAlreadyExists          Kind = "already_exists"
	KindConcurrentModification Kind = "concurrent_modification"
	KindDecodeFailure          Kind = "decode_failure"
	KindTopicMismatch          Kind = "topic_mismatch"
	KindHandlingFailure        Kind = "handling_failure"
)

// KindOf classifies err. Errors outside the taxonomy are handling failures.
func KindOf(err error) Kind {
	var handling *HandlingError
	switch {
	case errors.As(err, &handling):
		return handling.Kind
	case errors.Is(err, ErrConcurrentModification):
		return KindConcurrentModification
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrDecode):
		return KindDecodeFailure
	case errors.Is(err, ErrTopicMismatch):
		return KindTopicMismatch
	default:
		return KindHandlingFailure
	}
}

// HandlingError reports that an event could not be applied to its order.
type HandlingError struct {
	Kind  Kind
	Event Event
	Cause error
}

// NewHandlingError wraps cause with the event that failed. The kind is taken
// from cause.
func NewHandlingError(evt Event, cause error) *HandlingError {
	return &HandlingError{
		Kind:  KindOf(cause),
		Event: evt,
		Cause: cause,
	}
}

func (e *HandlingError) Error() string {
	if e.Event == nil {
		return fmt.Sprintf("unable to handle event: %v", e.Cause)
	}
	return fmt.Sprintf("unable to handle %s for order %s: %v", e.Event.EventType(), e.Event.AggregateID(), e.Cause)
}

func (e *HandlingError) Unwrap() error {
	return e.Cause
}
