package messaging

import (
	"context"
	"time"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

// DeadLetter is a delivery given up on after repeated failures.
type DeadLetter struct {
	Topic     domain.EventType
	MessageID string
	Key       string
	Body      []byte
	Attempts  int
	Kind      domain.Kind
	LastError string
	CreatedAt time.Time
}

// DeadLetterStore keeps dead letters for inspection and manual replay.
type DeadLetterStore interface {
	Record(ctx context.Context, letter DeadLetter) error
}
