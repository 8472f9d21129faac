package messaging

import (
	"context"
	"time"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

// Delivery is one message handed to a consumer. The same message is handed
// out again, with Attempt incremented, until it is acknowledged.
type Delivery struct {
	Topic      domain.EventType
	Key        string
	Body       []byte
	Attempt    int
	ReceivedAt time.Time

	// Handle is owned by the adapter that produced the delivery.
	Handle any
}

// Subscription receives the messages of one topic.
type Subscription interface {
	// Receive waits a bounded time for the next message. It returns a nil
	// delivery when the wait window elapsed without one.
	Receive(ctx context.Context) (*Delivery, error)
	// Ack removes the delivery from the topic. Unacknowledged deliveries are
	// redelivered.
	Ack(ctx context.Context, d *Delivery) error
	Close() error
}

// Subscriber opens subscriptions per event type.
type Subscriber interface {
	Subscribe(ctx context.Context, topic domain.EventType) (Subscription, error)
}

// Publisher publishes an event on the topic named by its type.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
	Close() error
}
