// Package memory provides an in-process broker with the delivery semantics of
// the Kafka adapter: one in-flight message per subscription, redelivered until
// acknowledged.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

const defaultWait = 100 * time.Millisecond

type message struct {
	seq  uint64
	key  string
	body []byte
}

type topic struct {
	mu       sync.Mutex
	messages []message
	signal   chan struct{}
}

func (t *topic) push(m message) {
	t.mu.Lock()
	t.messages = append(t.messages, m)
	t.mu.Unlock()
	select {
	case t.signal <- struct{}{}:
	default:
	}
}

func (t *topic) pop() (message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return message{}, false
	}
	m := t.messages[0]
	t.messages = t.messages[1:]
	return m, true
}

func (t *topic) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Broker is an in-memory messaging.Subscriber and messaging.Publisher.
type Broker struct {
	wait time.Duration

	mu     sync.Mutex
	seq    uint64
	topics map[domain.EventType]*topic
}

// NewBroker returns a broker whose Receive calls wait at most wait for a
// message. A non-positive wait uses a short default.
func NewBroker(wait time.Duration) *Broker {
	if wait <= 0 {
		wait = defaultWait
	}
	return &Broker{
		wait:   wait,
		topics: make(map[domain.EventType]*topic),
	}
}

func (b *Broker) topic(name domain.EventType) *topic {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{signal: make(chan struct{}, 1)}
		b.topics[name] = t
	}
	return t
}

func (b *Broker) nextSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	return b.seq
}

// Publish wraps evt in an envelope and enqueues it on its topic.
func (b *Broker) Publish(ctx context.Context, evt domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env, err := messaging.NewEnvelope(evt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	b.PublishRaw(evt.EventType(), evt.AggregateID(), body)
	return nil
}

// PublishRaw enqueues body on name as is.
func (b *Broker) PublishRaw(name domain.EventType, key string, body []byte) {
	b.topic(name).push(message{seq: b.nextSeq(), key: key, body: body})
}

// Pending reports how many messages wait on name, not counting in-flight ones.
func (b *Broker) Pending(name domain.EventType) int {
	return b.topic(name).len()
}

// Close is a no-op.
func (b *Broker) Close() error { return nil }

// Subscribe returns a subscription to name. Subscriptions to the same topic
// compete for its messages.
func (b *Broker) Subscribe(ctx context.Context, name domain.EventType) (messaging.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !name.Valid() {
		return nil, fmt.Errorf("unknown topic %q", name)
	}
	return &subscription{name: name, topic: b.topic(name), wait: b.wait}, nil
}

type subscription struct {
	name  domain.EventType
	topic *topic
	wait  time.Duration

	mu      sync.Mutex
	pending *messaging.Delivery
	closed  bool
}

func (s *subscription) Receive(ctx context.Context) (*messaging.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("subscription to %s is closed", s.name)
	}
	if s.pending != nil {
		s.pending.Attempt++
		d := *s.pending
		return &d, nil
	}

	timer := time.NewTimer(s.wait)
	defer timer.Stop()
	for {
		if m, ok := s.topic.pop(); ok {
			s.pending = &messaging.Delivery{
				Topic:      s.name,
				Key:        m.key,
				Body:       m.body,
				Attempt:    1,
				ReceivedAt: time.Now().UTC(),
				Handle:     m.seq,
			}
			d := *s.pending
			return &d, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-s.topic.signal:
		}
	}
}

func (s *subscription) Ack(ctx context.Context, d *messaging.Delivery) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == nil || s.pending == nil || s.pending.Handle != d.Handle {
		return fmt.Errorf("delivery is not in flight on %s", s.name)
	}
	s.pending = nil
	return nil
}

// Close returns an in-flight delivery to the front of the topic.
func (s *subscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.pending != nil {
		t := s.topic
		t.mu.Lock()
		t.messages = append([]message{{seq: s.pending.Handle.(uint64), key: s.pending.Key, body: s.pending.Body}}, t.messages...)
		t.mu.Unlock()
		s.pending = nil
	}
	return nil
}
