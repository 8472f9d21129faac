// Package kafka adapts segmentio/kafka-go to the messaging contracts. Each
// event type is a topic; consumers share a consumer group and commit offsets
// only when a delivery is acknowledged.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

const (
	defaultPollWait = 20 * time.Second
	defaultMaxBytes = 10e6
)

// Config selects the cluster and consumer group.
type Config struct {
	Brokers  []string
	GroupID  string
	PollWait time.Duration
}

type reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Subscriber opens one consumer-group reader per topic.
type Subscriber struct {
	cfg Config
}

// NewSubscriber validates cfg and returns a Subscriber.
func NewSubscriber(cfg Config) (*Subscriber, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafka consumer group is required")
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = defaultPollWait
	}
	return &Subscriber{cfg: cfg}, nil
}

// Subscribe checks that the cluster serves topic and starts a reader on it.
func (s *Subscriber) Subscribe(ctx context.Context, topic domain.EventType) (messaging.Subscription, error) {
	if !topic.Valid() {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	if err := s.ensureTopic(ctx, topic); err != nil {
		return nil, err
	}
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        s.cfg.Brokers,
		GroupID:        s.cfg.GroupID,
		Topic:          topic.String(),
		MinBytes:       1,
		MaxBytes:       defaultMaxBytes,
		MaxWait:        time.Second,
		CommitInterval: 0,
		StartOffset:    kafkago.FirstOffset,
	})
	return newSubscription(topic, r, s.cfg.PollWait), nil
}

// ensureTopic dials the cluster so that an unreachable broker fails startup
// instead of every poll.
func (s *Subscriber) ensureTopic(ctx context.Context, topic domain.EventType) error {
	var lastErr error
	for _, addr := range s.cfg.Brokers {
		conn, err := kafkago.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		defer conn.Close()

		if _, err := conn.ReadPartitions(topic.String()); err == nil {
			return nil
		}
		controller, err := conn.Controller()
		if err != nil {
			return fmt.Errorf("find kafka controller: %w", err)
		}
		ctrl, err := kafkago.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
		if err != nil {
			return fmt.Errorf("dial kafka controller: %w", err)
		}
		defer ctrl.Close()
		err = ctrl.CreateTopics(kafkago.TopicConfig{Topic: topic.String(), NumPartitions: 1, ReplicationFactor: 1})
		if err != nil && !errors.Is(err, kafkago.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", topic, err)
		}
		return nil
	}
	return fmt.Errorf("dial kafka: %w", lastErr)
}

type subscription struct {
	topic  domain.EventType
	reader reader
	wait   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	pending *messaging.Delivery
}

func newSubscription(topic domain.EventType, r reader, wait time.Duration) *subscription {
	return &subscription{topic: topic, reader: r, wait: wait, now: time.Now}
}

// Receive hands out the un-acked delivery again before fetching past it, so a
// failing message holds its partition until it is acknowledged.
func (s *subscription) Receive(ctx context.Context) (*messaging.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		s.pending.Attempt++
		d := *s.pending
		return &d, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()
	msg, err := s.reader.FetchMessage(fetchCtx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch %s: %w", s.topic, err)
	}

	s.pending = &messaging.Delivery{
		Topic:      s.topic,
		Key:        string(msg.Key),
		Body:       msg.Value,
		Attempt:    1,
		ReceivedAt: s.now().UTC(),
		Handle:     msg,
	}
	d := *s.pending
	return &d, nil
}

func (s *subscription) Ack(ctx context.Context, d *messaging.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == nil || s.pending == nil {
		return fmt.Errorf("delivery is not in flight on %s", s.topic)
	}
	msg, ok := d.Handle.(kafkago.Message)
	pendingMsg, _ := s.pending.Handle.(kafkago.Message)
	if !ok || msg.Partition != pendingMsg.Partition || msg.Offset != pendingMsg.Offset {
		return fmt.Errorf("delivery is not in flight on %s", s.topic)
	}
	if err := s.reader.CommitMessages(ctx, msg); err != nil {
		return fmt.Errorf("commit %s offset %d: %w", s.topic, msg.Offset, err)
	}
	s.pending = nil
	return nil
}

func (s *subscription) Close() error {
	return s.reader.Close()
}
