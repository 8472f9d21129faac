package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes enveloped events to the topic named by their type, keyed by
// order id so one order's events share a partition.
type Publisher struct {
	writer writer
}

// NewPublisher returns a Publisher for the given brokers.
func NewPublisher(brokers []string) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	return &Publisher{writer: &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}}, nil
}

func (p *Publisher) Publish(ctx context.Context, evt domain.Event) error {
	env, err := messaging.NewEnvelope(evt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	msg := kafkago.Message{
		Topic: evt.EventType().String(),
		Key:   []byte(evt.AggregateID()),
		Value: body,
		Headers: []kafkago.Header{
			{Key: "message-id", Value: []byte(env.MessageID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s for order %s: %w", evt.EventType(), evt.AggregateID(), err)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
