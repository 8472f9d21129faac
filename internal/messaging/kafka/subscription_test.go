package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

type fakeReader struct {
	messages  []kafkago.Message
	fetchErr  error
	committed []kafkago.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if r.fetchErr != nil {
		return kafkago.Message{}, r.fetchErr
	}
	if len(r.messages) == 0 {
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

func TestSubscription_EmptyPollReturnsNil(t *testing.T) {
	sub := newSubscription(domain.TypeOrderCreated, &fakeReader{}, 10*time.Millisecond)

	d, err := sub.Receive(context.Background())

	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestSubscription_RedeliversUntilCommitted(t *testing.T) {
	r := &fakeReader{messages: []kafkago.Message{
		{Partition: 0, Offset: 7, Key: []byte("A1"), Value: []byte(`{"Subject":"OrderCreated"}`)},
		{Partition: 0, Offset: 8, Key: []byte("A2"), Value: []byte(`{"Subject":"OrderCreated"}`)},
	}}
	sub := newSubscription(domain.TypeOrderCreated, r, 10*time.Millisecond)
	ctx := context.Background()

	first, err := sub.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "A1", first.Key)
	assert.Equal(t, 1, first.Attempt)

	retry, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A1", retry.Key)
	assert.Equal(t, 2, retry.Attempt)
	assert.Empty(t, r.committed)

	require.NoError(t, sub.Ack(ctx, retry))
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(7), r.committed[0].Offset)

	next, err := sub.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A2", next.Key)
	assert.Equal(t, 1, next.Attempt)
}

func TestSubscription_AckRejectsStaleDelivery(t *testing.T) {
	r := &fakeReader{messages: []kafkago.Message{{Offset: 3}}}
	sub := newSubscription(domain.TypeOrderOffer, r, 10*time.Millisecond)
	ctx := context.Background()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	err = sub.Ack(ctx, &messaging.Delivery{Handle: kafkago.Message{Offset: 2}})

	assert.Error(t, err)
	assert.Empty(t, r.committed)
}

func TestSubscription_FetchError(t *testing.T) {
	sub := newSubscription(domain.TypeOrderOffer, &fakeReader{fetchErr: errors.New("broker gone")}, 10*time.Millisecond)

	_, err := sub.Receive(context.Background())

	assert.ErrorContains(t, err, "broker gone")
}

func TestSubscription_CancelledContext(t *testing.T) {
	sub := newSubscription(domain.TypeOrderOffer, &fakeReader{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d, err := sub.Receive(ctx)

	assert.Nil(t, d)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSubscriber_Validates(t *testing.T) {
	_, err := NewSubscriber(Config{GroupID: "g"})
	assert.Error(t, err)
	_, err = NewSubscriber(Config{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)

	s, err := NewSubscriber(Config{Brokers: []string{"localhost:9092"}, GroupID: "g"})
	require.NoError(t, err)
	assert.Equal(t, defaultPollWait, s.cfg.PollWait)
}

type fakeWriter struct {
	messages []kafkago.Message
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisher_WritesEnvelopeKeyedByOrder(t *testing.T) {
	w := &fakeWriter{}
	p := &Publisher{writer: w}
	evt := domain.OrderCompleted{OrderID: "A1", FoodsTotal: 1000, Taxes: 80}

	require.NoError(t, p.Publish(context.Background(), evt))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "OrderCompleted", msg.Topic)
	assert.Equal(t, []byte("A1"), msg.Key)

	var env messaging.Envelope
	require.NoError(t, json.Unmarshal(msg.Value, &env))
	got, err := env.Event(domain.TypeOrderCompleted)
	require.NoError(t, err)
	assert.Equal(t, evt, got)
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, env.MessageID, string(msg.Headers[0].Value))
}
