package consumer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

// Group runs one Worker per topic against a shared handler.
type Group struct {
	subscriber messaging.Subscriber
	handler    Handler
	topics     []domain.EventType
	cfg        Config
	opts       []Option
}

// NewGroup returns a group over topics, or over every order event type when
// topics is empty.
func NewGroup(subscriber messaging.Subscriber, handler Handler, cfg Config, topics []domain.EventType, opts ...Option) *Group {
	if len(topics) == 0 {
		topics = domain.EventTypes
	}
	return &Group{
		subscriber: subscriber,
		handler:    handler,
		topics:     topics,
		cfg:        cfg,
		opts:       opts,
	}
}

// Run subscribes every topic and runs the workers until ctx is cancelled and
// each has drained its in-flight message. A failed subscription aborts the
// group before any worker starts.
func (g *Group) Run(ctx context.Context) (err error) {
	if g.subscriber == nil || g.handler == nil {
		return errors.New("consumer group requires a subscriber and a handler")
	}

	subs := make([]messaging.Subscription, 0, len(g.topics))
	defer func() {
		for _, sub := range subs {
			err = errors.Join(err, sub.Close())
		}
	}()
	for _, topic := range g.topics {
		sub, err := g.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i, topic := range g.topics {
		w := NewWorker(topic, subs[i], g.handler, g.cfg, g.opts...)
		eg.Go(func() error { return w.Run(egCtx) })
	}
	return eg.Wait()
}
