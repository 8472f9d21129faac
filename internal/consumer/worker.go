// Package consumer turns broker deliveries into projector calls, one worker
// per event type.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

const tracerName = "github.com/nsridhar76/go-orderprojector/internal/consumer"

const (
	defaultRetryBackoff  = 500 * time.Millisecond
	defaultRetryMaxDelay = 30 * time.Second
)

// Handler applies one decoded event.
type Handler interface {
	Handle(ctx context.Context, evt domain.Event) error
}

// Config controls delivery retry behavior.
type Config struct {
	// MaxDeliveries is the number of failed deliveries of one message after
	// which it is dead-lettered. Zero retries forever. It has no effect
	// without a dead-letter store.
	MaxDeliveries int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) normalized() Config {
	if c.MaxDeliveries < 0 {
		c.MaxDeliveries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = c.RetryBackoff
	}
	return c
}

type options struct {
	logger      *slog.Logger
	deadLetters messaging.DeadLetterStore
	now         func() time.Time
}

// Option configures a Worker or Group.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDeadLetters enables dead-lettering into store.
func WithDeadLetters(store messaging.DeadLetterStore) Option {
	return func(o *options) { o.deadLetters = store }
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Worker consumes one topic with a single message in flight.
type Worker struct {
	topic   domain.EventType
	sub     messaging.Subscription
	handler Handler
	cfg     Config
	opts    options
	logger  *slog.Logger
	tracer  trace.Tracer
	backoff *backoff.ExponentialBackOff
}

// NewWorker returns a worker handing the deliveries of sub to handler.
func NewWorker(topic domain.EventType, sub messaging.Subscription, handler Handler, cfg Config, opts ...Option) *Worker {
	cfg = cfg.normalized()
	o := newOptions(opts)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryBackoff
	b.MaxInterval = cfg.RetryMaxDelay

	return &Worker{
		topic:   topic,
		sub:     sub,
		handler: handler,
		cfg:     cfg,
		opts:    o,
		logger:  o.logger.With("topic", topic.String()),
		tracer:  otel.Tracer(tracerName),
		backoff: b,
	}
}

// Run polls until ctx is cancelled. A message received before cancellation is
// processed to completion with a context detached from ctx. Handling failures
// never stop the worker.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "worker started")
	defer w.logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		d, err := w.sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.ErrorContext(ctx, "receive failed", "error", err)
			if !w.wait(ctx) {
				return nil
			}
			continue
		}
		if d == nil {
			continue
		}

		if w.process(context.WithoutCancel(ctx), d) {
			w.backoff.Reset()
			continue
		}
		if !w.wait(ctx) {
			return nil
		}
	}
}

// process handles one delivery and reports whether it left the topic.
func (w *Worker) process(ctx context.Context, d *messaging.Delivery) bool {
	ctx, span := w.tracer.Start(ctx, "consume "+w.topic.String(),
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", w.topic.String()),
			attribute.String("messaging.message.key", d.Key),
			attribute.Int("messaging.delivery.attempt", d.Attempt),
		),
	)
	defer span.End()

	logger := w.logger.With("attempt", d.Attempt)

	env, err := messaging.ParseEnvelope(d.Body)
	if err == nil {
		logger = logger.With("message_id", env.MessageID)
		span.SetAttributes(attribute.String("messaging.message.id", env.MessageID))

		var evt domain.Event
		evt, err = env.Event(w.topic)
		if err == nil {
			logger = logger.With("order_id", evt.AggregateID())
			err = w.handler.Handle(ctx, evt)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(domain.KindOf(err)))
		return w.fail(ctx, logger, d, env.MessageID, err)
	}

	if err := w.sub.Ack(ctx, d); err != nil {
		logger.ErrorContext(ctx, "ack failed", "error", err)
		span.RecordError(err)
		return false
	}
	logger.DebugContext(ctx, "event applied")
	return true
}

// fail logs a failed delivery and dead-letters it once the delivery ceiling
// is reached. It reports whether the message was removed from the topic.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, d *messaging.Delivery, messageID string, cause error) bool {
	kind := domain.KindOf(cause)
	logger.ErrorContext(ctx, "event handling failed", "kind", kind, "error", cause)

	if w.opts.deadLetters == nil || w.cfg.MaxDeliveries == 0 || d.Attempt < w.cfg.MaxDeliveries {
		return false
	}

	letter := messaging.DeadLetter{
		Topic:     w.topic,
		MessageID: messageID,
		Key:       d.Key,
		Body:      d.Body,
		Attempts:  d.Attempt,
		Kind:      kind,
		LastError: cause.Error(),
		CreatedAt: w.opts.now().UTC(),
	}
	if err := w.opts.deadLetters.Record(ctx, letter); err != nil {
		logger.ErrorContext(ctx, "record dead letter failed", "error", err)
		return false
	}
	if err := w.sub.Ack(ctx, d); err != nil {
		logger.ErrorContext(ctx, "ack dead letter failed", "error", err)
		return false
	}
	logger.WarnContext(ctx, "message dead-lettered", "kind", kind)
	return true
}

// wait sleeps for the next backoff interval. It returns false when ctx is
// cancelled first.
func (w *Worker) wait(ctx context.Context) bool {
	timer := time.NewTimer(w.backoff.NextBackOff())
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
