// Package projector applies order events to the stored projection and records
// them in the event log.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

const tracerName = "github.com/nsridhar76/go-orderprojector/internal/projector"

// RetryPolicy bounds how often a write that lost an optimistic-concurrency
// race is retried with a fresh read.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is used for zero fields of a configured policy.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     5,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	return p
}

// Projector folds events into the order projection.
type Projector struct {
	orders domain.OrderRepository
	events domain.EventLog
	retry  RetryPolicy
	now    func() time.Time
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Projector.
type Option func(*Projector)

// WithRetryPolicy overrides the conflict retry policy.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(p *Projector) { p.retry = policy.normalized() }
}

// WithClock overrides the time source used for timestamps and log keys.
func WithClock(now func() time.Time) Option {
	return func(p *Projector) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Projector) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New returns a Projector writing to orders and events.
func New(orders domain.OrderRepository, events domain.EventLog, opts ...Option) *Projector {
	p := &Projector{
		orders: orders,
		events: events,
		retry:  DefaultRetryPolicy,
		now:    time.Now,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle applies evt to its order and appends it to the event log.
//
// A write that loses a version race is retried from a fresh read according to
// the retry policy. Any failure is returned as a *domain.HandlingError. When
// the log append fails after the projection was written the projection keeps
// the update; redelivery then applies the event a second time.
func (p *Projector) Handle(ctx context.Context, evt domain.Event) error {
	ctx, span := p.tracer.Start(ctx, "projector.Handle", trace.WithAttributes(
		attribute.String("order.id", evt.AggregateID()),
		attribute.String("event.type", evt.EventType().String()),
	))
	defer span.End()

	if err := p.handle(ctx, evt); err != nil {
		handlingErr := domain.NewHandlingError(evt, err)
		span.RecordError(handlingErr)
		span.SetStatus(codes.Error, string(handlingErr.Kind))
		return handlingErr
	}
	return nil
}

func (p *Projector) handle(ctx context.Context, evt domain.Event) error {
	if p.orders == nil || p.events == nil {
		return errors.New("projector stores are not configured")
	}

	attempt := 0
	order, err := backoff.Retry(ctx, func() (domain.Order, error) {
		attempt++
		order, err := p.project(ctx, evt)
		if err == nil {
			return order, nil
		}
		if !retryable(err) {
			return domain.Order{}, backoff.Permanent(err)
		}
		p.logger.DebugContext(ctx, "order write lost version race",
			"order_id", evt.AggregateID(),
			"event_type", evt.EventType(),
			"attempt", attempt,
			"error", err,
		)
		return domain.Order{}, err
	},
		backoff.WithBackOff(p.newBackOff()),
		backoff.WithMaxTries(p.retry.MaxAttempts),
	)
	if err != nil {
		return err
	}

	entry, err := domain.NewEventLogEntry(evt, p.now())
	if err != nil {
		return err
	}
	if err := p.events.Append(ctx, entry); err != nil {
		return fmt.Errorf("append event log: %w", err)
	}

	p.logger.DebugContext(ctx, "order projected",
		"order_id", order.ID,
		"event_type", evt.EventType(),
		"version", order.Version,
		"attempts", attempt,
	)
	return nil
}

// project performs one read-apply-write round.
func (p *Projector) project(ctx context.Context, evt domain.Event) (domain.Order, error) {
	existing, err := p.orders.FindByID(ctx, evt.AggregateID())
	if errors.Is(err, domain.ErrNotFound) {
		next := domain.Apply(nil, evt, p.now())
		if err := p.orders.Create(ctx, next); err != nil {
			return domain.Order{}, err
		}
		return next, nil
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}

	next := domain.Apply(&existing, evt, p.now())
	if err := p.orders.Update(ctx, next, existing.Version); err != nil {
		return domain.Order{}, err
	}
	return next, nil
}

func (p *Projector) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.retry.InitialInterval
	b.MaxInterval = p.retry.MaxInterval
	return b
}

// retryable reports whether a fresh read can resolve err. A lost create race
// means another writer created the order, so the retry takes the update path.
func retryable(err error) bool {
	return errors.Is(err, domain.ErrConcurrentModification) || errors.Is(err, domain.ErrAlreadyExists)
}
