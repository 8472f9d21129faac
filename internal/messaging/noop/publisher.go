package noop

import (
	"context"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

// Publisher is a no-op messaging.Publisher used when no broker is configured.
type Publisher struct{}

func (Publisher) Publish(_ context.Context, _ domain.Event) error { return nil }

func (Publisher) Close() error { return nil }
