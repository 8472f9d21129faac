package simulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

// Config controls a simulation run.
type Config struct {
	// Rounds is the number of orders to publish. Zero runs until cancelled.
	Rounds int
	// MinDelay and MaxDelay bound the random pause after each publication.
	MinDelay time.Duration
	MaxDelay time.Duration
}

// Simulator publishes generated orders.
type Simulator struct {
	publisher messaging.Publisher
	generator *Generator
	cfg       Config
	logger    *slog.Logger
}

// New returns a simulator publishing through publisher.
func New(publisher messaging.Publisher, generator *Generator, cfg Config, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Simulator{publisher: publisher, generator: generator, cfg: cfg, logger: logger}
}

// Run publishes rounds until the configured count is reached or ctx is
// cancelled. Cancellation is not an error.
func (s *Simulator) Run(ctx context.Context) error {
	if s.publisher == nil || s.generator == nil {
		return errors.New("simulator requires a publisher and a generator")
	}
	for round := 0; s.cfg.Rounds == 0 || round < s.cfg.Rounds; round++ {
		for _, evt := range s.generator.Round() {
			if err := s.publisher.Publish(ctx, evt); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("publish %s for order %s: %w", evt.EventType(), evt.AggregateID(), err)
			}
			s.logger.DebugContext(ctx, "event published",
				"topic", evt.EventType().String(),
				"order_id", evt.AggregateID(),
			)
			if !s.pause(ctx) {
				return nil
			}
		}
	}
	s.logger.InfoContext(ctx, "simulation finished", "rounds", s.cfg.Rounds)
	return nil
}

func (s *Simulator) pause(ctx context.Context) bool {
	d := s.generator.delay(s.cfg.MinDelay, s.cfg.MaxDelay)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
