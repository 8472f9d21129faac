package projector

import (
	"context"
	"fmt"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

// Replay folds logged entries, in the order given, into an order. Each entry
// is applied at the time recorded in its sort key. It returns nil for no
// entries.
func Replay(entries []domain.EventLogEntry) (*domain.Order, error) {
	var current *domain.Order
	for _, entry := range entries {
		evt, err := messaging.DecodeLogEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", entry.SortKey, err)
		}
		at, err := entry.RecordedAt()
		if err != nil {
			return nil, fmt.Errorf("replay %s: %w", entry.SortKey, err)
		}
		next := domain.Apply(current, evt, at)
		current = &next
	}
	return current, nil
}

// Rebuild replays the event log of orderID. It returns domain.ErrNotFound when
// nothing was logged for the order.
func (p *Projector) Rebuild(ctx context.Context, orderID string) (domain.Order, error) {
	entries, err := p.events.List(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := Replay(entries)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrNotFound
	}
	return *order, nil
}
