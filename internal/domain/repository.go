package domain

import "context"

// OrderRepository persists the current projection of each order.
type OrderRepository interface {
	// Create stores a new projection. It fails with ErrAlreadyExists when one is
	// already stored for the id.
	Create(ctx context.Context, order Order) error
	// Update writes the fields set on order if the stored version still equals
	// expectedVersion. It fails with ErrConcurrentModification when the version
	// moved on and with ErrNotFound when nothing is stored.
	Update(ctx context.Context, order Order, expectedVersion int64) error
	// FindByID returns the stored projection or ErrNotFound.
	FindByID(ctx context.Context, id string) (Order, error)
}

// EventLog is the append-only record of raw events per order.
type EventLog interface {
	Append(ctx context.Context, entry EventLogEntry) error
	// List returns the entries of one order ordered by sort key.
	List(ctx context.Context, orderID string) ([]EventLogEntry, error)
}
