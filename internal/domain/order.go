// Package domain defines the order read model and the events folded into it.
package domain

import "time"

// Order is the projection of one order, built by folding its events.
// Nil fields have not been set by any event yet.
type Order struct {
	ID             string    `json:"id"`
	Number         *int64    `json:"number,omitempty"`
	Type           *string   `json:"type,omitempty"`
	FoodsTotal     *int      `json:"foodsTotal,omitempty"`
	Taxes          *int      `json:"taxes,omitempty"`
	DiscountAmount *int      `json:"discountAmount,omitempty"`
	OfferAmount    *int      `json:"offerAmount,omitempty"`
	OfferType      *string   `json:"offerType,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Apply folds evt into existing and returns the next state of the order.
//
// A nil existing order is treated as an empty one: the result starts at
// version 1 with only the fields carried by evt. Otherwise the result is a copy
// of existing with evt's fields overlaid, the version bumped by one and
// UpdatedAt moved to now. Fields evt does not carry are left untouched.
func Apply(existing *Order, evt Event, now time.Time) Order {
	now = now.UTC()

	var next Order
	if existing == nil {
		next = Order{
			ID:        evt.AggregateID(),
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
	} else {
		next = *existing
		next.Version = existing.Version + 1
		next.UpdatedAt = now
	}

	evt.overlay(&next)
	return next
}

// Fold applies events in order starting from an absent order.
// It returns nil when events is empty.
func Fold(events []Event, now time.Time) *Order {
	var current *Order
	for _, evt := range events {
		next := Apply(current, evt, now)
		current = &next
	}
	return current
}

func ptr[T any](v T) *T {
	return &v
}
