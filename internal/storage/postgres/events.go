package postgres

import (
	"context"
	"fmt"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

const maxSortKeyCollisions = 16

// EventLog implements domain.EventLog on the orders_app table.
type EventLog struct {
	db DB
}

// NewEventLog returns an event log backed by db.
func NewEventLog(db DB) *EventLog {
	return &EventLog{db: db}
}

// Append inserts entry, moving its sort key forward while it collides with an
// existing row of the same order.
func (l *EventLog) Append(ctx context.Context, entry domain.EventLogEntry) error {
	if err := check(ctx, l.db, entry.OrderID); err != nil {
		return err
	}
	for range maxSortKeyCollisions {
		tag, err := l.db.Exec(ctx, `
INSERT INTO orders_app (pk, sk, event_type, event_content)
VALUES ($1, $2, $3, $4)
ON CONFLICT (pk, sk) DO NOTHING`,
			entry.OrderID, entry.SortKey, entry.EventType.String(), string(entry.Content))
		if err != nil {
			return fmt.Errorf("append %s for order %s: %w", entry.EventType, entry.OrderID, err)
		}
		if tag.RowsAffected() == 1 {
			return nil
		}
		if entry.SortKey, err = entry.NextSortKey(); err != nil {
			return err
		}
	}
	return fmt.Errorf("append %s for order %s: sort key collisions exhausted", entry.EventType, entry.OrderID)
}

// List returns the entries of orderID ordered by sort key.
func (l *EventLog) List(ctx context.Context, orderID string) ([]domain.EventLogEntry, error) {
	if err := check(ctx, l.db, orderID); err != nil {
		return nil, err
	}
	rows, err := l.db.Query(ctx, `
SELECT sk, event_type, event_content
FROM orders_app
WHERE pk = $1 AND sk LIKE $2
ORDER BY sk`, orderID, domain.EventSortKeyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list events of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var entries []domain.EventLogEntry
	for rows.Next() {
		var (
			sortKey   string
			eventType string
			content   []byte
		)
		if err := rows.Scan(&sortKey, &eventType, &content); err != nil {
			return nil, fmt.Errorf("scan event of order %s: %w", orderID, err)
		}
		entries = append(entries, domain.EventLogEntry{
			OrderID:   orderID,
			SortKey:   sortKey,
			EventType: domain.EventType(eventType),
			Content:   content,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events of order %s: %w", orderID, err)
	}
	return entries, nil
}
