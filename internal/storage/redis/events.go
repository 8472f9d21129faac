package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

// maxSortKeyCollisions bounds how often Append moves an entry forward when
// its sort key is already taken.
const maxSortKeyCollisions = 16

type storedEntry struct {
	EventType domain.EventType `json:"eventType"`
	Content   json.RawMessage  `json:"eventContent"`
}

// EventLog implements domain.EventLog. Entries are never updated or removed.
type EventLog struct {
	client goredis.UniversalClient
	keys   keyspace
}

// NewEventLog returns an event log writing under prefix.
func NewEventLog(client goredis.UniversalClient, prefix string) *EventLog {
	return &EventLog{client: client, keys: newKeyspace(prefix)}
}

// Append records entry. When another entry of the same order already holds
// its sort key, the entry moves forward a nanosecond at a time.
func (l *EventLog) Append(ctx context.Context, entry domain.EventLogEntry) error {
	if err := l.check(ctx, entry.OrderID); err != nil {
		return err
	}
	payload, err := json.Marshal(storedEntry{EventType: entry.EventType, Content: entry.Content})
	if err != nil {
		return fmt.Errorf("marshal event log entry: %w", err)
	}
	key := l.keys.events(entry.OrderID)

	for range maxSortKeyCollisions {
		added, err := l.client.HSetNX(ctx, key, entry.SortKey, payload).Result()
		if err != nil {
			return fmt.Errorf("append %s for order %s: %w", entry.EventType, entry.OrderID, err)
		}
		if added {
			return nil
		}
		if entry.SortKey, err = entry.NextSortKey(); err != nil {
			return err
		}
	}
	return fmt.Errorf("append %s for order %s: sort key collisions exhausted", entry.EventType, entry.OrderID)
}

// List returns the entries of orderID in sort key order.
func (l *EventLog) List(ctx context.Context, orderID string) ([]domain.EventLogEntry, error) {
	if err := l.check(ctx, orderID); err != nil {
		return nil, err
	}
	values, err := l.client.HGetAll(ctx, l.keys.events(orderID)).Result()
	if err != nil {
		return nil, fmt.Errorf("list events of order %s: %w", orderID, err)
	}

	entries := make([]domain.EventLogEntry, 0, len(values))
	for sortKey, raw := range values {
		var stored storedEntry
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return nil, fmt.Errorf("decode event %s of order %s: %w", sortKey, orderID, err)
		}
		entries = append(entries, domain.EventLogEntry{
			OrderID:   orderID,
			SortKey:   sortKey,
			EventType: stored.EventType,
			Content:   stored.Content,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].SortKey < entries[j].SortKey })
	return entries, nil
}

func (l *EventLog) check(ctx context.Context, orderID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l == nil || l.client == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(orderID) == "" {
		return fmt.Errorf("order id is required")
	}
	return nil
}
