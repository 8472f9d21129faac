package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Sort keys of the single-table layout. The projection lives under
// (orderID, ProjectionSortKey); log entries under (orderID, EventSortKeyPrefix+timestamp).
const (
	ProjectionSortKey  = "ORDER"
	EventSortKeyPrefix = "ORDER_EVENT#"
)

// sortKeyLayout is fixed width so that keys order lexicographically by time.
const sortKeyLayout = "2006-01-02T15:04:05.000000000Z"

// EventLogEntry is one raw event as recorded in the log.
type EventLogEntry struct {
	OrderID   string          `json:"orderId"`
	SortKey   string          `json:"sortKey"`
	EventType EventType       `json:"eventType"`
	Content   json.RawMessage `json:"eventContent"`
}

// NewEventLogEntry records evt as processed at the given time.
func NewEventLogEntry(evt Event, at time.Time) (EventLogEntry, error) {
	content, err := json.Marshal(evt)
	if err != nil {
		return EventLogEntry{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return EventLogEntry{
		OrderID:   evt.AggregateID(),
		SortKey:   EventSortKey(at),
		EventType: evt.EventType(),
		Content:   content,
	}, nil
}

// EventSortKey builds the log sort key for an event processed at the given time.
func EventSortKey(at time.Time) string {
	return EventSortKeyPrefix + at.UTC().Format(sortKeyLayout)
}

// RecordedAt parses the processing time back out of the sort key.
func (e EventLogEntry) RecordedAt() (time.Time, error) {
	raw, ok := strings.CutPrefix(e.SortKey, EventSortKeyPrefix)
	if !ok {
		return time.Time{}, fmt.Errorf("sort key %q is not an event key", e.SortKey)
	}
	return time.Parse(sortKeyLayout, raw)
}

// NextSortKey returns the key one nanosecond after e's, used when two entries
// for the same order land on the same instant.
func (e EventLogEntry) NextSortKey() (string, error) {
	at, err := e.RecordedAt()
	if err != nil {
		return "", err
	}
	return EventSortKey(at.Add(time.Nanosecond)), nil
}
