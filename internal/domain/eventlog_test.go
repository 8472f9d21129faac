package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

func TestNewEventLogEntry(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 123, time.UTC)

	entry, err := domain.NewEventLogEntry(domain.OrderCompleted{OrderID: "A1", FoodsTotal: 1000, Taxes: 80}, at)
	require.NoError(t, err)

	assert.Equal(t, "A1", entry.OrderID)
	assert.Equal(t, "ORDER_EVENT#2024-03-01T12:00:00.000000123Z", entry.SortKey)
	assert.Equal(t, domain.TypeOrderCompleted, entry.EventType)
	assert.JSONEq(t, `{"orderId":"A1","foodsTotal":1000,"taxes":80}`, string(entry.Content))

	recorded, err := entry.RecordedAt()
	require.NoError(t, err)
	assert.True(t, recorded.Equal(at))
}

func TestEventSortKey_OrdersLexicographically(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	keys := []string{
		domain.EventSortKey(base),
		domain.EventSortKey(base.Add(time.Nanosecond)),
		domain.EventSortKey(base.Add(time.Millisecond)),
		domain.EventSortKey(base.Add(time.Hour)),
	}
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}

func TestEventLogEntry_NextSortKey(t *testing.T) {
	entry := domain.EventLogEntry{SortKey: "ORDER_EVENT#2024-03-01T12:00:00.000000999Z"}

	next, err := entry.NextSortKey()
	require.NoError(t, err)
	assert.Equal(t, "ORDER_EVENT#2024-03-01T12:00:00.000001000Z", next)

	_, err = domain.EventLogEntry{SortKey: "ORDER"}.NextSortKey()
	assert.Error(t, err)
}
