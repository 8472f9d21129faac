package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/go-orderprojector/internal/api/httpapi"
	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
	"github.com/nsridhar76/go-orderprojector/internal/projector"
	redisstore "github.com/nsridhar76/go-orderprojector/internal/storage/redis"
)

type stubDeadLetters struct {
	topic   domain.EventType
	limit   int
	letters []messaging.DeadLetter
}

func (s *stubDeadLetters) List(ctx context.Context, topic domain.EventType, limit int) ([]messaging.DeadLetter, error) {
	s.topic, s.limit = topic, limit
	return s.letters, nil
}

type brokenOrders struct{}

func (brokenOrders) FindByID(ctx context.Context, id string) (domain.Order, error) {
	return domain.Order{}, errors.New("connection refused")
}

func newServer(t *testing.T, deadLetters httpapi.DeadLetterReader) (*httptest.Server, *projector.Projector) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	orders := redisstore.NewOrderStore(client, "")
	events := redisstore.NewEventLog(client, "")
	proj := projector.New(orders, events)

	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Dependencies{
		Orders:      orders,
		Events:      events,
		Rebuilder:   proj,
		DeadLetters: deadLetters,
	}))
	t.Cleanup(srv.Close)
	return srv, proj
}

func getJSON(t *testing.T, url string, target any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := newServer(t, nil)

	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/healthz", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestGetOrder(t *testing.T) {
	ctx := context.Background()
	srv, proj := newServer(t, nil)
	require.NoError(t, proj.Handle(ctx, domain.OrderCreated{OrderID: "A1", Number: 42, Type: "DELIVERY"}))
	require.NoError(t, proj.Handle(ctx, domain.OrderCompleted{OrderID: "A1", FoodsTotal: 1000, Taxes: 80}))

	var order domain.Order
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/orders/A1", &order))
	assert.Equal(t, "A1", order.ID)
	assert.Equal(t, int64(2), order.Version)
	assert.Equal(t, 1000, *order.FoodsTotal)
	assert.Nil(t, order.DiscountAmount)
}

func TestGetOrder_NotFound(t *testing.T) {
	srv, _ := newServer(t, nil)

	var body map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/orders/missing", &body))
	assert.NotEmpty(t, body["error"])
}

func TestGetOrder_StoreFailure(t *testing.T) {
	srv := httptest.NewServer(httpapi.NewRouter(httpapi.Dependencies{Orders: brokenOrders{}}))
	defer srv.Close()

	var body map[string]string
	assert.Equal(t, http.StatusInternalServerError, getJSON(t, srv.URL+"/orders/A1", &body))
	assert.Equal(t, "internal error", body["error"])
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()
	srv, proj := newServer(t, nil)
	require.NoError(t, proj.Handle(ctx, domain.OrderDiscount{OrderID: "B2", Amount: 300}))
	require.NoError(t, proj.Handle(ctx, domain.OrderOffer{OrderID: "B2", Amount: 150, OfferType: "SUPER_10"}))

	var entries []domain.EventLogEntry
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/orders/B2/events", &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, domain.TypeOrderDiscount, entries[0].EventType)
	assert.Equal(t, domain.TypeOrderOffer, entries[1].EventType)
	assert.JSONEq(t, `{"orderId":"B2","amount":150,"offerType":"SUPER_10"}`, string(entries[1].Content))

	var empty []domain.EventLogEntry
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/orders/none/events", &empty))
	assert.Empty(t, empty)
}

func TestReplayOrder(t *testing.T) {
	ctx := context.Background()
	srv, proj := newServer(t, nil)
	require.NoError(t, proj.Handle(ctx, domain.OrderDiscount{OrderID: "B2", Amount: 300}))
	require.NoError(t, proj.Handle(ctx, domain.OrderCreated{OrderID: "B2", Number: 9, Type: "PICKUP"}))

	var order domain.Order
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/orders/B2/replay", &order))
	assert.Equal(t, int64(2), order.Version)
	assert.Equal(t, int64(9), *order.Number)
	assert.Equal(t, 300, *order.DiscountAmount)

	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/orders/none/replay", nil))
}

func TestListDeadLetters(t *testing.T) {
	store := &stubDeadLetters{letters: []messaging.DeadLetter{{
		Topic:     domain.TypeOrderCompleted,
		MessageID: "m-1",
		Key:       "A1",
		Body:      []byte(`{"Subject":"OrderCompleted"}`),
		Attempts:  5,
		Kind:      domain.KindDecodeFailure,
		LastError: "missing foodsTotal",
		CreatedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}}}
	srv, _ := newServer(t, store)

	var body []map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/deadletters?topic=OrderCompleted&limit=5", &body))
	require.Len(t, body, 1)
	assert.Equal(t, "decode_failure", body[0]["kind"])
	assert.Equal(t, float64(5), body[0]["attempts"])
	assert.Equal(t, "2024-03-01T12:00:00.000Z", body[0]["createdAt"])
	assert.Equal(t, domain.TypeOrderCompleted, store.topic)
	assert.Equal(t, 5, store.limit)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/deadletters?topic=Nope", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/deadletters?limit=-1", nil))
}

func TestDeadLettersRouteNeedsStore(t *testing.T) {
	srv, _ := newServer(t, nil)

	resp, err := http.Get(srv.URL + "/deadletters")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
