package messaging_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
	"github.com/nsridhar76/go-orderprojector/internal/messaging"
)

func TestNewEnvelope_RoundTrip(t *testing.T) {
	evt := domain.OrderOffer{OrderID: "C3", Amount: 150, OfferType: "SUPER_10"}

	env, err := messaging.NewEnvelope(evt)
	require.NoError(t, err)
	assert.Equal(t, "OrderOffer", env.Subject)
	assert.NotEmpty(t, env.MessageID)

	body, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := messaging.ParseEnvelope(body)
	require.NoError(t, err)
	got, err := parsed.Event(domain.TypeOrderOffer)
	require.NoError(t, err)
	assert.Equal(t, evt, got)
}

func TestEnvelope_EventUnwrapsQuotedMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
	}{
		{name: "plain", message: `{"orderId":"A1","orderNumber":42,"type":"DELIVERY"}`},
		{name: "json quoted", message: `"{\"orderId\":\"A1\",\"orderNumber\":42,\"type\":\"DELIVERY\"}"`},
		{name: "quoted with invalid escapes", message: `"{\"orderId\":\"A1\",\"orderNumber\":42,\"type\":\"DELIVERY\"\}"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := messaging.Envelope{Subject: "OrderCreated", Message: tt.message}

			got, err := env.Event(domain.TypeOrderCreated)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderCreated{OrderID: "A1", Number: 42, Type: "DELIVERY"}, got)
		})
	}
}

func TestEnvelope_EventRejectsWrongSubject(t *testing.T) {
	env := messaging.Envelope{Subject: "OrderDiscount", Message: `{"orderId":"B2","amount":300}`}

	_, err := env.Event(domain.TypeOrderOffer)

	assert.ErrorIs(t, err, domain.ErrTopicMismatch)
	assert.Equal(t, domain.KindTopicMismatch, domain.KindOf(err))
}

func TestParseEnvelope_Malformed(t *testing.T) {
	_, err := messaging.ParseEnvelope([]byte(`{"Subject":`))

	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		typ     domain.EventType
		payload string
		want    domain.Event
		wantErr bool
	}{
		{
			name:    "discount",
			typ:     domain.TypeOrderDiscount,
			payload: `{"orderId":"B2","amount":300}`,
			want:    domain.OrderDiscount{OrderID: "B2", Amount: 300},
		},
		{
			name:    "completed ignores unknown fields",
			typ:     domain.TypeOrderCompleted,
			payload: `{"orderId":"A1","foodsTotal":1000,"taxes":80,"currency":"BRL"}`,
			want:    domain.OrderCompleted{OrderID: "A1", FoodsTotal: 1000, Taxes: 80},
		},
		{
			name:    "zero amount is present",
			typ:     domain.TypeOrderDiscount,
			payload: `{"orderId":"B2","amount":0}`,
			want:    domain.OrderDiscount{OrderID: "B2", Amount: 0},
		},
		{
			name:    "missing required field",
			typ:     domain.TypeOrderCompleted,
			payload: `{"orderId":"A1","foodsTotal":1000}`,
			wantErr: true,
		},
		{
			name:    "null required field",
			typ:     domain.TypeOrderOffer,
			payload: `{"orderId":"C3","amount":null,"offerType":"SUPER_10"}`,
			wantErr: true,
		},
		{
			name:    "blank order id",
			typ:     domain.TypeOrderDiscount,
			payload: `{"orderId":"  ","amount":1}`,
			wantErr: true,
		},
		{
			name:    "wrong type",
			typ:     domain.TypeOrderCreated,
			payload: `{"orderId":"A1","orderNumber":"forty-two","type":"DELIVERY"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			typ:     domain.TypeOrderCreated,
			payload: `orderId=A1`,
			wantErr: true,
		},
		{
			name:    "unknown event type",
			typ:     domain.EventType("OrderRefunded"),
			payload: `{"orderId":"A1"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := messaging.DecodeEvent(tt.typ, []byte(tt.payload))
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeLogEntry(t *testing.T) {
	evt := domain.OrderCreated{OrderID: "A1", Number: 42, Type: "PICKUP"}
	entry, err := domain.NewEventLogEntry(evt, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	got, err := messaging.DecodeLogEntry(entry)
	require.NoError(t, err)
	assert.Equal(t, evt, got)
}
