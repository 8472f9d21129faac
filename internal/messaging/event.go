// Package messaging defines the broker envelope for order events and the
// contracts implemented by the broker adapters.
package messaging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

// Envelope is the broker message wrapping one order event. Subject names the
// event type; Message holds the event's JSON, possibly quote-wrapped once more
// by the transport.
type Envelope struct {
	Subject   string `json:"Subject"`
	Message   string `json:"Message"`
	MessageID string `json:"MessageId,omitempty"`
}

// NewEnvelope encodes evt for publication on its own topic.
func NewEnvelope(evt domain.Event) (Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return Envelope{
		Subject:   evt.EventType().String(),
		Message:   string(payload),
		MessageID: uuid.NewString(),
	}, nil
}

// ParseEnvelope decodes a raw broker message body.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: envelope: %v", domain.ErrDecode, err)
	}
	return env, nil
}

// Event validates that the envelope belongs to topic and decodes its payload.
func (e Envelope) Event(topic domain.EventType) (domain.Event, error) {
	if e.Subject != topic.String() {
		return nil, fmt.Errorf("%w: event %q is not handled by topic %s", domain.ErrTopicMismatch, e.Subject, topic)
	}
	return DecodeEvent(topic, []byte(unwrapMessage(e.Message)))
}

// unwrapMessage strips one layer of wrapping quotes and backslash escaping.
func unwrapMessage(message string) string {
	message = strings.TrimSpace(message)
	if len(message) < 2 || !strings.HasPrefix(message, `"`) || !strings.HasSuffix(message, `"`) {
		return message
	}
	var inner string
	if err := json.Unmarshal([]byte(message), &inner); err == nil {
		return inner
	}
	return strings.ReplaceAll(message[1:len(message)-1], `\`, "")
}

type createdPayload struct {
	OrderID *string `json:"orderId"`
	Number  *int64  `json:"orderNumber"`
	Type    *string `json:"type"`
}

type discountPayload struct {
	OrderID *string `json:"orderId"`
	Amount  *int    `json:"amount"`
}

type offerPayload struct {
	OrderID   *string `json:"orderId"`
	Amount    *int    `json:"amount"`
	OfferType *string `json:"offerType"`
}

type completedPayload struct {
	OrderID    *string `json:"orderId"`
	FoodsTotal *int    `json:"foodsTotal"`
	Taxes      *int    `json:"taxes"`
}

// DecodeEvent decodes the JSON payload of an event of type t. Unknown fields
// are ignored; every field the event declares is required.
func DecodeEvent(t domain.EventType, payload []byte) (domain.Event, error) {
	payload = bytes.TrimSpace(payload)
	switch t {
	case domain.TypeOrderCreated:
		var p createdPayload
		if err := unmarshal(t, payload, &p); err != nil {
			return nil, err
		}
		if err := requireFields(t, field("orderId", p.OrderID), field("orderNumber", p.Number), field("type", p.Type)); err != nil {
			return nil, err
		}
		return domain.OrderCreated{OrderID: *p.OrderID, Number: *p.Number, Type: *p.Type}, nil
	case domain.TypeOrderDiscount:
		var p discountPayload
		if err := unmarshal(t, payload, &p); err != nil {
			return nil, err
		}
		if err := requireFields(t, field("orderId", p.OrderID), field("amount", p.Amount)); err != nil {
			return nil, err
		}
		return domain.OrderDiscount{OrderID: *p.OrderID, Amount: *p.Amount}, nil
	case domain.TypeOrderOffer:
		var p offerPayload
		if err := unmarshal(t, payload, &p); err != nil {
			return nil, err
		}
		if err := requireFields(t, field("orderId", p.OrderID), field("amount", p.Amount), field("offerType", p.OfferType)); err != nil {
			return nil, err
		}
		return domain.OrderOffer{OrderID: *p.OrderID, Amount: *p.Amount, OfferType: *p.OfferType}, nil
	case domain.TypeOrderCompleted:
		var p completedPayload
		if err := unmarshal(t, payload, &p); err != nil {
			return nil, err
		}
		if err := requireFields(t, field("orderId", p.OrderID), field("foodsTotal", p.FoodsTotal), field("taxes", p.Taxes)); err != nil {
			return nil, err
		}
		return domain.OrderCompleted{OrderID: *p.OrderID, FoodsTotal: *p.FoodsTotal, Taxes: *p.Taxes}, nil
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", domain.ErrDecode, t)
	}
}

// DecodeLogEntry turns a logged entry back into its event.
func DecodeLogEntry(entry domain.EventLogEntry) (domain.Event, error) {
	return DecodeEvent(entry.EventType, entry.Content)
}

func unmarshal(t domain.EventType, payload []byte, target any) error {
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrDecode, t, err)
	}
	return nil
}

type requiredField struct {
	name    string
	present bool
}

func field[T any](name string, v *T) requiredField {
	present := v != nil
	if s, ok := any(v).(*string); ok && s != nil {
		present = strings.TrimSpace(*s) != ""
	}
	return requiredField{name: name, present: present}
}

func requireFields(t domain.EventType, fields ...requiredField) error {
	var missing []string
	for _, f := range fields {
		if !f.present {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s missing %s", domain.ErrDecode, t, strings.Join(missing, ", "))
	}
	return nil
}
