package domain

// EventType names an order event. It doubles as the broker topic the event is
// published on.
type EventType string

// Order event types.
const (
	TypeOrderCreated   EventType = "OrderCreated"
	TypeOrderDiscount  EventType = "OrderDiscount"
	TypeOrderOffer     EventType = "OrderOffer"
	TypeOrderCompleted EventType = "OrderCompleted"
)

// EventTypes lists every event type in publication order.
var EventTypes = []EventType{
	TypeOrderCreated,
	TypeOrderDiscount,
	TypeOrderOffer,
	TypeOrderCompleted,
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case TypeOrderCreated, TypeOrderDiscount, TypeOrderOffer, TypeOrderCompleted:
		return true
	default:
		return false
	}
}

func (t EventType) String() string {
	return string(t)
}

// Event is one of OrderCreated, OrderDiscount, OrderOffer or OrderCompleted.
type Event interface {
	AggregateID() string
	EventType() EventType
	overlay(o *Order)
}

// OrderCreated carries the identity fields of a new order.
type OrderCreated struct {
	OrderID string `json:"orderId"`
	Number  int64  `json:"orderNumber"`
	Type    string `json:"type"`
}

func (e OrderCreated) AggregateID() string  { return e.OrderID }
func (e OrderCreated) EventType() EventType { return TypeOrderCreated }

func (e OrderCreated) overlay(o *Order) {
	o.Number = ptr(e.Number)
	o.Type = ptr(e.Type)
}

// OrderDiscount carries the discount granted on an order.
type OrderDiscount struct {
	OrderID string `json:"orderId"`
	Amount  int    `json:"amount"`
}

func (e OrderDiscount) AggregateID() string  { return e.OrderID }
func (e OrderDiscount) EventType() EventType { return TypeOrderDiscount }

func (e OrderDiscount) overlay(o *Order) {
	o.DiscountAmount = ptr(e.Amount)
}

// OrderOffer carries a promotional offer applied to an order.
type OrderOffer struct {
	OrderID   string `json:"orderId"`
	Amount    int    `json:"amount"`
	OfferType string `json:"offerType"`
}

func (e OrderOffer) AggregateID() string  { return e.OrderID }
func (e OrderOffer) EventType() EventType { return TypeOrderOffer }

// The offer amount and type are always set together.
func (e OrderOffer) overlay(o *Order) {
	o.OfferAmount = ptr(e.Amount)
	o.OfferType = ptr(e.OfferType)
}

// OrderCompleted carries the final totals of an order.
type OrderCompleted struct {
	OrderID    string `json:"orderId"`
	FoodsTotal int    `json:"foodsTotal"`
	Taxes      int    `json:"taxes"`
}

func (e OrderCompleted) AggregateID() string  { return e.OrderID }
func (e OrderCompleted) EventType() EventType { return TypeOrderCompleted }

func (e OrderCompleted) overlay(o *Order) {
	o.FoodsTotal = ptr(e.FoodsTotal)
	o.Taxes = ptr(e.Taxes)
}
