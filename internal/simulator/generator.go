// Package simulator publishes synthetic order lifecycles for local runs and
// load tests.
package simulator

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/nsridhar76/go-orderprojector/internal/domain"
)

// Order types produced by the generator.
const (
	TypeDelivery = "DELIVERY"
	TypePickup   = "PICKUP"
)

// OfferType is the only offer the generator hands out.
const OfferType = "SUPER_10"

const (
	maxOrderNumber = 10_000_000_000
	maxAdjustment  = 3000
	minFoodsTotal  = 1000
	maxFoodsTotal  = 10000
	minTaxPercent  = 5
	maxTaxPercent  = 12
)

// Generator produces the events of random orders. It is not safe for
// concurrent use.
type Generator struct {
	rng   *rand.Rand
	newID func() string
}

// NewGenerator returns a generator drawing from a source seeded with seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		newID: uuid.NewString,
	}
}

// Round returns the four events of one new order in random order.
func (g *Generator) Round() []domain.Event {
	id := g.newID()

	orderType := TypePickup
	if g.rng.IntN(2) == 0 {
		orderType = TypeDelivery
	}
	foodsTotal := minFoodsTotal + g.rng.IntN(maxFoodsTotal-minFoodsTotal+1)
	taxPercent := minTaxPercent + g.rng.IntN(maxTaxPercent-minTaxPercent+1)

	events := []domain.Event{
		domain.OrderCreated{OrderID: id, Number: g.rng.Int64N(maxOrderNumber), Type: orderType},
		domain.OrderDiscount{OrderID: id, Amount: g.rng.IntN(maxAdjustment + 1)},
		domain.OrderOffer{OrderID: id, Amount: g.rng.IntN(maxAdjustment + 1), OfferType: OfferType},
		domain.OrderCompleted{OrderID: id, FoodsTotal: foodsTotal, Taxes: foodsTotal * taxPercent / 100},
	}
	g.rng.Shuffle(len(events), func(i, j int) { events[i], events[j] = events[j], events[i] })
	return events
}

// delay returns a random duration in [lo, hi].
func (g *Generator) delay(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(g.rng.Int64N(int64(hi-lo)+1))
}
