package engine

import (
	"github.com/shopspring/decimal"
)

// Fill is one transfer of size between an incoming order and a resting one.
type Fill struct {
	MakerOrderID string
	TakerOrderID string
	TakerSide    Side
	Price        Price
	Quantity     decimal.Decimal

	// MakerRemaining is what is left of the resting order after this fill.
	MakerRemaining decimal.Decimal
}

// Limit is a price level: one price and the FIFO queue of orders resting at it.
type Limit struct {
	price  Price
	orders []*Order
}

func NewLimit(price Price) *Limit {
	return &Limit{price: price}
}

func (l *Limit) Price() Price { return l.price }

// Orders returns the queue head first. The slice is a copy; the orders are not.
func (l *Limit) Orders() []*Order {
	out := make([]*Order, len(l.orders))
	copy(out, l.orders)
	return out
}

func (l *Limit) Len() int { return len(l.orders) }

func (l *Limit) IsEmpty() bool { return len(l.orders) == 0 }

func (l *Limit) AddOrder(o *Order) {
	l.orders = append(l.orders, o)
}

// FillOrder matches incoming against the queue from the head until either
// incoming is filled or the level runs dry. Resting orders that reach zero
// are dropped from the queue.
func (l *Limit) FillOrder(incoming *Order) []Fill {
	var fills []Fill
	consumed := 0
	for _, resting := range l.orders {
		if incoming.IsFilled() {
			break
		}
		var qty decimal.Decimal
		if incoming.Remaining.GreaterThanOrEqual(resting.Remaining) {
			qty = resting.Remaining
			incoming.Remaining = incoming.Remaining.Sub(qty)
			resting.Remaining = decimal.Zero
			consumed++
		} else {
			qty = incoming.Remaining
			resting.Remaining = resting.Remaining.Sub(qty)
			incoming.Remaining = decimal.Zero
		}
		if qty.IsPositive() {
			fills = append(fills, Fill{
				MakerOrderID:   resting.ID,
				TakerOrderID:   incoming.ID,
				TakerSide:      incoming.Side,
				Price:          l.price,
				Quantity:       qty,
				MakerRemaining: resting.Remaining,
			})
		}
	}
	l.compact(consumed)
	return fills
}

// compact drops the first n orders, all of which are filled.
func (l *Limit) compact(n int) {
	if n == 0 {
		return
	}
	rest := copy(l.orders, l.orders[n:])
	clear(l.orders[rest:])
	l.orders = l.orders[:rest]
}

// TotalVolume is the sum of remaining sizes; zero for an empty level.
func (l *Limit) TotalVolume() decimal.Decimal {
	total := decimal.Zero
	for _, o := range l.orders {
		total = total.Add(o.Remaining)
	}
	return total
}
