package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string
type OrderStatus string

const (
	Bid             Side        = "BID"
	Ask             Side        = "ASK"
	Open            OrderStatus = "OPEN"
	PartiallyFilled OrderStatus = "PARTIALLY FILLED"
	Filled          OrderStatus = "FILLED"
)

// Order is the persisted form of a resting limit order. Seq is its arrival
// rank within the market and fixes FIFO priority on replay.
type Order struct {
	ID        string
	Market    string
	Seq       uint64
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
	Remaining decimal.Decimal
	Status    OrderStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Order) PartiallyFilled() bool {
	return o.Remaining.GreaterThan(decimal.Zero) &&
		o.Remaining.LessThan(o.Size)
}

// StatusFor derives the status from the remaining size.
func StatusFor(size, remaining decimal.Decimal) OrderStatus {
	switch {
	case remaining.IsZero():
		return Filled
	case remaining.LessThan(size):
		return PartiallyFilled
	default:
		return Open
	}
}
