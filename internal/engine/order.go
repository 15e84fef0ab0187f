package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	Bid Side = "BID"
	Ask Side = "ASK"
)

// ParseSide accepts BID/ASK as well as the BUY/SELL spelling used by clients.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BID", "BUY":
		return Bid, nil
	case "ASK", "SELL":
		return Ask, nil
	default:
		return "", fmt.Errorf("invalid side: %q", s)
	}
}

func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// Order is a bid or ask with a remaining size. Its price is implied by the
// Limit holding it.
type Order struct {
	ID        string
	Side      Side
	Size      decimal.Decimal
	Remaining decimal.Decimal
	CreatedAt time.Time
}

func NewOrder(side Side, size decimal.Decimal) *Order {
	return &Order{
		ID:        uuid.NewString(),
		Side:      side,
		Size:      size,
		Remaining: size,
		CreatedAt: time.Now(),
	}
}

// RestoreOrder rebuilds a resting order that was persisted earlier, keeping
// its identity, creation time and partially filled state.
func RestoreOrder(id string, side Side, size, remaining decimal.Decimal, createdAt time.Time) *Order {
	return &Order{
		ID:        id,
		Side:      side,
		Size:      size,
		Remaining: remaining,
		CreatedAt: createdAt,
	}
}

func (o *Order) IsFilled() bool {
	return o.Remaining.IsZero()
}

func (o *Order) Filled() decimal.Decimal {
	return o.Size.Sub(o.Remaining)
}
