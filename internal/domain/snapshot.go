package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PriceLevel struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Orders int             `json:"orders"`
}

// OrderbookSnapshot is an aggregated depth view: bids best first, asks best
// first.
type OrderbookSnapshot struct {
	Market    string       `json:"market"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *OrderbookSnapshot) DeepCopy() *OrderbookSnapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Bids = append([]PriceLevel(nil), s.Bids...)
	cp.Asks = append([]PriceLevel(nil), s.Asks...)
	return &cp
}

// Truncate keeps at most depth levels per side; depth <= 0 keeps everything.
func (s *OrderbookSnapshot) Truncate(depth int) *OrderbookSnapshot {
	cp := s.DeepCopy()
	if depth > 0 {
		if len(cp.Bids) > depth {
			cp.Bids = cp.Bids[:depth]
		}
		if len(cp.Asks) > depth {
			cp.Asks = cp.Asks[:depth]
		}
	}
	return cp
}
