package engine

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PriceKey is the canonical form of a Price. Two prices with the same
// numeric value always share a key, whatever their textual form.
type PriceKey string

// Price is an exact, immutable traded price.
type Price struct {
	value decimal.Decimal
}

func NewPrice(d decimal.Decimal) Price {
	return Price{value: d}
}

func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Price{}, fmt.Errorf("invalid price %q: %w", s, err)
	}
	return Price{value: d}, nil
}

// PriceFromFloat converts through the shortest decimal representation of f,
// so 4.3 becomes exactly 4.3 rather than its binary approximation.
func PriceFromFloat(f float64) Price {
	return Price{value: decimal.NewFromFloat(f)}
}

func (p Price) Decimal() decimal.Decimal { return p.value }

// Key trims trailing zeros, so "100", "100.00" and "1E2" collapse to "100".
func (p Price) Key() PriceKey { return PriceKey(p.value.String()) }

func (p Price) Cmp(other Price) int          { return p.value.Cmp(other.value) }
func (p Price) Equal(other Price) bool       { return p.value.Equal(other.value) }
func (p Price) LessThan(other Price) bool    { return p.value.LessThan(other.value) }
func (p Price) GreaterThan(other Price) bool { return p.value.GreaterThan(other.value) }

func (p Price) String() string { return p.value.String() }

// Limits on decimals accepted for prices and sizes. Keys and snapshots are
// rendered in full, so their length must stay bounded.
const (
	MaxIntegerDigits = 24
	MaxScale         = 18
)

// InBounds reports whether d has at most MaxScale fractional digits and at
// most MaxIntegerDigits integer digits.
func InBounds(d decimal.Decimal) bool {
	exp := int(d.Exponent())
	if -exp > MaxScale || exp > MaxIntegerDigits {
		return false
	}
	// a coefficient this wide cannot fit; skips rendering a huge big.Int
	if d.Coefficient().BitLen() > 4*(MaxIntegerDigits+MaxScale) {
		return false
	}
	return d.NumDigits()+exp <= MaxIntegerDigits
}
