package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestLimit_SingleFill(t *testing.T) {
	limit := NewLimit(PriceFromFloat(10000))
	resting := NewOrder(Bid, d("100"))
	limit.AddOrder(resting)

	market := NewOrder(Ask, d("97"))
	fills := limit.FillOrder(market)

	assert.True(t, market.IsFilled())
	assert.True(t, resting.Remaining.Equal(d("3")), "got %s", resting.Remaining)
	require.Len(t, fills, 1)
	assert.Equal(t, resting.ID, fills[0].MakerOrderID)
	assert.Equal(t, market.ID, fills[0].TakerOrderID)
	assert.True(t, fills[0].Quantity.Equal(d("97")))
	assert.Equal(t, 1, limit.Len())
}

func TestLimit_MultiFill(t *testing.T) {
	limit := NewLimit(PriceFromFloat(10000))
	alice := NewOrder(Bid, d("100"))
	bob := NewOrder(Bid, d("100"))
	limit.AddOrder(alice)
	limit.AddOrder(bob)

	market := NewOrder(Ask, d("197"))
	fills := limit.FillOrder(market)

	assert.True(t, market.IsFilled())
	assert.True(t, alice.IsFilled())
	assert.False(t, bob.IsFilled())
	assert.True(t, bob.Remaining.Equal(d("3")))
	require.Len(t, fills, 2)
	assert.Equal(t, alice.ID, fills[0].MakerOrderID)
	assert.Equal(t, bob.ID, fills[1].MakerOrderID)

	// alice is compacted away, bob is now the head
	require.Equal(t, 1, limit.Len())
	assert.Same(t, bob, limit.Orders()[0])
}

func TestLimit_FIFOPartialLandsOnEarliest(t *testing.T) {
	limit := NewLimit(PriceFromFloat(50))
	orders := []*Order{
		NewOrder(Ask, d("5")),
		NewOrder(Ask, d("5")),
		NewOrder(Ask, d("5")),
	}
	for _, o := range orders {
		limit.AddOrder(o)
	}

	limit.FillOrder(NewOrder(Bid, d("7")))

	assert.True(t, orders[0].IsFilled())
	assert.True(t, orders[1].Remaining.Equal(d("3")))
	assert.True(t, orders[2].Remaining.Equal(d("5")))

	limit.FillOrder(NewOrder(Bid, d("4")))
	assert.True(t, orders[1].IsFilled())
	assert.True(t, orders[2].Remaining.Equal(d("4")))
}

func TestLimit_IncomingLargerThanLevel(t *testing.T) {
	limit := NewLimit(PriceFromFloat(1))
	limit.AddOrder(NewOrder(Bid, d("2.5")))
	limit.AddOrder(NewOrder(Bid, d("1.25")))

	market := NewOrder(Ask, d("10"))
	fills := limit.FillOrder(market)

	assert.Len(t, fills, 2)
	assert.True(t, market.Remaining.Equal(d("6.25")))
	assert.True(t, limit.IsEmpty())
	assert.True(t, limit.TotalVolume().IsZero())
}

func TestLimit_ExactDecimalReachesZero(t *testing.T) {
	limit := NewLimit(PriceFromFloat(1))
	resting := NewOrder(Bid, d("0.3"))
	limit.AddOrder(resting)

	// 0.1 + 0.2 would not be 0.3 in binary floating point
	limit.FillOrder(NewOrder(Ask, d("0.1")))
	limit.FillOrder(NewOrder(Ask, d("0.2")))

	assert.True(t, resting.IsFilled())
	assert.True(t, limit.IsEmpty())
}

func TestLimit_Conservation(t *testing.T) {
	limit := NewLimit(PriceFromFloat(10))
	sizes := []string{"1.5", "2.25", "0.125", "7", "3.3"}
	var resting []*Order
	for _, s := range sizes {
		o := NewOrder(Ask, d(s))
		resting = append(resting, o)
		limit.AddOrder(o)
	}
	sum := func() decimal.Decimal {
		total := decimal.Zero
		for _, o := range resting {
			total = total.Add(o.Remaining)
		}
		return total
	}

	for _, in := range []string{"0.5", "3.4", "9", "100"} {
		market := NewOrder(Bid, d(in))
		before := market.Remaining.Add(sum())
		fills := limit.FillOrder(market)
		after := market.Remaining.Add(sum())
		assert.True(t, before.Equal(after), "size created or destroyed for incoming %s", in)

		filled := decimal.Zero
		for _, f := range fills {
			filled = filled.Add(f.Quantity)
		}
		assert.True(t, filled.Equal(d(in).Sub(market.Remaining)))
	}
}

func TestLimit_TotalVolume(t *testing.T) {
	limit := NewLimit(PriceFromFloat(10000))
	assert.True(t, limit.TotalVolume().IsZero(), "empty level has zero volume")

	limit.AddOrder(NewOrder(Bid, d("100")))
	limit.AddOrder(NewOrder(Bid, d("99")))

	first := limit.TotalVolume()
	second := limit.TotalVolume()
	assert.True(t, first.Equal(d("199")))
	assert.True(t, first.Equal(second))
	assert.Equal(t, 2, limit.Len())
}

func TestLimit_FilledIncomingTouchesNothing(t *testing.T) {
	limit := NewLimit(PriceFromFloat(10))
	resting := NewOrder(Bid, d("5"))
	limit.AddOrder(resting)

	fills := limit.FillOrder(NewOrder(Ask, decimal.Zero))

	assert.Empty(t, fills)
	assert.True(t, resting.Remaining.Equal(d("5")))
}
