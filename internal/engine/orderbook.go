package engine

import (
	"sort"

	"github.com/shopspring/decimal"
)

// bookSide indexes the levels of one side by price key and keeps them sorted
// in matching priority: ascending for asks, descending for bids.
type bookSide struct {
	levels     map[PriceKey]*Limit
	sorted     []*Limit
	descending bool
}

func newBookSide(descending bool) *bookSide {
	return &bookSide{
		levels:     make(map[PriceKey]*Limit),
		descending: descending,
	}
}

// before reports whether a has priority over b.
func (s *bookSide) before(a, b Price) bool {
	if s.descending {
		return a.GreaterThan(b)
	}
	return a.LessThan(b)
}

func (s *bookSide) getOrCreate(price Price) *Limit {
	if lv, ok := s.levels[price.Key()]; ok {
		return lv
	}
	lv := NewLimit(price)
	s.levels[price.Key()] = lv

	i := sort.Search(len(s.sorted), func(i int) bool {
		return s.before(price, s.sorted[i].price)
	})
	s.sorted = append(s.sorted, nil)
	copy(s.sorted[i+1:], s.sorted[i:])
	s.sorted[i] = lv
	return lv
}

// dropEmptyHead removes exhausted levels from the front of the index. Fills
// always walk levels in priority order, so emptied levels form a prefix.
func (s *bookSide) dropEmptyHead() {
	n := 0
	for n < len(s.sorted) && s.sorted[n].IsEmpty() {
		delete(s.levels, s.sorted[n].price.Key())
		n++
	}
	if n == 0 {
		return
	}
	rest := copy(s.sorted, s.sorted[n:])
	clear(s.sorted[rest:])
	s.sorted = s.sorted[:rest]
}

func (s *bookSide) snapshot() []*Limit {
	out := make([]*Limit, len(s.sorted))
	copy(out, s.sorted)
	return out
}

func (s *bookSide) best() (*Limit, bool) {
	if len(s.sorted) == 0 {
		return nil, false
	}
	return s.sorted[0], true
}

// Orderbook holds the bid and ask levels of one market. The two sides are
// independent: the same price may rest on both.
type Orderbook struct {
	asks *bookSide
	bids *bookSide
}

func NewOrderbook() *Orderbook {
	return &Orderbook{
		asks: newBookSide(false),
		bids: newBookSide(true),
	}
}

func (ob *Orderbook) side(s Side) *bookSide {
	if s == Bid {
		return ob.bids
	}
	return ob.asks
}

func (ob *Orderbook) AddLimitOrder(price Price, o *Order) {
	ob.side(o.Side).getOrCreate(price).AddOrder(o)
}

// AskLimits returns the ask levels cheapest first.
func (ob *Orderbook) AskLimits() []*Limit { return ob.asks.snapshot() }

// BidLimits returns the bid levels most expensive first.
func (ob *Orderbook) BidLimits() []*Limit { return ob.bids.snapshot() }

func (ob *Orderbook) BestAsk() (*Limit, bool) { return ob.asks.best() }
func (ob *Orderbook) BestBid() (*Limit, bool) { return ob.bids.best() }

// FillMarketOrder matches incoming against the opposite side in price
// priority: a bid takes asks from the cheapest up, an ask hits bids from the
// most expensive down. Whatever cannot be filled stays on incoming.
func (ob *Orderbook) FillMarketOrder(incoming *Order) []Fill {
	opposite := ob.side(incoming.Side.Opposite())

	var fills []Fill
	for _, lv := range opposite.sorted {
		if incoming.IsFilled() {
			break
		}
		fills = append(fills, lv.FillOrder(incoming)...)
	}
	opposite.dropEmptyHead()
	return fills
}

// LevelDepth is an aggregated view of one price level.
type LevelDepth struct {
	Price  Price
	Volume decimal.Decimal
	Orders int
}

// Depth aggregates up to n levels per side in priority order; n <= 0 means all.
func (ob *Orderbook) Depth(n int) (bids, asks []LevelDepth) {
	return depthOf(ob.bids.sorted, n), depthOf(ob.asks.sorted, n)
}

func depthOf(levels []*Limit, n int) []LevelDepth {
	if n <= 0 || n > len(levels) {
		n = len(levels)
	}
	out := make([]LevelDepth, 0, n)
	for _, lv := range levels[:n] {
		out = append(out, LevelDepth{
			Price:  lv.price,
			Volume: lv.TotalVolume(),
			Orders: lv.Len(),
		})
	}
	return out
}
