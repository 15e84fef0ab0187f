package engine

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// TradingPair identifies a market, e.g. BTC/USD where BTC is the base.
type TradingPair struct {
	Base  string
	Quote string
}

func NewTradingPair(base, quote string) TradingPair {
	return TradingPair{Base: base, Quote: quote}
}

// ParseTradingPair reads the BASE/QUOTE form produced by String.
func ParseTradingPair(s string) (TradingPair, error) {
	base, quote, ok := strings.Cut(s, "/")
	base, quote = strings.TrimSpace(base), strings.TrimSpace(quote)
	if !ok || base == "" || quote == "" {
		return TradingPair{}, fmt.Errorf("invalid market %q, want BASE/QUOTE", s)
	}
	return TradingPair{Base: base, Quote: quote}, nil
}

func (p TradingPair) String() string {
	return p.Base + "/" + p.Quote
}

type Option func(*MatchingEngine)

func WithLogger(l *zap.Logger) Option {
	return func(e *MatchingEngine) {
		if l != nil {
			e.log = l
		}
	}
}

// MatchingEngine routes orders to the orderbook of their trading pair. It is
// not safe for concurrent use; see core.Engine for the locked wrapper.
type MatchingEngine struct {
	orderbooks map[TradingPair]*Orderbook
	log        *zap.Logger
}

func NewMatchingEngine(opts ...Option) *MatchingEngine {
	e := &MatchingEngine{
		orderbooks: make(map[TradingPair]*Orderbook),
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddNewMarket opens an empty orderbook for pair. An existing book is never
// replaced.
func (e *MatchingEngine) AddNewMarket(pair TradingPair) error {
	if _, ok := e.orderbooks[pair]; ok {
		return fmt.Errorf("%w: %s", ErrMarketExists, pair)
	}
	e.orderbooks[pair] = NewOrderbook()
	e.log.Info("opening a new orderbook for market", zap.Stringer("market", pair))
	return nil
}

func (e *MatchingEngine) PlaceLimitOrder(pair TradingPair, price Price, o *Order) error {
	ob, err := e.Orderbook(pair)
	if err != nil {
		return err
	}
	ob.AddLimitOrder(price, o)
	e.log.Debug("placing limit order",
		zap.Stringer("market", pair),
		zap.String("order_id", o.ID),
		zap.String("side", string(o.Side)),
		zap.Stringer("price", price),
		zap.Stringer("size", o.Remaining),
	)
	return nil
}

func (e *MatchingEngine) FillMarketOrder(pair TradingPair, o *Order) ([]Fill, error) {
	ob, err := e.Orderbook(pair)
	if err != nil {
		return nil, err
	}
	fills := ob.FillMarketOrder(o)
	e.log.Debug("filled market order",
		zap.Stringer("market", pair),
		zap.String("order_id", o.ID),
		zap.Int("fills", len(fills)),
		zap.Stringer("remaining", o.Remaining),
	)
	return fills, nil
}

func (e *MatchingEngine) Orderbook(pair TradingPair) (*Orderbook, error) {
	ob, ok := e.orderbooks[pair]
	if !ok {
		return nil, &MarketNotFoundError{Market: pair.String()}
	}
	return ob, nil
}

// Markets lists the open pairs in display order.
func (e *MatchingEngine) Markets() []TradingPair {
	out := make([]TradingPair, 0, len(e.orderbooks))
	for p := range e.orderbooks {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
