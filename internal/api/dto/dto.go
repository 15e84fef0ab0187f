package dto

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/engine"
	"github.com/shopspring/decimal"
)

var ErrBadRequest = errors.New("bad request")

type CreateMarketRequest struct {
	Base  string `json:"base" binding:"required"`
	Quote string `json:"quote" binding:"required"`
}

type MarketResponse struct {
	Market string `json:"market"`
}

type ListMarketsResponse struct {
	Markets []string `json:"markets"`
}

type PlaceLimitOrderRequest struct {
	Market string          `json:"market" binding:"required"`
	Side   string          `json:"side" binding:"required"`
	Price  decimal.Decimal `json:"price"`
	Size   decimal.Decimal `json:"size"`
}

type PlaceLimitOrderResponse struct {
	OrderID   string          `json:"order_id"`
	Market    string          `json:"market"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Size      decimal.Decimal `json:"size"`
	CreatedAt time.Time       `json:"created_at"`
}

type MarketOrderRequest struct {
	Market string          `json:"market" binding:"required"`
	Side   string          `json:"side" binding:"required"`
	Size   decimal.Decimal `json:"size"`
}

type MarketOrderResponse struct {
	OrderID   string          `json:"order_id"`
	Trades    []Trade         `json:"trades"`
	Filled    decimal.Decimal `json:"filled"`
	Remaining decimal.Decimal `json:"remaining"`
}

type GetOrderbookRequest struct {
	Market string `form:"market" binding:"required"`
	Depth  int    `form:"depth"`
}

type Level struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
	Orders int             `json:"orders"`
}

type GetOrderbookResponse struct {
	Market    string    `json:"market"`
	Bids      []Level   `json:"bids"`
	Asks      []Level   `json:"asks"`
	Timestamp time.Time `json:"timestamp"`
}

type GetTradesResponse struct {
	Trades []Trade `json:"trades"`
}

type Trade struct {
	ID           string          `json:"id"`
	Market       string          `json:"market"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	TakerSide    string          `json:"taker_side"`
	Price        decimal.Decimal `json:"price"`
	Quantity     decimal.Decimal `json:"quantity"`
	Timestamp    time.Time       `json:"timestamp"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// LimitOrder is a validated PlaceLimitOrderRequest.
type LimitOrder struct {
	Pair  engine.TradingPair
	Side  engine.Side
	Price engine.Price
	Size  decimal.Decimal
}

// MarketOrder is a validated MarketOrderRequest.
type MarketOrder struct {
	Pair engine.TradingPair
	Side engine.Side
	Size decimal.Decimal
}

func ParseMarket(s string) (engine.TradingPair, error) {
	pair, err := engine.ParseTradingPair(s)
	if err != nil {
		return engine.TradingPair{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return pair, nil
}

// Validate trims both symbols and rejects any that could not be addressed
// back through the BASE/QUOTE form.
func (r *CreateMarketRequest) Validate() (engine.TradingPair, error) {
	base, quote := strings.TrimSpace(r.Base), strings.TrimSpace(r.Quote)
	for _, sym := range []string{base, quote} {
		if sym == "" || strings.Contains(sym, "/") {
			return engine.TradingPair{}, fmt.Errorf("%w: invalid symbol %q", ErrBadRequest, sym)
		}
	}
	return engine.NewTradingPair(base, quote), nil
}

func checkDecimal(name string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be > 0", ErrBadRequest, name)
	}
	if !engine.InBounds(d) {
		return fmt.Errorf("%w: %s exceeds %d integer or %d fractional digits",
			ErrBadRequest, name, engine.MaxIntegerDigits, engine.MaxScale)
	}
	return nil
}

func parseSide(s string) (engine.Side, error) {
	side, err := engine.ParseSide(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return side, nil
}

func (r *PlaceLimitOrderRequest) Validate() (LimitOrder, error) {
	pair, err := ParseMarket(r.Market)
	if err != nil {
		return LimitOrder{}, err
	}
	side, err := parseSide(r.Side)
	if err != nil {
		return LimitOrder{}, err
	}
	if err := checkDecimal("price", r.Price); err != nil {
		return LimitOrder{}, err
	}
	if err := checkDecimal("size", r.Size); err != nil {
		return LimitOrder{}, err
	}
	return LimitOrder{Pair: pair, Side: side, Price: engine.NewPrice(r.Price), Size: r.Size}, nil
}

func (r *MarketOrderRequest) Validate() (MarketOrder, error) {
	pair, err := ParseMarket(r.Market)
	if err != nil {
		return MarketOrder{}, err
	}
	side, err := parseSide(r.Side)
	if err != nil {
		return MarketOrder{}, err
	}
	if err := checkDecimal("size", r.Size); err != nil {
		return MarketOrder{}, err
	}
	return MarketOrder{Pair: pair, Side: side, Size: r.Size}, nil
}

func FromOrder(pair engine.TradingPair, price engine.Price, o *engine.Order) PlaceLimitOrderResponse {
	return PlaceLimitOrderResponse{
		OrderID:   o.ID,
		Market:    pair.String(),
		Side:      string(o.Side),
		Price:     price.Decimal(),
		Size:      o.Size,
		CreatedAt: o.CreatedAt,
	}
}

func FromMarketResult(o *engine.Order, trades []*domain.Trade) MarketOrderResponse {
	return MarketOrderResponse{
		OrderID:   o.ID,
		Trades:    FromTrades(trades),
		Filled:    o.Filled(),
		Remaining: o.Remaining,
	}
}

func FromTrades(trades []*domain.Trade) []Trade {
	res := make([]Trade, len(trades))
	for i, t := range trades {
		res[i] = Trade{
			ID:           t.ID,
			Market:       t.Market,
			MakerOrderID: t.MakerOrderID,
			TakerOrderID: t.TakerOrderID,
			TakerSide:    string(t.TakerSide),
			Price:        t.Price,
			Quantity:     t.Quantity,
			Timestamp:    t.Timestamp,
		}
	}
	return res
}

func FromSnapshot(s *domain.OrderbookSnapshot) GetOrderbookResponse {
	return GetOrderbookResponse{
		Market:    s.Market,
		Bids:      levels(s.Bids),
		Asks:      levels(s.Asks),
		Timestamp: s.Timestamp,
	}
}

func levels(in []domain.PriceLevel) []Level {
	out := make([]Level, len(in))
	for i, lv := range in {
		out[i] = Level{Price: lv.Price, Volume: lv.Volume, Orders: lv.Orders}
	}
	return out
}
