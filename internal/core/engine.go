package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/engine"
	"github.com/olyamironova/matching-core/internal/logger"
	"github.com/olyamironova/matching-core/internal/metrics"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var ErrInvalidOrder = errors.New("invalid order")

const defaultDepth = 50

// MarketResult is the outcome of a market order. Order.Remaining is the part
// that found no liquidity.
type MarketResult struct {
	Order  *engine.Order
	Trades []*domain.Trade
}

type Option func(*Engine)

func WithRepository(r port.Repository) Option { return func(e *Engine) { e.repo = r } }
func WithCache(c port.Cache) Option           { return func(e *Engine) { e.cache = c } }
func WithPublisher(p port.Publisher) Option   { return func(e *Engine) { e.pub = p } }
func WithMetrics(m *metrics.Metrics) Option   { return func(e *Engine) { e.met = m } }
func WithLogger(l *zap.Logger) Option         { return func(e *Engine) { e.log = l } }

// WithDepth caps how many levels per side snapshots carry.
func WithDepth(n int) Option { return func(e *Engine) { e.depth = n } }

// Engine serializes access to the matching core: one lock per market, so
// operations on the same pair are linearized while different pairs proceed
// in parallel. After each mutation it persists, refreshes the cache and
// publishes trades while still holding the market lock, keeping side effects
// in book order.
type Engine struct {
	repo  port.Repository
	cache port.Cache
	pub   port.Publisher
	met   *metrics.Metrics
	log   *zap.Logger
	depth int
	now   func() time.Time
	sf    singleflight.Group

	mu      sync.RWMutex
	matcher *engine.MatchingEngine
	markets map[engine.TradingPair]*market
}

// market is the per-pair state guarded by its own lock. seq ranks resting
// orders by the order they joined the book.
type market struct {
	mu  sync.Mutex
	seq uint64
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		log:     zap.NewNop(),
		depth:   defaultDepth,
		now:     time.Now,
		markets: make(map[engine.TradingPair]*market),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.met == nil {
		e.met = metrics.New()
	}
	e.matcher = engine.NewMatchingEngine(engine.WithLogger(e.log))
	return e
}

func (e *Engine) AddMarket(ctx context.Context, pair engine.TradingPair) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.matcher.AddNewMarket(pair); err != nil {
		return err
	}
	e.markets[pair] = &market{}
	return nil
}

func (e *Engine) Markets() []engine.TradingPair {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.matcher.Markets()
}

// withMarket runs fn holding the lock of pair's book.
func (e *Engine) withMarket(pair engine.TradingPair, fn func(*market, *engine.Orderbook) error) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[pair]
	if !ok {
		e.met.Rejected.WithLabelValues("market_not_found").Inc()
		return &engine.MarketNotFoundError{Market: pair.String()}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ob, err := e.matcher.Orderbook(pair)
	if err != nil {
		return err
	}
	return fn(m, ob)
}

func validateSize(size decimal.Decimal) error {
	if !size.IsPositive() {
		return fmt.Errorf("%w: size must be > 0", ErrInvalidOrder)
	}
	if !engine.InBounds(size) {
		return fmt.Errorf("%w: size out of bounds", ErrInvalidOrder)
	}
	return nil
}

// PlaceLimitOrder rests a new order on pair's book at price.
func (e *Engine) PlaceLimitOrder(ctx context.Context, pair engine.TradingPair, side engine.Side, price engine.Price, size decimal.Decimal) (*engine.Order, error) {
	if err := validateSize(size); err != nil {
		e.met.Rejected.WithLabelValues("invalid_size").Inc()
		return nil, err
	}
	if !price.Decimal().IsPositive() {
		e.met.Rejected.WithLabelValues("invalid_price").Inc()
		return nil, fmt.Errorf("%w: price must be > 0", ErrInvalidOrder)
	}
	if !engine.InBounds(price.Decimal()) {
		e.met.Rejected.WithLabelValues("invalid_price").Inc()
		return nil, fmt.Errorf("%w: price out of bounds", ErrInvalidOrder)
	}

	o := engine.NewOrder(side, size)
	log := logger.FromContext(ctx, e.log)

	err := e.withMarket(pair, func(m *market, ob *engine.Orderbook) error {
		// stamped under the lock so time and seq agree with queue position
		o.CreatedAt = e.now()
		if err := e.matcher.PlaceLimitOrder(pair, price, o); err != nil {
			return err
		}
		m.seq++
		e.met.OrdersPlaced.WithLabelValues(pair.String(), string(side)).Inc()

		if e.repo != nil {
			if err := e.repo.SaveOrder(ctx, toRecord(pair, price, o, m.seq)); err != nil {
				e.sideEffectFailed(log, "save_order", err)
			}
		}
		e.afterMutation(ctx, log, pair, ob)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("limit order placed",
		zap.Stringer("market", pair),
		zap.String("order_id", o.ID),
		zap.String("side", string(side)),
		zap.Stringer("price", price),
		zap.Stringer("size", size),
	)
	return o, nil
}

// SubmitMarketOrder matches a new order against the opposite side of pair's
// book. Unfilled size is reported, never rested.
func (e *Engine) SubmitMarketOrder(ctx context.Context, pair engine.TradingPair, side engine.Side, size decimal.Decimal) (*MarketResult, error) {
	if err := validateSize(size); err != nil {
		e.met.Rejected.WithLabelValues("invalid_size").Inc()
		return nil, err
	}

	o := engine.NewOrder(side, size)
	log := logger.FromContext(ctx, e.log)

	var trades []*domain.Trade
	err := e.withMarket(pair, func(_ *market, ob *engine.Orderbook) error {
		o.CreatedAt = e.now()
		fills, err := e.matcher.FillMarketOrder(pair, o)
		if err != nil {
			return err
		}
		trades = toTrades(pair, fills, o.CreatedAt)

		e.met.MarketOrders.WithLabelValues(pair.String(), string(side)).Inc()
		e.met.Fills.WithLabelValues(pair.String()).Add(float64(len(fills)))

		if len(fills) == 0 {
			return nil
		}
		if e.repo != nil {
			if err := e.persistFills(ctx, log, fills, trades); err != nil {
				e.sideEffectFailed(log, "persist_fills", err)
			}
		}
		if e.pub != nil {
			if err := e.pub.PublishTrades(ctx, trades); err != nil {
				e.sideEffectFailed(log, "publish_trades", err)
			}
		}
		e.afterMutation(ctx, log, pair, ob)
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info("market order matched",
		zap.Stringer("market", pair),
		zap.String("order_id", o.ID),
		zap.String("side", string(side)),
		zap.Int("trades", len(trades)),
		zap.Stringer("remaining", o.Remaining),
	)
	return &MarketResult{Order: o, Trades: trades}, nil
}

func (e *Engine) persistFills(ctx context.Context, log *zap.Logger, fills []engine.Fill, trades []*domain.Trade) error {
	return e.inTx(ctx, log, func(tx port.Tx) error {
		for i, t := range trades {
			if err := tx.SaveTrade(ctx, t); err != nil {
				return err
			}
			if err := tx.UpdateRemaining(ctx, fills[i].MakerOrderID, fills[i].MakerRemaining); err != nil {
				return err
			}
		}
		return nil
	})
}

// afterMutation refreshes the cached snapshot and level gauges. Called with
// the market lock held.
func (e *Engine) afterMutation(ctx context.Context, log *zap.Logger, pair engine.TradingPair, ob *engine.Orderbook) {
	e.met.BookLevels.WithLabelValues(pair.String(), string(engine.Bid)).Set(float64(len(ob.BidLimits())))
	e.met.BookLevels.WithLabelValues(pair.String(), string(engine.Ask)).Set(float64(len(ob.AskLimits())))
	if e.cache == nil {
		return
	}
	snap := buildSnapshot(pair, ob, e.depth, e.now())
	if err := e.cache.SetOrderbook(ctx, pair.String(), snap); err != nil {
		e.sideEffectFailed(log, "cache_set", err)
		_ = e.cache.Invalidate(ctx, pair.String())
	}
}

func (e *Engine) sideEffectFailed(log *zap.Logger, stage string, err error) {
	e.met.SideEffects.WithLabelValues(stage).Inc()
	log.Error("side effect failed", zap.String("stage", stage), zap.Error(err))
}

// GetOrderbook returns up to depth aggregated levels per side (depth <= 0
// means the configured maximum). The cache is consulted first.
func (e *Engine) GetOrderbook(ctx context.Context, pair engine.TradingPair, depth int) (*domain.OrderbookSnapshot, error) {
	var snap *domain.OrderbookSnapshot
	err := e.withMarket(pair, func(_ *market, ob *engine.Orderbook) error {
		if cached := cachedSnapshot(ctx, e.cache, pair.String()); cached != nil {
			snap = cached
			return nil
		}
		snap = buildSnapshot(pair, ob, e.depth, e.now())
		if e.cache != nil {
			_ = e.cache.SetOrderbook(ctx, pair.String(), snap.DeepCopy())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap.Truncate(depth), nil
}

// GetTradesForOrder returns trades the order took part in. Concurrent lookups
// of the same order share one repository read.
func (e *Engine) GetTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error) {
	if e.repo == nil {
		return nil, nil
	}
	v, err, _ := e.sf.Do(orderID, func() (any, error) {
		return e.repo.LoadTradesForOrder(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}
	trades := v.([]*domain.Trade)
	out := make([]*domain.Trade, len(trades))
	copy(out, trades)
	return out, nil
}

// LoadOpenOrdersFromRepo rebuilds every open market's book from persisted
// resting orders in seq order, so FIFO priority survives a restart. New
// orders continue numbering after the highest replayed seq.
func (e *Engine) LoadOpenOrdersFromRepo(ctx context.Context) error {
	if e.repo == nil {
		return nil
	}
	for _, pair := range e.Markets() {
		orders, err := e.repo.LoadOpenOrders(ctx, pair.String())
		if err != nil {
			return fmt.Errorf("load open orders for %s: %w", pair, err)
		}
		err = e.withMarket(pair, func(m *market, ob *engine.Orderbook) error {
			for _, rec := range orders {
				o := engine.RestoreOrder(rec.ID, engine.Side(rec.Side), rec.Size, rec.Remaining, rec.CreatedAt)
				ob.AddLimitOrder(engine.NewPrice(rec.Price), o)
				if rec.Seq > m.seq {
					m.seq = rec.Seq
				}
			}
			if e.cache != nil {
				_ = e.cache.Invalidate(ctx, pair.String())
			}
			return nil
		})
		if err != nil {
			return err
		}
		e.log.Info("orderbook restored", zap.Stringer("market", pair), zap.Int("orders", len(orders)))
	}
	return nil
}
