package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/olyamironova/matching-core/internal/adapter/in_memory"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/engine"
	"github.com/olyamironova/matching-core/internal/metrics"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc = engine.NewTradingPair("BTC", "USD")

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func price(s string) engine.Price {
	p, err := engine.ParsePrice(s)
	if err != nil {
		panic(err)
	}
	return p
}

type fixture struct {
	eng   *Engine
	repo  *in_memory.MemoryRepo
	cache *in_memory.Cache
	pub   *in_memory.Publisher
	met   *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  in_memory.NewMemoryRepo(),
		cache: in_memory.NewCache(),
		pub:   in_memory.NewPublisher(),
		met:   metrics.New(),
	}
	f.eng = NewEngine(
		WithRepository(f.repo),
		WithCache(f.cache),
		WithPublisher(f.pub),
		WithMetrics(f.met),
	)
	require.NoError(t, f.eng.AddMarket(context.Background(), btc))
	return f
}

func TestEngine_PlaceLimitOrderPersistsAndCaches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	o, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Bid, price("10000"), dec("6.5"))
	require.NoError(t, err)

	rec, ok := f.repo.Order(o.ID)
	require.True(t, ok)
	assert.Equal(t, "BTC/USD", rec.Market)
	assert.Equal(t, domain.Open, rec.Status)
	assert.True(t, rec.Price.Equal(dec("10000")))

	cached, err := f.cache.GetOrderbook(ctx, "BTC/USD")
	require.NoError(t, err)
	require.NotNil(t, cached)
	require.Len(t, cached.Bids, 1)
	assert.True(t, cached.Bids[0].Volume.Equal(dec("6.5")))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.met.OrdersPlaced.WithLabelValues("BTC/USD", "BID")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.met.BookLevels.WithLabelValues("BTC/USD", "BID")))
}

func TestEngine_UnknownMarket(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Ask, price("100"), dec("1"))
	require.NoError(t, err)

	eth := engine.NewTradingPair("ETH", "USD")
	_, err = f.eng.PlaceLimitOrder(ctx, eth, engine.Bid, price("100"), dec("1"))
	assert.True(t, errors.Is(err, engine.ErrMarketNotFound))

	_, err = f.eng.SubmitMarketOrder(ctx, eth, engine.Bid, dec("1"))
	assert.True(t, errors.Is(err, engine.ErrMarketNotFound))

	_, err = f.eng.GetOrderbook(ctx, eth, 10)
	assert.True(t, errors.Is(err, engine.ErrMarketNotFound))

	snap, err := f.eng.GetOrderbook(ctx, btc, 10)
	require.NoError(t, err)
	assert.Len(t, snap.Asks, 1)
	assert.Empty(t, snap.Bids)
	assert.Equal(t, 3.0, testutil.ToFloat64(f.met.Rejected.WithLabelValues("market_not_found")))
}

func TestEngine_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Bid, price("100"), dec("0"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = f.eng.PlaceLimitOrder(ctx, btc, engine.Bid, price("-1"), dec("1"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = f.eng.SubmitMarketOrder(ctx, btc, engine.Ask, dec("-3"))
	assert.ErrorIs(t, err, ErrInvalidOrder)

	// exponents that would render multi-megabyte keys
	_, err = f.eng.PlaceLimitOrder(ctx, btc, engine.Bid, price("1e2000000"), dec("1"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = f.eng.PlaceLimitOrder(ctx, btc, engine.Bid, price("100"), dec("1e-2000000"))
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = f.eng.SubmitMarketOrder(ctx, btc, engine.Ask, dec("1e2000000"))
	assert.ErrorIs(t, err, ErrInvalidOrder)

	snap, err := f.eng.GetOrderbook(ctx, btc, 0)
	require.NoError(t, err)
	assert.Empty(t, snap.Bids)
}

func TestEngine_AddMarketTwice(t *testing.T) {
	f := newFixture(t)
	err := f.eng.AddMarket(context.Background(), btc)
	assert.ErrorIs(t, err, engine.ErrMarketExists)
	assert.Equal(t, []engine.TradingPair{btc}, f.eng.Markets())
}

func TestEngine_SubmitMarketOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cheap, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Ask, price("100"), dec("2"))
	require.NoError(t, err)
	dear, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Ask, price("101"), dec("5"))
	require.NoError(t, err)

	res, err := f.eng.SubmitMarketOrder(ctx, btc, engine.Bid, dec("3"))
	require.NoError(t, err)
	assert.True(t, res.Order.IsFilled())
	require.Len(t, res.Trades, 2)
	assert.Equal(t, cheap.ID, res.Trades[0].MakerOrderID)
	assert.True(t, res.Trades[0].Price.Equal(dec("100")))
	assert.Equal(t, dear.ID, res.Trades[1].MakerOrderID)
	assert.True(t, res.Trades[1].Quantity.Equal(dec("1")))
	assert.Equal(t, domain.Bid, res.Trades[0].TakerSide)

	// makers updated in the repository
	rec, _ := f.repo.Order(cheap.ID)
	assert.Equal(t, domain.Filled, rec.Status)
	rec, _ = f.repo.Order(dear.ID)
	assert.Equal(t, domain.PartiallyFilled, rec.Status)
	assert.True(t, rec.Remaining.Equal(dec("4")))

	trades, err := f.eng.GetTradesForOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Len(t, trades, 2)

	assert.Len(t, f.pub.Trades(), 2)

	snap, err := f.eng.GetOrderbook(ctx, btc, 0)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Price.Equal(dec("101")))
	assert.True(t, snap.Asks[0].Volume.Equal(dec("4")))

	assert.Equal(t, 2.0, testutil.ToFloat64(f.met.Fills.WithLabelValues("BTC/USD")))
}

func TestEngine_MarketOrderWithoutLiquidity(t *testing.T) {
	f := newFixture(t)
	res, err := f.eng.SubmitMarketOrder(context.Background(), btc, engine.Ask, dec("5"))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.True(t, res.Order.Remaining.Equal(dec("5")))
	assert.Empty(t, f.pub.Trades())
}

func TestEngine_GetOrderbookDepth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		_, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Bid, price(fmt.Sprint(100+i)), dec("1"))
		require.NoError(t, err)
	}

	snap, err := f.eng.GetOrderbook(ctx, btc, 2)
	require.NoError(t, err)
	require.Len(t, snap.Bids, 2)
	assert.True(t, snap.Bids[0].Price.Equal(dec("105")))
	assert.True(t, snap.Bids[1].Price.Equal(dec("104")))

	// truncation does not leak into the cache
	cached, _ := f.cache.GetOrderbook(ctx, "BTC/USD")
	assert.Len(t, cached.Bids, 5)
}

func TestEngine_LoadOpenOrdersFromRepo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Ask, price("100"), dec("2"))
	require.NoError(t, err)
	second, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Ask, price("100"), dec("3"))
	require.NoError(t, err)
	_, err = f.eng.SubmitMarketOrder(ctx, btc, engine.Bid, dec("2.5"))
	require.NoError(t, err)

	restarted := NewEngine(WithRepository(f.repo), WithCache(in_memory.NewCache()))
	require.NoError(t, restarted.AddMarket(ctx, btc))
	require.NoError(t, restarted.LoadOpenOrdersFromRepo(ctx))

	snap, err := restarted.GetOrderbook(ctx, btc, 0)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, 1, snap.Asks[0].Orders)
	assert.True(t, snap.Asks[0].Volume.Equal(dec("2.5")))

	res, err := restarted.SubmitMarketOrder(ctx, btc, engine.Bid, dec("1"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, second.ID, res.Trades[0].MakerOrderID)
	assert.NotEqual(t, first.ID, res.Trades[0].MakerOrderID)
}

func TestEngine_ReplayKeepsQueueOrderWhenClockDisagrees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// every call reads earlier than the last, so timestamps invert arrival
	var mu sync.Mutex
	clock := time.Unix(1_000_000, 0)
	f.eng.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(-time.Second)
		return clock
	}

	a, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Ask, price("100"), dec("1"))
	require.NoError(t, err)
	b, err := f.eng.PlaceLimitOrder(ctx, btc, engine.Ask, price("100"), dec("1"))
	require.NoError(t, err)
	require.True(t, b.CreatedAt.Before(a.CreatedAt))

	recA, _ := f.repo.Order(a.ID)
	recB, _ := f.repo.Order(b.ID)
	assert.Equal(t, uint64(1), recA.Seq)
	assert.Equal(t, uint64(2), recB.Seq)

	restarted := NewEngine(WithRepository(f.repo), WithCache(in_memory.NewCache()))
	require.NoError(t, restarted.AddMarket(ctx, btc))
	require.NoError(t, restarted.LoadOpenOrdersFromRepo(ctx))

	c, err := restarted.PlaceLimitOrder(ctx, btc, engine.Ask, price("100"), dec("1"))
	require.NoError(t, err)
	recC, _ := f.repo.Order(c.ID)
	assert.Equal(t, uint64(3), recC.Seq)

	res, err := restarted.SubmitMarketOrder(ctx, btc, engine.Bid, dec("3"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 3)
	assert.Equal(t, a.ID, res.Trades[0].MakerOrderID)
	assert.Equal(t, b.ID, res.Trades[1].MakerOrderID)
	assert.Equal(t, c.ID, res.Trades[2].MakerOrderID)
}

// brokenRepo fails every maker update and every rollback.
type brokenRepo struct {
	*in_memory.MemoryRepo
}

func (r brokenRepo) BeginTx(ctx context.Context) (port.Tx, error) {
	tx, err := r.MemoryRepo.BeginTx(ctx)
	return brokenTx{tx}, err
}

type brokenTx struct {
	port.Tx
}

func (brokenTx) UpdateRemaining(context.Context, string, decimal.Decimal) error {
	return errors.New("disk full")
}

func (brokenTx) Rollback(context.Context) error { return errors.New("connection reset") }

func TestEngine_FailedPersistenceKeepsBookAndCountsRollback(t *testing.T) {
	repo := brokenRepo{in_memory.NewMemoryRepo()}
	met := metrics.New()
	eng := NewEngine(WithRepository(repo), WithMetrics(met))
	ctx := context.Background()
	require.NoError(t, eng.AddMarket(ctx, btc))

	maker, err := eng.PlaceLimitOrder(ctx, btc, engine.Ask, price("100"), dec("2"))
	require.NoError(t, err)

	res, err := eng.SubmitMarketOrder(ctx, btc, engine.Bid, dec("1"))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)

	assert.Equal(t, 1.0, testutil.ToFloat64(met.SideEffects.WithLabelValues("persist_fills")))
	assert.Equal(t, 1.0, testutil.ToFloat64(met.SideEffects.WithLabelValues("rollback")))

	rec, _ := repo.Order(maker.ID)
	assert.True(t, rec.Remaining.Equal(dec("2")))
	trades, err := eng.GetTradesForOrder(ctx, maker.ID)
	require.NoError(t, err)
	assert.Empty(t, trades)

	snap, err := eng.GetOrderbook(ctx, btc, 0)
	require.NoError(t, err)
	require.Len(t, snap.Asks, 1)
	assert.True(t, snap.Asks[0].Volume.Equal(dec("1")))
}

func TestEngine_ConcurrentMarketsConserveSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	eth := engine.NewTradingPair("ETH", "USD")
	require.NoError(t, f.eng.AddMarket(ctx, eth))

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			pair := btc
			if w%2 == 1 {
				pair = eth
			}
			for i := 0; i < perWorker; i++ {
				_, err := f.eng.PlaceLimitOrder(ctx, pair, engine.Ask, price(fmt.Sprint(100+i%5)), dec("1"))
				assert.NoError(t, err)
				_, err = f.eng.SubmitMarketOrder(ctx, pair, engine.Bid, dec("0.5"))
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	for _, pair := range []engine.TradingPair{btc, eth} {
		snap, err := f.eng.GetOrderbook(ctx, pair, 0)
		require.NoError(t, err)
		total := decimal.Zero
		for _, lv := range snap.Asks {
			total = total.Add(lv.Volume)
		}
		// each market got 4 workers * 50 asks of 1, and as many bids of 0.5
		assert.True(t, total.Equal(dec("100")), "%s resting volume %s", pair, total)
	}
}
