package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/engine"
	"github.com/olyamironova/matching-core/internal/port"
)

func buildSnapshot(pair engine.TradingPair, ob *engine.Orderbook, depth int, ts time.Time) *domain.OrderbookSnapshot {
	bids, asks := ob.Depth(depth)
	return &domain.OrderbookSnapshot{
		Market:    pair.String(),
		Bids:      toLevels(bids),
		Asks:      toLevels(asks),
		Timestamp: ts,
	}
}

func toLevels(in []engine.LevelDepth) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(in))
	for i, lv := range in {
		out[i] = domain.PriceLevel{
			Price:  lv.Price.Decimal(),
			Volume: lv.Volume,
			Orders: lv.Orders,
		}
	}
	return out
}

func cachedSnapshot(ctx context.Context, cache port.Cache, market string) *domain.OrderbookSnapshot {
	if cache == nil {
		return nil
	}
	if ob, err := cache.GetOrderbook(ctx, market); err == nil && ob != nil {
		return ob
	}
	return nil
}

func toTrades(pair engine.TradingPair, fills []engine.Fill, ts time.Time) []*domain.Trade {
	out := make([]*domain.Trade, 0, len(fills))
	for _, f := range fills {
		out = append(out, &domain.Trade{
			ID:           uuid.NewString(),
			Market:       pair.String(),
			MakerOrderID: f.MakerOrderID,
			TakerOrderID: f.TakerOrderID,
			TakerSide:    domain.Side(f.TakerSide),
			Price:        f.Price.Decimal(),
			Quantity:     f.Quantity,
			Timestamp:    ts,
		})
	}
	return out
}

func toRecord(pair engine.TradingPair, price engine.Price, o *engine.Order, seq uint64) *domain.Order {
	return &domain.Order{
		ID:        o.ID,
		Market:    pair.String(),
		Seq:       seq,
		Side:      domain.Side(o.Side),
		Price:     price.Decimal(),
		Size:      o.Size,
		Remaining: o.Remaining,
		Status:    domain.StatusFor(o.Size, o.Remaining),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.CreatedAt,
	}
}
