package port

import (
	"context"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/shopspring/decimal"
)

type Repository interface {
	SaveOrder(ctx context.Context, o *domain.Order) error
	// LoadOpenOrders returns resting orders of a market oldest first.
	LoadOpenOrders(ctx context.Context, market string) ([]*domain.Order, error)
	LoadTradesForOrder(ctx context.Context, orderID string) ([]*domain.Trade, error)
	BeginTx(ctx context.Context) (Tx, error)
}

type Tx interface {
	SaveTrade(ctx context.Context, t *domain.Trade) error
	UpdateRemaining(ctx context.Context, orderID string, remaining decimal.Decimal) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
