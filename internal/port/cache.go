package port

import (
	"context"

	"github.com/olyamironova/matching-core/internal/domain"
)

type Cache interface {
	SetOrderbook(ctx context.Context, market string, ob *domain.OrderbookSnapshot) error
	// GetOrderbook returns (nil, nil) on a miss.
	GetOrderbook(ctx context.Context, market string) (*domain.OrderbookSnapshot, error)
	Invalidate(ctx context.Context, market string) error
}
