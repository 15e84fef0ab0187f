package port

import (
	"context"
	"errors"

	"github.com/olyamironova/matching-core/internal/domain"
)

// Publisher hands executed trades to downstream subscribers.
type Publisher interface {
	PublishTrades(ctx context.Context, trades []*domain.Trade) error
}

// Publishers fans trades out to every publisher in order. All are attempted;
// the errors are joined.
type Publishers []Publisher

func (ps Publishers) PublishTrades(ctx context.Context, trades []*domain.Trade) error {
	var errs []error
	for _, p := range ps {
		if err := p.PublishTrades(ctx, trades); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
