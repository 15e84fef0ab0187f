package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

// Publisher keeps published trades in memory.
type Publisher struct {
	mu     sync.Mutex
	trades []*domain.Trade
}

var _ port.Publisher = (*Publisher)(nil)

func NewPublisher() *Publisher { return &Publisher{} }

func (p *Publisher) PublishTrades(ctx context.Context, trades []*domain.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, trades...)
	return nil
}

func (p *Publisher) Trades() []*domain.Trade {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.Trade(nil), p.trades...)
}
