package in_memory

import (
	"context"
	"sync"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
)

type Cache struct {
	mu    sync.Mutex
	store map[string]*domain.OrderbookSnapshot
}

var _ port.Cache = (*Cache)(nil)

func NewCache() *Cache {
	return &Cache{store: make(map[string]*domain.OrderbookSnapshot)}
}

func (c *Cache) SetOrderbook(ctx context.Context, market string, ob *domain.OrderbookSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[market] = ob.DeepCopy()
	return nil
}

func (c *Cache) GetOrderbook(ctx context.Context, market string) (*domain.OrderbookSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ob, ok := c.store[market]
	if !ok {
		return nil, nil
	}
	return ob.DeepCopy(), nil
}

func (c *Cache) Invalidate(ctx context.Context, market string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, market)
	return nil
}
