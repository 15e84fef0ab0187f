package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/olyamironova/matching-core/internal/domain"
	"github.com/olyamironova/matching-core/internal/port"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

var _ port.Cache = (*RedisCache)(nil)

type RedisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisCache(addr string, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(rdb, ttl)
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error { return c.client.Close() }

func key(market string) string { return "ob:" + market }

func (c *RedisCache) SetOrderbook(ctx context.Context, market string, ob *domain.OrderbookSnapshot) error {
	b, err := json.Marshal(ob)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", market, err)
	}
	return c.client.Set(ctx, key(market), b, c.ttl).Err()
}

func (c *RedisCache) GetOrderbook(ctx context.Context, market string) (*domain.OrderbookSnapshot, error) {
	b, err := c.client.Get(ctx, key(market)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ob domain.OrderbookSnapshot
	if err := json.Unmarshal(b, &ob); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", market, err)
	}
	return &ob, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, market string) error {
	return c.client.Del(ctx, key(market)).Err()
}
