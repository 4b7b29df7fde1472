package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores balances as decimal strings under balance:<account_id>.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) SetBalance(ctx context.Context, accountID uuid.UUID, balance int64, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if err := c.client.Set(ctx, Key(accountID), strconv.FormatInt(balance, 10), ttl).Err(); err != nil {
		return fmt.Errorf("cache balance: %w", err)
	}
	return nil
}

func (c *RedisCache) Balance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	raw, err := c.client.Get(ctx, Key(accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrMiss
	}
	if err != nil {
		return 0, fmt.Errorf("read cached balance: %w", err)
	}
	balance, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode cached balance %q: %w", raw, err)
	}
	return balance, nil
}

// Ping checks connectivity to the cache.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
