package fatigue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore is the shared sliding-counter primitive. IncrementWithTTL
// must atomically increment the key and set its expiry only when this call
// created it, so the counter self-clears at the end of its window and
// concurrent increments never lose updates.
type CounterStore interface {
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RedisCounterStore struct {
	client *redis.Client
}

func NewCounterStore(client *redis.Client) CounterStore {
	return &RedisCounterStore{client: client}
}

func (r *RedisCounterStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := r.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// NX: the expiry is only set when the key has none, i.e. on the first
	// increment of the window. Later increments never renew it.
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis INCR failed: %w", err)
	}
	return incr.Val(), nil
}
