package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"triage/internal/constants"
)

// Store is the recency store backing duplicate detection. SetNX must be a
// single atomic conditional set: a concurrent check-then-set for the same
// fingerprint must never let two identical events both pass.
type Store interface {
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
	AddRecent(ctx context.Context, userID string, entry RecentEntry, window time.Duration) error
	RecentEntries(ctx context.Context, userID string, since time.Time) ([]RecentEntry, error)
}

type RedisStore struct {
	client *redis.Client
}

func NewStore(client *redis.Client) Store {
	return &RedisStore{client: client}
}

func (r *RedisStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	success, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis SetNX failed: %w", err)
	}
	return success, nil
}

func (r *RedisStore) AddRecent(ctx context.Context, userID string, entry RecentEntry, window time.Duration) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal recent entry: %w", err)
	}

	key := constants.CacheKeyPrefixNear + userID

	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(entry.Timestamp.Unix()),
		Member: member,
	})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis ZADD failed: %w", err)
	}
	return nil
}

func (r *RedisStore) RecentEntries(ctx context.Context, userID string, since time.Time) ([]RecentEntry, error) {
	key := constants.CacheKeyPrefixNear + userID
	cutoff := strconv.FormatInt(since.Unix(), 10)

	// Lazy prune: expired sightings are dropped on read.
	if err := r.client.ZRemRangeByScore(ctx, key, "-inf", "("+cutoff).Err(); err != nil {
		return nil, fmt.Errorf("redis ZREMRANGEBYSCORE failed: %w", err)
	}

	members, err := r.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: cutoff,
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ZRANGEBYSCORE failed: %w", err)
	}

	entries := make([]RecentEntry, 0, len(members))
	for _, member := range members {
		var entry RecentEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
