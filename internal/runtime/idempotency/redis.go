package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "larkflow:event:"

// RedisStore implements Store on Redis so multiple SDK instances behind a
// load balancer share one deduplication window. SETNX with a TTL gives the
// mark-once semantics atomically.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects a Store to the Redis instance at addr.
func NewRedisStore(addr, password string, db int) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb}
}

// MarkOnce implements Store.
func (s *RedisStore) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return true, nil
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	set, err := s.client.SetNX(ctx, redisKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis mark once: %w", err)
	}
	return set, nil
}

// Seen implements Store.
func (s *RedisStore) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}

	n, err := s.client.Exists(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis seen: %w", err)
	}
	return n > 0, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

// Ping checks connectivity to the backing Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
