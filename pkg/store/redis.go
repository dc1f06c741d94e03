package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend implements Backend on a Redis server.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an existing Redis client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Get implements Backend.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: GET %s: %v", ErrBackendUnavailable, key, err)
	}
	return val, nil
}

// Set implements Backend. TTL is applied (and refreshed) on every write.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := b.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: SET %s: %v", ErrBackendUnavailable, key, err)
	}
	return nil
}

// Del implements Backend.
func (b *RedisBackend) Del(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: DEL %s: %v", ErrBackendUnavailable, key, err)
	}
	return nil
}

// TryLock implements Backend via SET NX PX. The lease expires on its own if
// the holder dies, so a crashed replica cannot wedge a conversation.
func (b *RedisBackend) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: SETNX %s: %v", ErrBackendUnavailable, key, err)
	}
	return ok, nil
}

// Unlock implements Backend.
func (b *RedisBackend) Unlock(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: DEL %s: %v", ErrBackendUnavailable, key, err)
	}
	return nil
}

// Ping implements Backend.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: PING: %v", ErrBackendUnavailable, err)
	}
	return nil
}
