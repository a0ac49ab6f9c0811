package ephemeral

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces ephemeral keys in a shared Redis.
const DefaultRedisPrefix = "ephemeral:"

// RedisBackend implements Backend on top of a go-redis client.
type RedisBackend struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBackend returns a Backend that stores entries in Redis under prefix.
// An empty prefix uses DefaultRedisPrefix.
func NewRedisBackend(client redis.Cmdable, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(k string) string {
	return b.prefix + k
}

// Exists implements Backend.
func (b *RedisBackend) Exists(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Exists(ctx, b.key(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get implements Backend. redis.Nil is reported as a miss.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := b.client.Get(ctx, b.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

// Set implements Backend.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return b.client.Set(ctx, b.key(key), value, ttl).Err()
}

// SetNX implements Backend using SET NX.
func (b *RedisBackend) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return b.client.SetNX(ctx, b.key(key), value, ttl).Result()
}

// Unlink implements Backend with UNLINK (Redis >= 4.0).
func (b *RedisBackend) Unlink(ctx context.Context, key string) error {
	return b.client.Unlink(ctx, b.key(key)).Err()
}

// Del implements Backend with DEL.
func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.client.Del(ctx, b.key(key)).Err()
}

// PingContext checks Redis reachability. Used for readiness.
func (b *RedisBackend) PingContext(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
