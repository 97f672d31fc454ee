package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisConfig selects the Redis server and key holding the record.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Key      string
}

// RedisBackend stores the record under a single Redis key with no expiry.
type RedisBackend struct {
	client redis.Cmdable
	key    string
	closer func() error
}

// NewRedisBackend connects to Redis and verifies the connection.
func NewRedisBackend(ctx context.Context, cfg RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	b := NewRedisBackendWithClient(client, cfg.Key)
	b.closer = client.Close
	return b, nil
}

// NewRedisBackendWithClient wraps an existing client.
func NewRedisBackendWithClient(client redis.Cmdable, key string) *RedisBackend {
	if key == "" {
		key = "catalog:snapshot"
	}
	return &RedisBackend{client: client, key: key}
}

// Get reads the record.
func (b *RedisBackend) Get(ctx context.Context) ([]byte, error) {
	data, err := b.client.Get(ctx, b.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get %s: %w", b.key, err)
	}
	return data, nil
}

// Set writes the record. TTL is enforced by Store, so the key never expires.
func (b *RedisBackend) Set(ctx context.Context, data []byte) error {
	if err := b.client.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", b.key, err)
	}
	return nil
}

// Delete removes the key.
func (b *RedisBackend) Delete(ctx context.Context) error {
	if err := b.client.Del(ctx, b.key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", b.key, err)
	}
	return nil
}

// Exists reports whether the key is present.
func (b *RedisBackend) Exists(ctx context.Context) (bool, error) {
	n, err := b.client.Exists(ctx, b.key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", b.key, err)
	}
	return n > 0, nil
}

// Close releases the client when the backend created it.
func (b *RedisBackend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}
