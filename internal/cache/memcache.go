package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheConfig selects the memcached servers and key holding the record.
type MemcacheConfig struct {
	Servers []string
	Key     string
}

type memcacheClient interface {
	Get(key string) (*memcache.Item, error)
	Set(item *memcache.Item) error
	Delete(key string) error
}

// MemcacheBackend stores the record as one memcached item. Items are limited
// to the server's maximum item size (1 MiB by default).
type MemcacheBackend struct {
	client memcacheClient
	key    string
}

// NewMemcacheBackend builds a backend over the given servers.
func NewMemcacheBackend(cfg MemcacheConfig) (*MemcacheBackend, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("memcache servers are required")
	}
	return newMemcacheBackend(memcache.New(cfg.Servers...), cfg.Key), nil
}

func newMemcacheBackend(client memcacheClient, key string) *MemcacheBackend {
	if key == "" {
		key = "catalog_snapshot"
	}
	return &MemcacheBackend{client: client, key: key}
}

// Get reads the record.
func (b *MemcacheBackend) Get(_ context.Context) ([]byte, error) {
	item, err := b.client.Get(b.key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("memcache get %s: %w", b.key, err)
	}
	return item.Value, nil
}

// Set writes the record with no expiration.
func (b *MemcacheBackend) Set(_ context.Context, data []byte) error {
	if err := b.client.Set(&memcache.Item{Key: b.key, Value: data}); err != nil {
		return fmt.Errorf("memcache set %s: %w", b.key, err)
	}
	return nil
}

// Delete removes the item. A missing item is not an error.
func (b *MemcacheBackend) Delete(_ context.Context) error {
	if err := b.client.Delete(b.key); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		return fmt.Errorf("memcache delete %s: %w", b.key, err)
	}
	return nil
}

// Exists reports whether the item is present.
func (b *MemcacheBackend) Exists(ctx context.Context) (bool, error) {
	_, err := b.Get(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}
