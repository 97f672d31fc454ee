package cache

import (
	"context"
	"fmt"
)

// Backend kinds accepted by Open.
const (
	KindFile     = "file"
	KindMemory   = "memory"
	KindRedis    = "redis"
	KindMemcache = "memcache"
	KindPostgres = "postgres"
)

// BackendConfig selects and configures one backend.
type BackendConfig struct {
	Kind     string
	FilePath string
	Redis    RedisConfig
	Memcache MemcacheConfig
	Postgres PostgresConfig
}

// Open builds the configured backend. The returned close func is never nil.
func Open(ctx context.Context, cfg BackendConfig) (Backend, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Kind {
	case "", KindFile:
		b, err := NewFileBackend(cfg.FilePath)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil
	case KindMemory:
		return NewMemoryBackend(), noop, nil
	case KindRedis:
		b, err := NewRedisBackend(ctx, cfg.Redis)
		if err != nil {
			return nil, noop, err
		}
		return b, b.Close, nil
	case KindMemcache:
		b, err := NewMemcacheBackend(cfg.Memcache)
		if err != nil {
			return nil, noop, err
		}
		return b, noop, nil
	case KindPostgres:
		b, err := NewPostgresBackend(ctx, cfg.Postgres)
		if err != nil {
			return nil, noop, err
		}
		return b, b.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", cfg.Kind)
	}
}
