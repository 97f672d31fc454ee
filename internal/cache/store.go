// Package cache persists the most recent product snapshot with a freshness TTL.
//
// The Store owns the record format and TTL evaluation; Backends only move raw
// bytes. All backends hold a single record.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

// ErrNotFound is returned by backends when no record is stored.
var ErrNotFound = errors.New("cache record not found")

// DefaultTTL is the freshness window applied when none is configured.
const DefaultTTL = 30 * time.Minute

// Backend stores the raw snapshot record.
type Backend interface {
	Get(ctx context.Context) ([]byte, error)
	Set(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
}

type record struct {
	Timestamp int64             `json:"timestamp"`
	Data      []catalog.Product `json:"data"`
}

// Store layers TTL semantics over a Backend.
type Store struct {
	backend Backend
	ttl     time.Duration
	clock   catalog.Clock
	logger  *zap.Logger
}

// NewStore wraps backend. A non-positive ttl selects DefaultTTL.
func NewStore(backend Backend, ttl time.Duration, clock catalog.Clock, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend: backend,
		ttl:     ttl,
		clock:   clock,
		logger:  logger.Named("cache"),
	}
}

// Load returns the stored snapshot only while it is fresh. An expired record
// is deleted. Unreadable or corrupt records are reported as absent.
func (s *Store) Load(ctx context.Context) (catalog.Snapshot, bool) {
	snap, err := s.read(ctx)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("cache load failed", zap.Error(err))
		}
		return catalog.Snapshot{}, false
	}
	age := s.clock.Now().Sub(snap.CapturedAt)
	if age >= s.ttl {
		s.logger.Info("cache expired", zap.Duration("age", age), zap.Duration("ttl", s.ttl))
		s.Invalidate(ctx)
		return catalog.Snapshot{}, false
	}
	s.logger.Debug("cache hit", zap.Int("items", len(snap.Products)), zap.Duration("age", age))
	return snap, true
}

// Peek returns the stored snapshot regardless of age and never deletes it.
func (s *Store) Peek(ctx context.Context) (catalog.Snapshot, error) {
	snap, err := s.read(ctx)
	if err != nil {
		return catalog.Snapshot{}, err
	}
	return snap, nil
}

// Save replaces the stored record with products stamped at the current time.
func (s *Store) Save(ctx context.Context, products []catalog.Product) error {
	if products == nil {
		products = []catalog.Product{}
	}
	data, err := json.Marshal(record{
		Timestamp: s.clock.Now().UnixMilli(),
		Data:      products,
	})
	if err != nil {
		return catalog.NewError(catalog.KindPersistence, "encode snapshot", "", err)
	}
	if err := s.backend.Set(ctx, data); err != nil {
		return catalog.NewError(catalog.KindPersistence, "save snapshot", "", err)
	}
	s.logger.Info("cache saved", zap.Int("items", len(products)))
	return nil
}

// Invalidate removes the stored record. Failures are logged, never returned.
func (s *Store) Invalidate(ctx context.Context) {
	if err := s.backend.Delete(ctx); err != nil {
		s.logger.Warn("cache invalidate failed", zap.Error(err))
		return
	}
	s.logger.Info("cache invalidated")
}

// Exists reports whether a record is stored, fresh or not.
func (s *Store) Exists(ctx context.Context) bool {
	ok, err := s.backend.Exists(ctx)
	if err != nil {
		s.logger.Warn("cache exists check failed", zap.Error(err))
		return false
	}
	return ok
}

func (s *Store) read(ctx context.Context) (catalog.Snapshot, error) {
	data, err := s.backend.Get(ctx)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return catalog.Snapshot{}, ErrNotFound
		}
		return catalog.Snapshot{}, catalog.NewError(catalog.KindPersistence, "read snapshot", "", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return catalog.Snapshot{}, catalog.NewError(catalog.KindParse, "decode snapshot", "", err)
	}
	if rec.Timestamp <= 0 {
		return catalog.Snapshot{}, catalog.NewError(catalog.KindParse, "decode snapshot", "", fmt.Errorf("missing timestamp"))
	}
	if rec.Data == nil {
		rec.Data = []catalog.Product{}
	}
	return catalog.Snapshot{
		CapturedAt: time.UnixMilli(rec.Timestamp).UTC(),
		Products:   rec.Data,
	}, nil
}
