// Package publish exports the persisted product snapshot to a local folder
// tree and uploads it to the downstream catalog service.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/cache"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
)

// Sentinel errors surfaced to callers.
var (
	ErrNoData       = errors.New("no product data available")
	ErrInvalidIndex = errors.New("invalid product index")
)

// SnapshotSource returns the persisted snapshot without expiring it.
type SnapshotSource interface {
	Peek(ctx context.Context) (catalog.Snapshot, error)
}

// CatalogClient creates products and their associations downstream.
type CatalogClient interface {
	CreateProduct(ctx context.Context, draft catalog.ProductDraft) (string, error)
	CreateAttribute(ctx context.Context, productID, name, value string) error
	CreateImage(ctx context.Context, productID, imageURL string) error
}

// ImageHost uploads a local file and returns its public URL.
type ImageHost interface {
	Upload(ctx context.Context, localPath string) (string, error)
}

// BlobStore is a rooted local directory.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
	EnsureDir(ctx context.Context, path string) (string, error)
	Path(path string) (string, error)
	Remove(path string) error
	Root() string
}

// Config tunes the pipeline.
type Config struct {
	Stock        int
	ProductDelay time.Duration
	// MemoSize bounds the cache of source image URL to hosted URL. Zero disables it.
	MemoSize int
}

// Pipeline runs exports and uploads. Upload statistics persist across calls
// until reset.
type Pipeline struct {
	cfg      Config
	source   SnapshotSource
	fetcher  catalog.Fetcher
	api      CatalogClient
	host     ImageHost
	exports  BlobStore
	staging  BlobStore
	clock    catalog.Clock
	logger   *zap.Logger
	memo     *lru.Cache[string, string]
	pauseFor func(ctx context.Context, d time.Duration)

	mu    sync.Mutex
	stats catalog.UploadStats
}

// New builds a Pipeline.
func New(
	cfg Config,
	source SnapshotSource,
	fetcher catalog.Fetcher,
	api CatalogClient,
	host ImageHost,
	exports BlobStore,
	staging BlobStore,
	clock catalog.Clock,
	logger *zap.Logger,
) (*Pipeline, error) {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		cfg:      cfg,
		source:   source,
		fetcher:  fetcher,
		api:      api,
		host:     host,
		exports:  exports,
		staging:  staging,
		clock:    clock,
		logger:   logger.Named("publish"),
		pauseFor: pause,
		stats:    catalog.UploadStats{Errors: []catalog.UploadError{}},
	}
	if cfg.MemoSize > 0 {
		memo, err := lru.New[string, string](cfg.MemoSize)
		if err != nil {
			return nil, fmt.Errorf("create hosted image memo: %w", err)
		}
		p.memo = memo
	}
	return p, nil
}

// Stats returns a copy of the accumulated upload statistics.
func (p *Pipeline) Stats() catalog.UploadStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats.Clone()
}

// ResetStats clears the accumulated upload statistics.
func (p *Pipeline) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = catalog.UploadStats{Errors: []catalog.UploadError{}}
}

func (p *Pipeline) products(ctx context.Context) ([]catalog.Product, error) {
	snap, err := p.source.Peek(ctx)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			p.logger.Warn("snapshot unreadable", zap.Error(err))
		}
		return nil, ErrNoData
	}
	if len(snap.Products) == 0 {
		return nil, ErrNoData
	}
	return snap.Products, nil
}

func (p *Pipeline) recordError(kind, name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.Errors = append(p.stats.Errors, catalog.UploadError{Type: kind, Name: name, Message: err.Error()})
}

func pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
