// Package server builds the application's dependencies and runs the HTTP
// service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/api"
	"github.com/JakeFAU/catalog-crawler/internal/cache"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/catalogapi"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/catalog-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-crawler/internal/id/uuid"
	"github.com/JakeFAU/catalog-crawler/internal/imagehost"
	"github.com/JakeFAU/catalog-crawler/internal/parser"
	"github.com/JakeFAU/catalog-crawler/internal/publish"
	memorypublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/pubsub"
	redispublisher "github.com/JakeFAU/catalog-crawler/internal/publisher/redis"
	gcsstorage "github.com/JakeFAU/catalog-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/catalog-crawler/internal/storage/memory"
)

// App contains the application's dependencies.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *cache.Store
	crawler  *crawler.Orchestrator
	pipeline *publish.Pipeline
	closers  []namedCloser

	// baseCtx parents background crawls and is canceled by Close.
	baseCtx context.Context
	cancel  context.CancelFunc
}

type namedCloser struct {
	name  string
	close func() error
}

// Crawler returns the crawl orchestrator.
func (a *App) Crawler() *crawler.Orchestrator {
	return a.crawler
}

// Pipeline returns the publication pipeline.
func (a *App) Pipeline() *publish.Pipeline {
	return a.pipeline
}

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Build creates the application's dependencies. Anything opened before a
// failure is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app := &App{cfg: cfg, logger: logger, baseCtx: baseCtx, cancel: cancel}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	app.logger.Info("building application dependencies")
	clock := system.New()
	ids := uuid.New()

	if err = app.setupCache(ctx, clock); err != nil {
		return nil, err
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.Crawler.RequestTimeout,
		Headers:   cfg.DefaultHeaders(),
	})
	app.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Crawler.UserAgent),
		zap.Duration("timeout", cfg.Crawler.RequestTimeout),
	)
	pages, err := app.setupPageFetcher(fetcher)
	if err != nil {
		return nil, err
	}

	events, err := app.setupEvents(ctx)
	if err != nil {
		return nil, err
	}

	app.crawler = crawler.New(
		crawler.Config{
			Sources:      cfg.Crawler.Sources,
			MaxNextPages: cfg.Crawler.MaxNextPages,
			TestMode:     cfg.Crawler.TestMode,
			MaxProducts:  cfg.Crawler.MaxProducts,
			RequestDelay: cfg.Crawler.RequestDelay,
			SourceDelay:  cfg.Crawler.SourceDelay,
		},
		pages,
		parser.New(cfg.Crawler.BaseURL),
		app.store,
		events,
		clock,
		ids,
		logger,
	)
	app.logger.Info("crawler config",
		zap.Int("sources", len(cfg.Crawler.Sources)),
		zap.Int("max_next_pages", cfg.Crawler.MaxNextPages),
		zap.Bool("test_mode", cfg.Crawler.TestMode),
		zap.Duration("request_delay", cfg.Crawler.RequestDelay),
	)

	if err = app.setupPipeline(ctx, fetcher, clock, ids); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *App) setupCache(ctx context.Context, clock catalog.Clock) error {
	c := a.cfg.Cache
	backend, closeBackend, err := cache.Open(ctx, cache.BackendConfig{
		Kind:     c.Backend,
		FilePath: c.Path,
		Redis: cache.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Key:      c.Redis.Key,
		},
		Memcache: cache.MemcacheConfig{Servers: c.Memcache.Addr, Key: c.Memcache.Key},
		Postgres: cache.PostgresConfig{DSN: c.Postgres.DSN, Table: c.Postgres.Table},
	})
	if err != nil {
		return fmt.Errorf("cache backend init failed: %w", err)
	}
	a.closers = append(a.closers, namedCloser{"cache backend", closeBackend})
	a.store = cache.NewStore(backend, c.TTL, clock, a.logger)
	a.logger.Info("cache initialized", zap.String("backend", c.Backend), zap.Duration("ttl", c.TTL))
	return nil
}

// setupPageFetcher returns the fetcher used for listing and detail pages.
func (a *App) setupPageFetcher(fallback catalog.Fetcher) (catalog.Fetcher, error) {
	if a.cfg.Crawler.Fetcher != config.FetcherHeadless {
		return fallback, nil
	}
	h := a.cfg.Crawler.Headless
	f, err := headless.NewChromedp(headless.Config{
		MaxParallel:       h.MaxParallel,
		UserAgent:         a.cfg.Crawler.UserAgent,
		NavigationTimeout: h.NavigationTimeout,
		WaitSelector:      h.WaitSelector,
		Settle:            h.Settle,
		Headers:           a.cfg.DefaultHeaders(),
	})
	if err != nil {
		return nil, fmt.Errorf("headless fetcher init failed: %w", err)
	}
	a.closers = append(a.closers, namedCloser{"headless fetcher", f.Close})
	a.logger.Info("using headless fetcher for pages",
		zap.Int("max_parallel", h.MaxParallel),
		zap.String("wait_selector", h.WaitSelector),
	)
	return f, nil
}

// setupEvents returns a nil publisher when notifications are disabled.
func (a *App) setupEvents(ctx context.Context) (catalog.EventPublisher, error) {
	e := a.cfg.Events
	switch e.Backend {
	case config.EventsMemory:
		a.logger.Info("using in-memory event publisher")
		return memorypublisher.New(100), nil
	case config.EventsRedis:
		pub, err := redispublisher.New(ctx, redispublisher.Config{
			Addr:     e.Redis.Addr,
			Password: e.Redis.Password,
			DB:       e.Redis.DB,
			Stream:   e.Redis.Stream,
			MaxLen:   e.Redis.MaxLen,
		})
		if err != nil {
			return nil, fmt.Errorf("redis publisher init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"redis publisher", pub.Close})
		a.logger.Info("redis event publisher initialized", zap.String("stream", e.Redis.Stream))
		return pub, nil
	case config.EventsPubSub:
		pub, err := gcppublisher.New(ctx, gcppublisher.Config{ProjectID: e.PubSub.ProjectID, TopicID: e.PubSub.Topic})
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"pubsub publisher", pub.Close})
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", e.PubSub.ProjectID),
			zap.String("topic", e.PubSub.Topic),
		)
		return pub, nil
	default:
		a.logger.Info("snapshot events disabled")
		return nil, nil
	}
}

func (a *App) setupPipeline(ctx context.Context, fetcher catalog.Fetcher, clock catalog.Clock, ids catalog.IDGenerator) error {
	client, err := catalogapi.New(catalogapi.Config{BaseURL: a.cfg.Upload.CatalogURL, Timeout: a.cfg.Upload.Timeout})
	if err != nil {
		return fmt.Errorf("catalog api client init failed: %w", err)
	}
	host, err := a.setupImageHost(ctx, ids)
	if err != nil {
		return err
	}
	exports, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Export.Dir})
	if err != nil {
		return fmt.Errorf("export store init failed: %w", err)
	}
	staging, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Upload.TempDir})
	if err != nil {
		return fmt.Errorf("staging store init failed: %w", err)
	}
	a.pipeline, err = publish.New(
		publish.Config{
			Stock:        a.cfg.Upload.Stock,
			ProductDelay: a.cfg.Upload.ProductDelay,
			MemoSize:     a.cfg.ImageHost.MemoSize,
		},
		a.store,
		fetcher,
		client,
		host,
		exports,
		staging,
		clock,
		a.logger,
	)
	if err != nil {
		return fmt.Errorf("publish pipeline init failed: %w", err)
	}
	a.logger.Info("publish pipeline initialized",
		zap.String("catalog_url", a.cfg.Upload.CatalogURL),
		zap.String("export_dir", exports.Root()),
		zap.String("staging_dir", staging.Root()),
	)
	return nil
}

func (a *App) setupImageHost(ctx context.Context, ids catalog.IDGenerator) (publish.ImageHost, error) {
	h := a.cfg.ImageHost
	switch h.Backend {
	case config.ImageHostGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: h.GCS.Bucket, PublicBaseURL: h.GCS.PublicBaseURL})
		if err != nil {
			return nil, fmt.Errorf("gcs image host init failed: %w", err)
		}
		a.closers = append(a.closers, namedCloser{"gcs client", store.Close})
		a.logger.Info("using GCS image host", zap.String("bucket", h.GCS.Bucket))
		return imagehost.NewBlobHost(store, h.GCS.Prefix, ids)
	case config.ImageHostMemory:
		a.logger.Info("using in-memory image host")
		return imagehost.NewBlobHost(memorystorage.NewBlobStore(), h.Folder, ids)
	default:
		host, err := imagehost.NewHTTPHost(imagehost.HTTPConfig{BaseURL: h.URL, Folder: h.Folder, Timeout: h.Timeout})
		if err != nil {
			return nil, fmt.Errorf("http image host init failed: %w", err)
		}
		a.logger.Info("using HTTP image host", zap.String("url", h.URL), zap.String("folder", h.Folder))
		return host, nil
	}
}

// Handler returns the HTTP front end bound to the application's lifetime.
func (a *App) Handler() http.Handler {
	return api.NewServer(
		a.baseCtx,
		api.Config{RequestTimeout: a.cfg.Server.RequestTimeout},
		a.crawler,
		a.pipeline,
		a.logger,
	).Handler()
}

// Run serves HTTP until ctx is canceled, optionally starting a crawl first.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.cfg.Crawler.CrawlOnStart {
		res := a.crawler.StartAsync(a.baseCtx, false)
		a.logger.Info("startup crawl requested", zap.String("outcome", string(res.Outcome)))
	}

	srv := &http.Server{
		Addr:              a.cfg.Addr(),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	grace := a.cfg.Server.ShutdownGrace
	if grace <= 0 {
		grace = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close cancels background work and releases every opened client.
func (a *App) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.close(); err != nil {
			a.logger.Warn(c.name+" close failed", zap.Error(err))
		}
	}
	a.closers = nil
	a.logger.Info("shutdown complete")
}
