package crawler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/catalog"
	"github.com/JakeFAU/catalog-crawler/internal/clock/system"
	"github.com/JakeFAU/catalog-crawler/internal/metrics"
)

// Config governs which sources are crawled and how politely.
type Config struct {
	Sources []string
	// MaxNextPages is the number of follow-up pages requested per source.
	// Zero disables pagination and enables the load-more fallback.
	MaxNextPages int
	TestMode     bool
	// MaxProducts truncates the listing set before enrichment in test mode.
	MaxProducts  int
	RequestDelay time.Duration
	SourceDelay  time.Duration
}

// Outcome describes what a start request did.
type Outcome string

// Start outcomes.
const (
	OutcomeStarted   Outcome = "started"
	OutcomeBusy      Outcome = "busy"
	OutcomeCompleted Outcome = "completed"
	OutcomeCached    Outcome = "cached"
	OutcomeCrawled   Outcome = "crawled"
	OutcomeFailed    Outcome = "failed"
)

// Result is returned by every start request.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Items   int     `json:"items"`
	Err     error   `json:"-"`
}

// RunReport summarizes the most recent run that reached completion.
type RunReport struct {
	RunID          string    `json:"runId"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
	FromCache      bool      `json:"fromCache"`
	Sources        int       `json:"sources"`
	SourceErrors   int       `json:"sourceErrors"`
	Listings       int       `json:"listings"`
	Products       int       `json:"products"`
	DetailFailures int       `json:"detailFailures"`
	MissingURL     int       `json:"missingUrl"`
	LoadMore       bool      `json:"loadMore"`
	SaveError      string    `json:"saveError,omitempty"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State     catalog.CrawlState `json:"state"`
	Running   bool               `json:"isCrawling"`
	Completed bool               `json:"crawlCompleted"`
	Items     int                `json:"dataCount"`
	HasCache  bool               `json:"hasCache"`
	LastRun   *RunReport         `json:"lastRun,omitempty"`
}

// Orchestrator owns the crawl lifecycle and the in-memory product list.
// At most one run executes at a time; the running flag is claimed atomically.
type Orchestrator struct {
	cfg     Config
	fetcher catalog.Fetcher
	parser  catalog.Parser
	store   SnapshotStore
	events  catalog.EventPublisher
	clock   catalog.Clock
	ids     catalog.IDGenerator
	pause   pauseController
	logger  *zap.Logger

	mu      sync.Mutex
	state   catalog.CrawlState
	data    []catalog.Product
	lastRun *RunReport
}

// New builds an Orchestrator. events and ids may be nil.
func New(
	cfg Config,
	fetcher catalog.Fetcher,
	parser catalog.Parser,
	store SnapshotStore,
	events catalog.EventPublisher,
	clock catalog.Clock,
	ids catalog.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if clock == nil {
		clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser,
		store:   store,
		events:  events,
		clock:   clock,
		ids:     ids,
		pause:   &timerPauseController{},
		logger:  logger.Named("crawler"),
		state:   catalog.CrawlIdle,
	}
}

// Start runs a crawl to completion unless one is running or already completed.
func (o *Orchestrator) Start(ctx context.Context) Result {
	if res, ok := o.claim(false); !ok {
		return res
	}
	return o.execute(ctx, false)
}

// Force discards the snapshot and cache, then runs a crawl to completion.
// It returns OutcomeBusy without side effects when a run is in progress.
func (o *Orchestrator) Force(ctx context.Context) Result {
	if res, ok := o.claim(true); !ok {
		return res
	}
	return o.execute(ctx, true)
}

// StartAsync claims the run synchronously and executes it in the background.
func (o *Orchestrator) StartAsync(ctx context.Context, force bool) Result {
	if res, ok := o.claim(force); !ok {
		return res
	}
	go o.execute(ctx, force)
	return Result{Outcome: OutcomeStarted}
}

// Data returns a copy of the current product list.
func (o *Orchestrator) Data() []catalog.Product {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]catalog.Product, len(o.data))
	copy(out, o.data)
	return out
}

// Status reports the lifecycle state, item count and cache presence.
func (o *Orchestrator) Status(ctx context.Context) Status {
	hasCache := o.store.Exists(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{
		State:     o.state,
		Running:   o.state == catalog.CrawlRunning,
		Completed: o.state == catalog.CrawlCompleted,
		Items:     len(o.data),
		HasCache:  hasCache,
	}
	if o.lastRun != nil {
		report := *o.lastRun
		st.LastRun = &report
	}
	return st
}

// LastRun returns the report of the last completed run.
func (o *Orchestrator) LastRun() (RunReport, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastRun == nil {
		return RunReport{}, false
	}
	return *o.lastRun, true
}

func (o *Orchestrator) claim(force bool) (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.state == catalog.CrawlRunning:
		o.logger.Info("crawl already running")
		metrics.ObserveCrawlRun(string(OutcomeBusy))
		return Result{Outcome: OutcomeBusy, Items: len(o.data)}, false
	case o.state == catalog.CrawlCompleted && !force:
		o.logger.Debug("crawl already completed", zap.Int("items", len(o.data)))
		return Result{Outcome: OutcomeCompleted, Items: len(o.data)}, false
	}
	o.state = catalog.CrawlRunning
	if force {
		o.data = nil
	}
	metrics.SetCrawlRunning(true)
	return Result{}, true
}

func (o *Orchestrator) execute(ctx context.Context, force bool) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("crawl panicked", zap.Any("panic", r))
			result = Result{Outcome: OutcomeFailed, Err: fmt.Errorf("crawl panicked: %v", r)}
		}
		o.mu.Lock()
		if o.state == catalog.CrawlRunning {
			o.state = catalog.CrawlIdle
		}
		o.mu.Unlock()
		metrics.SetCrawlRunning(false)
		metrics.ObserveCrawlRun(string(result.Outcome))
	}()

	if force {
		o.logger.Info("forced re-crawl, invalidating cache")
		o.store.Invalidate(ctx)
	}

	if snap, ok := o.store.Load(ctx); ok {
		now := o.clock.Now()
		o.complete(snap.Products, RunReport{
			RunID:      o.newRunID(),
			StartedAt:  now,
			FinishedAt: now,
			FromCache:  true,
			Products:   len(snap.Products),
		})
		o.logger.Info("using cached snapshot",
			zap.Int("items", len(snap.Products)),
			zap.Time("captured_at", snap.CapturedAt),
		)
		return Result{Outcome: OutcomeCached, Items: len(snap.Products)}
	}

	return o.crawl(ctx)
}

func (o *Orchestrator) crawl(ctx context.Context) Result {
	report := RunReport{
		RunID:     o.newRunID(),
		StartedAt: o.clock.Now(),
		Sources:   len(o.cfg.Sources),
	}
	logger := o.logger.With(zap.String("run_id", report.RunID))
	logger.Info("crawl started", zap.Int("sources", report.Sources), zap.Int("max_next_pages", o.cfg.MaxNextPages))

	listings, last := o.collect(ctx, logger, &report)
	if err := ctx.Err(); err != nil {
		logger.Warn("crawl canceled during listing collection", zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: err}
	}
	report.Listings = len(listings)

	if o.cfg.TestMode && o.cfg.MaxProducts > 0 && len(listings) > o.cfg.MaxProducts {
		logger.Info("test mode truncating listings", zap.Int("from", len(listings)), zap.Int("to", o.cfg.MaxProducts))
		listings = listings[:o.cfg.MaxProducts]
	}

	products := o.enrich(ctx, logger, listings, &report)
	if err := ctx.Err(); err != nil {
		logger.Warn("crawl canceled during enrichment", zap.Error(err))
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	if o.cfg.MaxNextPages == 0 && last.ok {
		if product, ok := o.loadMore(ctx, logger, last); ok {
			products = append(products, product)
			report.LoadMore = true
		}
	}

	report.Products = len(products)
	report.FinishedAt = o.clock.Now()
	if err := o.store.Save(ctx, products); err != nil {
		logger.Error("snapshot save failed", zap.Error(err))
		report.SaveError = err.Error()
	}
	o.complete(products, report)
	o.notify(ctx, logger, report)

	logger.Info("crawl completed",
		zap.Int("products", report.Products),
		zap.Int("source_errors", report.SourceErrors),
		zap.Int("detail_failures", report.DetailFailures),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return Result{Outcome: OutcomeCrawled, Items: len(products)}
}

type lastListing struct {
	source string
	page   catalog.FetchResponse
	ok     bool
}

func (o *Orchestrator) collect(ctx context.Context, logger *zap.Logger, report *RunReport) ([]catalog.ListingStub, lastListing) {
	var (
		all  []catalog.ListingStub
		last lastListing
	)
	for i, source := range o.cfg.Sources {
		stubs, page, err := o.collectSource(ctx, logger, source)
		if err != nil {
			report.SourceErrors++
			logger.Warn("source failed", zap.String("source", source), zap.Error(err))
		} else {
			all = append(all, stubs...)
			last = lastListing{source: source, page: page, ok: true}
			logger.Info("source collected", zap.String("source", source), zap.Int("listings", len(stubs)))
		}
		if ctx.Err() != nil {
			break
		}
		if i < len(o.cfg.Sources)-1 {
			o.pause.Pause(ctx, o.cfg.SourceDelay)
		}
	}
	return all, last
}

// collectSource gathers the first page of source plus up to MaxNextPages
// follow-up pages. It stops on an empty page, a page with no unseen URLs, or a
// failed follow-up fetch. Only a failed first page is an error.
func (o *Orchestrator) collectSource(
	ctx context.Context,
	logger *zap.Logger,
	source string,
) ([]catalog.ListingStub, catalog.FetchResponse, error) {
	first, err := o.fetchListing(ctx, source, false)
	if err != nil {
		return nil, catalog.FetchResponse{}, err
	}
	stubs := o.parser.ParseListing(first)
	seen := make(map[string]struct{}, len(stubs))
	for _, s := range stubs {
		if s.URL != "" {
			seen[s.URL] = struct{}{}
		}
	}
	last := first

	for page := 2; page <= o.cfg.MaxNextPages+1; page++ {
		target := numberedPageURL(source, page)
		resp, err := o.fetchListing(ctx, target, true)
		if err != nil {
			logger.Warn("pagination stopped on fetch error", zap.String("url", target), zap.Error(err))
			break
		}
		last = resp
		next := o.parser.ParseListing(resp)
		if len(next) == 0 {
			logger.Debug("pagination stopped on empty page", zap.String("url", target))
			break
		}
		unique := make([]catalog.ListingStub, 0, len(next))
		for _, s := range next {
			if s.URL == "" {
				unique = append(unique, s)
				continue
			}
			if _, dup := seen[s.URL]; !dup {
				unique = append(unique, s)
			}
		}
		if len(unique) == 0 {
			logger.Debug("pagination stopped on repeated page", zap.String("url", target))
			break
		}
		for _, s := range unique {
			if s.URL != "" {
				seen[s.URL] = struct{}{}
			}
		}
		stubs = append(stubs, unique...)
		if page <= o.cfg.MaxNextPages {
			o.pause.Pause(ctx, o.cfg.RequestDelay)
		}
	}
	return stubs, last, nil
}

func (o *Orchestrator) enrich(
	ctx context.Context,
	logger *zap.Logger,
	listings []catalog.ListingStub,
	report *RunReport,
) []catalog.Product {
	products := make([]catalog.Product, 0, len(listings))
	for i, stub := range listings {
		if ctx.Err() != nil {
			break
		}
		if stub.URL == "" {
			report.MissingURL++
			metrics.ObserveEnrichment("no_url")
			products = append(products, catalog.WithStatus(stub, catalog.StatusNoURL))
			continue
		}
		detail, err := o.fetchDetail(ctx, stub.URL)
		if err != nil {
			report.DetailFailures++
			metrics.ObserveEnrichment("error")
			logger.Warn("detail fetch failed", zap.Int("index", i), zap.String("url", stub.URL), zap.Error(err))
			products = append(products, catalog.WithStatus(stub, catalog.StatusDetailFetchFailed))
			continue
		}
		metrics.ObserveEnrichment("ok")
		products = append(products, catalog.Merge(stub, detail))
	}
	return products
}

func (o *Orchestrator) loadMore(ctx context.Context, logger *zap.Logger, last lastListing) (catalog.Product, bool) {
	pageNo, ok := o.parser.LoadMorePage(last.page)
	if !ok {
		return catalog.Product{}, false
	}
	target := pageURL(last.source, pageNo)
	resp, err := o.fetchListing(ctx, target, true)
	if err != nil {
		logger.Warn("load-more fetch failed", zap.String("url", target), zap.Error(err))
		return catalog.Product{}, false
	}
	stubs := o.parser.ParseListing(resp)
	if len(stubs) == 0 || stubs[0].URL == "" {
		logger.Debug("load-more page had no usable listing", zap.String("url", target))
		return catalog.Product{}, false
	}
	detail, err := o.fetchDetail(ctx, stubs[0].URL)
	if err != nil {
		logger.Warn("load-more detail fetch failed", zap.String("url", stubs[0].URL), zap.Error(err))
		return catalog.Product{}, false
	}
	logger.Info("load-more product added", zap.String("url", stubs[0].URL))
	return catalog.Merge(stubs[0], detail), true
}

func (o *Orchestrator) fetchListing(ctx context.Context, target string, paginated bool) (catalog.FetchResponse, error) {
	req := catalog.FetchRequest{URL: target}
	if paginated {
		req.Headers = paginationHeaders()
	}
	resp, err := o.fetcher.Fetch(ctx, req)
	if err != nil {
		metrics.ObservePage(target, "listing", "error")
		return catalog.FetchResponse{}, catalog.NewError(catalog.KindFetch, "fetch listing", target, err)
	}
	metrics.ObservePage(target, "listing", "ok")
	return resp, nil
}

func (o *Orchestrator) fetchDetail(ctx context.Context, target string) (catalog.ProductDetail, error) {
	resp, err := o.fetcher.Fetch(ctx, catalog.FetchRequest{URL: target})
	if err != nil {
		metrics.ObservePage(target, "detail", "error")
		return catalog.ProductDetail{}, catalog.NewError(catalog.KindFetch, "fetch detail", target, err)
	}
	metrics.ObservePage(target, "detail", "ok")
	return o.parser.ParseDetail(resp), nil
}

func (o *Orchestrator) complete(products []catalog.Product, report RunReport) {
	if products == nil {
		products = []catalog.Product{}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.data = products
	o.state = catalog.CrawlCompleted
	o.lastRun = &report
	metrics.SetSnapshotProducts(len(products))
}

func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, report RunReport) {
	if o.events == nil {
		return
	}
	event := catalog.SnapshotEvent{
		RunID:          report.RunID,
		CapturedAt:     report.FinishedAt,
		Items:          report.Products,
		SourceErrors:   report.SourceErrors,
		DetailFailures: report.DetailFailures,
	}
	id, err := o.events.Publish(ctx, catalog.TopicSnapshotSaved, event)
	if err != nil {
		logger.Warn("snapshot event publish failed", zap.Error(err))
		return
	}
	logger.Debug("snapshot event published", zap.String("message_id", id))
}

func (o *Orchestrator) newRunID() string {
	if o.ids == nil {
		return ""
	}
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}
