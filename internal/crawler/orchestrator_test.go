package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-crawler/internal/cache"
	"github.com/JakeFAU/catalog-crawler/internal/catalog"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDs) NewID() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("run-%d", f.n), nil
}

// fakeFetcher echoes the requested URL as the body unless an error is registered.
type fakeFetcher struct {
	mu     sync.Mutex
	errs   map[string]error
	calls  []catalog.FetchRequest
	block  chan struct{}
	inside chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{errs: map[string]error{}}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	err := f.errs[req.URL]
	block := f.block
	inside := f.inside
	f.mu.Unlock()
	if block != nil {
		if inside != nil {
			select {
			case inside <- struct{}{}:
			default:
			}
		}
		select {
		case <-block:
		case <-ctx.Done():
			return catalog.FetchResponse{}, ctx.Err()
		}
	}
	if err != nil {
		return catalog.FetchResponse{}, err
	}
	return catalog.FetchResponse{URL: req.URL, StatusCode: 200, Body: []byte(req.URL)}, nil
}

func (f *fakeFetcher) fail(url string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[url] = &catalog.HTTPStatusError{URL: url, StatusCode: 500}
}

func (f *fakeFetcher) urls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.URL)
	}
	return out
}

func (f *fakeFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeParser maps page URLs to canned results.
type fakeParser struct {
	listings map[string][]catalog.ListingStub
	loadMore map[string]string
	panicOn  string
}

func newFakeParser() *fakeParser {
	return &fakeParser{listings: map[string][]catalog.ListingStub{}, loadMore: map[string]string{}}
}

func (p *fakeParser) ParseListing(page catalog.FetchResponse) []catalog.ListingStub {
	if p.panicOn != "" && page.URL == p.panicOn {
		panic("unexpected markup")
	}
	return p.listings[page.URL]
}

func (p *fakeParser) ParseDetail(page catalog.FetchResponse) catalog.ProductDetail {
	return catalog.ProductDetail{
		SKU:    catalog.LabeledValue{Name: catalog.LabelSKU, Value: "sku:" + page.URL},
		Images: []string{page.URL + "/img.jpg"},
	}
}

func (p *fakeParser) LoadMorePage(page catalog.FetchResponse) (string, bool) {
	v, ok := p.loadMore[page.URL]
	return v, ok
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingPauser) Pause(_ context.Context, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func (r *recordingPauser) count(d time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, v := range r.delays {
		if v == d {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []catalog.SnapshotEvent
	topics []string
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.events = append(r.events, payload.(catalog.SnapshotEvent))
	return "msg-1", nil
}

const (
	requestDelay = time.Second
	sourceDelay  = 2 * time.Second
)

type harness struct {
	orch    *Orchestrator
	fetcher *fakeFetcher
	parser  *fakeParser
	store   *cache.Store
	backend *cache.MemoryBackend
	clock   *fakeClock
	pauser  *recordingPauser
	events  *recordingPublisher
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	if cfg.RequestDelay == 0 {
		cfg.RequestDelay = requestDelay
	}
	if cfg.SourceDelay == 0 {
		cfg.SourceDelay = sourceDelay
	}
	h := &harness{
		fetcher: newFakeFetcher(),
		parser:  newFakeParser(),
		backend: cache.NewMemoryBackend(),
		clock:   &fakeClock{now: time.UnixMilli(1_700_000_000_000).UTC()},
		pauser:  &recordingPauser{},
		events:  &recordingPublisher{},
	}
	h.store = cache.NewStore(h.backend, time.Hour, h.clock, nil)
	h.orch = New(cfg, h.fetcher, h.parser, h.store, h.events, h.clock, &fakeIDs{}, nil)
	h.orch.pause = h.pauser
	return h
}

func stubs(prefix string, n int) []catalog.ListingStub {
	out := make([]catalog.ListingStub, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, catalog.ListingStub{
			Title: fmt.Sprintf("%s %d", prefix, i),
			Price: "100.000đ",
			URL:   fmt.Sprintf("https://shop.test/products/%s-%d", prefix, i),
		})
	}
	return out
}

func TestStartTwoSourcesEndToEnd(t *testing.T) {
	t.Parallel()

	const srcA, srcB = "https://shop.test/collections/a", "https://shop.test/collections/b"
	h := newHarness(t, Config{Sources: []string{srcA, srcB}, MaxNextPages: 1})
	a := stubs("a", 3)
	b := stubs("b", 2)
	h.parser.listings[srcA] = a
	h.parser.listings[srcA+"?page=2"] = nil
	h.parser.listings[srcB] = b
	h.parser.listings[srcB+"?page=2"] = b
	h.fetcher.fail(b[1].URL)

	res := h.orch.Start(context.Background())
	require.Equal(t, OutcomeCrawled, res.Outcome)
	require.Equal(t, 5, res.Items)

	data := h.orch.Data()
	require.Len(t, data, 5)
	for i, p := range data[:4] {
		require.True(t, p.Enriched(), "product %d", i)
		require.Equal(t, "sku:"+p.URL, p.SKU.Value)
	}
	require.Equal(t, b[1].Title, data[4].Title)
	require.Equal(t, catalog.StatusDetailFetchFailed, data[4].Status.Value)
	require.NotContains(t, h.fetcher.urls(), srcA+"?page=3")

	st := h.orch.Status(context.Background())
	require.Equal(t, catalog.CrawlCompleted, st.State)
	require.True(t, st.Completed)
	require.False(t, st.Running)
	require.Equal(t, 5, st.Items)
	require.True(t, st.HasCache)
	require.NotNil(t, st.LastRun)
	require.Equal(t, 1, st.LastRun.DetailFailures)
	require.Equal(t, "run-1", st.LastRun.RunID)

	snap, ok := h.store.Load(context.Background())
	require.True(t, ok)
	require.Equal(t, data, snap.Products)

	require.Equal(t, 1, h.pauser.count(sourceDelay))
	require.Equal(t, []string{catalog.TopicSnapshotSaved}, h.events.topics)
	require.Equal(t, 5, h.events.events[0].Items)
	require.Equal(t, 1, h.events.events[0].DetailFailures)
}

func TestPaginationStopsOnRepeatedPage(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/collections/sale"
	h := newHarness(t, Config{Sources: []string{src}, MaxNextPages: 3})
	page := stubs("s", 2)
	h.parser.listings[src] = page
	h.parser.listings[src+"?page=2"] = page
	h.parser.listings[src+"?page=3"] = stubs("never", 1)

	res := h.orch.Start(context.Background())
	require.Equal(t, 2, res.Items)
	require.NotContains(t, h.fetcher.urls(), src+"?page=3")
}

func TestPaginationAppendsOnlyUnseenListings(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/collections/sale"
	h := newHarness(t, Config{Sources: []string{src}, MaxNextPages: 2})
	first := stubs("s", 2)
	h.parser.listings[src] = first
	h.parser.listings[src+"?page=2"] = append([]catalog.ListingStub{first[0]}, stubs("t", 1)...)
	h.parser.listings[src+"?page=3"] = stubs("u", 1)

	h.orch.Start(context.Background())
	titles := []string{}
	for _, p := range h.orch.Data() {
		titles = append(titles, p.Title)
	}
	require.Equal(t, []string{"s 1", "s 2", "t 1", "u 1"}, titles)
	require.Equal(t, 1, h.pauser.count(requestDelay), "request delay applies only before another page")
}

func TestPaginationStopsOnEmptyPageAndFollowUpFailure(t *testing.T) {
	t.Parallel()

	const srcA, srcB = "https://shop.test/collections/a", "https://shop.test/collections/b"
	h := newHarness(t, Config{Sources: []string{srcA, srcB}, MaxNextPages: 3})
	h.parser.listings[srcA] = stubs("a", 1)
	h.parser.listings[srcA+"?page=3"] = stubs("late", 1)
	h.parser.listings[srcB] = stubs("b", 1)
	h.fetcher.fail(srcB + "?page=2")

	res := h.orch.Start(context.Background())
	require.Equal(t, 2, res.Items)
	require.NotContains(t, h.fetcher.urls(), srcA+"?page=3")
	require.NotContains(t, h.fetcher.urls(), srcB+"?page=3")

	report, ok := h.orch.LastRun()
	require.True(t, ok)
	require.Zero(t, report.SourceErrors)
}

func TestSourceFailureDoesNotAbortCrawl(t *testing.T) {
	t.Parallel()

	srcs := []string{"https://shop.test/c/1", "https://shop.test/c/2", "https://shop.test/c/3"}
	h := newHarness(t, Config{Sources: srcs})
	h.parser.listings[srcs[0]] = stubs("one", 1)
	h.parser.listings[srcs[2]] = stubs("three", 2)
	h.fetcher.fail(srcs[1])

	res := h.orch.Start(context.Background())
	require.Equal(t, OutcomeCrawled, res.Outcome)
	require.Equal(t, 3, res.Items)

	report, _ := h.orch.LastRun()
	require.Equal(t, 1, report.SourceErrors)
	require.Equal(t, 3, report.Sources)
	require.Equal(t, 2, h.pauser.count(sourceDelay))
}

func TestEnrichmentSentinels(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	list := stubs("p", 2)
	list = append(list, catalog.ListingStub{Title: "no link"})
	h.parser.listings[src] = list
	h.fetcher.fail(list[0].URL)

	h.orch.Start(context.Background())
	data := h.orch.Data()
	require.Len(t, data, 3)
	require.Equal(t, catalog.StatusDetailFetchFailed, data[0].Status.Value)
	require.Equal(t, list[0], data[0].ListingStub)
	require.True(t, data[1].Enriched())
	require.Equal(t, catalog.StatusNoURL, data[2].Status.Value)

	report, _ := h.orch.LastRun()
	require.Equal(t, 1, report.DetailFailures)
	require.Equal(t, 1, report.MissingURL)
}

func TestTestModeTruncatesBeforeEnrichment(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}, TestMode: true, MaxProducts: 1})
	list := stubs("p", 3)
	h.parser.listings[src] = list

	res := h.orch.Start(context.Background())
	require.Equal(t, 1, res.Items)
	urls := h.fetcher.urls()
	require.Contains(t, urls, list[0].URL)
	require.NotContains(t, urls, list[1].URL)
	require.NotContains(t, urls, list[2].URL)
}

func TestCacheHitSkipsFetching(t *testing.T) {
	t.Parallel()

	h := newHarness(t, Config{Sources: []string{"https://shop.test/c"}})
	cached := []catalog.Product{catalog.Merge(stubs("cached", 1)[0], catalog.ProductDetail{})}
	require.NoError(t, h.store.Save(context.Background(), cached))

	res := h.orch.Start(context.Background())
	require.Equal(t, OutcomeCached, res.Outcome)
	require.Equal(t, 1, res.Items)
	require.Zero(t, h.fetcher.count())
	require.Equal(t, cached[0].Title, h.orch.Data()[0].Title)

	report, ok := h.orch.LastRun()
	require.True(t, ok)
	require.True(t, report.FromCache)
	require.Empty(t, h.events.topics)
}

func TestExpiredCacheTriggersCrawl(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.listings[src] = stubs("fresh", 1)
	require.NoError(t, h.store.Save(context.Background(), []catalog.Product{}))
	h.clock.Advance(2 * time.Hour)

	res := h.orch.Start(context.Background())
	require.Equal(t, OutcomeCrawled, res.Outcome)
	require.NotZero(t, h.fetcher.count())
}

func TestStartAfterCompletionIsNoop(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.listings[src] = stubs("p", 1)

	require.Equal(t, OutcomeCrawled, h.orch.Start(context.Background()).Outcome)
	calls := h.fetcher.count()

	res := h.orch.Start(context.Background())
	require.Equal(t, OutcomeCompleted, res.Outcome)
	require.Equal(t, 1, res.Items)
	require.Equal(t, calls, h.fetcher.count())
}

func TestConcurrentStartReturnsBusy(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.listings[src] = stubs("p", 1)
	h.fetcher.block = make(chan struct{})
	h.fetcher.inside = make(chan struct{}, 1)

	done := make(chan Result, 1)
	go func() { done <- h.orch.Start(context.Background()) }()
	<-h.fetcher.inside

	require.True(t, h.orch.Status(context.Background()).Running)
	require.Equal(t, OutcomeBusy, h.orch.Start(context.Background()).Outcome)
	require.Equal(t, OutcomeBusy, h.orch.Force(context.Background()).Outcome)
	require.Equal(t, OutcomeBusy, h.orch.StartAsync(context.Background(), true).Outcome)

	close(h.fetcher.block)
	res := <-done
	require.Equal(t, OutcomeCrawled, res.Outcome)
	require.Equal(t, 1, res.Items)
	require.False(t, h.orch.Status(context.Background()).Running)
}

func TestForceReplacesSnapshot(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.listings[src] = stubs("old", 2)
	require.Equal(t, OutcomeCrawled, h.orch.Start(context.Background()).Outcome)

	h.parser.listings[src] = stubs("new", 1)
	res := h.orch.Force(context.Background())
	require.Equal(t, OutcomeCrawled, res.Outcome)
	require.Equal(t, 1, res.Items)
	require.Equal(t, "new 1", h.orch.Data()[0].Title)

	snap, ok := h.store.Load(context.Background())
	require.True(t, ok)
	require.Len(t, snap.Products, 1)
	require.Len(t, h.events.topics, 2)
}

func TestForceFromIdleInvalidatesCache(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.listings[src] = stubs("live", 1)
	require.NoError(t, h.store.Save(context.Background(), []catalog.Product{{}, {}}))

	res := h.orch.Force(context.Background())
	require.Equal(t, OutcomeCrawled, res.Outcome)
	require.Equal(t, 1, res.Items)
}

func TestStartAsyncRunsInBackground(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.listings[src] = stubs("p", 2)

	res := h.orch.StartAsync(context.Background(), false)
	require.Equal(t, OutcomeStarted, res.Outcome)
	require.Eventually(t, func() bool {
		return h.orch.Status(context.Background()).Completed
	}, 2*time.Second, 5*time.Millisecond)
	require.Len(t, h.orch.Data(), 2)
	require.Equal(t, OutcomeCompleted, h.orch.StartAsync(context.Background(), false).Outcome)
}

func TestPanicReleasesRunningFlag(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.panicOn = src

	res := h.orch.Start(context.Background())
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)
	st := h.orch.Status(context.Background())
	require.Equal(t, catalog.CrawlIdle, st.State)

	h.parser.panicOn = ""
	h.parser.listings[src] = stubs("p", 1)
	require.Equal(t, OutcomeCrawled, h.orch.Force(context.Background()).Outcome)
}

func TestCanceledRunDoesNotComplete(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.listings[src] = stubs("p", 1)
	h.fetcher.block = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.orch.Start(ctx)
	require.Equal(t, OutcomeFailed, res.Outcome)
	require.True(t, errors.Is(res.Err, context.Canceled))
	require.Equal(t, catalog.CrawlIdle, h.orch.Status(context.Background()).State)
	require.False(t, h.store.Exists(context.Background()))
}

func TestLoadMoreAppendsFirstListing(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}, MaxNextPages: 0})
	h.parser.listings[src] = stubs("p", 1)
	h.parser.loadMore[src] = "4"
	h.parser.listings[src+"?page=4"] = stubs("more", 2)

	res := h.orch.Start(context.Background())
	require.Equal(t, 2, res.Items)
	data := h.orch.Data()
	require.Equal(t, "more 1", data[1].Title)
	require.True(t, data[1].Enriched())

	report, _ := h.orch.LastRun()
	require.True(t, report.LoadMore)

	snap, ok := h.store.Load(context.Background())
	require.True(t, ok)
	require.Len(t, snap.Products, 2)
}

func TestLoadMoreIgnoredWhenPaginating(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}, MaxNextPages: 1})
	h.parser.listings[src] = stubs("p", 1)
	h.parser.loadMore[src+"?page=2"] = "4"
	h.parser.loadMore[src] = "4"
	h.parser.listings[src+"?page=4"] = stubs("more", 1)

	res := h.orch.Start(context.Background())
	require.Equal(t, 1, res.Items)
	require.NotContains(t, h.fetcher.urls(), src+"?page=4")
}

func TestLoadMoreFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}})
	h.parser.listings[src] = stubs("p", 1)
	h.parser.loadMore[src] = "2"
	h.fetcher.fail(src + "?page=2")

	res := h.orch.Start(context.Background())
	require.Equal(t, OutcomeCrawled, res.Outcome)
	require.Equal(t, 1, res.Items)
}

func TestPaginationRequestsCarryHeaders(t *testing.T) {
	t.Parallel()

	const src = "https://shop.test/c"
	h := newHarness(t, Config{Sources: []string{src}, MaxNextPages: 1})
	h.parser.listings[src] = stubs("p", 1)

	h.orch.Start(context.Background())
	h.fetcher.mu.Lock()
	defer h.fetcher.mu.Unlock()
	require.Nil(t, h.fetcher.calls[0].Headers)
	require.Equal(t, src+"?page=2", h.fetcher.calls[1].URL)
	require.Equal(t, "no-cache", h.fetcher.calls[1].Headers.Get("Cache-Control"))
}

func TestPageURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://shop.test/c?page=2", numberedPageURL("https://shop.test/c", 2))
	require.Equal(t, "https://shop.test/c?page=3&sort=asc", numberedPageURL("https://shop.test/c?sort=asc", 3))
	require.Equal(t, "https://shop.test/c?page=5", pageURL("https://shop.test/c?page=1", "5"))
}

func TestTimerPauseControllerHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pauser := &timerPauseController{}
	start := time.Now()
	pauser.Pause(ctx, 5*time.Second)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}
