// Package metrics exposes Prometheus collectors for the catalog service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlPagesTotal            *prometheus.CounterVec
	crawlRunsTotal             *prometheus.CounterVec
	crawlEnrichmentsTotal      *prometheus.CounterVec
	crawlRunning               prometheus.Gauge
	snapshotProducts           prometheus.Gauge
	publishStepsTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_crawl_pages_total",
				Help: "Listing and detail pages fetched, labeled by site, kind and outcome.",
			},
			[]string{"site", "kind", "outcome"},
		)

		crawlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_crawl_runs_total",
				Help: "Crawl start requests, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlEnrichmentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_crawl_enrichments_total",
				Help: "Per-product enrichment results, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		crawlRunning = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_crawl_running",
				Help: "1 while a crawl run is in progress.",
			},
		)

		snapshotProducts = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "catalog_snapshot_products",
				Help: "Number of products in the current in-memory snapshot.",
			},
		)

		publishStepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_publish_steps_total",
				Help: "Export and upload steps, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one fetched page. kind is "listing" or "detail".
func ObservePage(site, kind, outcome string) {
	Init()
	crawlPagesTotal.WithLabelValues(SanitizeSite(site), kind, outcome).Inc()
}

// ObserveCrawlRun counts one crawl start request by outcome.
func ObserveCrawlRun(outcome string) {
	Init()
	crawlRunsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEnrichment counts one enrichment result.
func ObserveEnrichment(outcome string) {
	Init()
	crawlEnrichmentsTotal.WithLabelValues(outcome).Inc()
}

// SetCrawlRunning toggles the running gauge.
func SetCrawlRunning(running bool) {
	Init()
	if running {
		crawlRunning.Set(1)
		return
	}
	crawlRunning.Set(0)
}

// SetSnapshotProducts records the size of the current snapshot.
func SetSnapshotProducts(n int) {
	Init()
	snapshotProducts.Set(float64(n))
}

// ObservePublishStep counts one export or upload step.
func ObservePublishStep(stage, outcome string) {
	Init()
	publishStepsTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
