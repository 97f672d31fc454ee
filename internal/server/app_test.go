package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		Server:  config.ServerConfig{Port: freePort(t), ShutdownGrace: time.Second},
		Logging: config.LoggingConfig{Development: true},
		Crawler: config.CrawlerConfig{
			Sources:        []string{"http://127.0.0.1:1/collections/a"},
			BaseURL:        "http://127.0.0.1:1",
			RequestTimeout: time.Second,
		},
		Cache:     config.CacheConfig{Backend: "memory", TTL: time.Minute},
		Export:    config.ExportConfig{Dir: filepath.Join(dir, "exports")},
		Upload:    config.UploadConfig{CatalogURL: "http://127.0.0.1:1", Timeout: time.Second, TempDir: filepath.Join(dir, "staging")},
		ImageHost: config.ImageHostConfig{Backend: config.ImageHostMemory, Folder: "imgs", MemoSize: 8},
		Events:    config.EventsConfig{Backend: config.EventsMemory},
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func TestBuildWiresHandler(t *testing.T) {
	t.Parallel()
	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Crawler())
	require.NotNil(t, app.Pipeline())

	h := app.Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.Equal(t, "idle", status["state"])
	require.Equal(t, false, status["hasCache"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/export-products", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBuildFailsOnUnknownCacheBackend(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Cache.Backend = "disk"
	_, err := Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "cache backend")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	app, err := Build(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer app.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestBuildWithHeadlessPageFetcher(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Crawler.Fetcher = config.FetcherHeadless
	cfg.Crawler.Headless = config.HeadlessConfig{MaxParallel: 1, NavigationTimeout: time.Second}

	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Len(t, app.closers, 2)
	app.Close()
	require.Empty(t, app.closers)
}
