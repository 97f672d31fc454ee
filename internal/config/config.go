// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Export    ExportConfig    `mapstructure:"export"`
	Upload    UploadConfig    `mapstructure:"upload"`
	ImageHost ImageHostConfig `mapstructure:"imagehost"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the crawl orchestrator and page fetcher.
type CrawlerConfig struct {
	Sources        []string          `mapstructure:"sources"`
	BaseURL        string            `mapstructure:"base_url"`
	MaxNextPages   int               `mapstructure:"max_next_pages"`
	TestMode       bool              `mapstructure:"test_mode"`
	MaxProducts    int               `mapstructure:"max_products"`
	RequestDelay   time.Duration     `mapstructure:"request_delay"`
	SourceDelay    time.Duration     `mapstructure:"source_delay"`
	RequestTimeout time.Duration     `mapstructure:"request_timeout"`
	UserAgent      string            `mapstructure:"user_agent"`
	Headers        map[string]string `mapstructure:"headers"`
	CrawlOnStart   bool              `mapstructure:"crawl_on_start"`
	// Fetcher selects how storefront pages are retrieved. Images always go
	// through the colly fetcher.
	Fetcher  string         `mapstructure:"fetcher"`
	Headless HeadlessConfig `mapstructure:"headless"`
}

// HeadlessConfig configures the headless rendering fetcher.
type HeadlessConfig struct {
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	WaitSelector      string        `mapstructure:"wait_selector"`
	Settle            time.Duration `mapstructure:"settle"`
}

// CacheConfig selects the snapshot cache backend.
type CacheConfig struct {
	Backend  string         `mapstructure:"backend"`
	TTL      time.Duration  `mapstructure:"ttl"`
	Path     string         `mapstructure:"path"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Memcache MemcacheConfig `mapstructure:"memcache"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig addresses a Redis server.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// MemcacheConfig lists memcached servers.
type MemcacheConfig struct {
	Addr []string `mapstructure:"addr"`
	Key  string   `mapstructure:"key"`
}

// PostgresConfig controls access to the relational database.
type PostgresConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// ExportConfig sets where exported product folders are written.
type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

// UploadConfig configures the downstream catalog API client.
type UploadConfig struct {
	CatalogURL   string        `mapstructure:"catalog_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Stock        int           `mapstructure:"stock"`
	ProductDelay time.Duration `mapstructure:"product_delay"`
	TempDir      string        `mapstructure:"temp_dir"`
}

// ImageHostConfig selects where product images are re-hosted.
type ImageHostConfig struct {
	Backend  string        `mapstructure:"backend"`
	URL      string        `mapstructure:"url"`
	Folder   string        `mapstructure:"folder"`
	Timeout  time.Duration `mapstructure:"timeout"`
	GCS      GCSConfig     `mapstructure:"gcs"`
	MemoSize int           `mapstructure:"memo_size"`
}

// GCSConfig names the bucket used by the gcs image host.
type GCSConfig struct {
	Bucket        string `mapstructure:"bucket"`
	Prefix        string `mapstructure:"prefix"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// EventsConfig selects the snapshot notification publisher.
type EventsConfig struct {
	Backend string             `mapstructure:"backend"`
	Redis   EventsRedisConfig  `mapstructure:"redis"`
	PubSub  EventsPubSubConfig `mapstructure:"pubsub"`
}

// EventsRedisConfig addresses the Redis stream publisher.
type EventsRedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// EventsPubSubConfig holds metadata for publish-subscribe notifications.
type EventsPubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Supported backend names.
const (
	FetcherColly    = "colly"
	FetcherHeadless = "headless"

	ImageHostHTTP   = "http"
	ImageHostGCS    = "gcs"
	ImageHostMemory = "memory"

	EventsNone   = "none"
	EventsMemory = "memory"
	EventsRedis  = "redis"
	EventsPubSub = "pubsub"
)

// DefaultSources are the storefront collections crawled when none are configured.
var DefaultSources = []string{
	"https://giovannioutlet.com/collections/quan-ao-nam",
	"https://giovannioutlet.com/collections/giay-nam",
	"https://giovannioutlet.com/collections/cap-tui-nam",
	"https://giovannioutlet.com/collections/vi-bop-nam",
	"https://giovannioutlet.com/collections/vali",
	"https://giovannioutlet.com/collections/san-pham-nu",
	"https://giovannioutlet.com/collections/tui-xach-nu",
	"https://giovannioutlet.com/collections/vi-bop-nu",
	"https://giovannioutlet.com/collections/phu-kien",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout", 30*time.Minute)
	v.SetDefault("server.shutdown_grace", 10*time.Second)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.sources", DefaultSources)
	v.SetDefault("crawler.base_url", "https://giovannioutlet.com")
	v.SetDefault("crawler.max_next_pages", 3)
	v.SetDefault("crawler.test_mode", false)
	v.SetDefault("crawler.max_products", 1)
	v.SetDefault("crawler.request_delay", time.Second)
	v.SetDefault("crawler.source_delay", 2*time.Second)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	v.SetDefault("crawler.headers", map[string]string{})
	v.SetDefault("crawler.crawl_on_start", true)
	v.SetDefault("crawler.fetcher", FetcherColly)
	v.SetDefault("crawler.headless.max_parallel", 1)
	v.SetDefault("crawler.headless.navigation_timeout", 45*time.Second)
	v.SetDefault("crawler.headless.wait_selector", "body")
	v.SetDefault("crawler.headless.settle", 500*time.Millisecond)
	v.SetDefault("cache.backend", "file")
	v.SetDefault("cache.ttl", 30*time.Minute)
	v.SetDefault("cache.path", "cache.json")
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.key", "catalog:snapshot")
	v.SetDefault("cache.memcache.addr", []string{"localhost:11211"})
	v.SetDefault("cache.memcache.key", "catalog_snapshot")
	v.SetDefault("cache.postgres.table", "catalog_snapshot")
	v.SetDefault("export.dir", "exported_products")
	v.SetDefault("upload.catalog_url", "http://localhost:8080")
	v.SetDefault("upload.timeout", 10*time.Second)
	v.SetDefault("upload.stock", 200)
	v.SetDefault("upload.product_delay", time.Second)
	v.SetDefault("upload.temp_dir", filepath.Join(os.TempDir(), "catalog-upload"))
	v.SetDefault("imagehost.backend", ImageHostHTTP)
	v.SetDefault("imagehost.url", "http://localhost:8080")
	v.SetDefault("imagehost.folder", "spring_shop")
	v.SetDefault("imagehost.timeout", 30*time.Second)
	v.SetDefault("imagehost.gcs.prefix", "products")
	v.SetDefault("imagehost.memo_size", 256)
	v.SetDefault("events.backend", EventsNone)
	v.SetDefault("events.redis.addr", "localhost:6379")
	v.SetDefault("events.redis.stream", "catalog:events")
	v.SetDefault("events.redis.max_len", 1000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if len(c.Crawler.Sources) == 0 {
		return fmt.Errorf("crawler.sources must list at least one URL")
	}
	if c.Crawler.MaxNextPages < 0 {
		return fmt.Errorf("crawler.max_next_pages must be >= 0")
	}
	if c.Crawler.TestMode && c.Crawler.MaxProducts <= 0 {
		return fmt.Errorf("crawler.max_products must be > 0 when test mode is enabled")
	}
	if c.Crawler.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	switch c.Crawler.Fetcher {
	case "", FetcherColly:
	case FetcherHeadless:
		if c.Crawler.Headless.MaxParallel <= 0 {
			return fmt.Errorf("crawler.headless.max_parallel must be > 0 when the headless fetcher is selected")
		}
	default:
		return fmt.Errorf("crawler.fetcher %q is not supported", c.Crawler.Fetcher)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	switch c.Cache.Backend {
	case "file":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path must be set for the file backend")
		}
	case "memory", "redis":
	case "memcache":
		if len(c.Cache.Memcache.Addr) == 0 {
			return fmt.Errorf("cache.memcache.addr must be set for the memcache backend")
		}
	case "postgres":
		if c.Cache.Postgres.DSN == "" {
			return fmt.Errorf("cache.postgres.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	if c.Upload.Stock < 0 {
		return fmt.Errorf("upload.stock must be >= 0")
	}
	switch c.ImageHost.Backend {
	case ImageHostHTTP:
		if c.ImageHost.URL == "" {
			return fmt.Errorf("imagehost.url must be set for the http backend")
		}
	case ImageHostGCS:
		if c.ImageHost.GCS.Bucket == "" {
			return fmt.Errorf("imagehost.gcs.bucket must be set for the gcs backend")
		}
	case ImageHostMemory:
	default:
		return fmt.Errorf("imagehost.backend %q is not supported", c.ImageHost.Backend)
	}
	switch c.Events.Backend {
	case "", EventsNone, EventsMemory, EventsRedis:
	case EventsPubSub:
		if c.Events.PubSub.ProjectID == "" || c.Events.PubSub.Topic == "" {
			return fmt.Errorf("events.pubsub.project_id and events.pubsub.topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("events.backend %q is not supported", c.Events.Backend)
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// DefaultHeaders returns the extra crawler headers. Viper lowercases map
// keys, so names are canonicalized here.
func (c Config) DefaultHeaders() http.Header {
	out := make(http.Header, len(c.Crawler.Headers))
	for k, v := range c.Crawler.Headers {
		out.Set(k, v)
	}
	return out
}
