// Package config loads the edge-cache configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then EDGECACHE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/edge-cache/pkg/logging"
)

// WritePolicy selects how cache writes relate to the response path.
type WritePolicy string

const (
	// WriteBackground stores responses on a tracked goroutine after replying.
	WriteBackground WritePolicy = "background"

	// WriteAwait stores responses before replying.
	WriteAwait WritePolicy = "await"
)

// Storage backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the proxy configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" env:"EDGECACHE_LISTEN"`

	// Origin is the base URL that relative request targets are sent to.
	Origin string `yaml:"origin" env:"EDGECACHE_ORIGIN"`

	// UserAgent is set on outgoing requests that carry none.
	UserAgent string `yaml:"user_agent" env:"EDGECACHE_USER_AGENT"`

	// CacheName is the managed store namespace. Store names are derived from it.
	CacheName string `yaml:"cache_name" env:"EDGECACHE_CACHE_NAME"`

	// CacheVersion is appended to every store name. Changing it orphans old stores.
	CacheVersion string `yaml:"cache_version" env:"EDGECACHE_CACHE_VERSION"`

	// APICacheTTL is the nominal lifetime of API entries.
	// It is reported in logs but not enforced on reads.
	APICacheTTL time.Duration `yaml:"api_cache_ttl" env:"EDGECACHE_API_CACHE_TTL"`

	// StaticResources is the manifest precached on install.
	StaticResources []string `yaml:"static_resources" env:"EDGECACHE_STATIC_RESOURCES" envSeparator:","`

	// APIPatterns are URL substrings routed to the network-first strategy.
	APIPatterns []string `yaml:"api_patterns" env:"EDGECACHE_API_PATTERNS" envSeparator:","`

	FontMarkers      []string `yaml:"font_markers" env:"EDGECACHE_FONT_MARKERS" envSeparator:","`
	FontExtensions   []string `yaml:"font_extensions" env:"EDGECACHE_FONT_EXTENSIONS" envSeparator:","`
	StaticTokens     []string `yaml:"static_tokens" env:"EDGECACHE_STATIC_TOKENS" envSeparator:","`
	StaticExtensions []string `yaml:"static_extensions" env:"EDGECACHE_STATIC_EXTENSIONS" envSeparator:","`

	// AllowedResponseTypes lists the response types that static resources may be stored with.
	AllowedResponseTypes []string `yaml:"allowed_response_types" env:"EDGECACHE_ALLOWED_RESPONSE_TYPES" envSeparator:","`

	WritePolicy WritePolicy `yaml:"write_policy" env:"EDGECACHE_WRITE_POLICY"`

	// FetchTimeout bounds a single network fetch. Zero means no limit.
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"EDGECACHE_FETCH_TIMEOUT"`

	// PrecacheConcurrency is the number of manifest fetches in flight during install.
	PrecacheConcurrency int `yaml:"precache_concurrency" env:"EDGECACHE_PRECACHE_CONCURRENCY"`

	Storage StorageConfig `yaml:"storage" envPrefix:"EDGECACHE_STORAGE_"`
	Log     LogConfig     `yaml:"log" envPrefix:"EDGECACHE_LOG_"`
}

// StorageConfig selects and configures the cache storage backend.
type StorageConfig struct {
	Backend        string `yaml:"backend" env:"BACKEND"`
	RedisAddr      string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisDB        int    `yaml:"redis_db" env:"REDIS_DB"`
	RedisPrefix    string `yaml:"redis_prefix" env:"REDIS_PREFIX"`
	SQLitePath     string `yaml:"sqlite_path" env:"SQLITE_PATH"`
	MemoryCapacity int    `yaml:"memory_capacity" env:"MEMORY_CAPACITY"`
}

// LogConfig configures the global logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Pretty bool   `yaml:"pretty" env:"PRETTY"`
}

// DefaultConfig returns the configuration the streamflow front-end shipped with.
func DefaultConfig() Config {
	return Config{
		Listen:       ":8080",
		UserAgent:    "edge-cache/1.0",
		CacheName:    "streamflow-v2-cache",
		CacheVersion: "1.0.3",
		APICacheTTL:  30 * time.Second,
		StaticResources: []string{
			"https://cdn.jsdelivr.net/npm/@tabler/icons-webfont@2.30.0/tabler-icons.min.css",
			"https://cdn.jsdelivr.net/npm/@tabler/icons-webfont@2.30.0/fonts/tabler-icons.woff2",
			"https://cdn.jsdelivr.net/npm/@tabler/icons-webfont@2.30.0/fonts/tabler-icons.woff",
			"https://cdn.jsdelivr.net/npm/@tabler/icons-webfont@2.30.0/fonts/tabler-icons.ttf",
			"/css/styles.css",
			"/js/stream-modal.js",
			"/images/logo.svg",
		},
		APIPatterns: []string{
			"/api/videos",
			"/api/playlists",
			"/api/streams",
			"/api/settings/youtube-channels",
		},
		FontMarkers:          []string{"tabler-icons"},
		FontExtensions:       []string{".woff2", ".woff", ".ttf"},
		StaticTokens:         []string{"tabler-icons", "cdn.jsdelivr.net"},
		StaticExtensions:     []string{".css", ".js", ".woff2", ".woff", ".ttf", ".svg"},
		AllowedResponseTypes: []string{"basic", "cors"},
		WritePolicy:          WriteBackground,
		PrecacheConcurrency:  4,
		Storage: StorageConfig{
			Backend:        BackendRedis,
			RedisAddr:      "localhost:6379",
			RedisPrefix:    "edgecache",
			SQLitePath:     "./edgecache.db",
			MemoryCapacity: 1024,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (if non-empty)
// and the environment, then validates it.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseEnv overlays environment variables onto target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.CacheName == "" {
		return fmt.Errorf("%w: cache_name is required", ErrInvalidConfig)
	}
	if c.CacheVersion == "" {
		return fmt.Errorf("%w: cache_version is required", ErrInvalidConfig)
	}
	switch c.WritePolicy {
	case WriteBackground, WriteAwait:
	default:
		return fmt.Errorf("%w: unknown write_policy %q", ErrInvalidConfig, c.WritePolicy)
	}
	switch c.Storage.Backend {
	case BackendRedis:
		if c.Storage.RedisAddr == "" {
			return fmt.Errorf("%w: storage.redis_addr is required for redis backend", ErrInvalidConfig)
		}
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("%w: storage.sqlite_path is required for sqlite backend", ErrInvalidConfig)
		}
	case BackendMemory:
		if c.Storage.MemoryCapacity <= 0 {
			return fmt.Errorf("%w: storage.memory_capacity must be > 0 (got %d)", ErrInvalidConfig, c.Storage.MemoryCapacity)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	if c.PrecacheConcurrency < 1 {
		return fmt.Errorf("%w: precache_concurrency must be >= 1 (got %d)", ErrInvalidConfig, c.PrecacheConcurrency)
	}
	if !logging.ValidLevel(c.Log.Level) {
		return fmt.Errorf("%w: unknown log.level %q", ErrInvalidConfig, c.Log.Level)
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("%w: fetch_timeout must not be negative", ErrInvalidConfig)
	}
	if c.Origin != "" {
		u, err := url.Parse(c.Origin)
		if err != nil {
			return fmt.Errorf("%w: origin: %v", ErrInvalidConfig, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: origin must be an absolute URL (got %q)", ErrInvalidConfig, c.Origin)
		}
	}
	return nil
}

// StaticCacheName is the versioned name of the static store.
func (c Config) StaticCacheName() string {
	return fmt.Sprintf("%s-%s", c.CacheName, c.CacheVersion)
}

// APICacheName is the versioned name of the API store.
func (c Config) APICacheName() string {
	return fmt.Sprintf("%s-api-%s", c.CacheName, c.CacheVersion)
}

// OriginURL returns the parsed origin, or nil when none is configured.
func (c Config) OriginURL() *url.URL {
	if c.Origin == "" {
		return nil
	}
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil
	}
	return u
}
