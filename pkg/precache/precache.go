package precache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Sternrassler/edge-cache/pkg/cache"
)

// ErrIncomplete is returned when any manifest resource could not be fetched
// or stored.
var ErrIncomplete = errors.New("precache incomplete")

var precacheResources = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "edgecache_precache_resources",
	Help: "Number of manifest resources written by the last successful precache",
})

// Fetcher is the network capability the precacher needs.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
	Origin() *url.URL
}

// Config holds precache configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches.
	MaxConcurrency int

	// Logger to use. The global logger with component=precache is used if nil.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default precache configuration.
func DefaultConfig() Config {
	return Config{MaxConcurrency: 4}
}

// Resource is a fetched manifest entry ready to be stored.
type Resource struct {
	URL   string
	Key   cache.CacheKey
	Entry *cache.CacheEntry
}

// Precacher fetches manifest resources.
type Precacher struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a new precacher.
func New(fetcher Fetcher, cfg Config) *Precacher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	logger := log.With().Str("component", "precache").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Precacher{
		fetcher: fetcher,
		config:  cfg,
		logger:  logger,
	}
}

// FetchAll fetches every URL in urls. Resources are returned in manifest
// order. Any fetch error or non-200 response fails the whole batch with an
// error wrapping ErrIncomplete.
func (p *Precacher) FetchAll(ctx context.Context, urls []string) ([]Resource, error) {
	start := time.Now()
	origin := p.fetcher.Origin()

	resources := make([]Resource, len(urls))
	for i, raw := range urls {
		key, err := cache.KeyForURL(raw, origin)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIncomplete, err)
		}
		resources[i] = Resource{URL: raw, Key: key}
	}

	p.logger.Info().
		Int("resources", len(urls)).
		Int("concurrency", p.config.MaxConcurrency).
		Msg("Starting precache")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxConcurrency)

	for i := range resources {
		g.Go(func() error {
			entry, err := p.fetch(gctx, resources[i].URL, origin)
			if err != nil {
				return err
			}
			// each goroutine owns its own slot
			resources[i].Entry = entry
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.logger.Warn().
			Err(err).
			Dur("duration", time.Since(start)).
			Msg("Precache failed")
		return nil, fmt.Errorf("%w: %w", ErrIncomplete, err)
	}

	p.logger.Info().
		Int("resources", len(resources)).
		Dur("duration", time.Since(start)).
		Msg("Precache fetch complete")

	return resources, nil
}

func (p *Precacher) fetch(ctx context.Context, rawURL string, origin *url.URL) (*cache.CacheEntry, error) {
	resp, err := p.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", rawURL, resp.StatusCode)
	}

	entry, err := cache.ResponseToEntry(resp, cache.ResponseTypeOf(resp, origin))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", rawURL, err)
	}

	p.logger.Debug().
		Str("url", rawURL).
		Int("bytes", len(entry.Data)).
		Msg("Fetched manifest resource")

	return entry, nil
}

// Commit writes resources into store. If a write fails, the entries already
// written by this call are removed again and the error wraps ErrIncomplete.
func Commit(ctx context.Context, store cache.Store, resources []Resource) error {
	written := make([]cache.CacheKey, 0, len(resources))
	for _, res := range resources {
		if err := store.Put(ctx, res.Key, res.Entry); err != nil {
			rollback(ctx, store, written)
			return fmt.Errorf("%w: store %s: %w", ErrIncomplete, res.URL, err)
		}
		written = append(written, res.Key)
	}
	precacheResources.Set(float64(len(written)))
	return nil
}

func rollback(ctx context.Context, store cache.Store, keys []cache.CacheKey) {
	for _, key := range keys {
		if _, err := store.Delete(ctx, key); err != nil {
			log.Error().
				Err(err).
				Str("store", store.Name()).
				Str("key", key.String()).
				Msg("Failed to roll back precache entry")
		}
	}
}
