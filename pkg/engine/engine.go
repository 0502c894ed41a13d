// Package engine implements the cache policy engine.
//
// Every intercepted GET request is classified and answered with one of two
// strategies:
//
//   - cache-first (font, static): a stored response is returned without
//     touching the network; on a miss the network response is returned and
//     a 200 is stored in the static store.
//   - network-first (api): the network is always tried first and a 200 is
//     stored in the API store; if the fetch fails the stored response is
//     returned instead.
//
// Until the engine is activated, and for every request that is not
// intercepted, requests are passed straight through to the network.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/edge-cache/pkg/cache"
	"github.com/Sternrassler/edge-cache/pkg/classify"
	"github.com/Sternrassler/edge-cache/pkg/config"
	"github.com/Sternrassler/edge-cache/pkg/lifecycle"
	"github.com/Sternrassler/edge-cache/pkg/logging"
	"github.com/Sternrassler/edge-cache/pkg/precache"
)

// Store roles used as metric labels.
const (
	roleStatic = "static"
	roleAPI    = "api"
)

// Source says where a response came from.
type Source string

const (
	SourceCache       Source = "cache"
	SourceNetwork     Source = "network"
	SourceFallback    Source = "fallback"
	SourcePassthrough Source = "passthrough"
)

// Fetcher is the network capability the engine needs.
// *origin.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
	Get(ctx context.Context, rawURL string) (*http.Response, error)
	Origin() *url.URL
}

// Config holds engine configuration.
type Config struct {
	// CacheName is the managed namespace. Activation only deletes stores
	// whose names start with it.
	CacheName string

	StaticCacheName string
	APICacheName    string

	// StaticResources is the manifest precached by Install.
	StaticResources []string

	Rules classify.Rules

	// AllowedResponseTypes are the response types static responses may be
	// stored with. Font responses are stored regardless of type.
	AllowedResponseTypes []cache.ResponseType

	// APICacheTTL is the nominal lifetime of API entries. Fallback reads
	// log when an entry is older but still return it.
	APICacheTTL time.Duration

	WritePolicy config.WritePolicy

	PrecacheConcurrency int

	// Logger to use. logging.NewLogger("engine") is used if nil.
	Logger *zerolog.Logger
}

// ConfigFrom derives the engine configuration from the service config.
func ConfigFrom(c config.Config) Config {
	types := make([]cache.ResponseType, 0, len(c.AllowedResponseTypes))
	for _, t := range c.AllowedResponseTypes {
		types = append(types, cache.ResponseType(t))
	}
	return Config{
		CacheName:       c.CacheName,
		StaticCacheName: c.StaticCacheName(),
		APICacheName:    c.APICacheName(),
		StaticResources: c.StaticResources,
		Rules: classify.Rules{
			FontMarkers:      c.FontMarkers,
			FontExtensions:   c.FontExtensions,
			APIPatterns:      c.APIPatterns,
			Manifest:         c.StaticResources,
			StaticTokens:     c.StaticTokens,
			StaticExtensions: c.StaticExtensions,
		},
		AllowedResponseTypes: types,
		APICacheTTL:          c.APICacheTTL,
		WritePolicy:          c.WritePolicy,
		PrecacheConcurrency:  c.PrecacheConcurrency,
	}
}

// Result is the outcome of Respond.
type Result struct {
	Response *http.Response
	Class    classify.Class
	Source   Source
}

// Engine is the cache policy engine. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	storage    cache.Storage
	fetcher    Fetcher
	classifier *classify.Classifier
	precacher  *precache.Precacher
	tracker    *lifecycle.Tracker
	logger     zerolog.Logger

	installMu sync.Mutex
	writes    sync.WaitGroup
}

// New creates an engine in the lifecycle state "new".
func New(cfg Config, storage cache.Storage, fetcher Fetcher) (*Engine, error) {
	if storage == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if cfg.CacheName == "" || cfg.StaticCacheName == "" || cfg.APICacheName == "" {
		return nil, fmt.Errorf("cache names are required")
	}
	if cfg.StaticCacheName == cfg.APICacheName {
		return nil, fmt.Errorf("static and api store must differ (both %q)", cfg.StaticCacheName)
	}
	if cfg.WritePolicy == "" {
		cfg.WritePolicy = config.WriteBackground
	}

	logger := logging.NewLogger("engine")
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Engine{
		cfg:        cfg,
		storage:    storage,
		fetcher:    fetcher,
		classifier: classify.New(cfg.Rules),
		precacher: precache.New(fetcher, precache.Config{
			MaxConcurrency: cfg.PrecacheConcurrency,
			Logger:         &logger,
		}),
		tracker: lifecycle.NewTracker(logger),
		logger:  logger,
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() lifecycle.State {
	return e.tracker.State()
}

// Respond produces the response for r. An error means no response could be
// obtained; it wraps the network failure.
func (e *Engine) Respond(ctx context.Context, r *http.Request) (*Result, error) {
	class := e.classifier.ClassifyRequest(r)

	var (
		res *Result
		err error
	)
	switch {
	case !class.Intercepted() || !e.tracker.Activated():
		res, err = e.passthrough(ctx, r, class)
	case class == classify.API:
		res, err = e.networkFirst(ctx, r)
	default:
		res, err = e.cacheFirst(ctx, r, class)
	}

	if err != nil {
		requestsTotal.WithLabelValues(class.String(), "error").Inc()
		e.logger.Error().
			Err(err).
			Str("class", class.String()).
			Str("url", r.URL.String()).
			Msg("Request failed")
		return nil, err
	}
	requestsTotal.WithLabelValues(class.String(), string(res.Source)).Inc()
	return res, nil
}

func (e *Engine) passthrough(ctx context.Context, r *http.Request, class classify.Class) (*Result, error) {
	resp, err := e.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}
	return &Result{Response: resp, Class: class, Source: SourcePassthrough}, nil
}

// cacheFirst serves font and static requests.
func (e *Engine) cacheFirst(ctx context.Context, r *http.Request, class classify.Class) (*Result, error) {
	origin := e.fetcher.Origin()
	key := cache.KeyFor(r, origin)

	entry, err := e.storage.Match(ctx, e.cfg.StaticCacheName, key)
	if err == nil {
		cache.CacheHits.WithLabelValues(roleStatic).Inc()
		e.logger.Debug().
			Str("class", class.String()).
			Str("url", key.URL).
			Str("source", string(SourceCache)).
			Msg("Cache hit")
		return &Result{Response: cache.EntryToResponse(entry, r), Class: class, Source: SourceCache}, nil
	}
	if !errors.Is(err, cache.ErrCacheMiss) {
		// unreadable store behaves like a miss
		e.logger.Warn().
			Err(err).
			Str("store", e.cfg.StaticCacheName).
			Str("url", key.URL).
			Msg("Cache lookup failed, fetching from network")
	}
	cache.CacheMisses.WithLabelValues(roleStatic).Inc()

	resp, err := e.fetcher.Fetch(ctx, r)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return &Result{Response: resp, Class: class, Source: SourceNetwork}, nil
	}
	typ := cache.ResponseTypeOf(resp, origin)
	if class == classify.Static && !e.allowedType(typ) {
		e.logger.Debug().
			Str("url", key.URL).
			Str("response_type", string(typ)).
			Msg("Response type not cacheable")
		return &Result{Response: resp, Class: class, Source: SourceNetwork}, nil
	}

	entry, err = cache.ResponseToEntry(resp, typ)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("read %s: %w", key.URL, err)
	}
	e.write(ctx, e.cfg.StaticCacheName, roleStatic, key, entry)

	return &Result{Response: resp, Class: class, Source: SourceNetwork}, nil
}

// networkFirst serves API requests.
func (e *Engine) networkFirst(ctx context.Context, r *http.Request) (*Result, error) {
	origin := e.fetcher.Origin()
	key := cache.KeyFor(r, origin)

	resp, fetchErr := e.fetcher.Fetch(ctx, r)
	if fetchErr == nil {
		if resp.StatusCode != http.StatusOK {
			return &Result{Response: resp, Class: classify.API, Source: SourceNetwork}, nil
		}
		entry, err := cache.ResponseToEntry(resp, cache.ResponseTypeOf(resp, origin))
		if err == nil {
			e.write(ctx, e.cfg.APICacheName, roleAPI, key, entry)
			return &Result{Response: resp, Class: classify.API, Source: SourceNetwork}, nil
		}
		// a body that cannot be read is a failed fetch
		resp.Body.Close()
		fetchErr = fmt.Errorf("read %s: %w", key.URL, err)
	}

	entry, err := e.storage.Match(ctx, e.cfg.APICacheName, key)
	if err != nil {
		cache.CacheMisses.WithLabelValues(roleAPI).Inc()
		if !errors.Is(err, cache.ErrCacheMiss) {
			e.logger.Warn().
				Err(err).
				Str("store", e.cfg.APICacheName).
				Str("url", key.URL).
				Msg("Fallback lookup failed")
		}
		return nil, fetchErr
	}
	cache.CacheHits.WithLabelValues(roleAPI).Inc()

	event := e.logger.Warn()
	if e.cfg.APICacheTTL > 0 && entry.OlderThan(e.cfg.APICacheTTL) {
		event = event.Bool("expired", true)
	}
	event.
		Err(fetchErr).
		Str("class", classify.API.String()).
		Str("url", key.URL).
		Str("source", string(SourceFallback)).
		Dur("age", entry.Age()).
		Dur("ttl", e.cfg.APICacheTTL).
		Msg("Network failed, serving cached response")

	return &Result{Response: cache.EntryToResponse(entry, r), Class: classify.API, Source: SourceFallback}, nil
}

func (e *Engine) allowedType(typ cache.ResponseType) bool {
	for _, t := range e.cfg.AllowedResponseTypes {
		if t == typ {
			return true
		}
	}
	return false
}

// write stores entry under the configured write policy. Failures are logged
// and never reach the response path.
func (e *Engine) write(ctx context.Context, name, role string, key cache.CacheKey, entry *cache.CacheEntry) {
	put := func(ctx context.Context) {
		store, err := e.storage.Open(ctx, name)
		if err == nil {
			err = store.Put(ctx, key, entry)
		}
		if err != nil {
			e.logger.Error().
				Err(err).
				Str("store", name).
				Str("url", key.URL).
				Msg("Cache write failed")
			return
		}
		cache.CacheWrites.WithLabelValues(role).Inc()
	}

	if e.cfg.WritePolicy == config.WriteAwait {
		put(ctx)
		return
	}

	e.writes.Add(1)
	bg := context.WithoutCancel(ctx)
	go func() {
		defer e.writes.Done()
		put(bg)
	}()
}

// Wait blocks until all background cache writes have finished.
func (e *Engine) Wait() {
	e.writes.Wait()
}

// Close waits for pending writes. The storage is owned by the caller.
func (e *Engine) Close() error {
	e.Wait()
	return nil
}
