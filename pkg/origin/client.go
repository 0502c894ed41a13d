// Package origin provides the network side of the edge cache: a single-shot
// HTTP fetcher that resolves origin-form requests against the configured
// origin and forwards absolute-form requests as they are.
//
// The client never retries. A failed fetch is returned as a *FetchError and
// the caller decides whether to fall back to a cache.
package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for network fetches.
var (
	originRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edgecache_origin_requests_total",
		Help: "Total network fetches by target and status",
	}, []string{"target", "status"})

	originRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "edgecache_origin_request_duration_seconds",
		Help:    "Network fetch duration in seconds by target",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"target"})
)

// hopHeaders are connection-scoped and never forwarded.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the origin that origin-form requests are sent to.
	// Nil means only absolute-form requests can be fetched.
	BaseURL *url.URL

	// UserAgent is set on requests that carry none.
	UserAgent string

	// Timeout bounds a whole fetch including the body. Zero means no limit.
	Timeout time.Duration

	// Logger to use. The global logger with component=origin is used if nil.
	Logger *zerolog.Logger
}

// DefaultConfig returns a configuration without a timeout.
func DefaultConfig(base *url.URL) Config {
	return Config{
		BaseURL:   base,
		UserAgent: "edge-cache/1.0",
	}
}

// Client fetches resources from the network.
type Client struct {
	httpClient *http.Client
	base       *url.URL
	userAgent  string
	logger     zerolog.Logger
}

// New creates a new network client.
func New(cfg Config) (*Client, error) {
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative (got %s)", cfg.Timeout)
	}
	if cfg.BaseURL != nil && (cfg.BaseURL.Scheme == "" || cfg.BaseURL.Host == "") {
		return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL.String())
	}

	logger := log.With().Str("component", "origin").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			// redirects are handed back to the caller untouched
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		base:      cfg.BaseURL,
		userAgent: cfg.UserAgent,
		logger:    logger,
	}, nil
}

// Origin returns the configured origin, or nil.
func (c *Client) Origin() *url.URL {
	return c.base
}

// Fetch sends req to the network once. Any HTTP response, whatever its
// status, is returned without error; transport failures return *FetchError.
func (c *Client) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	target, err := c.resolve(req.URL)
	if err != nil {
		return nil, &FetchError{URL: req.URL.String(), Class: ErrorClassRequest, Err: err}
	}
	label := c.targetLabel(target)

	// need to set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	var body io.Reader
	if req.Body != nil && req.ContentLength != 0 {
		body = req.Body
	}

	out, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, &FetchError{URL: target.String(), Class: ErrorClassRequest, Err: err}
	}
	copyHeader(out.Header, req.Header)
	if out.Header.Get("User-Agent") == "" && c.userAgent != "" {
		out.Header.Set("User-Agent", c.userAgent)
	}
	out.ContentLength = req.ContentLength

	c.logger.Debug().
		Str("method", out.Method).
		Str("url", target.String()).
		Msg("Fetching from network")

	start := time.Now()
	resp, err := c.httpClient.Do(out)
	originRequestDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		class := classifyError(err)
		originRequestsTotal.WithLabelValues(label, string(class)+"_error").Inc()
		c.logger.Warn().
			Err(err).
			Str("url", target.String()).
			Str("error_class", string(class)).
			Msg("Network fetch failed")
		return nil, &FetchError{URL: target.String(), Class: class, Err: err}
	}

	originRequestsTotal.WithLabelValues(label, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug().
		Str("url", target.String()).
		Int("status_code", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Network fetch complete")

	return resp, nil
}

// Get fetches rawURL with a GET request.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.Fetch(ctx, req)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// resolve turns the request URL into the absolute URL to fetch.
func (c *Client) resolve(u *url.URL) (*url.URL, error) {
	if u.IsAbs() {
		return u, nil
	}
	if c.base == nil {
		return nil, ErrNoOrigin
	}
	return c.base.ResolveReference(&url.URL{
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
	}), nil
}

func (c *Client) targetLabel(target *url.URL) string {
	if c.base != nil && strings.EqualFold(target.Host, c.base.Host) {
		return "origin"
	}
	return "remote"
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
	for _, h := range hopHeaders {
		dst.Del(h)
	}
}
