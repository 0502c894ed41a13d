package cache

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// CacheKey is the identity of a stored response: request method plus URL.
type CacheKey struct {
	// Method is the request method. Empty means GET.
	Method string

	// URL is the request URI for origin requests (e.g. "/api/videos")
	// or the absolute URL for anything else.
	URL string
}

// String returns the deterministic storage form of the key.
// Format: METHOD SP URL
//
// Example:
//
//	GET /api/videos?page=2
func (k CacheKey) String() string {
	method := k.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + k.URL
}

// ParseCacheKey is the inverse of CacheKey.String.
func ParseCacheKey(s string) (CacheKey, error) {
	method, rawURL, ok := strings.Cut(s, " ")
	if !ok || method == "" || rawURL == "" {
		return CacheKey{}, fmt.Errorf("%w: malformed key %q", ErrInvalidEntry, s)
	}
	return CacheKey{Method: method, URL: rawURL}, nil
}

// KeyFor derives the cache key of a request. Absolute URLs that point at
// origin are reduced to their request URI so both request forms share entries.
// Fragments never take part in the identity.
func KeyFor(r *http.Request, origin *url.URL) CacheKey {
	return CacheKey{
		Method: r.Method,
		URL:    NormalizeURL(r.URL, origin),
	}
}

// NormalizeURL returns the key form of u.
func NormalizeURL(u *url.URL, origin *url.URL) string {
	if u.Host == "" {
		return u.RequestURI()
	}
	if origin != nil && strings.EqualFold(u.Host, origin.Host) {
		return u.RequestURI()
	}
	abs := *u
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String()
}

// KeyForURL derives the GET key of a manifest URL string.
func KeyForURL(rawURL string, origin *url.URL) (CacheKey, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return CacheKey{}, fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	return CacheKey{Method: http.MethodGet, URL: NormalizeURL(u, origin)}, nil
}
