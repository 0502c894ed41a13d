package cache

import (
	"net/http"
	"time"
)

// ResponseType mirrors the fetch response types that decide cacheability.
type ResponseType string

const (
	// TypeBasic is a same-origin response.
	TypeBasic ResponseType = "basic"

	// TypeCORS is a cross-origin response the origin explicitly permitted.
	TypeCORS ResponseType = "cors"

	// TypeOpaque is a cross-origin response without CORS permission.
	TypeOpaque ResponseType = "opaque"
)

// CacheEntry represents a stored response.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// StatusCode is the HTTP status code of the stored response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers"`

	// Type is the response type the entry was fetched with
	Type ResponseType `json:"type"`

	// URL is the URL the response was fetched from
	URL string `json:"url"`

	// CachedAt is when we stored this response
	CachedAt time.Time `json:"cached_at"`
}

// Age returns how long ago the entry was stored.
func (e *CacheEntry) Age() time.Duration {
	if e.CachedAt.IsZero() {
		return 0
	}
	return time.Since(e.CachedAt)
}

// OlderThan reports whether the entry is older than ttl.
// A non-positive ttl never reports true.
func (e *CacheEntry) OlderThan(ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return e.Age() > ttl
}

// Clone returns a deep copy, so callers never share a body slice with a backend.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	out := *e
	if e.Data != nil {
		out.Data = make([]byte, len(e.Data))
		copy(out.Data, e.Data)
	}
	if e.Headers != nil {
		out.Headers = e.Headers.Clone()
	}
	return &out
}
