package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ResponseToEntry converts an HTTP response to a CacheEntry of the given type.
// It reads the response body and restores it, so the caller can still
// send the original response downstream.
func ResponseToEntry(resp *http.Response, typ ResponseType) (*CacheEntry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	var body []byte
	if resp.Body != nil {
		var err error
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		resp.Body.Close()
	}

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &CacheEntry{
		Data:       body,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Type:       typ,
		CachedAt:   time.Now(),
	}
	if resp.Request != nil && resp.Request.URL != nil {
		entry.URL = resp.Request.URL.String()
	}

	return entry.Clone(), nil
}

// EntryToResponse rebuilds an HTTP response from a stored entry.
// The returned response owns a private copy of the body.
func EntryToResponse(entry *CacheEntry, req *http.Request) *http.Response {
	if entry == nil {
		return nil
	}
	data := make([]byte, len(entry.Data))
	copy(data, entry.Data)

	header := entry.Headers.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Set("Content-Length", strconv.Itoa(len(data)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: int64(len(data)),
		Request:       req,
	}
}

// ResponseTypeOf classifies a fetched response relative to origin.
// Responses for origin (or when no origin is known) are basic; cross-origin
// responses are cors when the remote sent Access-Control-Allow-Origin and
// opaque otherwise.
func ResponseTypeOf(resp *http.Response, origin *url.URL) ResponseType {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil || origin == nil {
		return TypeBasic
	}
	target := resp.Request.URL
	if target.Host == "" || strings.EqualFold(target.Host, origin.Host) {
		return TypeBasic
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "" {
		return TypeCORS
	}
	return TypeOpaque
}
