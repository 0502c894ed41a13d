package precache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/edge-cache/pkg/cache"
)

// mockFetcher serves canned responses per URL.
type mockFetcher struct {
	mu       sync.Mutex
	status   map[string]int
	fail     map[string]error
	delay    time.Duration
	calls    atomic.Int32
	inFlight atomic.Int32
	peak     atomic.Int32
}

func newMockFetcher() *mockFetcher {
	return &mockFetcher{status: map[string]int{}, fail: map[string]error{}}
}

func (m *mockFetcher) Origin() *url.URL {
	return &url.URL{Scheme: "http", Host: "localhost:3000"}
}

func (m *mockFetcher) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	m.calls.Add(1)
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	err := m.fail[rawURL]
	status, ok := m.status[rawURL]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !ok {
		status = http.StatusOK
	}
	req, _ := http.NewRequest(http.MethodGet, "http://localhost:3000"+rawURL, nil)
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       io.NopCloser(strings.NewReader("body of " + rawURL)),
		Request:    req,
	}, nil
}

var manifest = []string{"/", "/index.html", "/css/styles.css", "/js/app.js", "/manifest.json"}

func TestFetchAll_Success(t *testing.T) {
	f := newMockFetcher()
	p := New(f, DefaultConfig())

	resources, err := p.FetchAll(context.Background(), manifest)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	if len(resources) != len(manifest) {
		t.Fatalf("got %d resources, want %d", len(resources), len(manifest))
	}
	for i, res := range resources {
		if res.URL != manifest[i] {
			t.Errorf("resource %d URL = %s, want %s", i, res.URL, manifest[i])
		}
		if res.Key.URL != manifest[i] {
			t.Errorf("resource %d key = %s", i, res.Key)
		}
		if string(res.Entry.Data) != "body of "+manifest[i] {
			t.Errorf("resource %d data = %q", i, res.Entry.Data)
		}
		if res.Entry.Type != cache.TypeBasic {
			t.Errorf("resource %d type = %s", i, res.Entry.Type)
		}
	}
}

func TestFetchAll_NonOKFailsBatch(t *testing.T) {
	f := newMockFetcher()
	f.status["/js/app.js"] = http.StatusNotFound
	p := New(f, DefaultConfig())

	resources, err := p.FetchAll(context.Background(), manifest)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("error = %v, want ErrIncomplete", err)
	}
	if resources != nil {
		t.Error("expected no resources on failure")
	}
	if !strings.Contains(err.Error(), "/js/app.js") {
		t.Errorf("error should name the failing resource: %v", err)
	}
}

func TestFetchAll_NetworkErrorFailsBatch(t *testing.T) {
	boom := errors.New("connection refused")
	f := newMockFetcher()
	f.fail["/css/styles.css"] = boom
	p := New(f, DefaultConfig())

	_, err := p.FetchAll(context.Background(), manifest)
	if !errors.Is(err, ErrIncomplete) {
		t.Errorf("error = %v, want ErrIncomplete", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("error = %v, want wrapped cause", err)
	}
}

func TestFetchAll_BoundedConcurrency(t *testing.T) {
	f := newMockFetcher()
	f.delay = 20 * time.Millisecond
	p := New(f, Config{MaxConcurrency: 2})

	if _, err := p.FetchAll(context.Background(), manifest); err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if peak := f.peak.Load(); peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if calls := f.calls.Load(); int(calls) != len(manifest) {
		t.Errorf("calls = %d, want %d", calls, len(manifest))
	}
}

func TestFetchAll_Empty(t *testing.T) {
	p := New(newMockFetcher(), DefaultConfig())

	resources, err := p.FetchAll(context.Background(), nil)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(resources) != 0 {
		t.Errorf("got %d resources", len(resources))
	}
}

func TestNew_DefaultsConcurrency(t *testing.T) {
	p := New(newMockFetcher(), Config{})
	if p.config.MaxConcurrency != DefaultConfig().MaxConcurrency {
		t.Errorf("MaxConcurrency = %d", p.config.MaxConcurrency)
	}
}

// failingStore rejects the nth Put.
type failingStore struct {
	cache.Store
	failAt int
	puts   int
}

func (s *failingStore) Put(ctx context.Context, key cache.CacheKey, entry *cache.CacheEntry) error {
	s.puts++
	if s.puts == s.failAt {
		return errors.New("disk full")
	}
	return s.Store.Put(ctx, key, entry)
}

func TestCommit(t *testing.T) {
	ctx := context.Background()
	p := New(newMockFetcher(), DefaultConfig())
	resources, err := p.FetchAll(ctx, manifest)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	storage := cache.NewMemoryStorage(100)
	store, _ := storage.Open(ctx, "app-1")

	if err := Commit(ctx, store, resources); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	keys, _ := store.Keys(ctx)
	if len(keys) != len(manifest) {
		t.Errorf("store has %d keys, want %d", len(keys), len(manifest))
	}
}

func TestCommit_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	p := New(newMockFetcher(), DefaultConfig())
	resources, err := p.FetchAll(ctx, manifest)
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	storage := cache.NewMemoryStorage(100)
	inner, _ := storage.Open(ctx, "app-1")
	store := &failingStore{Store: inner, failAt: 3}

	err = Commit(ctx, store, resources)
	if !errors.Is(err, ErrIncomplete) {
		t.Fatalf("error = %v, want ErrIncomplete", err)
	}

	keys, _ := inner.Keys(ctx)
	if len(keys) != 0 {
		t.Errorf("store kept %d keys after rollback: %v", len(keys), keys)
	}
}
