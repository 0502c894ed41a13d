package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"
)

// runStorageContract exercises the behaviour every Storage backend must share.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Helper()

	entry := func(body string) *CacheEntry {
		return &CacheEntry{
			Data:       []byte(body),
			StatusCode: http.StatusOK,
			Headers:    http.Header{"Content-Type": []string{"application/json"}},
			Type:       TypeBasic,
			CachedAt:   time.Now().Truncate(time.Second),
		}
	}
	videos := CacheKey{Method: http.MethodGet, URL: "/api/videos"}

	t.Run("open registers store", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		store, err := s.Open(ctx, "app-1")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if store.Name() != "app-1" {
			t.Errorf("Name() = %s", store.Name())
		}

		names, err := s.Names(ctx)
		if err != nil {
			t.Fatalf("Names failed: %v", err)
		}
		if len(names) != 1 || names[0] != "app-1" {
			t.Errorf("Names() = %v, want [app-1]", names)
		}
	})

	t.Run("match does not create store", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		if _, err := s.Match(ctx, "missing", videos); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("Match on missing store: expected ErrCacheMiss, got %v", err)
		}
		names, _ := s.Names(ctx)
		if len(names) != 0 {
			t.Errorf("Match must not create stores, got %v", names)
		}
	})

	t.Run("put and get", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		store, _ := s.Open(ctx, "app-1")
		if err := store.Put(ctx, videos, entry(`[1,2,3]`)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := store.Get(ctx, videos)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Data) != `[1,2,3]` {
			t.Errorf("Data = %s", got.Data)
		}
		if got.StatusCode != http.StatusOK {
			t.Errorf("StatusCode = %d", got.StatusCode)
		}
		if got.Headers.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %s", got.Headers.Get("Content-Type"))
		}
		if got.Type != TypeBasic {
			t.Errorf("Type = %s", got.Type)
		}

		matched, err := s.Match(ctx, "app-1", videos)
		if err != nil || string(matched.Data) != `[1,2,3]` {
			t.Errorf("Match() = %v, %v", matched, err)
		}

		// other stores are separate
		if _, err := s.Match(ctx, "app-2", videos); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("expected miss in other store, got %v", err)
		}
	})

	t.Run("put overwrites", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		store, _ := s.Open(ctx, "app-1")
		_ = store.Put(ctx, videos, entry("old"))
		if err := store.Put(ctx, videos, entry("new")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := store.Get(ctx, videos)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got.Data) != "new" {
			t.Errorf("expected last writer to win, got %s", got.Data)
		}
	})

	t.Run("delete store", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		store, _ := s.Open(ctx, "app-api-1")
		_ = store.Put(ctx, videos, entry("x"))

		deleted, err := s.Delete(ctx, "app-api-1")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if !deleted {
			t.Error("expected Delete to report true")
		}
		if _, err := s.Match(ctx, "app-api-1", videos); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("expected miss after delete, got %v", err)
		}
		names, _ := s.Names(ctx)
		if len(names) != 0 {
			t.Errorf("Names() after delete = %v", names)
		}

		// second delete is a no-op
		deleted, err = s.Delete(ctx, "app-api-1")
		if err != nil {
			t.Fatalf("second Delete failed: %v", err)
		}
		if deleted {
			t.Error("second Delete should report false")
		}
	})

	t.Run("put after delete recreates store", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		store, _ := s.Open(ctx, "app-api-1")
		_, _ = s.Delete(ctx, "app-api-1")

		if err := store.Put(ctx, videos, entry("again")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		names, _ := s.Names(ctx)
		if len(names) != 1 || names[0] != "app-api-1" {
			t.Errorf("Names() = %v, want [app-api-1]", names)
		}
	})

	t.Run("keys and delete key", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		store, _ := s.Open(ctx, "app-1")
		playlists := CacheKey{Method: http.MethodGet, URL: "/api/playlists"}
		_ = store.Put(ctx, videos, entry("v"))
		_ = store.Put(ctx, playlists, entry("p"))

		keys, err := store.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if len(keys) != 2 {
			t.Fatalf("Keys() = %v, want 2 keys", keys)
		}

		removed, err := store.Delete(ctx, videos)
		if err != nil || !removed {
			t.Fatalf("Delete(key) = %v, %v", removed, err)
		}
		removed, err = store.Delete(ctx, videos)
		if err != nil || removed {
			t.Errorf("second Delete(key) = %v, %v", removed, err)
		}
		if _, err := store.Get(ctx, videos); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("expected miss, got %v", err)
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		if _, err := s.Open(ctx, ""); !errors.Is(err, ErrInvalidStoreName) {
			t.Errorf("Open(\"\") error = %v", err)
		}
		if _, err := s.Match(ctx, "", videos); !errors.Is(err, ErrInvalidStoreName) {
			t.Errorf("Match(\"\") error = %v", err)
		}
		if _, err := s.Delete(ctx, ""); !errors.Is(err, ErrInvalidStoreName) {
			t.Errorf("Delete(\"\") error = %v", err)
		}
	})

	t.Run("nil entry", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()

		store, _ := s.Open(ctx, "app-1")
		if err := store.Put(ctx, videos, nil); err == nil {
			t.Error("Put with nil entry should return error")
		}
	})

	t.Run("concurrent writers", func(t *testing.T) {
		s := newStorage(t)
		ctx := context.Background()
		store, _ := s.Open(ctx, "app-1")

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := CacheKey{Method: http.MethodGet, URL: fmt.Sprintf("/api/videos/%d", i)}
				if err := store.Put(ctx, key, entry(fmt.Sprint(i))); err != nil {
					t.Errorf("Put %d failed: %v", i, err)
				}
			}(i)
		}
		wg.Wait()

		keys, err := store.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if len(keys) != 20 {
			t.Errorf("expected 20 keys, got %d", len(keys))
		}
	})

	t.Run("ping", func(t *testing.T) {
		s := newStorage(t)
		if err := s.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})
}
