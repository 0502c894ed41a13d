package engine

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/Sternrassler/edge-cache/internal/testutil"
	"github.com/Sternrassler/edge-cache/pkg/cache"
	"github.com/Sternrassler/edge-cache/pkg/lifecycle"
	"github.com/Sternrassler/edge-cache/pkg/precache"
)

func TestInstall_PopulatesStaticStore(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	storage := cache.NewMemoryStorage(10)
	e := newTestEngine(t, mock, testConfig("/css/styles.css", "/images/logo.svg"), storage)

	if err := e.Install(context.Background()); err != nil {
		t.Fatalf("Install failed: %v", err)
	}

	if e.State() != lifecycle.StateActivated {
		t.Errorf("state = %s, want activated after successful install", e.State())
	}
	for _, path := range []string{"/css/styles.css", "/images/logo.svg"} {
		entry, ok := stored(t, storage, staticStore, path)
		if !ok {
			t.Errorf("%s not precached", path)
			continue
		}
		if string(entry.Data) != "content of "+path {
			t.Errorf("%s data = %q", path, entry.Data)
		}
	}
}

func TestInstall_FailureIsAllOrNothing(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/images/logo.svg", testutil.NewNotFoundResponse())
	storage := cache.NewMemoryStorage(10)
	e := newTestEngine(t, mock, testConfig("/css/styles.css", "/images/logo.svg"), storage)

	err := e.Install(context.Background())
	if !errors.Is(err, precache.ErrIncomplete) {
		t.Fatalf("error = %v, want ErrIncomplete", err)
	}
	if e.State() != lifecycle.StateInstalled {
		t.Errorf("state = %s, want installed (waiting)", e.State())
	}
	if _, ok := stored(t, storage, staticStore, "/css/styles.css"); ok {
		t.Error("partial manifest was stored")
	}

	// waiting engines pass everything through
	mock.Reset()
	res, err := get(t, e, "/css/styles.css")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	res.Response.Body.Close()
	if res.Source != SourcePassthrough {
		t.Errorf("source = %s, want passthrough before activation", res.Source)
	}

	if err := e.HandleMessage(context.Background(), Message{Type: MessageSkipWaiting}); err != nil {
		t.Fatalf("SKIP_WAITING failed: %v", err)
	}
	if e.State() != lifecycle.StateActivated {
		t.Errorf("state = %s, want activated after SKIP_WAITING", e.State())
	}

	res, err = get(t, e, "/css/styles.css")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	res.Response.Body.Close()
	if res.Source != SourceNetwork {
		t.Errorf("source = %s, want network after activation", res.Source)
	}
}

func TestInstall_SkipWaitingDuringInstall(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	mock.SetResponse("/css/styles.css", testutil.MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Delay:      100 * time.Millisecond,
	})
	e := newTestEngine(t, mock, testConfig("/css/styles.css"), cache.NewMemoryStorage(10))

	done := make(chan error, 1)
	go func() { done <- e.Install(context.Background()) }()

	deadline := time.Now().Add(2 * time.Second)
	for e.State() != lifecycle.StateInstalling {
		if time.Now().After(deadline) {
			t.Fatal("install never started")
		}
		time.Sleep(time.Millisecond)
	}

	if err := e.SkipWaiting(context.Background()); err != nil {
		t.Fatalf("SkipWaiting failed: %v", err)
	}
	if e.State() == lifecycle.StateActivated {
		t.Error("activated before install finished")
	}

	err := <-done
	if !errors.Is(err, precache.ErrIncomplete) {
		t.Errorf("Install error = %v, want ErrIncomplete", err)
	}
	if e.State() != lifecycle.StateActivated {
		t.Errorf("state = %s, want activated once install finished", e.State())
	}
}

func TestRespond_BeforeActivationPassesThrough(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	storage := cache.NewMemoryStorage(10)
	e := newTestEngine(t, mock, testConfig("/css/styles.css"), storage)

	res, err := get(t, e, "/api/videos")
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	res.Response.Body.Close()

	if res.Source != SourcePassthrough {
		t.Errorf("source = %s, want passthrough", res.Source)
	}
	if _, ok := stored(t, storage, apiStore, "/api/videos"); ok {
		t.Error("response stored before activation")
	}
}

func TestActivate_VersionRollover(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	storage := cache.NewMemoryStorage(10)
	for _, name := range []string{
		"streamflow-v2-cache-1.0.2",
		"streamflow-v2-cache-api-1.0.2",
		staticStore,
		apiStore,
		"other-app-cache-1",
	} {
		seed(t, storage, name, "/x.css", name)
	}
	e := newTestEngine(t, mock, testConfig(), storage)
	ctx := context.Background()

	stale, err := e.Superseded(ctx)
	if err != nil {
		t.Fatalf("Superseded failed: %v", err)
	}
	want := []string{"streamflow-v2-cache-1.0.2", "streamflow-v2-cache-api-1.0.2"}
	if !reflect.DeepEqual(stale, want) {
		t.Errorf("Superseded() = %v, want %v", stale, want)
	}

	// marking does not delete
	names, _ := storage.Names(ctx)
	if len(names) != 5 {
		t.Errorf("Superseded deleted stores: %v", names)
	}

	if err := e.Activate(ctx); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}

	names, _ = storage.Names(ctx)
	wantNames := []string{"other-app-cache-1", staticStore, apiStore}
	if !reflect.DeepEqual(names, wantNames) {
		t.Errorf("stores after activation = %v, want %v", names, wantNames)
	}
	if e.State() != lifecycle.StateActivated {
		t.Errorf("state = %s", e.State())
	}
}

func TestActivate_EnumerationFailureAborts(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	storage := &brokenStorage{Storage: cache.NewMemoryStorage(10), failNames: true}
	e := newTestEngine(t, mock, testConfig(), storage)

	err := e.Activate(context.Background())
	if !errors.Is(err, errBroken) {
		t.Fatalf("error = %v, want storage failure", err)
	}
	if e.State() != lifecycle.StateNew {
		t.Errorf("state = %s, want previous state restored", e.State())
	}
}

func TestActivate_Repeatable(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	e, storage := newActiveEngine(t, mock, testConfig("/css/styles.css"))

	seed(t, storage, "streamflow-v2-cache-0.9", "/x.css", "old")
	if err := e.Activate(context.Background()); err != nil {
		t.Fatalf("second Activate failed: %v", err)
	}
	names, _ := storage.Names(context.Background())
	for _, n := range names {
		if n == "streamflow-v2-cache-0.9" {
			t.Error("old store survived activation")
		}
	}
}

func TestClearAPICache_Idempotent(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	e, storage := newActiveEngine(t, mock, testConfig("/css/styles.css"))
	seed(t, storage, apiStore, "/api/videos", "[]")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := e.HandleMessage(ctx, Message{Type: MessageClearAPICache}); err != nil {
			t.Fatalf("CLEAR_API_CACHE #%d failed: %v", i+1, err)
		}
	}

	if _, ok := stored(t, storage, apiStore, "/api/videos"); ok {
		t.Error("api store still holds entries")
	}
	if _, ok := stored(t, storage, staticStore, "/css/styles.css"); !ok {
		t.Error("static store must survive CLEAR_API_CACHE")
	}

	// the next API request goes to the network as if never cached
	mock.SetDown(true)
	if res, err := get(t, e, "/api/videos"); err == nil {
		res.Response.Body.Close()
		t.Error("expected failure after clearing with the network down")
	}
}

func TestHandleMessage_Unknown(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	e := newTestEngine(t, mock, testConfig(), cache.NewMemoryStorage(10))

	err := e.HandleMessage(context.Background(), Message{Type: "RELOAD"})
	if !errors.Is(err, ErrUnknownMessage) {
		t.Errorf("error = %v, want ErrUnknownMessage", err)
	}
}

func TestSkipWaiting_NoopWhenActivated(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	e, _ := newActiveEngine(t, mock, testConfig("/css/styles.css"))

	if err := e.SkipWaiting(context.Background()); err != nil {
		t.Errorf("SkipWaiting failed: %v", err)
	}
	if e.State() != lifecycle.StateActivated {
		t.Errorf("state = %s", e.State())
	}
}

func TestReady(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	storage := &brokenStorage{Storage: cache.NewMemoryStorage(10)}
	e := newTestEngine(t, mock, testConfig(), storage)
	ctx := context.Background()

	if err := e.Ready(ctx); err == nil {
		t.Error("new engine should not be ready")
	}
	if err := e.Install(ctx); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if err := e.Ready(ctx); err != nil {
		t.Errorf("Ready failed: %v", err)
	}

	storage.failPing = true
	if err := e.Ready(ctx); !errors.Is(err, errBroken) {
		t.Errorf("Ready error = %v, want storage failure", err)
	}
}

func TestStoreNames(t *testing.T) {
	mock := testutil.NewMockOrigin()
	defer mock.Close()
	e, _ := newActiveEngine(t, mock, testConfig("/css/styles.css"))

	names, err := e.StoreNames(context.Background())
	if err != nil {
		t.Fatalf("StoreNames failed: %v", err)
	}
	if !reflect.DeepEqual(names, []string{staticStore}) {
		t.Errorf("StoreNames() = %v", names)
	}
}
