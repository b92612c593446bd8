package tracker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vincentbai/navtrace/internal/adapters"
	"github.com/vincentbai/navtrace/internal/models"
	"github.com/vincentbai/navtrace/internal/registry"
	"github.com/vincentbai/navtrace/internal/store"
	"github.com/vincentbai/navtrace/internal/uploader"
)

type fakeAdapter struct {
	mu       sync.Mutex
	location string
	err      error
	queries  int
	sink     adapters.Sink
}

func (a *fakeAdapter) ResolveSessionID() string    { return "sess-1" }
func (a *fakeAdapter) Framework() models.Framework { return models.FrameworkPlaywright }
func (a *fakeAdapter) Attach(sink adapters.Sink)   { a.sink = sink }
func (a *fakeAdapter) CurrentLocation(context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queries++
	return a.location, a.err
}

func (a *fakeAdapter) moveTo(location string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.location = location
}

type countingMirror struct {
	mu       sync.Mutex
	sessions []models.Session
	previous []models.SessionKey
}

func (m *countingMirror) UpsertSession(s models.Session, previous ...models.SessionKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = append(m.sessions, s)
	m.previous = append(m.previous, previous...)
	return nil
}

func setupTestTracker(t *testing.T, opts Options) (*Tracker, *fakeAdapter, string) {
	t.Helper()

	adapter := &fakeAdapter{location: "https://example.com/"}
	path := filepath.Join(t.TempDir(), models.TrackingURL.DefaultFileName())
	opts.Adapter = adapter
	opts.SpecFile = "checkout.spec.ts"
	opts.TestName = "buys a thing"
	opts.Persister = store.NewPersister(path, nil)
	return New(opts), adapter, path
}

func readStore(t *testing.T, path string) []models.Session {
	t.Helper()
	sessions, err := store.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	return sessions
}

func TestCleanupIsIdempotent(t *testing.T) {
	tr, adapter, path := setupTestTracker(t, Options{})
	ctx := context.Background()

	tr.Start(ctx)
	adapter.sink.Record("https://example.com/cart", "pushstate")
	adapter.moveTo("https://example.com/checkout")

	for i := 0; i < 3; i++ {
		tr.Cleanup(ctx)
	}
	tr.Flush("exit")

	sessions := readStore(t, path)
	if len(sessions) != 1 {
		t.Fatalf("store has %d sessions, want 1", len(sessions))
	}
	if sessions[0].NavigationCount != 3 || len(sessions[0].Navigations) != 3 {
		t.Errorf("navigation count = %d/%d, want 3", sessions[0].NavigationCount, len(sessions[0].Navigations))
	}
	last := sessions[0].Navigations[2]
	if last.NavigationType != models.NavFinal || last.CurrentLocation != "https://example.com/checkout" {
		t.Errorf("last navigation = %+v", last)
	}
	if adapter.queries != 2 {
		t.Errorf("driver queried %d times, want 2 (start and final)", adapter.queries)
	}
}

func TestEventsAfterCleanupAreIgnored(t *testing.T) {
	tr, adapter, path := setupTestTracker(t, Options{})
	ctx := context.Background()

	tr.Start(ctx)
	tr.Cleanup(ctx)
	if adapter.sink.Record("https://example.com/late", "pushstate") {
		t.Error("late hook should not record after cleanup")
	}
	tr.SaveResults()

	if got := len(readStore(t, path)[0].Navigations); got != 1 {
		t.Errorf("navigations = %d, want 1", got)
	}
}

func TestSaveResultsDoesNotFinalize(t *testing.T) {
	tr, _, path := setupTestTracker(t, Options{})
	ctx := context.Background()

	tr.Start(ctx)
	tr.SaveResults()
	tr.Record("https://example.com/next", "click")
	tr.SaveResults()

	sessions := readStore(t, path)
	if len(sessions) != 1 || len(sessions[0].Navigations) != 2 {
		t.Fatalf("unexpected store %+v", sessions)
	}
	if sessions[0].Navigations[1].NavigationType != models.NavLinkClick {
		t.Errorf("type = %q", sessions[0].Navigations[1].NavigationType)
	}
}

func TestSetMetadataRewritesUnknown(t *testing.T) {
	adapter := &fakeAdapter{location: "https://example.com/"}
	path := filepath.Join(t.TempDir(), "out.json")
	tr := New(Options{Adapter: adapter, Persister: store.NewPersister(path, nil)})

	tr.Start(context.Background())
	tr.SetMetadata("late.spec.ts", "late test")
	tr.SaveResults()

	s := readStore(t, path)[0]
	if s.SpecFile != "late.spec.ts" || s.Navigations[0].TestName != "late test" {
		t.Errorf("metadata not applied: %+v", s)
	}
}

func TestLateMetadataKeepsOneEntry(t *testing.T) {
	adapter := &fakeAdapter{location: "https://a.com/"}
	path := filepath.Join(t.TempDir(), "out.json")
	mirror := &countingMirror{}
	tr := New(Options{Adapter: adapter, Persister: store.NewPersister(path, nil), Mirror: mirror})
	ctx := context.Background()

	tr.Start(ctx)
	tr.SaveResults()
	tr.SetMetadata("login.spec.ts", "logs in")
	adapter.moveTo("https://a.com/page1")
	tr.Record("https://a.com/page1", "click")
	tr.Cleanup(ctx)

	sessions := readStore(t, path)
	if len(sessions) != 1 {
		t.Fatalf("Expected one entry for the session, got %d: %+v", len(sessions), sessions)
	}
	s := sessions[0]
	if s.SpecFile != "login.spec.ts" || s.TestName != "logs in" || s.SessionID != "sess-1" {
		t.Errorf("unexpected key %+v", s.Key())
	}
	if len(s.Navigations) != 2 {
		t.Errorf("Expected 2 navigations, got %d", len(s.Navigations))
	}

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	stale := models.SessionKey{SpecFile: models.Unknown, TestName: models.Unknown, SessionID: "sess-1"}
	if len(mirror.previous) != 1 || mirror.previous[0] != stale {
		t.Errorf("Expected mirror to be told about %+v, got %+v", stale, mirror.previous)
	}
}

func TestRegistryFlushPersists(t *testing.T) {
	reg := registry.New(nil)
	mirror := &countingMirror{}
	tr, _, path := setupTestTracker(t, Options{Registry: reg, Mirror: mirror})
	tr.Start(context.Background())

	reg.FlushAll("signal")
	reg.FlushAll("exit")

	if len(readStore(t, path)) != 1 {
		t.Error("flush should persist the session")
	}
	if len(mirror.sessions) != 1 {
		t.Errorf("mirror received %d sessions, want 1", len(mirror.sessions))
	}
}

func TestDriverErrorAtFinalIsSwallowed(t *testing.T) {
	tr, adapter, path := setupTestTracker(t, Options{})
	tr.Start(context.Background())
	adapter.mu.Lock()
	adapter.err = errors.New("session terminated")
	adapter.mu.Unlock()

	tr.Cleanup(context.Background())

	if got := len(readStore(t, path)[0].Navigations); got != 1 {
		t.Errorf("navigations = %d, want 1", got)
	}
}

func TestTrackNavigationThrottled(t *testing.T) {
	tr, adapter, _ := setupTestTracker(t, Options{PollInterval: time.Hour})
	ctx := context.Background()

	if !tr.TrackNavigation(ctx, "navigate") {
		t.Fatal("first poll should record")
	}
	adapter.moveTo("https://example.com/other")
	if tr.TrackNavigation(ctx, "navigate") {
		t.Error("poll inside the throttle window should be dropped")
	}
}

func setupTestAPI(t *testing.T, status int) (*uploader.Uploader, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(status)
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	u := uploader.New(uploader.Config{
		URL:           srv.URL,
		Username:      "user",
		AccessKey:     "key",
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})
	return u, &hits
}

func TestCleanupAutoUpload(t *testing.T) {
	u, hits := setupTestAPI(t, http.StatusOK)
	tr, _, _ := setupTestTracker(t, Options{Uploader: u, AutoUpload: true})
	tr.Start(context.Background())

	tr.Cleanup(context.Background())
	tr.Cleanup(context.Background())

	if atomic.LoadInt32(hits) != 1 {
		t.Errorf("uploads = %d, want 1", *hits)
	}
}

func TestCleanupAutoUploadFailureIsLogged(t *testing.T) {
	u, _ := setupTestAPI(t, http.StatusInternalServerError)
	tr, _, path := setupTestTracker(t, Options{Uploader: u, AutoUpload: true})
	tr.Start(context.Background())

	tr.Cleanup(context.Background())

	if len(readStore(t, path)) != 1 {
		t.Error("session should be persisted even when upload fails")
	}
}

func TestUploadTrackingResultsReturnsErrors(t *testing.T) {
	u, _ := setupTestAPI(t, http.StatusUnauthorized)
	tr, _, _ := setupTestTracker(t, Options{Uploader: u})
	tr.Start(context.Background())

	_, err := tr.UploadTrackingResults(context.Background(), uploader.Options{})
	var apiErr *uploader.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("UploadTrackingResults() error = %v, want 401 APIError", err)
	}
}

func TestUploadTrackingResultsWithoutUploader(t *testing.T) {
	tr, _, _ := setupTestTracker(t, Options{})
	if _, err := tr.UploadTrackingResults(context.Background(), uploader.Options{}); !errors.Is(err, uploader.ErrMissingEndpoint) {
		t.Errorf("UploadTrackingResults() error = %v", err)
	}
}
