package downloads

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/quahl/remote/internal/httpclient"
	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/jsonrpc"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(httpclient.New(), t.TempDir(), logging.NewNop())
}

func waitForState(t *testing.T, m *Manager, id string, want State) *Download {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		d, err := m.Get(IDParams{ID: id})
		if err != nil {
			t.Fatal(err)
		}
		if d.State == want {
			return d
		}
		if d.State.terminal() {
			t.Fatalf("download reached %s (error %q), want %s", d.State, d.Error, want)
		}
		if time.Now().After(deadline) {
			t.Fatalf("download stuck in %s, want %s", d.State, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDownloadCompletes(t *testing.T) {
	body := []byte("payload bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(body)
	}))
	defer srv.Close()

	m := newTestManager(t)
	d, err := m.Start(StartParams{URL: srv.URL + "/data.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if d.ID == "" {
		t.Fatal("empty download id")
	}

	done := waitForState(t, m, d.ID, StateCompleted)
	if done.Size != int64(len(body)) {
		t.Errorf("Size = %d, want %d", done.Size, len(body))
	}
	if done.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q", done.ContentType)
	}
	if done.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}

	saved, err := os.ReadFile(done.Path)
	if err != nil {
		t.Fatal(err)
	}
	if string(saved) != string(body) {
		t.Errorf("saved content = %q", saved)
	}
}

func TestDownloadFailsOnHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	m := newTestManager(t)
	d, err := m.Start(StartParams{URL: srv.URL + "/missing"})
	if err != nil {
		t.Fatal(err)
	}

	failed := waitForState(t, m, d.ID, StateFailed)
	if failed.Error == "" {
		t.Error("failed download carries no error message")
	}
	if _, err := os.Stat(failed.Path); !os.IsNotExist(err) {
		t.Error("partial file not removed after failure")
	}
}

func TestDownloadCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	m := newTestManager(t)
	d, err := m.Start(StartParams{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, m, d.ID, StateActive)

	ok, err := m.Cancel(IDParams{ID: d.ID})
	if err != nil || !ok {
		t.Fatalf("Cancel = %v, %v", ok, err)
	}
	waitForState(t, m, d.ID, StateCancelled)

	// Cancelling a terminal download is a no-op.
	ok, err = m.Cancel(IDParams{ID: d.ID})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("cancelled a terminal download")
	}
}

// Shutdown must not block on a stalled transfer: it cancels in-flight
// downloads and returns once they settle, or when its context expires.
func TestShutdownCancelsInFlight(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	m := newTestManager(t)
	d, err := m.Start(StartParams{URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	waitForState(t, m, d.ID, StateActive)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Shutdown took %s, transfer was not cancelled", elapsed)
	}

	done, err := m.Get(IDParams{ID: d.ID})
	if err != nil {
		t.Fatal(err)
	}
	if done.State != StateCancelled {
		t.Errorf("State = %s, want %s", done.State, StateCancelled)
	}
}

func TestShutdownExpiredContext(t *testing.T) {
	m := newTestManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// With nothing in flight wg.Wait returns immediately, so even an
	// expired context yields a clean shutdown or ctx.Err, never a hang.
	if err := m.Shutdown(ctx); err != nil && err != context.Canceled {
		t.Errorf("Shutdown = %v", err)
	}
}

func TestDownloadRequiresURL(t *testing.T) {
	m := newTestManager(t)
	_, err := m.Start(StartParams{})
	rpcErr, ok := err.(*jsonrpc.Error)
	if !ok || rpcErr.Code != jsonrpc.CodeInvalidParams {
		t.Fatalf("err = %v, want InvalidParams", err)
	}
}

func TestDownloadGetUnknown(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.Get(IDParams{ID: "missing"}); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestDownloadListOrderAndClear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	m := newTestManager(t)
	first, _ := m.Start(StartParams{URL: srv.URL + "/a"})
	second, _ := m.Start(StartParams{URL: srv.URL + "/b"})
	m.Wait()

	list, err := m.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("List() = %+v", list)
	}

	removed, err := m.Clear()
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("Clear() removed %d, want 2", removed)
	}
	list, _ = m.List()
	if len(list) != 0 {
		t.Errorf("List() after Clear() = %+v", list)
	}
}

func TestFilenameFromURL(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"http://example.com/a/b/file.tar.gz", "file.tar.gz"},
		{"http://example.com/", "download"},
		{"http://example.com", "download"},
		{"://bad", "download"},
	}
	for _, tc := range cases {
		if got := filenameFromURL(tc.url); got != tc.want {
			t.Errorf("filenameFromURL(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}
}
