package window

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/quahl/remote/internal/httpclient"
	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/jsonrpc"
)

func newTestProvider(t *testing.T) *Provider {
	t.Helper()
	return NewProvider(httpclient.New(), logging.NewNop())
}

func TestOpenFocusesNewWindow(t *testing.T) {
	p := newTestProvider(t)
	first, err := p.Open(OpenParams{Title: "one"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := p.Open(OpenParams{Title: "two"})
	if err != nil {
		t.Fatal(err)
	}

	list, _ := p.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d windows", len(list))
	}
	if list[0].ID != first.ID || list[1].ID != second.ID {
		t.Error("List() not in creation order")
	}
	if list[0].State != StateBackground || list[1].State != StateActive {
		t.Errorf("states = %s, %s", list[0].State, list[1].State)
	}
}

func TestOpenDefaultTitle(t *testing.T) {
	p := newTestProvider(t)
	w, _ := p.Open(OpenParams{})
	if w.Title != "Untitled" {
		t.Errorf("Title = %q", w.Title)
	}
}

func TestCloseAutoFocuses(t *testing.T) {
	p := newTestProvider(t)
	a, _ := p.Open(OpenParams{})
	b, _ := p.Open(OpenParams{})

	ok, err := p.Close(IDParams{ID: b.ID})
	if err != nil || !ok {
		t.Fatalf("Close = %v, %v", ok, err)
	}

	stats, _ := p.Stats()
	if stats.Total != 1 || stats.FocusedID == nil || *stats.FocusedID != a.ID {
		t.Errorf("stats = %+v", stats)
	}
	list, _ := p.List()
	if list[0].State != StateActive {
		t.Errorf("remaining window state = %s", list[0].State)
	}
}

func TestCloseUnknownWindow(t *testing.T) {
	p := newTestProvider(t)
	ok, err := p.Close(IDParams{ID: "missing"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Close(missing) = true")
	}
}

func TestFocusSwitchesStates(t *testing.T) {
	p := newTestProvider(t)
	a, _ := p.Open(OpenParams{})
	p.Open(OpenParams{})

	ok, err := p.Focus(IDParams{ID: a.ID})
	if err != nil || !ok {
		t.Fatalf("Focus = %v, %v", ok, err)
	}
	stats, _ := p.Stats()
	if stats.Active != 1 || stats.Background != 1 || *stats.FocusedID != a.ID {
		t.Errorf("stats = %+v", stats)
	}
}

func TestNavigate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><head><title>  Example Page </title></head><body></body></html>"))
	}))
	defer srv.Close()

	p := newTestProvider(t)
	w, _ := p.Open(OpenParams{})

	result, err := p.Navigate(context.Background(), NavigateParams{ID: w.ID, URL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if result.Title != "Example Page" {
		t.Errorf("Title = %q", result.Title)
	}
	if result.Status != http.StatusOK {
		t.Errorf("Status = %d", result.Status)
	}

	list, _ := p.List()
	if list[0].URL != srv.URL || list[0].Title != "Example Page" {
		t.Errorf("window record = %+v", list[0])
	}
}

func TestNavigateErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestProvider(t)
	w, _ := p.Open(OpenParams{})

	if _, err := p.Navigate(context.Background(), NavigateParams{ID: w.ID, URL: ""}); err == nil {
		t.Error("expected error for empty URL")
	} else if rpcErr, ok := err.(*jsonrpc.Error); !ok || rpcErr.Code != jsonrpc.CodeInvalidParams {
		t.Errorf("err = %v, want InvalidParams", err)
	}

	if _, err := p.Navigate(context.Background(), NavigateParams{ID: "missing", URL: srv.URL}); err == nil {
		t.Error("expected error for unknown window")
	}
}

// Handlers hand their results to the serializer after releasing the
// provider lock, so returned records must be copies. Run with -race.
func TestConcurrentMutationAndList(t *testing.T) {
	p := newTestProvider(t)
	a, _ := p.Open(OpenParams{Title: "a"})
	b, _ := p.Open(OpenParams{Title: "b"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			p.Focus(IDParams{ID: a.ID})
			p.Focus(IDParams{ID: b.ID})
		}
	}()

	for i := 0; i < 500; i++ {
		list, err := p.List()
		if err != nil {
			t.Fatal(err)
		}
		// Reading the fields is what the serializer does with the result.
		if _, err := json.Marshal(list); err != nil {
			t.Fatal(err)
		}
	}
	<-done
}

func TestListReturnsCopies(t *testing.T) {
	p := newTestProvider(t)
	p.Open(OpenParams{Title: "orig"})

	list, _ := p.List()
	list[0].Title = "mutated"
	list[0].State = StateBackground

	again, _ := p.List()
	if again[0].Title != "orig" || again[0].State != StateActive {
		t.Errorf("provider state leaked through List result: %+v", again[0])
	}

	opened, _ := p.Open(OpenParams{Title: "second"})
	opened.Title = "mutated"
	list, _ = p.List()
	if list[1].Title != "second" {
		t.Errorf("provider state leaked through Open result: %+v", list[1])
	}
}

func TestExtractTitle(t *testing.T) {
	cases := []struct {
		html string
		want string
	}{
		{"<html><head><title>T</title></head></html>", "T"},
		{"<html><body>no title</body></html>", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := extractTitle(tc.html); got != tc.want {
			t.Errorf("extractTitle(%q) = %q, want %q", tc.html, got, tc.want)
		}
	}
}
