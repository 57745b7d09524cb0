// Package window manages browser window records on behalf of the
// embedding application and exposes their lifecycle over the control
// channel: open, focus, close, list, and navigation with title capture.
package window

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quahl/remote/internal/httpclient"
	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/jsonrpc"
)

// State represents a window's lifecycle state.
type State string

const (
	StateActive     State = "active"
	StateBackground State = "background"
)

// Window is one window record.
type Window struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Provider orchestrates window lifecycle. The actual rendering lives in
// the embedding application; this provider is its bookkeeping collaborator.
type Provider struct {
	mu      sync.RWMutex
	windows map[string]*Window
	order   []string // creation order, for stable listing
	focused string

	client *httpclient.Client
	logger *logging.Logger
}

// NewProvider creates a window provider. client is used by navigate to
// fetch pages for title capture.
func NewProvider(client *httpclient.Client, logger *logging.Logger) *Provider {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Provider{
		windows: make(map[string]*Window),
		client:  client,
		logger:  logger,
	}
}

// Register adds the window methods to reg.
func (p *Provider) Register(reg *jsonrpc.Registry) error {
	methods := []struct {
		name string
		fn   any
	}{
		{"window.open", p.Open},
		{"window.close", p.Close},
		{"window.focus", p.Focus},
		{"window.list", p.List},
		{"window.navigate", p.Navigate},
		{"window.stats", p.Stats},
	}
	for _, m := range methods {
		if !reg.Register(m.name, m.fn) {
			return fmt.Errorf("method %q already registered", m.name)
		}
	}
	return nil
}

// OpenParams configures a new window.
type OpenParams struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Open creates a window record and focuses it.
func (p *Provider) Open(params OpenParams) (*Window, error) {
	w := &Window{
		ID:        uuid.New().String(),
		Title:     params.Title,
		URL:       params.URL,
		State:     StateActive,
		CreatedAt: time.Now(),
	}
	if w.Title == "" {
		w.Title = "Untitled"
	}

	p.mu.Lock()
	if p.focused != "" {
		if current, ok := p.windows[p.focused]; ok {
			current.State = StateBackground
		}
	}
	p.windows[w.ID] = w
	p.order = append(p.order, w.ID)
	p.focused = w.ID
	out := snapshot(w)
	p.mu.Unlock()

	p.logger.Info("window opened", zap.String("window", w.ID), zap.String("url", w.URL))
	return out, nil
}

// snapshot copies a record so callers never hold a pointer another
// connection may mutate. Must be called with the provider lock held.
func snapshot(w *Window) *Window {
	copied := *w
	return &copied
}

// IDParams addresses a window by ID.
type IDParams struct {
	ID string `json:"id"`
}

// Close destroys a window record. It reports whether the window existed.
func (p *Provider) Close(params IDParams) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.windows[params.ID]; !ok {
		return false, nil
	}
	delete(p.windows, params.ID)
	for i, id := range p.order {
		if id == params.ID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}

	// Auto-focus the most recently opened remaining window.
	if p.focused == params.ID {
		p.focused = ""
		if n := len(p.order); n > 0 {
			p.focused = p.order[n-1]
			p.windows[p.focused].State = StateActive
		}
	}

	p.logger.Info("window closed", zap.String("window", params.ID))
	return true, nil
}

// Focus brings a window to the foreground. It reports whether the window
// existed.
func (p *Provider) Focus(params IDParams) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.windows[params.ID]
	if !ok {
		return false, nil
	}
	if p.focused != "" && p.focused != params.ID {
		if current, ok := p.windows[p.focused]; ok {
			current.State = StateBackground
		}
	}
	w.State = StateActive
	p.focused = params.ID
	return true, nil
}

// List returns all windows in creation order.
func (p *Provider) List() ([]*Window, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]*Window, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, snapshot(p.windows[id]))
	}
	return out, nil
}

// NavigateParams targets a window at a URL.
type NavigateParams struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// NavigateResult reports the outcome of a navigation.
type NavigateResult struct {
	ID     string `json:"id"`
	URL    string `json:"url"`
	Title  string `json:"title"`
	Status int    `json:"status"`
}

// Navigate fetches the page and updates the window's URL and title. The
// title comes from the document's <title> element.
func (p *Provider) Navigate(ctx context.Context, params NavigateParams) (*NavigateResult, error) {
	if params.URL == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params: 'url' is required")
	}

	p.mu.RLock()
	w, ok := p.windows[params.ID]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no window with id %q", params.ID)
	}

	req, err := p.client.Request(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := req.Get(params.URL)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	status := resp.StatusCode()
	if status < 200 || status >= 400 {
		return nil, fmt.Errorf("navigation failed: HTTP %d (url: %s)", status, params.URL)
	}

	title := extractTitle(resp.String())

	p.mu.Lock()
	w.URL = params.URL
	if title != "" {
		w.Title = title
	}
	p.mu.Unlock()

	p.logger.Info("window navigated",
		zap.String("window", params.ID),
		zap.String("url", params.URL),
		zap.Int("status", status),
	)

	return &NavigateResult{ID: params.ID, URL: params.URL, Title: title, Status: status}, nil
}

// StatsResult summarizes window bookkeeping.
type StatsResult struct {
	Total      int     `json:"total"`
	Active     int     `json:"active"`
	Background int     `json:"background"`
	FocusedID  *string `json:"focused_id,omitempty"`
}

// Stats returns window counts and the focused window.
func (p *Provider) Stats() (*StatsResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := &StatsResult{Total: len(p.windows)}
	for _, w := range p.windows {
		switch w.State {
		case StateActive:
			stats.Active++
		case StateBackground:
			stats.Background++
		}
	}
	if p.focused != "" {
		focused := p.focused
		stats.FocusedID = &focused
	}
	return stats, nil
}

// extractTitle pulls the <title> text from an HTML document. Returns ""
// when the document has none or fails to parse.
func extractTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}
