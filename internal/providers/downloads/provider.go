// Package downloads manages file transfers started over the control
// channel. Each download moves through a small state machine (pending →
// active → completed/failed/cancelled); transfers run asynchronously so a
// downloads.start call returns as soon as the record exists.
package downloads

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quahl/remote/internal/httpclient"
	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/infrastructure/monitoring"
	"github.com/quahl/remote/internal/jsonrpc"
)

// State represents a download's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// terminal reports whether a state is final.
func (s State) terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Download is one transfer record.
type Download struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Path        string     `json:"path"`
	State       State      `json:"state"`
	Size        int64      `json:"size"`
	ContentType string     `json:"content_type,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`

	cancel context.CancelFunc
}

// Manager owns all download records and their transfer goroutines.
type Manager struct {
	mu        sync.RWMutex
	downloads map[string]*Download
	order     []string

	client  *httpclient.Client
	dir     string
	logger  *logging.Logger
	metrics *monitoring.Metrics
	wg      sync.WaitGroup
}

// NewManager creates a download manager saving into dir (the OS temp
// directory when empty).
func NewManager(client *httpclient.Client, dir string, logger *logging.Logger) *Manager {
	if dir == "" {
		dir = os.TempDir()
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Manager{
		downloads: make(map[string]*Download),
		client:    client,
		dir:       dir,
		logger:    logger,
	}
}

// WithMetrics attaches a metrics collector.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Register adds the download methods to reg.
func (m *Manager) Register(reg *jsonrpc.Registry) error {
	methods := []struct {
		name string
		fn   any
	}{
		{"downloads.start", m.Start},
		{"downloads.list", m.List},
		{"downloads.get", m.Get},
		{"downloads.cancel", m.Cancel},
		{"downloads.clear", m.Clear},
	}
	for _, method := range methods {
		if !reg.Register(method.name, method.fn) {
			return fmt.Errorf("method %q already registered", method.name)
		}
	}
	return nil
}

// Wait blocks until every transfer goroutine has finished. Used in tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown cancels in-flight transfers and waits for their goroutines to
// settle, giving up when ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, d := range m.downloads {
		if !d.State.terminal() && d.cancel != nil {
			d.cancel()
		}
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartParams configures a new download.
type StartParams struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Start creates a download record and launches its transfer. The record
// is returned immediately in the pending state.
func (m *Manager) Start(params StartParams) (*Download, error) {
	if params.URL == "" {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "Invalid params: 'url' is required")
	}

	filename := params.Filename
	if filename == "" {
		filename = filenameFromURL(params.URL)
	}
	// Save location stays inside the download directory whatever the
	// caller passed as filename.
	filename = filepath.Base(filename)

	ctx, cancel := context.WithCancel(context.Background())
	d := &Download{
		ID:        uuid.New().String(),
		URL:       params.URL,
		Path:      filepath.Join(m.dir, filename),
		State:     StatePending,
		StartedAt: time.Now(),
		cancel:    cancel,
	}

	m.mu.Lock()
	m.downloads[d.ID] = d
	m.order = append(m.order, d.ID)
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.DownloadStarted()
	}
	m.wg.Add(1)
	go m.run(ctx, d)

	m.logger.Info("download started", zap.String("download", d.ID), zap.String("url", d.URL))
	return m.snapshot(d.ID), nil
}

// run performs the transfer and drives the record to a terminal state.
func (m *Manager) run(ctx context.Context, d *Download) {
	defer m.wg.Done()

	m.setState(d.ID, StateActive, "")

	err := m.fetch(ctx, d)

	switch {
	case err == nil:
		m.finish(d.ID, StateCompleted, "")
	case ctx.Err() != nil:
		os.Remove(d.Path)
		m.finish(d.ID, StateCancelled, "cancelled")
	default:
		os.Remove(d.Path)
		m.finish(d.ID, StateFailed, err.Error())
	}
}

func (m *Manager) fetch(ctx context.Context, d *Download) error {
	req, err := m.client.Request(ctx)
	if err != nil {
		return err
	}
	req.SetOutput(d.Path)

	resp, err := req.Get(d.URL)
	if err != nil {
		return err
	}
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		return fmt.Errorf("HTTP %d", code)
	}

	stat, err := os.Stat(d.Path)
	if err != nil {
		return fmt.Errorf("failed to stat downloaded file: %w", err)
	}

	contentType := resp.Header().Get("Content-Type")
	if contentType == "" {
		if kind, err := mimetype.DetectFile(d.Path); err == nil {
			contentType = kind.String()
		}
	}

	m.mu.Lock()
	d.Size = stat.Size()
	d.ContentType = contentType
	m.mu.Unlock()

	return nil
}

func (m *Manager) setState(id string, state State, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.downloads[id]
	if !ok || d.State.terminal() {
		return
	}
	d.State = state
	d.Error = errMsg
}

func (m *Manager) finish(id string, state State, errMsg string) {
	m.mu.Lock()
	d, ok := m.downloads[id]
	if ok && !d.State.terminal() {
		now := time.Now()
		d.State = state
		d.Error = errMsg
		d.FinishedAt = &now
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.DownloadFinished(string(state))
	}
	m.logger.Info("download finished",
		zap.String("download", id),
		zap.String("state", string(state)),
	)
}

// snapshot returns a copy of a record safe to hand to the serializer.
func (m *Manager) snapshot(id string) *Download {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.downloads[id]
	if !ok {
		return nil
	}
	copied := *d
	copied.cancel = nil
	return &copied
}

// List returns all download records in creation order.
func (m *Manager) List() ([]*Download, error) {
	m.mu.RLock()
	ids := make([]string, len(m.order))
	copy(ids, m.order)
	m.mu.RUnlock()

	out := make([]*Download, 0, len(ids))
	for _, id := range ids {
		if d := m.snapshot(id); d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// IDParams addresses a download by ID.
type IDParams struct {
	ID string `json:"id"`
}

// Get returns one download record.
func (m *Manager) Get(params IDParams) (*Download, error) {
	d := m.snapshot(params.ID)
	if d == nil {
		return nil, fmt.Errorf("no download with id %q", params.ID)
	}
	return d, nil
}

// Cancel aborts an in-flight download. It reports whether a cancellation
// was issued (terminal downloads cannot be cancelled).
func (m *Manager) Cancel(params IDParams) (bool, error) {
	m.mu.RLock()
	d, ok := m.downloads[params.ID]
	var cancel context.CancelFunc
	if ok && !d.State.terminal() {
		cancel = d.cancel
	}
	m.mu.RUnlock()

	if cancel == nil {
		return false, nil
	}
	cancel()
	return true, nil
}

// Clear drops all terminal records. It returns how many were removed.
func (m *Manager) Clear() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	kept := m.order[:0]
	for _, id := range m.order {
		if d := m.downloads[id]; d != nil && d.State.terminal() {
			delete(m.downloads, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return removed, nil
}

// filenameFromURL derives a save name from the URL path, falling back to
// "download" when the path has none.
func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Path == "" || parsed.Path == "/" {
		return "download"
	}
	name := path.Base(parsed.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}
