package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/infrastructure/monitoring"
	"github.com/quahl/remote/internal/jsonrpc"
)

// Listener accepts control-channel connections and hands each one to its
// own framer. It keeps a non-owning index of active connections purely
// for lifecycle bookkeeping; entries remove themselves on socket close.
type Listener struct {
	processor *jsonrpc.Processor
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	maxFrame  int

	mu    sync.Mutex
	ln    net.Listener
	conns map[string]*Conn
}

// NewListener creates a listener serving processor on every accepted
// connection.
func NewListener(processor *jsonrpc.Processor, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Listener{
		processor: processor,
		logger:    logger,
		conns:     make(map[string]*Conn),
	}
}

// WithMetrics attaches a metrics collector.
func (l *Listener) WithMetrics(m *monitoring.Metrics) *Listener {
	l.metrics = m
	return l
}

// WithMaxFrameBytes bounds per-connection buffer growth. Zero disables
// the bound.
func (l *Listener) WithMaxFrameBytes(n int) *Listener {
	l.maxFrame = n
	return l
}

// Start binds host:port and launches the accept loop. Port 0 picks any
// free port; use Port to learn which one so the embedding application can
// advertise it.
func (l *Listener) Start(host string, port int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return errors.New("listener already started")
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("failed to bind control channel on %s:%d: %w", host, port, err)
	}
	l.ln = ln
	l.logger.Info("control channel listening", zap.String("addr", ln.Addr().String()))

	go l.acceptLoop()
	return nil
}

// Port returns the bound TCP port, or 0 when the listener is not active.
func (l *Listener) Port() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return 0
	}
	return l.ln.Addr().(*net.TCPAddr).Port
}

// Addr returns the bound address, or nil when the listener is not active.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// ConnCount returns the number of active connections.
func (l *Listener) ConnCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// Stop closes the listening socket. Already-accepted connections keep
// running until their peers disconnect.
func (l *Listener) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	return err
}

func (l *Listener) acceptLoop() {
	for {
		sock, err := l.accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			l.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		conn := newConn(uuid.New().String(), sock, l.processor, l.logger)
		conn.metrics = l.metrics
		conn.maxFrame = l.maxFrame
		conn.onClose = l.remove

		l.mu.Lock()
		l.conns[conn.id] = conn
		l.mu.Unlock()

		if l.metrics != nil {
			l.metrics.ConnOpened()
		}
		l.logger.Info("connection accepted",
			zap.String("conn", conn.id),
			zap.String("peer", sock.RemoteAddr().String()),
		)

		go conn.serve(context.Background())
	}
}

func (l *Listener) accept() (net.Conn, error) {
	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return nil, net.ErrClosed
	}
	return ln.Accept()
}

func (l *Listener) remove(id string) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}
