// Package ws serves the control channel over WebSocket as an alternative
// to raw TCP. Each text message carries exactly one payload; the delimiter
// framing of the TCP transport is unnecessary because WebSocket messages
// are already bounded. Semantics are otherwise identical: same greeting,
// same processor, same notification silence.
package ws

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/infrastructure/monitoring"
	"github.com/quahl/remote/internal/jsonrpc"
	"github.com/quahl/remote/internal/tcp"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The ops server binds loopback; cross-origin checks add nothing.
		return true
	},
}

// Handler upgrades HTTP requests and serves the request processor over
// the resulting WebSocket connections.
type Handler struct {
	processor *jsonrpc.Processor
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	maxFrame  int
}

// NewHandler creates a WebSocket handler serving processor.
func NewHandler(processor *jsonrpc.Processor, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Handler{processor: processor, logger: logger}
}

// WithMetrics attaches a metrics collector.
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// WithMaxFrameBytes bounds incoming message size. Zero disables the bound.
func (h *Handler) WithMaxFrameBytes(n int) *Handler {
	h.maxFrame = n
	return h
}

// HandleConnection upgrades the request and runs the message loop until
// the peer disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	id := uuid.New().String()
	if h.metrics != nil {
		h.metrics.ConnOpened()
		defer h.metrics.ConnClosed()
	}
	h.logger.Info("websocket connection accepted",
		zap.String("conn", id),
		zap.String("peer", conn.RemoteAddr().String()),
	)
	defer h.logger.Info("websocket connection closed", zap.String("conn", id))

	if h.maxFrame > 0 {
		conn.SetReadLimit(int64(h.maxFrame))
	}

	// The greeting is the first message, before any request arrives.
	if err := conn.WriteMessage(websocket.TextMessage, tcp.Greeting); err != nil {
		h.logger.Warn("failed to send greeting", zap.String("conn", id), zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	for {
		kind, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Warn("websocket read failed", zap.String("conn", id), zap.Error(err))
			}
			return
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordFrame("in", len(payload))
		}

		resp := h.processor.Process(contextOrBackground(ctx), payload)
		if resp == nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, resp); err != nil {
			h.logger.Warn("websocket write failed", zap.String("conn", id), zap.Error(err))
			return
		}
		if h.metrics != nil {
			h.metrics.RecordFrame("out", len(resp))
		}
	}
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
