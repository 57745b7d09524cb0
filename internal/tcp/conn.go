package tcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/infrastructure/monitoring"
	"github.com/quahl/remote/internal/jsonrpc"
)

// Delimiter marks the boundary of one frame within the byte stream. It is
// appended after every request and every response payload.
var Delimiter = []byte("\r\n\r\n")

// Greeting is written once per connection immediately after accept. It is
// out-of-band: not framed by the delimiter.
var Greeting = []byte("Hello from Quahl!\r\n")

// Conn owns one accepted socket and its accumulation buffer. The buffer
// is reset each time a complete frame is extracted; whatever partial
// content remains when the socket closes is discarded.
type Conn struct {
	id        string
	sock      net.Conn
	w         *bufio.Writer
	processor *jsonrpc.Processor
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	maxFrame  int
	buf       bytes.Buffer
	onClose   func(id string)
}

func newConn(id string, sock net.Conn, processor *jsonrpc.Processor, logger *logging.Logger) *Conn {
	return &Conn{
		id:        id,
		sock:      sock,
		w:         bufio.NewWriter(sock),
		processor: processor,
		logger:    logger,
	}
}

// ID returns the connection's identifier.
func (c *Conn) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.sock.RemoteAddr()
}

// serve runs the connection's read loop until the peer disconnects or a
// fatal condition (write failure, frame size violation) occurs.
func (c *Conn) serve(ctx context.Context) {
	defer c.close()

	if _, err := c.sock.Write(Greeting); err != nil {
		c.logger.Debug("failed to write greeting", zap.String("conn", c.id), zap.Error(err))
		return
	}

	chunk := make([]byte, 4096)
	for {
		n, err := c.sock.Read(chunk)
		if n > 0 {
			c.buf.Write(chunk[:n])
			if !c.drainFrames(ctx) {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("connection read error", zap.String("conn", c.id), zap.Error(err))
			}
			return
		}
	}
}

// drainFrames extracts and processes every complete frame currently
// buffered, in order. It reports false when the connection must close.
func (c *Conn) drainFrames(ctx context.Context) bool {
	for {
		data := c.buf.Bytes()
		idx := bytes.Index(data, Delimiter)
		if idx < 0 {
			if c.maxFrame > 0 && c.buf.Len() > c.maxFrame {
				c.logger.Warn("frame size limit exceeded, disconnecting",
					zap.String("conn", c.id),
					zap.Int("buffered", c.buf.Len()),
					zap.Int("limit", c.maxFrame),
				)
				return false
			}
			return true
		}
		if c.maxFrame > 0 && idx > c.maxFrame {
			c.logger.Warn("frame size limit exceeded, disconnecting",
				zap.String("conn", c.id),
				zap.Int("frame", idx),
				zap.Int("limit", c.maxFrame),
			)
			return false
		}

		frame := make([]byte, idx)
		copy(frame, data[:idx])
		c.buf.Next(idx + len(Delimiter))

		// A delimiter with no payload carries nothing.
		if len(bytes.TrimSpace(frame)) == 0 {
			continue
		}

		if c.metrics != nil {
			c.metrics.RecordFrame("in", len(frame))
		}

		response := c.processor.Process(ctx, frame)
		if response == nil {
			// Pure notification or all-notification batch: nothing on
			// the wire for this exchange.
			continue
		}
		if err := c.writeFrame(response); err != nil {
			c.logger.Debug("connection write error", zap.String("conn", c.id), zap.Error(err))
			return false
		}
	}
}

// writeFrame writes a response payload followed by the delimiter and
// flushes it to the socket.
func (c *Conn) writeFrame(payload []byte) error {
	if _, err := c.w.Write(payload); err != nil {
		return err
	}
	if _, err := c.w.Write(Delimiter); err != nil {
		return err
	}
	if err := c.w.Flush(); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.RecordFrame("out", len(payload))
	}
	return nil
}

func (c *Conn) close() {
	c.sock.Close()
	c.buf.Reset()
	if c.metrics != nil {
		c.metrics.ConnClosed()
	}
	if c.onClose != nil {
		c.onClose(c.id)
	}
	c.logger.Info("connection closed", zap.String("conn", c.id))
}
