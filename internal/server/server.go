// Package server assembles the daemon: method registry, request
// processor, TCP control channel, and the optional HTTP ops surface
// (health, metrics, method listing, WebSocket transport).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quahl/remote/internal/httpclient"
	"github.com/quahl/remote/internal/infrastructure/config"
	"github.com/quahl/remote/internal/infrastructure/logging"
	"github.com/quahl/remote/internal/infrastructure/monitoring"
	"github.com/quahl/remote/internal/jsonrpc"
	"github.com/quahl/remote/internal/providers/core"
	"github.com/quahl/remote/internal/providers/downloads"
	"github.com/quahl/remote/internal/providers/script"
	"github.com/quahl/remote/internal/providers/window"
	"github.com/quahl/remote/internal/tcp"
	"github.com/quahl/remote/internal/ws"
)

// Version is the daemon version reported by the version method.
const Version = "0.1.0"

// Server owns every long-lived component of the daemon.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	metrics  *monitoring.Metrics
	registry *jsonrpc.Registry
	listener *tcp.Listener
	ops      *http.Server
	dlm      *downloads.Manager
}

// New wires the daemon from configuration. Nothing is bound yet; call
// Start.
func New(cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	metrics := monitoring.New(promRegistry)

	client := httpclient.New()
	if cfg.Downloads.RequestsPerSecond > 0 {
		client.SetRateLimit(cfg.Downloads.RequestsPerSecond)
	}

	registry := jsonrpc.NewRegistry()
	processor := jsonrpc.NewProcessor(registry, logger.Named("rpc")).WithMetrics(metrics)

	dlm := downloads.NewManager(client, cfg.Downloads.Dir, logger.Named("downloads")).
		WithMetrics(metrics)
	providers := []interface {
		Register(*jsonrpc.Registry) error
	}{
		core.NewProvider(logger.Named("core"), Version),
		window.NewProvider(client, logger.Named("window")),
		dlm,
		script.NewProvider(time.Duration(cfg.Script.TimeoutMS)*time.Millisecond, logger.Named("script")),
	}
	for _, p := range providers {
		if err := p.Register(registry); err != nil {
			return nil, fmt.Errorf("failed to register provider: %w", err)
		}
	}
	logger.Info("methods registered", zap.Int("count", registry.Len()))

	listener := tcp.NewListener(processor, logger.Named("tcp")).
		WithMetrics(metrics).
		WithMaxFrameBytes(cfg.Control.MaxFrameBytes)

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		registry: registry,
		listener: listener,
		dlm:      dlm,
	}

	if cfg.Ops.Enabled {
		s.ops = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Ops.Host, cfg.Ops.Port),
			Handler: s.opsRouter(processor, promRegistry),
		}
	}

	return s, nil
}

// opsRouter builds the HTTP surface next to the TCP channel.
func (s *Server) opsRouter(processor *jsonrpc.Processor, promRegistry *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	wsHandler := ws.NewHandler(processor, s.logger.Named("ws")).
		WithMetrics(s.metrics).
		WithMaxFrameBytes(s.cfg.Control.MaxFrameBytes)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       "ok",
			"version":      Version,
			"control_port": s.listener.Port(),
			"connections":  s.listener.ConnCount(),
		})
	})
	router.GET("/methods", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"methods": s.registry.Names()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	router.GET("/stream", wsHandler.HandleConnection)

	return router
}

// Start binds the control channel and, when enabled, the ops server.
func (s *Server) Start() error {
	if err := s.listener.Start(s.cfg.Control.Host, s.cfg.Control.Port); err != nil {
		return err
	}

	if s.ops != nil {
		go func() {
			s.logger.Info("ops server listening", zap.String("addr", s.ops.Addr))
			if err := s.ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				s.logger.Error("ops server failed", zap.Error(err))
			}
		}()
	}

	s.logger.Info("daemon started",
		zap.String("version", Version),
		zap.Int("control_port", s.listener.Port()),
	)
	return nil
}

// Port returns the bound control-channel port so the embedding
// application can advertise it.
func (s *Server) Port() int {
	return s.listener.Port()
}

// Registry exposes the method registry for embedder extensions.
func (s *Server) Registry() *jsonrpc.Registry {
	return s.registry
}

// Close stops accepting connections and shuts the ops server down.
// Established control connections keep running until their peers
// disconnect; in-flight downloads are cancelled and waited on, bounded by
// ctx.
func (s *Server) Close(ctx context.Context) error {
	err := s.listener.Stop()

	if s.ops != nil {
		if shutdownErr := s.ops.Shutdown(ctx); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}

	if shutdownErr := s.dlm.Shutdown(ctx); shutdownErr != nil {
		s.logger.Warn("downloads did not settle before shutdown deadline",
			zap.Error(shutdownErr))
		if err == nil {
			err = shutdownErr
		}
	}

	s.logger.Info("daemon stopped")
	return err
}
