package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the remote-control channel.
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	FramesTotal       *prometheus.CounterVec
	FrameBytes        *prometheus.HistogramVec

	// Dispatch metrics
	DispatchTotal    *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	RPCErrors        *prometheus.CounterVec

	// Download metrics
	DownloadsActive prometheus.Gauge
	DownloadsTotal  *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// New creates a metrics collector registered on reg. Passing nil uses its
// own registry, which keeps repeated construction in tests from colliding
// on the default global registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remote_connections_active",
			Help: "Number of active control-channel connections",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "remote_connections_total",
			Help: "Total number of accepted control-channel connections",
		}),
		FramesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_frames_total",
			Help: "Total number of frames by direction",
		}, []string{"direction"}),
		FrameBytes: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remote_frame_bytes",
			Help:    "Frame payload size in bytes",
			Buckets: []float64{64, 256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}, []string{"direction"}),

		DispatchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_dispatch_total",
			Help: "Total number of method dispatches",
		}, []string{"method", "status"}),
		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "remote_dispatch_duration_seconds",
			Help:    "Method dispatch duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}, []string{"method"}),
		RPCErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_rpc_errors_total",
			Help: "Total number of JSON-RPC error responses by code",
		}, []string{"code"}),

		DownloadsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remote_downloads_active",
			Help: "Number of in-flight downloads",
		}),
		DownloadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "remote_downloads_total",
			Help: "Total number of downloads by terminal state",
		}, []string{"state"}),

		Uptime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "remote_uptime_seconds",
			Help: "Daemon uptime in seconds",
		}),
	}

	go m.updateUptime()

	return m
}

func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		m.Uptime.Set(time.Since(m.startTime).Seconds())
	}
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	m.ConnectionsActive.Inc()
	m.ConnectionsTotal.Inc()
}

// ConnClosed records a closed connection.
func (m *Metrics) ConnClosed() {
	m.ConnectionsActive.Dec()
}

// RecordFrame records one frame of the given direction ("in" or "out").
func (m *Metrics) RecordFrame(direction string, bytes int) {
	m.FramesTotal.WithLabelValues(direction).Inc()
	m.FrameBytes.WithLabelValues(direction).Observe(float64(bytes))
}

// RecordDispatch records a method dispatch.
func (m *Metrics) RecordDispatch(method, status string, duration time.Duration) {
	m.DispatchTotal.WithLabelValues(method, status).Inc()
	m.DispatchDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordRPCError records an error response by taxonomy code.
func (m *Metrics) RecordRPCError(code int) {
	m.RPCErrors.WithLabelValues(strconv.Itoa(code)).Inc()
}

// DownloadStarted records an in-flight download.
func (m *Metrics) DownloadStarted() {
	m.DownloadsActive.Inc()
}

// DownloadFinished records a download reaching a terminal state.
func (m *Metrics) DownloadFinished(state string) {
	m.DownloadsActive.Dec()
	m.DownloadsTotal.WithLabelValues(state).Inc()
}
