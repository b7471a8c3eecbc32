package http

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcpgateway/mcpgateway/internal/adapter/inbound/proxy"
	"github.com/mcpgateway/mcpgateway/internal/domain/health"
)

const metricsNamespace = "mcpgateway"

// CaptureStats exposes the capture pipeline counters published as
// metrics and reported by the health endpoint.
type CaptureStats interface {
	WrittenRecords() int64
	DroppedRecords() int64
	ChannelDepth() int
	ChannelCapacity() int
}

// SessionCounter reports sessions with a cached client identity.
type SessionCounter interface {
	ActiveSessions() []string
}

// Metrics holds the gateway's Prometheus instruments on a private
// registry. It implements the proxy package's Observer interface so the
// wire path records per-server traffic without importing this package.
type Metrics struct {
	reg *prometheus.Registry

	proxyRequests *prometheus.CounterVec
	proxyDuration *prometheus.HistogramVec
	sseEvents     *prometheus.CounterVec
	healthProbes  *prometheus.CounterVec
}

var _ proxy.Observer = (*Metrics)(nil)

// NewMetrics creates the instrument set on a fresh registry seeded with
// the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		reg: reg,
		proxyRequests: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "proxy_requests_total",
				Help:      "JSON-RPC requests relayed, by server, method, and HTTP status.",
			},
			[]string{"server", "method", "code"},
		),
		proxyDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "proxy_request_duration_seconds",
				Help:      "Upstream round-trip duration per server.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server"},
		),
		sseEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "sse_events_total",
				Help:      "SSE frames relayed, split into jsonrpc payloads and plain events.",
			},
			[]string{"server", "kind"},
		),
		healthProbes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "health_probes_total",
				Help:      "Upstream health probes by outcome.",
			},
			[]string{"server", "result"},
		),
	}
}

// ProxyRequest counts one relayed JSON-RPC request.
func (m *Metrics) ProxyRequest(server, method string, code int) {
	m.proxyRequests.WithLabelValues(server, method, strconv.Itoa(code)).Inc()
}

// ProxyDuration records one upstream round trip.
func (m *Metrics) ProxyDuration(server string, seconds float64) {
	m.proxyDuration.WithLabelValues(server).Observe(seconds)
}

// SSEEvent counts one relayed SSE frame.
func (m *Metrics) SSEEvent(server, kind string) {
	m.sseEvents.WithLabelValues(server, kind).Inc()
}

// HealthProbe counts one upstream probe outcome. Matches the signature
// of service.WithProbeHook.
func (m *Metrics) HealthProbe(server string, result health.Health) {
	m.healthProbes.WithLabelValues(server, string(result)).Inc()
}

// ObserveCapture publishes the capture pipeline counters as pull-model
// metrics. Call once per stats source; a second registration for the
// same metric names panics.
func (m *Metrics) ObserveCapture(stats CaptureStats) {
	promauto.With(m.reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "capture_writes_total",
			Help:      "Capture records flushed to storage.",
		},
		func() float64 { return float64(stats.WrittenRecords()) },
	)
	promauto.With(m.reg).NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "capture_drops_total",
			Help:      "Capture records lost to backpressure.",
		},
		func() float64 { return float64(stats.DroppedRecords()) },
	)
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "capture_queue_depth",
			Help:      "Records waiting in the capture channel.",
		},
		func() float64 { return float64(stats.ChannelDepth()) },
	)
}

// ObserveSessions publishes the live session count. Call once.
func (m *Metrics) ObserveSessions(sessions SessionCounter) {
	promauto.With(m.reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_sessions",
			Help:      "Sessions with a cached client identity.",
		},
		func() float64 { return float64(len(sessions.ActiveSessions())) },
	)
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
