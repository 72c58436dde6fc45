package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gateway"

// Metrics holds the Prometheus collectors for the gateway. A nil *Metrics
// is valid; its record methods are no-ops, so callers never need to guard.
type Metrics struct {
	registry *prometheus.Registry

	connsOpen  *prometheus.GaugeVec
	connsTotal *prometheus.CounterVec

	messagesIn  prometheus.Counter
	messagesOut prometheus.Counter
	heartbeats  prometheus.Counter

	rateLimited    prometheus.Counter
	overflowCloses prometheus.Counter

	broadcastFrames prometheus.Counter

	errorsTotal *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	bodyBytes    prometheus.Histogram
}

// New creates the gateway collectors and registers them with registry.
// A nil registry gets a fresh one, reachable via Handler.
func New(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		connsOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_open",
				Help:      "Connections currently registered",
			},
			[]string{"protocol"},
		),
		connsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connections_total",
				Help:      "Connections accepted since start",
			},
			[]string{"protocol"},
		),

		messagesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_in_total",
			Help:      "WebSocket messages received",
		}),
		messagesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_out_total",
			Help:      "WebSocket frames delivered",
		}),
		heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_heartbeats_total",
			Help:      "Heartbeat probes answered",
		}),

		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_rate_limited_total",
			Help:      "WebSocket messages rejected by the rate limiter",
		}),
		overflowCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_overflow_closes_total",
			Help:      "Connections closed for outbound backpressure overflow",
		}),

		broadcastFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_frames_total",
			Help:      "Frames published to channels",
		}),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Errors returned to clients by kind",
			},
			[]string{"kind"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests served",
			},
			[]string{"method", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"method"},
		),
		bodyBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_body_bytes",
			Help:      "Assembled HTTP request body size",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),
	}

	registry.MustRegister(
		m.connsOpen,
		m.connsTotal,
		m.messagesIn,
		m.messagesOut,
		m.heartbeats,
		m.rateLimited,
		m.overflowCloses,
		m.broadcastFrames,
		m.errorsTotal,
		m.httpRequests,
		m.httpDuration,
		m.bodyBytes,
	)

	return m
}

func (m *Metrics) ConnOpened(protocol string) {
	if m == nil {
		return
	}
	m.connsOpen.WithLabelValues(protocol).Inc()
	m.connsTotal.WithLabelValues(protocol).Inc()
}

func (m *Metrics) ConnClosed(protocol string) {
	if m == nil {
		return
	}
	m.connsOpen.WithLabelValues(protocol).Dec()
}

func (m *Metrics) MessageIn() {
	if m == nil {
		return
	}
	m.messagesIn.Inc()
}

func (m *Metrics) MessageOut() {
	if m == nil {
		return
	}
	m.messagesOut.Inc()
}

func (m *Metrics) Heartbeat() {
	if m == nil {
		return
	}
	m.heartbeats.Inc()
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) OverflowClose() {
	if m == nil {
		return
	}
	m.overflowCloses.Inc()
}

func (m *Metrics) BroadcastSent(frames int) {
	if m == nil || frames <= 0 {
		return
	}
	m.broadcastFrames.Add(float64(frames))
}

func (m *Metrics) ErrorByKind(kind string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRequest(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) ObserveBodySize(n int) {
	if m == nil || n < 0 {
		return
	}
	m.bodyBytes.Observe(float64(n))
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
