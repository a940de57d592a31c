package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	Frames           *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
	CallOutcomes     *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	CallTriggers     *prometheus.CounterVec
	AIConnectLatency prometheus.Histogram
	CallDuration     prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of calls currently bridged.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session lifecycle events by type.",
		}, []string{"event"}),
		Frames: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Frames read from a peer by direction and decoded kind.",
		}, []string{"direction", "kind"}),
		FramesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Frames dropped without forwarding by direction and reason.",
		}, []string{"direction", "reason"}),
		CallOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Terminal call outcomes.",
		}, []string{"outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		CallTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_triggers_total",
			Help:      "Outbound call placement requests by provider and result.",
		}, []string{"provider", "result"}),
		AIConnectLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ai_connect_latency_ms",
			Help:      "Latency of the AI websocket handshake in milliseconds.",
			Buckets:   []float64{50, 100, 200, 300, 500, 800, 1200, 2000, 5000},
		}),
		CallDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Duration of bridged calls in seconds.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}
}

func (m *Metrics) ObserveAIConnectLatency(d time.Duration) {
	m.AIConnectLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveFrame(direction, kind string) {
	m.Frames.WithLabelValues(direction, kind).Inc()
}

func (m *Metrics) ObserveDrop(direction, reason string) {
	m.FramesDropped.WithLabelValues(direction, reason).Inc()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
