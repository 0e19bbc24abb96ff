package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the gateway's Prometheus instrumentation. Each Metrics owns its
// registry so several gateways can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	ConnectedClients prometheus.Gauge
	ActiveTopics     prometheus.Gauge
	Broadcasts       *prometheus.CounterVec
	Dropped          prometheus.Counter
	RateLimited      prometheus.Counter
	RPCDuration      *prometheus.HistogramVec
	HTTPRequests     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ConnectedClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "goscan_ws_clients",
			Help: "Currently connected WebSocket clients",
		}),
		ActiveTopics: f.NewGauge(prometheus.GaugeOpts{
			Name: "goscan_channel_topics",
			Help: "Scan-session topics with at least one local subscriber",
		}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goscan_channel_broadcasts_total",
			Help: "Broadcasts accepted by channel.broadcast, by event name",
		}, []string{"event"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "goscan_ws_dropped_frames_total",
			Help: "Frames dropped because a client send buffer was full",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "goscan_rate_limited_total",
			Help: "Requests rejected by the per-user rate limiter",
		}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "goscan_rpc_duration_seconds",
			Help:    "Duration of WebSocket RPC handlers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "goscan_http_requests_total",
			Help: "HTTP API requests, by route and status class",
		}, []string{"route", "status"}),
	}
}

// ObserveRPC records the duration of one RPC handler.
// Call with time.Now() at the start of the handler.
func (m *Metrics) ObserveRPC(method string, start time.Time) {
	m.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
