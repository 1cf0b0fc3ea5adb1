package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientMetrics holds the live Prometheus collectors of one client process.
// Each instance owns its registry, so tests can create as many as they need.
type ClientMetrics struct {
	registry *prometheus.Registry

	PollsTotal     *prometheus.CounterVec
	PollDuration   *prometheus.HistogramVec
	StreamsTotal   *prometheus.CounterVec
	StreamChunks   prometheus.Histogram
	StreamDuration prometheus.Histogram
	ProxyRequests  *prometheus.CounterVec
	ProxyDuration  prometheus.Histogram
	ProxyInFlight  prometheus.Gauge
}

// NewClientMetrics registers the client collectors on a fresh registry.
func NewClientMetrics() *ClientMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &ClientMetrics{
		registry: reg,
		PollsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mtalk_polls_total",
			Help: "Backend polls by source and outcome",
		}, []string{"source", "outcome"}),
		PollDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mtalk_poll_duration_seconds",
			Help:    "Backend poll latency including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"source"}),
		StreamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mtalk_chat_streams_total",
			Help: "Chat reply streams by outcome",
		}, []string{"outcome"}),
		StreamChunks: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mtalk_chat_stream_chunks",
			Help:    "Text chunks received per reply",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mtalk_chat_stream_duration_seconds",
			Help:    "Time from send to end of reply stream",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		ProxyRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mtalk_proxy_requests_total",
			Help: "Proxied API requests by method and status code",
		}, []string{"method", "code"}),
		ProxyDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mtalk_proxy_request_duration_seconds",
			Help:    "Proxied API request latency",
			Buckets: prometheus.DefBuckets,
		}),
		ProxyInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mtalk_proxy_requests_in_flight",
			Help: "Proxied API requests currently being served",
		}),
	}
}

// Registry returns the registry holding the collectors.
func (m *ClientMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *ClientMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePoll records one job or agent poll.
func (m *ClientMetrics) ObservePoll(source, outcome string, d time.Duration) {
	m.PollsTotal.WithLabelValues(source, outcome).Inc()
	m.PollDuration.WithLabelValues(source).Observe(d.Seconds())
}

// ObserveStream records one finished reply stream.
func (m *ClientMetrics) ObserveStream(outcome string, chunks int, d time.Duration) {
	m.StreamsTotal.WithLabelValues(outcome).Inc()
	m.StreamChunks.Observe(float64(chunks))
	m.StreamDuration.Observe(d.Seconds())
}

// ObserveProxy records one proxied request.
func (m *ClientMetrics) ObserveProxy(method string, code int, d time.Duration) {
	m.ProxyRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.ProxyDuration.Observe(d.Seconds())
}
