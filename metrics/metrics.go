// Package metrics exposes relay counters on a private Prometheus registry.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns every relay metric. A nil *Collector is valid and records
// nothing, so tests and tools can skip metrics entirely.
type Collector struct {
	registry *prometheus.Registry

	sessionsOpen    prometheus.Gauge
	frames          *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	upstreamReqs    *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
}

// NewCollector registers the relay metrics on registry, or on a fresh
// registry when nil.
func NewCollector(registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		registry: registry,
		sessionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "sessions_open",
			Help:      "Client sessions currently open.",
		}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_total",
			Help:      "Frames classified, by origin and kind.",
		}, []string{"direction", "kind"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped without forwarding, by origin and reason.",
		}, []string{"direction", "reason"}),
		upstreamReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "upstream_requests_total",
			Help:      "Provider HTTP requests, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "upstream_request_duration_seconds",
			Help:      "Provider HTTP request latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"endpoint"}),
	}

	registry.MustRegister(c.sessionsOpen, c.frames, c.framesDropped, c.upstreamReqs, c.upstreamLatency)
	return c
}

// SessionOpened increments the open session gauge
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.sessionsOpen.Inc()
}

// SessionClosed decrements the open session gauge
func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.sessionsOpen.Dec()
}

// FrameClassified counts one classified frame
func (c *Collector) FrameClassified(direction, kind string) {
	if c == nil {
		return
	}
	c.frames.WithLabelValues(direction, kind).Inc()
}

// FrameDropped counts one frame that was not forwarded
func (c *Collector) FrameDropped(direction, reason string) {
	if c == nil {
		return
	}
	c.framesDropped.WithLabelValues(direction, reason).Inc()
}

// ObserveUpstreamRequest records a provider HTTP call.
func (c *Collector) ObserveUpstreamRequest(endpoint, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.upstreamReqs.WithLabelValues(endpoint, outcome).Inc()
	c.upstreamLatency.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
