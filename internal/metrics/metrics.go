// Package metrics exposes Prometheus instrumentation for the gallery API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace      = "gallery"
	unmatchedRoute = "unmatched"
)

// Metrics holds the gallery collectors and the registry they are bound to.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	PromptOperations    *prometheus.CounterVec
	VisitsTotal         prometheus.Counter
	RealtimeSubscribers prometheus.Gauge
}

// New creates a registry with process and Go runtime collectors plus the
// gallery collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"route"},
		),
		PromptOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prompt_operations_total",
				Help:      "Prompt service operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		VisitsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visits_total",
				Help:      "Visits counted since process start",
			},
		),
		RealtimeSubscribers: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_subscribers",
				Help:      "Open realtime event streams",
			},
		),
	}
}

// Registry returns the registry backing these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPromptOperation counts a prompt service outcome.
func (m *Metrics) RecordPromptOperation(operation, outcome string) {
	m.PromptOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveVisit counts a visit.
func (m *Metrics) ObserveVisit() {
	m.VisitsTotal.Inc()
}

// SubscriberOpened tracks a new realtime stream.
func (m *Metrics) SubscriberOpened() {
	m.RealtimeSubscribers.Inc()
}

// SubscriberClosed tracks a closed realtime stream.
func (m *Metrics) SubscriberClosed() {
	m.RealtimeSubscribers.Dec()
}

// RecordHTTPRequest records a completed request.
func (m *Metrics) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Middleware records request counts and latency labelled by the matched
// route template. Unmatched requests share a single label.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		m.RecordHTTPRequest(route, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
