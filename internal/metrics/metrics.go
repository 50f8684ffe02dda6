// Package metrics exposes engine events and HTTP traffic as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hpungsan/tether/internal/notify"
)

// Metrics holds the collectors of one registry. It is a notify.Observer.
type Metrics struct {
	registry *prometheus.Registry

	// Engine events
	Events            *prometheus.CounterVec
	SessionsRecovered *prometheus.CounterVec
	WindowOverlaps    prometheus.Counter

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New creates Metrics on a fresh registry, so several instances (one per
// test) never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_events_total",
				Help: "Total number of session and window lifecycle events",
			},
			[]string{"type"},
		),
		SessionsRecovered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_sessions_recovered_total",
				Help: "Total number of recovered sessions by match source",
			},
			[]string{"source"},
		),
		WindowOverlaps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tether_window_overlaps_total",
				Help: "Total number of windows created over existing ones",
			},
		),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tether_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tether_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"method", "path"},
		),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Notify counts e.
func (m *Metrics) Notify(e notify.Event) {
	m.Events.WithLabelValues(string(e.Type)).Inc()
	switch e.Type {
	case notify.EventSessionRecovered:
		m.SessionsRecovered.WithLabelValues(e.Source).Inc()
	case notify.EventWindowOverlap:
		m.WindowOverlaps.Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument wraps next, recording request count and latency under the
// route pattern rather than the raw path.
func (m *Metrics) Instrument(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		m.RequestsTotal.WithLabelValues(r.Method, pattern, strconv.Itoa(rec.status)).Inc()
		m.RequestDuration.WithLabelValues(r.Method, pattern).Observe(time.Since(start).Seconds())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
