// Package telemetry exposes Prometheus collectors for the inspection API.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	inspectionsTotal           *prometheus.CounterVec
	scheduleDurationSeconds    prometheus.Histogram
	dockerfilesTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspectd_http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "inspectd_http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		inspectionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspectd_inspections_total",
				Help: "Total number of inspections submitted, labeled by target and status.",
			},
			[]string{"target", "status"},
		)

		scheduleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inspectd_schedule_duration_seconds",
				Help:    "Histogram of workflow scheduling latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		)

		dockerfilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "inspectd_dockerfiles_total",
				Help: "Total number of Dockerfile generations, labeled by result.",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware is a chi middleware that records HTTP request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		routePattern := chi.RouteContext(r.Context()).RoutePattern()
		if routePattern == "" {
			routePattern = "unknown"
		}

		ObserveHTTPRequest(r.Method, routePattern, ww.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveInspection increments the inspection counter for a target/status pair.
func ObserveInspection(target, status string) {
	inspectionsTotal.WithLabelValues(target, status).Inc()
}

// ObserveScheduleDuration records how long a workflow submission took.
func ObserveScheduleDuration(duration time.Duration) {
	scheduleDurationSeconds.Observe(duration.Seconds())
}

// ObserveDockerfile increments the Dockerfile generation counter.
func ObserveDockerfile(result string) {
	dockerfilesTotal.WithLabelValues(result).Inc()
}
