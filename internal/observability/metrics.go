package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
)

const namespace = "costengine"

// Areas group API routes by the engine half that serves them.
const (
	AreaPricing = "pricing"
	AreaCosting = "costing"
	AreaOps     = "ops"
)

// Metrics owns the registry scraped from the API and worker. Job, rollup
// and correction collectors live in internal/jobs and share it.
type Metrics struct {
	registry *prometheus.Registry
	jobs     *jobmetrics.Metrics
	api      *apiMetrics
}

type apiMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewMetrics builds a private registry with API, job and Go runtime
// collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	api := &apiMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by engine area, route and status code.",
		}, []string{"area", "route", "code"}),
		// recomputes of whole plans dominate the tail
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API latency per engine area and route.",
			Buckets:   []float64{.005, .025, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"area", "route"}),
	}
	registry.MustRegister(api.requests, api.latency, collectors.NewGoCollector())
	return &Metrics{
		registry: registry,
		jobs:     jobmetrics.NewMetrics(registry),
		api:      api,
	}
}

// Handler serves the registry; a nil Metrics answers 503.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Jobs returns the job, rollup and correction collectors.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Middleware counts and times API requests by area and chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.api.observe(r, sw.status, time.Since(start))
	})
}

func (a *apiMetrics) observe(r *http.Request, status int, elapsed time.Duration) {
	route := "unmatched"
	if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
		route = rc.RoutePattern()
	}
	area := RouteArea(route)
	a.requests.WithLabelValues(area, route, strconv.Itoa(status)).Inc()
	a.latency.WithLabelValues(area, route).Observe(elapsed.Seconds())
}

// RouteArea maps a route pattern to the engine area serving it.
func RouteArea(route string) string {
	route = strings.TrimPrefix(route, "/api/v1")
	switch {
	case strings.HasPrefix(route, "/prices"), strings.HasPrefix(route, "/anomalies"):
		return AreaPricing
	case strings.HasPrefix(route, "/recipes"), strings.HasPrefix(route, "/meals"),
		strings.HasPrefix(route, "/plans"), strings.HasPrefix(route, "/products"):
		return AreaCosting
	default:
		return AreaOps
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
