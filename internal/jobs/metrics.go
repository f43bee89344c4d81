package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for background jobs and the pricing
// maintenance they perform.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	skipped     *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	corrections *prometheus.CounterVec
	rollupItems *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the job metrics against the provided registerer. When the
// registerer is nil the default Prometheus registerer is used.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

// Tracker provides lifecycle instrumentation helpers for a single job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track spawns a tracker for the given job name.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job, start: time.Now()}
	}
	return &Tracker{metrics: m, job: job, start: time.Now()}
}

// End finalises the tracker, recording duration, success/failure counts and
// returning the provided error untouched.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil || t.job == "" {
		return err
	}
	status := "success"
	if err != nil {
		status = "failure"
		t.metrics.failures.WithLabelValues(t.job).Inc()
	}
	t.metrics.runs.WithLabelValues(t.job, status).Inc()
	t.metrics.duration.WithLabelValues(t.job).Observe(time.Since(t.start).Seconds())
	return err
}

// Skipped counts a run that exited because another run held the lock.
func (m *Metrics) Skipped(job string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(job).Inc()
}

// AddCorrections increments the corrected active price counter for a unit type.
func (m *Metrics) AddCorrections(unitType string, count int) {
	if m == nil || count <= 0 {
		return
	}
	if unitType == "" {
		unitType = "unknown"
	}
	m.corrections.WithLabelValues(unitType).Add(float64(count))
}

// ObserveRollupItem counts one recomputed recipe, meal slot or plan.
func (m *Metrics) ObserveRollupItem(kind string, ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.rollupItems.WithLabelValues(kind, status).Inc()
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costengine_jobs_total",
		Help: "Total job executions partitioned by job name and status.",
	}, []string{"job", "status"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costengine_jobs_failures_total",
		Help: "Total failures observed for background jobs.",
	}, []string{"job"})
	skipped := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costengine_jobs_skipped_total",
		Help: "Job runs skipped because a previous run still held the lock.",
	}, []string{"job"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "costengine_job_duration_seconds",
		Help:    "Duration in seconds of background job executions.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	corrections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costengine_price_corrections_total",
		Help: "Active prices replaced by the market summary during anomaly sweeps.",
	}, []string{"unit_type"})
	rollupItems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "costengine_rollup_items_total",
		Help: "Cost rollup items processed grouped by kind and status.",
	}, []string{"kind", "status"})
	registerer.MustRegister(runs, failures, skipped, duration, corrections, rollupItems)
	return &Metrics{
		runs:        runs,
		failures:    failures,
		skipped:     skipped,
		duration:    duration,
		corrections: corrections,
		rollupItems: rollupItems,
	}
}
