package perf

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
)

func TestNightlyJobReliabilityBudget(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)

	// A month of nightly summary refreshes with one transient failure.
	for i := 0; i < 30; i++ {
		tracker := metrics.Track("pricing:summary_refresh")
		time.Sleep(2 * time.Millisecond)
		var err error
		if i == 17 {
			err = errors.New("deadline exceeded")
		}
		if got := tracker.End(err); !errors.Is(got, err) {
			t.Fatalf("tracker changed the error: %v", got)
		}
	}

	// Plan rollups are slower but must stay well inside the lock TTL.
	for i := 0; i < 10; i++ {
		tracker := metrics.Track("costing:plan_rollup")
		time.Sleep(10 * time.Millisecond)
		if err := tracker.End(nil); err != nil {
			t.Fatalf("unexpected error ending rollup tracker: %v", err)
		}
	}

	for i := 0; i < 400; i++ {
		metrics.ObserveRollupItem("recipe", i%200 != 0)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	success := metricValue(t, families, "costengine_jobs_total", map[string]string{"job": "pricing:summary_refresh", "status": "success"})
	failure := metricValue(t, families, "costengine_jobs_total", map[string]string{"job": "pricing:summary_refresh", "status": "failure"})
	if ratio := success / (success + failure); ratio < 0.95 {
		t.Fatalf("summary refresh success ratio too low: %f", ratio)
	}

	rollupDuration := histogramMean(t, families, "costengine_job_duration_seconds", map[string]string{"job": "costing:plan_rollup"})
	if rollupDuration > 2.0 {
		t.Fatalf("plan rollup duration above budget: %f", rollupDuration)
	}

	failedItems := metricValue(t, families, "costengine_rollup_items_total", map[string]string{"kind": "recipe", "status": "failed"})
	// stays under the RollupItemFailures alert threshold
	if failedItems > 5 {
		t.Fatalf("failed rollup items above alert threshold: %f", failedItems)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range metric.GetLabel() {
		val, ok := labels[lp.GetName()]
		if !ok {
			continue
		}
		if lp.GetValue() != val {
			return false
		}
		matched++
	}
	return matched == len(labels)
}
