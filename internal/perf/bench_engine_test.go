package perf

import (
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/costing"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
)

var benchNow = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

func observations(n int) []pricing.Observation {
	out := make([]pricing.Observation, n)
	for i := range out {
		// 40..59.5 TL/kg with a few outliers above the band
		price := decimal.NewFromInt(int64(80 + i%40)).Div(decimal.NewFromInt(2))
		if i%97 == 0 {
			price = decimal.NewFromInt(900)
		}
		out[i] = pricing.Observation{
			UnitPrice:  price,
			UnitType:   pricing.UnitKilogram,
			Source:     "market",
			ObservedAt: benchNow.Add(-time.Duration(i) * time.Hour),
		}
	}
	return out
}

func monthPlan() []costing.MealSlot {
	slots := make([]costing.MealSlot, 0, 90)
	for day := 0; day < 30; day++ {
		for meal := 0; meal < 3; meal++ {
			slots = append(slots, costing.MealSlot{
				ID:        int64(day*3 + meal + 1),
				Date:      benchNow.AddDate(0, 0, day),
				TotalCost: decimal.RequireFromString("14250.75"),
			})
		}
	}
	return slots
}

func BenchmarkAggregate(b *testing.B) {
	obs := observations(500)
	band := pricing.Band{Low: decimal.RequireFromString("0.3"), High: decimal.NewFromInt(3)}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		pricing.Aggregate(1, obs, band, benchNow)
	}
}

func BenchmarkPlanTotals(b *testing.B) {
	slots := monthPlan()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		costing.PlanTotals(slots, 1000)
	}
}

func TestAggregationLatencyBudget(t *testing.T) {
	obs := observations(500)
	band := pricing.Band{Low: decimal.RequireFromString("0.3"), High: decimal.NewFromInt(3)}

	samples := make([]time.Duration, 0, 20)
	for i := 0; i < 20; i++ {
		start := time.Now()
		summary, ok := pricing.Aggregate(1, obs, band, benchNow)
		samples = append(samples, time.Since(start))
		if !ok || summary.RetainedCount >= summary.SampleCount {
			t.Fatalf("outliers were not trimmed: %+v", summary)
		}
	}
	if p95 := percentile95(samples); p95 > 250*time.Millisecond {
		t.Fatalf("aggregation latency regression: p95=%s", p95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
