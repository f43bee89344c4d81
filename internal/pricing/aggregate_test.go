package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func obsList(unit string, prices ...string) []Observation {
	out := make([]Observation, 0, len(prices))
	for _, p := range prices {
		out = append(out, Observation{UnitPrice: d(p), UnitType: unit, ObservedAt: fixedNow})
	}
	return out
}

func TestAggregateTrimsOutliers(t *testing.T) {
	summary, ok := Aggregate(1, obsList(UnitKilogram, "100", "105", "110", "500"), DefaultBand, fixedNow)
	require.True(t, ok)
	require.True(t, summary.MedianPrice.Equal(d("107.5")))
	require.True(t, summary.EconomicalPrice.Equal(d("105")))
	require.Equal(t, 0.75, summary.Confidence)
	require.Equal(t, 4, summary.SampleCount)
	require.Equal(t, 3, summary.RetainedCount)
	require.True(t, summary.MinPrice.Equal(d("100")))
	require.True(t, summary.MaxPrice.Equal(d("110")))
	require.Equal(t, UnitKilogram, summary.UnitType)
}

func TestAggregateSingleObservation(t *testing.T) {
	summary, ok := Aggregate(1, obsList(UnitKilogram, "42.5"), DefaultBand, fixedNow)
	require.True(t, ok)
	require.True(t, summary.EconomicalPrice.Equal(d("42.5")))
	require.Equal(t, 1.0, summary.Confidence)
}

func TestAggregateEmptyWritesNothing(t *testing.T) {
	_, ok := Aggregate(1, nil, DefaultBand, fixedNow)
	require.False(t, ok)

	_, ok = Aggregate(1, obsList(UnitKilogram, "0", "-3"), DefaultBand, fixedNow)
	require.False(t, ok)
}

func TestAggregateNonPositiveCountTowardsTotal(t *testing.T) {
	summary, ok := Aggregate(1, obsList(UnitKilogram, "0", "10", "10", "10"), DefaultBand, fixedNow)
	require.True(t, ok)
	require.Equal(t, 3, summary.RetainedCount)
	require.Equal(t, 0.75, summary.Confidence)
}

func TestAggregateBandEdgesInclusive(t *testing.T) {
	// median 100, band [30, 300]
	summary, ok := Aggregate(1, obsList(UnitKilogram, "30", "100", "100", "100", "300"), DefaultBand, fixedNow)
	require.True(t, ok)
	require.Equal(t, 5, summary.RetainedCount)
	require.True(t, summary.EconomicalPrice.Equal(d("126")))
}

func TestAggregateMeanWithinRetainedRange(t *testing.T) {
	summary, ok := Aggregate(1, obsList(UnitLitre, "12.3", "14.9", "13.1", "2", "90", "13.7"), DefaultBand, fixedNow)
	require.True(t, ok)
	require.True(t, summary.EconomicalPrice.GreaterThanOrEqual(summary.MinPrice))
	require.True(t, summary.EconomicalPrice.LessThanOrEqual(summary.MaxPrice))
	require.LessOrEqual(t, summary.RetainedCount, summary.SampleCount)
	require.LessOrEqual(t, summary.Confidence, 1.0)
	require.GreaterOrEqual(t, summary.Confidence, 0.0)
}

func TestAggregateUsesDominantUnit(t *testing.T) {
	observations := append(obsList(UnitKilogram, "100", "110"), obsList(UnitPiece, "20", "21", "22")...)
	summary, ok := Aggregate(1, observations, DefaultBand, fixedNow)
	require.True(t, ok)
	require.Equal(t, UnitPiece, summary.UnitType)
	require.True(t, summary.EconomicalPrice.Equal(d("21")))
	require.Equal(t, 0.6, summary.Confidence)

	tie := append(obsList(UnitPiece, "20"), obsList(UnitKilogram, "100")...)
	summary, ok = Aggregate(1, tie, DefaultBand, fixedNow)
	require.True(t, ok)
	require.Equal(t, UnitKilogram, summary.UnitType)
}

func TestAggregateOtherUnitLowersConfidenceOnly(t *testing.T) {
	// every kg price is inside the band; the lone litre row is not an outlier
	// of its own group but still counts towards the total
	observations := append(obsList(UnitKilogram, "40", "42", "44"), obsList(UnitLitre, "4000")...)
	summary, ok := Aggregate(1, observations, DefaultBand, fixedNow)
	require.True(t, ok)
	require.Equal(t, UnitKilogram, summary.UnitType)
	require.Equal(t, 4, summary.SampleCount)
	require.Equal(t, 3, summary.RetainedCount)
	require.Equal(t, 0.75, summary.Confidence)
	require.True(t, summary.MedianPrice.Equal(d("42")))
	require.True(t, summary.EconomicalPrice.Equal(d("42")))
	require.True(t, summary.MinPrice.Equal(d("40")))
	require.True(t, summary.MaxPrice.Equal(d("44")))
}

func TestAggregateCustomBand(t *testing.T) {
	band := Band{Low: d("0.9"), High: d("1.1")}
	summary, ok := Aggregate(1, obsList(UnitKilogram, "80", "100", "105", "130"), band, fixedNow)
	require.True(t, ok)
	require.Equal(t, 2, summary.RetainedCount)

	// an invalid band falls back to the default
	summary, ok = Aggregate(1, obsList(UnitKilogram, "80", "100", "105", "130"), Band{Low: decimal.Zero, High: d("2")}, fixedNow)
	require.True(t, ok)
	require.Equal(t, 4, summary.RetainedCount)
}
