package pricing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Band is the outlier trim window, as multiples of the median.
type Band struct {
	Low  decimal.Decimal
	High decimal.Decimal
}

// DefaultBand keeps observations between 0.3x and 3x the median.
var DefaultBand = Band{Low: decimal.RequireFromString("0.3"), High: decimal.NewFromInt(3)}

func (b Band) normalized() Band {
	if !b.Low.IsPositive() || !b.High.IsPositive() || b.High.LessThan(b.Low) {
		return DefaultBand
	}
	return b
}

var unitPreference = map[string]int{UnitKilogram: 0, UnitLitre: 1, UnitPiece: 2}

// Aggregate computes the summary of observations. Observations are grouped by
// unit type and the dominant group is summarised; non-positive prices count
// towards the total but are never retained. ok is false when nothing is
// retained, in which case no summary should be written.
func Aggregate(productID int64, observations []Observation, band Band, now time.Time) (Summary, bool) {
	band = band.normalized()
	total := len(observations)
	if total == 0 {
		return Summary{}, false
	}

	groups := make(map[string][]decimal.Decimal)
	for _, obs := range observations {
		if !obs.UnitPrice.IsPositive() {
			continue
		}
		unit := obs.UnitType
		if unit == "" {
			unit = UnitPiece
		}
		groups[unit] = append(groups[unit], obs.UnitPrice)
	}
	unit := dominantUnit(groups)
	if unit == "" {
		return Summary{}, false
	}

	values := groups[unit]
	sort.Slice(values, func(i, j int) bool { return values[i].LessThan(values[j]) })
	median := medianOf(values)
	low := median.Mul(band.Low)
	high := median.Mul(band.High)

	retained := make([]decimal.Decimal, 0, len(values))
	for _, v := range values {
		if v.LessThan(low) || v.GreaterThan(high) {
			continue
		}
		retained = append(retained, v)
	}
	if len(retained) == 0 {
		return Summary{}, false
	}

	sum := decimal.Zero
	for _, v := range retained {
		sum = sum.Add(v)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(retained)))).Round(4)

	confidence := float64(len(retained)) / float64(total)
	if confidence > 1 {
		confidence = 1
	}

	return Summary{
		ProductID:       productID,
		EconomicalPrice: mean,
		UnitType:        unit,
		Confidence:      confidence,
		SampleCount:     total,
		RetainedCount:   len(retained),
		MinPrice:        retained[0],
		MaxPrice:        retained[len(retained)-1],
		MedianPrice:     median,
		RefreshedAt:     now,
	}, true
}

func dominantUnit(groups map[string][]decimal.Decimal) string {
	best := ""
	for unit, values := range groups {
		if best == "" {
			best = unit
			continue
		}
		switch {
		case len(values) > len(groups[best]):
			best = unit
		case len(values) == len(groups[best]) && unitRank(unit) < unitRank(best):
			best = unit
		case len(values) == len(groups[best]) && unitRank(unit) == unitRank(best) && unit < best:
			best = unit
		}
	}
	return best
}

func unitRank(unit string) int {
	if rank, ok := unitPreference[unit]; ok {
		return rank
	}
	return len(unitPreference) + 1
}

// medianOf expects sorted values.
func medianOf(sorted []decimal.Decimal) decimal.Decimal {
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}
