package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/units"
)

// Default sweep thresholds.
const (
	DefaultAnomalyRatio         = 3.0
	DefaultAnomalyMinConfidence = 0.5
)

// CeilingFilter rejects observations whose unit price is implausible for the
// unit type before they reach the store.
type CeilingFilter struct {
	ceilings map[string]decimal.Decimal
}

// DefaultCeilings are the per-unit maxima in TL.
func DefaultCeilings() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		UnitKilogram: decimal.NewFromInt(5000),
		UnitLitre:    decimal.NewFromInt(2000),
		UnitPiece:    decimal.NewFromInt(1000),
	}
}

// NewCeilingFilter builds a filter. A nil map uses DefaultCeilings.
func NewCeilingFilter(ceilings map[string]decimal.Decimal) CeilingFilter {
	if ceilings == nil {
		ceilings = DefaultCeilings()
	}
	return CeilingFilter{ceilings: ceilings}
}

// Ceiling returns the maximum for the unit type. Unknown types use the piece ceiling.
func (f CeilingFilter) Ceiling(unitType string) decimal.Decimal {
	if max, ok := f.ceilings[unitType]; ok {
		return max
	}
	if max, ok := f.ceilings[UnitPiece]; ok {
		return max
	}
	return decimal.NewFromInt(1000)
}

// Allow reports whether the observation may be stored.
func (f CeilingFilter) Allow(unitType string, unitPrice decimal.Decimal) bool {
	if !unitPrice.IsPositive() {
		return false
	}
	return !unitPrice.GreaterThan(f.Ceiling(unitType))
}

// FixUnitType corrects scrapes that fell back to "adet" because no package size
// was found although the product is sold by weight or volume.
func FixUnitType(unitType, defaultUnit string, packageSize *decimal.Decimal) string {
	standardDefault := ""
	switch units.ClassOf(defaultUnit) {
	case units.ClassMass:
		standardDefault = UnitKilogram
	case units.ClassVolume:
		standardDefault = UnitLitre
	}
	if unitType == "" {
		if standardDefault != "" {
			return standardDefault
		}
		return UnitPiece
	}
	if unitType == UnitKilogram || unitType == UnitLitre {
		return unitType
	}
	if unitType == UnitPiece && standardDefault != "" && (packageSize == nil || !packageSize.IsPositive()) {
		return standardDefault
	}
	return unitType
}

// DetectAnomalies lists the corrections a sweep would apply to cards without
// writing anything.
func DetectAnomalies(cards []ProductCard, opts SweepOptions) []Correction {
	opts = opts.withDefaults()
	ratio := decimal.NewFromFloat(opts.Ratio)
	out := make([]Correction, 0)
	for _, card := range cards {
		if !card.Active || !card.ActivePrice.IsPositive() || !card.SummaryPrice.IsPositive() {
			continue
		}
		if card.SummaryConfidence < opts.MinConfidence {
			continue
		}
		if !card.ActivePrice.Div(card.SummaryPrice).GreaterThan(ratio) {
			continue
		}
		out = append(out, Correction{
			ProductID:    card.ID,
			Name:         card.Name,
			UnitType:     card.PriceUnit,
			OldPrice:     card.ActivePrice,
			NewPrice:     card.SummaryPrice,
			Confidence:   card.SummaryConfidence,
			PreviousType: card.ActiveSource,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

func (o SweepOptions) withDefaults() SweepOptions {
	if o.Ratio <= 0 {
		o.Ratio = DefaultAnomalyRatio
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = DefaultAnomalyMinConfidence
	}
	return o
}
