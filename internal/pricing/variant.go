package pricing

import (
	"github.com/shopspring/decimal"
)

// cheapestVariant resolves each variant without variant fallback and returns
// the lowest positive price. The parent itself is skipped if it shows up
// among its own variants.
func cheapestVariant(resolver *Resolver, parentID int64, variants []ProductCard) decimal.NullDecimal {
	best := decimal.NullDecimal{}
	for _, variant := range variants {
		if variant.ID == parentID || !variant.Active {
			continue
		}
		res := resolver.Resolve(variant, decimal.NullDecimal{})
		if res.Unpriced || !res.Price.IsPositive() {
			continue
		}
		if !best.Valid || res.Price.LessThan(best.Decimal) {
			best = decimal.NullDecimal{Decimal: res.Price, Valid: true}
		}
	}
	return best
}

// parentOf returns the parent a refresh should cascade to. Self references
// are ignored.
func parentOf(card ProductCard) (int64, bool) {
	if card.ParentID == nil || *card.ParentID == card.ID || *card.ParentID == 0 {
		return 0, false
	}
	return *card.ParentID, true
}

// ValidateParent rejects parent assignments that would make a product its own
// variant or nest variants more than one level deep.
func ValidateParent(card ProductCard, parent *ProductCard) error {
	if parent == nil {
		return nil
	}
	if parent.ID == card.ID {
		return ErrVariantCycle
	}
	if parent.ParentID != nil {
		return ErrVariantCycle
	}
	return nil
}
