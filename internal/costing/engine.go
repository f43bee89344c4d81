package costing

import (
	"github.com/shopspring/decimal"
)

const (
	moneyPlaces = 2
	linePlaces  = 4
)

// DefaultChangeThreshold is the relative move of a recipe cost that gets logged.
var DefaultChangeThreshold = decimal.RequireFromString("0.05")

// LineCost multiplies quantity, conversion factor and unit price without rounding.
func LineCost(quantity, factor, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(factor).Mul(unitPrice)
}

// RecipeTotal sums unrounded line costs and rounds half away from zero to
// two decimals.
func RecipeTotal(lines []decimal.Decimal) decimal.Decimal {
	return decimal.Sum(decimal.Zero, lines...).Round(moneyPlaces)
}

// PortionCost divides a total by the head count. A non-positive head count
// yields zero.
func PortionCost(total decimal.Decimal, people int) decimal.Decimal {
	if people <= 0 {
		return decimal.Zero
	}
	return total.Div(decimal.NewFromInt(int64(people))).Round(moneyPlaces)
}

// SlotPeople returns the slot head count, falling back to the plan default.
func SlotPeople(slot MealSlot, planDefault int) int {
	if slot.PeopleCount != nil {
		return *slot.PeopleCount
	}
	if planDefault > 0 {
		return planDefault
	}
	return DefaultPeopleCount
}

// MealTotals sums the current recipe costs of a slot. A recipe listed twice
// counts twice; unknown recipes count as zero.
func MealTotals(recipeIDs []int64, costs map[int64]decimal.Decimal, people int) (total, portion decimal.Decimal) {
	total = decimal.Zero
	for _, id := range recipeIDs {
		total = total.Add(costs[id])
	}
	total = total.Round(moneyPlaces)
	return total, PortionCost(total, people)
}

// PlanTotals aggregates slot totals. Daily average divides by the number of
// distinct dates and the portion average by the summed head count, both at
// least one.
func PlanTotals(slots []MealSlot, planDefault int) PlanResult {
	total := decimal.Zero
	days := make(map[string]struct{})
	people := 0
	for _, slot := range slots {
		total = total.Add(slot.TotalCost)
		days[slot.Date.Format("2006-01-02")] = struct{}{}
		if n := SlotPeople(slot, planDefault); n > 0 {
			people += n
		}
	}
	dayCount := len(days)
	if dayCount < 1 {
		dayCount = 1
	}
	if people < 1 {
		people = 1
	}
	total = total.Round(moneyPlaces)
	return PlanResult{
		TotalCost:          total,
		DailyAverageCost:   total.Div(decimal.NewFromInt(int64(dayCount))).Round(moneyPlaces),
		PortionAverageCost: total.Div(decimal.NewFromInt(int64(people))).Round(moneyPlaces),
		Days:               dayCount,
		People:             people,
	}
}

// CostChanged reports whether next moved from previous by at least threshold
// relative to previous. A zero previous cost never counts as a change.
func CostChanged(previous, next, threshold decimal.Decimal) bool {
	if !previous.IsPositive() {
		return false
	}
	delta := next.Sub(previous).Abs().Div(previous)
	return delta.GreaterThanOrEqual(threshold)
}
