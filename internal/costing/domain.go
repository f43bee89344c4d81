package costing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
)

// Sentinel errors.
var (
	ErrRecipeNotFound   = errors.New("costing: recipe not found")
	ErrMealSlotNotFound = errors.New("costing: meal slot not found")
	ErrPlanNotFound     = errors.New("costing: plan not found")
)

// DefaultPeopleCount applies to plans stored without a head count.
const DefaultPeopleCount = 1000

// ItemKind names the level of the cost hierarchy an item belongs to.
type ItemKind string

const (
	KindRecipe   ItemKind = "recipe"
	KindMealSlot ItemKind = "meal_slot"
	KindPlan     ItemKind = "plan"
)

// Ingredient is one line of a recipe. ProductName and ProductUnit are joined
// from the product card and read only.
type Ingredient struct {
	ID              int64
	RecipeID        int64
	ProductID       *int64
	StockItemID     *int64
	Name            string
	ProductName     string
	ProductUnit     string
	Quantity        decimal.Decimal
	Unit            string
	PricePreference pricing.Preference
	UnitPrice       decimal.Decimal
	LineCost        decimal.Decimal
	PriceSource     pricing.Provenance
	Unpriced        bool
}

// Recipe is an ordered list of ingredients with a cached cost.
type Recipe struct {
	ID             int64
	Name           string
	Ingredients    []Ingredient
	EstimatedCost  decimal.Decimal
	CostComputedAt *time.Time
}

// MealSlot is one meal of one day in a plan.
type MealSlot struct {
	ID          int64
	PlanID      int64
	Date        time.Time
	MealType    string
	RecipeIDs   []int64
	PeopleCount *int
	TotalCost   decimal.Decimal
	PortionCost decimal.Decimal
}

// MenuPlan groups meal slots over a date range.
type MenuPlan struct {
	ID                 int64
	Name               string
	DefaultPeopleCount int
	TotalCost          decimal.Decimal
	DailyAverageCost   decimal.Decimal
	PortionAverageCost decimal.Decimal
}

// RecipeResult is the outcome of one recipe recompute.
type RecipeResult struct {
	RecipeID     int64
	Cost         decimal.Decimal
	PreviousCost decimal.Decimal
	ComputedAt   time.Time
	Lines        []Ingredient
	Unpriced     int
	Mismatches   int
}

// MealResult is the outcome of one meal slot recompute.
type MealResult struct {
	SlotID      int64
	PlanID      int64
	TotalCost   decimal.Decimal
	PortionCost decimal.Decimal
	People      int
}

// PlanResult is the outcome of one plan recompute.
type PlanResult struct {
	PlanID             int64
	TotalCost          decimal.Decimal
	DailyAverageCost   decimal.Decimal
	PortionAverageCost decimal.Decimal
	Days               int
	People             int
}

// ItemResult records whether one item of a batch succeeded.
type ItemResult struct {
	Kind ItemKind
	ID   int64
	OK   bool
	Err  error
}

// BatchReport collects per-item outcomes of a rollup run.
type BatchReport struct {
	RunID string
	Items []ItemResult
}

func (r *BatchReport) merge(other BatchReport) {
	r.Items = append(r.Items, other.Items...)
}

// Failed returns the items that did not complete.
func (r BatchReport) Failed() []ItemResult {
	var out []ItemResult
	for _, item := range r.Items {
		if !item.OK {
			out = append(out, item)
		}
	}
	return out
}

// Succeeded counts completed items of the given kind.
func (r BatchReport) Succeeded(kind ItemKind) int {
	n := 0
	for _, item := range r.Items {
		if item.OK && item.Kind == kind {
			n++
		}
	}
	return n
}
