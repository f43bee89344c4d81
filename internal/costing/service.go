package costing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/aydarnuman/catering-pro-sub001/internal/diagnostics"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
	"github.com/aydarnuman/catering-pro-sub001/internal/units"
)

// TxStore exposes cache writes that must commit together.
type TxStore interface {
	UpdateIngredientCost(ctx context.Context, ing Ingredient) error
	UpdateRecipeCost(ctx context.Context, recipeID int64, cost decimal.Decimal, at time.Time) error
	UpdateMealSlotCost(ctx context.Context, slotID int64, total, portion decimal.Decimal, at time.Time) error
	UpdatePlanCost(ctx context.Context, planID int64, result PlanResult, at time.Time) error
}

// Store abstracts persistence used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetRecipe(ctx context.Context, id int64) (Recipe, error)
	GetMealSlot(ctx context.Context, id int64) (MealSlot, error)
	GetPlan(ctx context.Context, id int64) (MenuPlan, error)
	RecipeCosts(ctx context.Context, ids []int64) (map[int64]decimal.Decimal, error)
	ListPlanSlots(ctx context.Context, planID int64) ([]MealSlot, error)
	ListPlanRecipes(ctx context.Context, planID int64) ([]int64, error)
	ListRecipesUsingProduct(ctx context.Context, productID int64) ([]int64, error)
	ListSlotsUsingRecipes(ctx context.Context, recipeIDs []int64) ([]MealSlot, error)
	ListPlanIDs(ctx context.Context) ([]int64, error)
}

// PriceSource resolves product prices. pricing.Service satisfies it.
type PriceSource interface {
	ResolvePriceWithPreference(ctx context.Context, productID int64, pref pricing.Preference) (pricing.Resolution, error)
	// ParentProduct returns the parent of a variant, nil otherwise.
	ParentProduct(ctx context.Context, productID int64) (*int64, error)
}

// UnitConverter yields quantity conversion factors. units.Converter satisfies it.
type UnitConverter interface {
	Factor(ctx context.Context, req units.Request) (units.Conversion, error)
}

// EventSink receives diagnostic events. Emit must not block.
type EventSink interface {
	Emit(ctx context.Context, event diagnostics.Event)
}

// RollupRecorder counts rollup items by kind and status.
type RollupRecorder interface {
	ObserveRollupItem(kind string, ok bool)
}

// Config tunes the service.
type Config struct {
	Concurrency     int
	ChangeThreshold decimal.Decimal
}

// DefaultConcurrency bounds parallel recipe recomputes.
const DefaultConcurrency = 4

// Options carries optional collaborators.
type Options struct {
	Sink    EventSink
	Metrics RollupRecorder
	Logger  *slog.Logger
	Clock   func() time.Time
}

// Service rolls resolved prices up the recipe, meal and plan hierarchy.
type Service struct {
	store     Store
	prices    PriceSource
	converter UnitConverter
	sink      EventSink
	metrics   RollupRecorder
	logger    *slog.Logger
	clock     func() time.Time
	limit     int
	threshold decimal.Decimal
}

// NewService builds Service.
func NewService(store Store, prices PriceSource, converter UnitConverter, cfg Config, opts Options) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if !cfg.ChangeThreshold.IsPositive() {
		cfg.ChangeThreshold = DefaultChangeThreshold
	}
	clock := opts.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if converter == nil {
		converter = units.NewConverter(nil, nil, opts.Logger)
	}
	return &Service{
		store:     store,
		prices:    prices,
		converter: converter,
		sink:      opts.Sink,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		clock:     clock,
		limit:     cfg.Concurrency,
		threshold: cfg.ChangeThreshold,
	}
}

type priceKey struct {
	productID int64
	pref      pricing.Preference
}

// RecomputeRecipeCost prices every ingredient, then persists line costs and
// the rounded recipe total in one transaction.
func (s *Service) RecomputeRecipeCost(ctx context.Context, recipeID int64) (RecipeResult, error) {
	recipe, err := s.store.GetRecipe(ctx, recipeID)
	if err != nil {
		return RecipeResult{}, err
	}
	memo := make(map[priceKey]pricing.Resolution)
	result := RecipeResult{RecipeID: recipeID, PreviousCost: recipe.EstimatedCost}
	lines := make([]decimal.Decimal, 0, len(recipe.Ingredients))
	for _, ing := range recipe.Ingredients {
		priced, mismatch, err := s.priceIngredient(ctx, ing, memo)
		if err != nil {
			return RecipeResult{}, fmt.Errorf("costing: ingredient %d: %w", ing.ID, err)
		}
		if priced.Unpriced {
			result.Unpriced++
		}
		if mismatch {
			result.Mismatches++
		}
		lines = append(lines, priced.LineCost)
		result.Lines = append(result.Lines, priced)
	}
	result.Cost = RecipeTotal(lines)
	result.ComputedAt = s.clock()

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		for _, line := range result.Lines {
			stored := line
			stored.LineCost = line.LineCost.Round(linePlaces)
			if err := tx.UpdateIngredientCost(ctx, stored); err != nil {
				return err
			}
		}
		return tx.UpdateRecipeCost(ctx, recipeID, result.Cost, result.ComputedAt)
	})
	if err != nil {
		return RecipeResult{}, fmt.Errorf("costing: persist recipe %d: %w", recipeID, err)
	}

	if CostChanged(result.PreviousCost, result.Cost, s.threshold) {
		s.emit(ctx, diagnostics.Event{
			Kind:       diagnostics.KindCostChanged,
			Level:      slog.LevelInfo,
			EntityType: string(KindRecipe),
			EntityID:   recipeID,
			Message:    "recipe cost changed",
			Meta: map[string]any{
				"recipe_name": recipe.Name,
				"old_cost":    result.PreviousCost.String(),
				"new_cost":    result.Cost.String(),
			},
		})
	}
	return result, nil
}

// priceIngredient fills unit price, line cost and provenance. Missing prices
// and missing products leave the line unpriced with a zero cost.
func (s *Service) priceIngredient(ctx context.Context, ing Ingredient, memo map[priceKey]pricing.Resolution) (Ingredient, bool, error) {
	ing.UnitPrice = decimal.Zero
	ing.LineCost = decimal.Zero
	ing.PriceSource = pricing.SourceNone
	ing.Unpriced = true
	if ing.ProductID == nil {
		return ing, false, nil
	}
	pref := ing.PricePreference
	if pref == "" {
		pref = pricing.PreferenceAuto
	}
	key := priceKey{productID: *ing.ProductID, pref: pref}
	res, ok := memo[key]
	if !ok {
		var err error
		res, err = s.prices.ResolvePriceWithPreference(ctx, *ing.ProductID, pref)
		if err != nil {
			if !errors.Is(err, pricing.ErrProductNotFound) {
				return Ingredient{}, false, err
			}
			res = pricing.Resolution{ProductID: *ing.ProductID, Source: pricing.SourceNone, Unpriced: true}
		}
		memo[key] = res
	}
	ing.PriceSource = res.Source
	if res.Unpriced || !res.Price.IsPositive() {
		return ing, false, nil
	}

	target := res.Unit
	if target == "" {
		target = ing.ProductUnit
	}
	factor := decimal.NewFromInt(1)
	mismatch := false
	if target != "" && ing.Unit != "" {
		conv, err := s.converter.Factor(ctx, units.Request{
			ProductID:   *ing.ProductID,
			ProductName: ing.ProductName,
			From:        ing.Unit,
			To:          target,
		})
		if err != nil {
			return Ingredient{}, false, err
		}
		factor, mismatch = conv.Factor, conv.Mismatch
	}
	ing.UnitPrice = res.Price
	ing.LineCost = LineCost(ing.Quantity, factor, res.Price)
	ing.Unpriced = false
	return ing, mismatch, nil
}

// RecomputeMealCost sums the current recipe costs of a slot and derives the
// per-portion cost.
func (s *Service) RecomputeMealCost(ctx context.Context, slotID int64) (MealResult, error) {
	slot, err := s.store.GetMealSlot(ctx, slotID)
	if err != nil {
		return MealResult{}, err
	}
	planDefault := 0
	if slot.PeopleCount == nil {
		plan, err := s.store.GetPlan(ctx, slot.PlanID)
		if err != nil {
			return MealResult{}, err
		}
		planDefault = plan.DefaultPeopleCount
	}
	costs, err := s.store.RecipeCosts(ctx, slot.RecipeIDs)
	if err != nil {
		return MealResult{}, fmt.Errorf("costing: recipe costs: %w", err)
	}
	people := SlotPeople(slot, planDefault)
	total, portion := MealTotals(slot.RecipeIDs, costs, people)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.UpdateMealSlotCost(ctx, slotID, total, portion, s.clock())
	})
	if err != nil {
		return MealResult{}, fmt.Errorf("costing: persist meal slot %d: %w", slotID, err)
	}
	return MealResult{SlotID: slotID, PlanID: slot.PlanID, TotalCost: total, PortionCost: portion, People: people}, nil
}

// RecomputePlanCost aggregates the cached slot totals of a plan.
func (s *Service) RecomputePlanCost(ctx context.Context, planID int64) (PlanResult, error) {
	plan, err := s.store.GetPlan(ctx, planID)
	if err != nil {
		return PlanResult{}, err
	}
	slots, err := s.store.ListPlanSlots(ctx, planID)
	if err != nil {
		return PlanResult{}, fmt.Errorf("costing: list plan slots: %w", err)
	}
	result := PlanTotals(slots, plan.DefaultPeopleCount)
	result.PlanID = planID
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.UpdatePlanCost(ctx, planID, result, s.clock())
	})
	if err != nil {
		return PlanResult{}, fmt.Errorf("costing: persist plan %d: %w", planID, err)
	}
	return result, nil
}

// RecomputeRecipes recomputes recipes in parallel. One failing recipe does
// not stop the others.
func (s *Service) RecomputeRecipes(ctx context.Context, ids []int64) BatchReport {
	report := BatchReport{RunID: uuid.NewString()}
	s.recomputeRecipes(ctx, ids, &report)
	return report
}

func (s *Service) recomputeRecipes(ctx context.Context, ids []int64, report *BatchReport) {
	ids = uniqueIDs(ids)
	results := make([]ItemResult, len(ids))
	var g errgroup.Group
	g.SetLimit(s.limit)
	for i, id := range ids {
		g.Go(func() error {
			err := ctx.Err()
			if err == nil {
				_, err = s.RecomputeRecipeCost(ctx, id)
			}
			results[i] = s.record(KindRecipe, id, err)
			return nil
		})
	}
	_ = g.Wait()
	report.Items = append(report.Items, results...)
}

// RecomputeForProduct walks the hierarchy above a product whose price
// changed: its recipes, then the slots using them, then the owning plans.
// A variant also rolls up the recipes of its parent, whose price may fall
// back to the variant.
func (s *Service) RecomputeForProduct(ctx context.Context, productID int64) (BatchReport, error) {
	report := BatchReport{RunID: uuid.NewString()}
	products := []int64{productID}
	parentID, err := s.prices.ParentProduct(ctx, productID)
	if err != nil {
		return report, fmt.Errorf("costing: parent of product %d: %w", productID, err)
	}
	if parentID != nil {
		products = append(products, *parentID)
	}
	var recipeIDs []int64
	for _, id := range products {
		ids, err := s.store.ListRecipesUsingProduct(ctx, id)
		if err != nil {
			return report, fmt.Errorf("costing: list recipes for product %d: %w", id, err)
		}
		recipeIDs = append(recipeIDs, ids...)
	}
	recipeIDs = uniqueIDs(recipeIDs)
	if len(recipeIDs) == 0 {
		return report, nil
	}
	s.recomputeRecipes(ctx, recipeIDs, &report)
	return report, s.rollupAbove(ctx, recipeIDs, &report)
}

// RecomputeRecipeTree recomputes one recipe, then the slots using it and the
// plans owning those slots. A recipe failure is returned as is; failures
// above it land in the report.
func (s *Service) RecomputeRecipeTree(ctx context.Context, recipeID int64) (RecipeResult, BatchReport, error) {
	report := BatchReport{RunID: uuid.NewString()}
	result, err := s.RecomputeRecipeCost(ctx, recipeID)
	if err != nil {
		return result, report, err
	}
	report.Items = append(report.Items, s.record(KindRecipe, recipeID, nil))
	return result, report, s.rollupAbove(ctx, []int64{recipeID}, &report)
}

// rollupAbove recomputes the slots using recipeIDs and then their plans.
func (s *Service) rollupAbove(ctx context.Context, recipeIDs []int64, report *BatchReport) error {
	slots, err := s.store.ListSlotsUsingRecipes(ctx, recipeIDs)
	if err != nil {
		return fmt.Errorf("costing: list slots for recipes: %w", err)
	}
	plans := s.recomputeSlots(ctx, slots, report)
	for _, planID := range plans {
		_, err := s.RecomputePlanCost(ctx, planID)
		report.Items = append(report.Items, s.record(KindPlan, planID, err))
	}
	return nil
}

// RecomputePlanTree recomputes every recipe of a plan, then its slots, then
// the plan itself.
func (s *Service) RecomputePlanTree(ctx context.Context, planID int64) (BatchReport, error) {
	report := BatchReport{RunID: uuid.NewString()}
	if err := s.recomputePlanTree(ctx, planID, &report); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Service) recomputePlanTree(ctx context.Context, planID int64, report *BatchReport) error {
	if _, err := s.store.GetPlan(ctx, planID); err != nil {
		return err
	}
	recipeIDs, err := s.store.ListPlanRecipes(ctx, planID)
	if err != nil {
		return fmt.Errorf("costing: list plan recipes: %w", err)
	}
	s.recomputeRecipes(ctx, recipeIDs, report)

	slots, err := s.store.ListPlanSlots(ctx, planID)
	if err != nil {
		return fmt.Errorf("costing: list plan slots: %w", err)
	}
	s.recomputeSlots(ctx, slots, report)
	_, err = s.RecomputePlanCost(ctx, planID)
	report.Items = append(report.Items, s.record(KindPlan, planID, err))
	return nil
}

// RecomputeAllPlans runs RecomputePlanTree for every plan. A plan that cannot
// be loaded is reported and skipped.
func (s *Service) RecomputeAllPlans(ctx context.Context) (BatchReport, error) {
	report := BatchReport{RunID: uuid.NewString()}
	ids, err := s.store.ListPlanIDs(ctx)
	if err != nil {
		return report, fmt.Errorf("costing: list plans: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var sub BatchReport
		if err := s.recomputePlanTree(ctx, id, &sub); err != nil {
			sub.Items = append(sub.Items, s.record(KindPlan, id, err))
		}
		report.merge(sub)
	}
	return report, nil
}

// recomputeSlots recomputes slots sequentially and returns the distinct
// plans they belong to, in ascending order.
func (s *Service) recomputeSlots(ctx context.Context, slots []MealSlot, report *BatchReport) []int64 {
	seen := make(map[int64]struct{})
	plans := []int64{}
	for _, slot := range slots {
		_, err := s.RecomputeMealCost(ctx, slot.ID)
		report.Items = append(report.Items, s.record(KindMealSlot, slot.ID, err))
		if _, ok := seen[slot.PlanID]; !ok {
			seen[slot.PlanID] = struct{}{}
			plans = append(plans, slot.PlanID)
		}
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i] < plans[j] })
	return plans
}

func (s *Service) record(kind ItemKind, id int64, err error) ItemResult {
	if err != nil {
		s.log().Error("cost rollup item failed", slog.String("kind", string(kind)), slog.Int64("id", id), slog.Any("error", err))
	}
	if s.metrics != nil {
		s.metrics.ObserveRollupItem(string(kind), err == nil)
	}
	return ItemResult{Kind: kind, ID: id, OK: err == nil, Err: err}
}

func (s *Service) emit(ctx context.Context, event diagnostics.Event) {
	if s.sink != nil {
		s.sink.Emit(ctx, event)
	}
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// IsNotFound reports whether err means a recipe, slot or plan does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecipeNotFound) || errors.Is(err, ErrMealSlotNotFound) || errors.Is(err, ErrPlanNotFound)
}

func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
