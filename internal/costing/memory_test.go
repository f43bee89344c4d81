package costing

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
)

type memoryStore struct {
	mu          sync.Mutex
	recipes     map[int64]Recipe
	slots       map[int64]MealSlot
	plans       map[int64]MenuPlan
	failRecipe  map[int64]bool
	recipeSaves map[int64]int
}

type memoryTx struct {
	store   *memoryStore
	pending []func()
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		recipes:     make(map[int64]Recipe),
		slots:       make(map[int64]MealSlot),
		plans:       make(map[int64]MenuPlan),
		failRecipe:  make(map[int64]bool),
		recipeSaves: make(map[int64]int),
	}
}

func (s *memoryStore) addRecipe(r Recipe) {
	for i := range r.Ingredients {
		r.Ingredients[i].RecipeID = r.ID
	}
	s.recipes[r.ID] = r
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx := &memoryTx{store: s}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, apply := range tx.pending {
		apply()
	}
	return nil
}

func (s *memoryStore) GetRecipe(_ context.Context, id int64) (Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recipes[id]
	if !ok {
		return Recipe{}, ErrRecipeNotFound
	}
	r.Ingredients = append([]Ingredient(nil), r.Ingredients...)
	return r, nil
}

func (s *memoryStore) GetMealSlot(_ context.Context, id int64) (MealSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return MealSlot{}, ErrMealSlotNotFound
	}
	return slot, nil
}

func (s *memoryStore) GetPlan(_ context.Context, id int64) (MenuPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, ok := s.plans[id]
	if !ok {
		return MenuPlan{}, ErrPlanNotFound
	}
	return plan, nil
}

func (s *memoryStore) RecipeCosts(_ context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int64]decimal.Decimal, len(ids))
	for _, id := range ids {
		if r, ok := s.recipes[id]; ok {
			out[id] = r.EstimatedCost
		}
	}
	return out, nil
}

func (s *memoryStore) sortedSlots(keep func(MealSlot) bool) []MealSlot {
	out := []MealSlot{}
	for _, slot := range s.slots {
		if keep(slot) {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memoryStore) ListPlanSlots(_ context.Context, planID int64) ([]MealSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedSlots(func(slot MealSlot) bool { return slot.PlanID == planID }), nil
}

func (s *memoryStore) ListSlotsUsingRecipes(_ context.Context, recipeIDs []int64) ([]MealSlot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wanted := make(map[int64]bool, len(recipeIDs))
	for _, id := range recipeIDs {
		wanted[id] = true
	}
	return s.sortedSlots(func(slot MealSlot) bool {
		for _, id := range slot.RecipeIDs {
			if wanted[id] {
				return true
			}
		}
		return false
	}), nil
}

func (s *memoryStore) ListPlanRecipes(_ context.Context, planID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]bool{}
	ids := []int64{}
	for _, slot := range s.slots {
		if slot.PlanID != planID {
			continue
		}
		for _, id := range slot.RecipeIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memoryStore) ListRecipesUsingProduct(_ context.Context, productID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int64{}
	for id, r := range s.recipes {
		for _, ing := range r.Ingredients {
			if ing.ProductID != nil && *ing.ProductID == productID {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *memoryStore) ListPlanIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := []int64{}
	for id := range s.plans {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (tx *memoryTx) UpdateIngredientCost(_ context.Context, ing Ingredient) error {
	tx.pending = append(tx.pending, func() {
		r := tx.store.recipes[ing.RecipeID]
		for i := range r.Ingredients {
			if r.Ingredients[i].ID == ing.ID {
				r.Ingredients[i] = ing
			}
		}
		tx.store.recipes[ing.RecipeID] = r
	})
	return nil
}

func (tx *memoryTx) UpdateRecipeCost(_ context.Context, recipeID int64, cost decimal.Decimal, at time.Time) error {
	tx.store.mu.Lock()
	fail := tx.store.failRecipe[recipeID]
	tx.store.mu.Unlock()
	if fail {
		return errors.New("write failed")
	}
	tx.pending = append(tx.pending, func() {
		r := tx.store.recipes[recipeID]
		r.EstimatedCost = cost
		r.CostComputedAt = &at
		tx.store.recipes[recipeID] = r
		tx.store.recipeSaves[recipeID]++
	})
	return nil
}

func (tx *memoryTx) UpdateMealSlotCost(_ context.Context, slotID int64, total, portion decimal.Decimal, _ time.Time) error {
	tx.pending = append(tx.pending, func() {
		slot := tx.store.slots[slotID]
		slot.TotalCost = total
		slot.PortionCost = portion
		tx.store.slots[slotID] = slot
	})
	return nil
}

func (tx *memoryTx) UpdatePlanCost(_ context.Context, planID int64, result PlanResult, _ time.Time) error {
	tx.pending = append(tx.pending, func() {
		plan := tx.store.plans[planID]
		plan.TotalCost = result.TotalCost
		plan.DailyAverageCost = result.DailyAverageCost
		plan.PortionAverageCost = result.PortionAverageCost
		tx.store.plans[planID] = plan
	})
	return nil
}

type staticPrices struct {
	mu      sync.Mutex
	res     map[int64]pricing.Resolution
	fail    map[int64]error
	calls   map[int64]int
	parents map[int64]int64
}

func newStaticPrices() *staticPrices {
	return &staticPrices{
		res:     map[int64]pricing.Resolution{},
		fail:    map[int64]error{},
		calls:   map[int64]int{},
		parents: map[int64]int64{},
	}
}

func (p *staticPrices) ParentProduct(_ context.Context, productID int64) (*int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if parent, ok := p.parents[productID]; ok {
		return &parent, nil
	}
	return nil, nil
}

func (p *staticPrices) set(productID int64, price, unit string, source pricing.Provenance) {
	p.res[productID] = pricing.Resolution{ProductID: productID, Price: decimal.RequireFromString(price), Unit: unit, Source: source}
}

func (p *staticPrices) ResolvePriceWithPreference(_ context.Context, productID int64, pref pricing.Preference) (pricing.Resolution, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[productID]++
	if err, ok := p.fail[productID]; ok {
		return pricing.Resolution{}, err
	}
	res, ok := p.res[productID]
	if !ok {
		return pricing.Resolution{}, pricing.ErrProductNotFound
	}
	if pref == pricing.PreferenceInvoice && res.Source != pricing.SourceInvoice && res.Source != pricing.SourceInvoiceStale {
		return pricing.Resolution{ProductID: productID, Source: pricing.SourceNone, Unpriced: true, Warning: "no invoice price"}, nil
	}
	return res, nil
}

func int64Ptr(v int64) *int64 { return &v }

func intPtr(v int) *int { return &v }
