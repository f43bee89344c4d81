package costing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/platform/db"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
)

// Repository persists cost caches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

var errRepositoryNotInitialised = errors.New("costing repository not initialised")

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil || r.pool == nil {
		return errRepositoryNotInitialised
	}
	return db.WithTx(ctx, r.pool, "costing", func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetRecipe loads a recipe with its ingredients in display order.
func (r *Repository) GetRecipe(ctx context.Context, id int64) (Recipe, error) {
	if r == nil || r.pool == nil {
		return Recipe{}, errRepositoryNotInitialised
	}
	var (
		recipe Recipe
		cost   decimal.NullDecimal
	)
	err := r.pool.QueryRow(ctx, `SELECT id, name, estimated_cost, cost_computed_at FROM recipes WHERE id = $1`, id).
		Scan(&recipe.ID, &recipe.Name, &cost, &recipe.CostComputedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Recipe{}, ErrRecipeNotFound
		}
		return Recipe{}, err
	}
	recipe.EstimatedCost = cost.Decimal

	rows, err := r.pool.Query(ctx, `SELECT i.id, i.recipe_id, i.product_id, i.stock_item_id, i.name,
COALESCE(p.name, ''), COALESCE(p.price_unit, p.default_unit, ''), i.quantity, i.unit,
COALESCE(i.price_preference, 'auto'), i.unit_price, i.line_cost, COALESCE(i.price_source, ''), i.unpriced
FROM recipe_ingredients i
LEFT JOIN product_cards p ON p.id = i.product_id
WHERE i.recipe_id = $1
ORDER BY i.position, i.id`, id)
	if err != nil {
		return Recipe{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ing                 Ingredient
			pref, source        string
			unitPrice, lineCost decimal.NullDecimal
		)
		if err := rows.Scan(&ing.ID, &ing.RecipeID, &ing.ProductID, &ing.StockItemID, &ing.Name,
			&ing.ProductName, &ing.ProductUnit, &ing.Quantity, &ing.Unit,
			&pref, &unitPrice, &lineCost, &source, &ing.Unpriced); err != nil {
			return Recipe{}, err
		}
		ing.PricePreference = pricing.ParsePreference(pref)
		ing.UnitPrice = unitPrice.Decimal
		ing.LineCost = lineCost.Decimal
		ing.PriceSource = pricing.Provenance(source)
		recipe.Ingredients = append(recipe.Ingredients, ing)
	}
	if err := rows.Err(); err != nil {
		return Recipe{}, err
	}
	return recipe, nil
}

const slotColumns = `s.id, s.plan_id, s.slot_date, s.meal_type, s.people_count, s.total_cost, s.portion_cost,
COALESCE((SELECT array_agg(sr.recipe_id ORDER BY sr.position, sr.recipe_id) FROM meal_slot_recipes sr WHERE sr.slot_id = s.id), '{}')`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSlot(row rowScanner) (MealSlot, error) {
	var (
		slot           MealSlot
		total, portion decimal.NullDecimal
		people         *int32
	)
	if err := row.Scan(&slot.ID, &slot.PlanID, &slot.Date, &slot.MealType, &people, &total, &portion, &slot.RecipeIDs); err != nil {
		return MealSlot{}, err
	}
	if people != nil {
		n := int(*people)
		slot.PeopleCount = &n
	}
	slot.TotalCost = total.Decimal
	slot.PortionCost = portion.Decimal
	return slot, nil
}

// GetMealSlot loads a slot with its recipe ids.
func (r *Repository) GetMealSlot(ctx context.Context, id int64) (MealSlot, error) {
	if r == nil || r.pool == nil {
		return MealSlot{}, errRepositoryNotInitialised
	}
	slot, err := scanSlot(r.pool.QueryRow(ctx, `SELECT `+slotColumns+` FROM meal_slots s WHERE s.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MealSlot{}, ErrMealSlotNotFound
		}
		return MealSlot{}, err
	}
	return slot, nil
}

// GetPlan loads a plan.
func (r *Repository) GetPlan(ctx context.Context, id int64) (MenuPlan, error) {
	if r == nil || r.pool == nil {
		return MenuPlan{}, errRepositoryNotInitialised
	}
	var (
		plan                  MenuPlan
		total, daily, portion decimal.NullDecimal
		people                *int32
	)
	err := r.pool.QueryRow(ctx, `SELECT id, name, default_people_count, total_cost, daily_average_cost, portion_average_cost
FROM menu_plans WHERE id = $1`, id).Scan(&plan.ID, &plan.Name, &people, &total, &daily, &portion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MenuPlan{}, ErrPlanNotFound
		}
		return MenuPlan{}, err
	}
	plan.DefaultPeopleCount = DefaultPeopleCount
	if people != nil {
		plan.DefaultPeopleCount = int(*people)
	}
	plan.TotalCost = total.Decimal
	plan.DailyAverageCost = daily.Decimal
	plan.PortionAverageCost = portion.Decimal
	return plan, nil
}

// RecipeCosts returns the cached cost of each recipe. Missing recipes are absent from the map.
func (r *Repository) RecipeCosts(ctx context.Context, ids []int64) (map[int64]decimal.Decimal, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	out := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(estimated_cost, 0) FROM recipes WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			cost decimal.Decimal
		)
		if err := rows.Scan(&id, &cost); err != nil {
			return nil, err
		}
		out[id] = cost
	}
	return out, rows.Err()
}

// ListPlanSlots returns every slot of a plan ordered by date.
func (r *Repository) ListPlanSlots(ctx context.Context, planID int64) ([]MealSlot, error) {
	return r.listSlots(ctx, `SELECT `+slotColumns+` FROM meal_slots s WHERE s.plan_id = $1 ORDER BY s.slot_date, s.id`, planID)
}

// ListSlotsUsingRecipes returns slots that contain any of the recipes.
func (r *Repository) ListSlotsUsingRecipes(ctx context.Context, recipeIDs []int64) ([]MealSlot, error) {
	return r.listSlots(ctx, `SELECT `+slotColumns+` FROM meal_slots s
WHERE EXISTS (SELECT 1 FROM meal_slot_recipes sr WHERE sr.slot_id = s.id AND sr.recipe_id = ANY($1))
ORDER BY s.plan_id, s.slot_date, s.id`, recipeIDs)
}

func (r *Repository) listSlots(ctx context.Context, query string, args ...any) ([]MealSlot, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	slots := []MealSlot{}
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// ListPlanRecipes returns the distinct recipes used by a plan.
func (r *Repository) ListPlanRecipes(ctx context.Context, planID int64) ([]int64, error) {
	return r.listIDs(ctx, `SELECT DISTINCT sr.recipe_id FROM meal_slot_recipes sr
JOIN meal_slots s ON s.id = sr.slot_id
WHERE s.plan_id = $1
ORDER BY sr.recipe_id`, planID)
}

// ListRecipesUsingProduct returns recipes with an ingredient on the product.
func (r *Repository) ListRecipesUsingProduct(ctx context.Context, productID int64) ([]int64, error) {
	return r.listIDs(ctx, `SELECT DISTINCT recipe_id FROM recipe_ingredients WHERE product_id = $1 ORDER BY recipe_id`, productID)
}

// ListPlanIDs returns every plan id.
func (r *Repository) ListPlanIDs(ctx context.Context) ([]int64, error) {
	return r.listIDs(ctx, `SELECT id FROM menu_plans ORDER BY id`)
}

func (r *Repository) listIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *txRepository) UpdateIngredientCost(ctx context.Context, ing Ingredient) error {
	_, err := r.tx.Exec(ctx, `UPDATE recipe_ingredients
SET unit_price = $2, line_cost = $3, price_source = $4, unpriced = $5
WHERE id = $1`, ing.ID, ing.UnitPrice, ing.LineCost, string(ing.PriceSource), ing.Unpriced)
	return err
}

func (r *txRepository) UpdateRecipeCost(ctx context.Context, recipeID int64, cost decimal.Decimal, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE recipes SET estimated_cost = $2, cost_computed_at = $3 WHERE id = $1`, recipeID, cost, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecipeNotFound
	}
	return nil
}

func (r *txRepository) UpdateMealSlotCost(ctx context.Context, slotID int64, total, portion decimal.Decimal, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE meal_slots SET total_cost = $2, portion_cost = $3, cost_computed_at = $4 WHERE id = $1`,
		slotID, total, portion, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMealSlotNotFound
	}
	return nil
}

func (r *txRepository) UpdatePlanCost(ctx context.Context, planID int64, result PlanResult, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE menu_plans
SET total_cost = $2, daily_average_cost = $3, portion_average_cost = $4, cost_computed_at = $5
WHERE id = $1`, planID, result.TotalCost, result.DailyAverageCost, result.PortionAverageCost, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPlanNotFound
	}
	return nil
}
