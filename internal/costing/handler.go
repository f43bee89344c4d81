package costing

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/platform/httpx"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
)

// Handler exposes cost recomputation over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers costing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/recipes/{id}/recompute", h.handleRecipe)
	r.Post("/meals/{id}/recompute", h.handleMeal)
	r.Post("/plans/{id}/recompute", h.handlePlan)
	r.Post("/products/{id}/rollup", h.handleProduct)
}

type lineResponse struct {
	IngredientID int64              `json:"ingredient_id"`
	ProductID    *int64             `json:"product_id,omitempty"`
	Name         string             `json:"name"`
	Quantity     decimal.Decimal    `json:"quantity"`
	Unit         string             `json:"unit"`
	UnitPrice    decimal.Decimal    `json:"unit_price"`
	LineCost     decimal.Decimal    `json:"line_cost"`
	PriceSource  pricing.Provenance `json:"price_source"`
	Unpriced     bool               `json:"unpriced"`
}

type recipeResponse struct {
	RecipeID     int64           `json:"recipe_id"`
	Cost         decimal.Decimal `json:"cost"`
	PreviousCost decimal.Decimal `json:"previous_cost"`
	ComputedAt   time.Time       `json:"computed_at"`
	Unpriced     int             `json:"unpriced"`
	Mismatches   int             `json:"mismatches"`
	Lines        []lineResponse  `json:"lines"`
	Rollup       reportResponse  `json:"rollup"`
}

func (h *Handler) handleRecipe(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, report, err := h.service.RecomputeRecipeTree(r.Context(), id)
	if err != nil {
		h.respondError(w, "recompute recipe", err)
		return
	}
	resp := recipeResponse{
		RecipeID:     res.RecipeID,
		Cost:         res.Cost,
		PreviousCost: res.PreviousCost,
		ComputedAt:   res.ComputedAt,
		Unpriced:     res.Unpriced,
		Mismatches:   res.Mismatches,
		Lines:        make([]lineResponse, 0, len(res.Lines)),
		Rollup:       toReportResponse(report),
	}
	for _, line := range res.Lines {
		name := line.ProductName
		if name == "" {
			name = line.Name
		}
		resp.Lines = append(resp.Lines, lineResponse{
			IngredientID: line.ID,
			ProductID:    line.ProductID,
			Name:         name,
			Quantity:     line.Quantity,
			Unit:         line.Unit,
			UnitPrice:    line.UnitPrice,
			LineCost:     line.LineCost,
			PriceSource:  line.PriceSource,
			Unpriced:     line.Unpriced,
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type mealResponse struct {
	SlotID      int64           `json:"slot_id"`
	PlanID      int64           `json:"plan_id"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	PortionCost decimal.Decimal `json:"portion_cost"`
	People      int             `json:"people"`
}

func (h *Handler) handleMeal(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RecomputeMealCost(r.Context(), id)
	if err != nil {
		h.respondError(w, "recompute meal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, mealResponse{
		SlotID:      res.SlotID,
		PlanID:      res.PlanID,
		TotalCost:   res.TotalCost,
		PortionCost: res.PortionCost,
		People:      res.People,
	})
}

type planResponse struct {
	PlanID             int64           `json:"plan_id"`
	TotalCost          decimal.Decimal `json:"total_cost"`
	DailyAverageCost   decimal.Decimal `json:"daily_average_cost"`
	PortionAverageCost decimal.Decimal `json:"portion_average_cost"`
	Days               int             `json:"days"`
	People             int             `json:"people"`
}

func (h *Handler) handlePlan(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if tree, _ := strconv.ParseBool(r.URL.Query().Get("tree")); tree {
		report, err := h.service.RecomputePlanTree(r.Context(), id)
		if err != nil {
			h.respondError(w, "recompute plan tree", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toReportResponse(report))
		return
	}
	res, err := h.service.RecomputePlanCost(r.Context(), id)
	if err != nil {
		h.respondError(w, "recompute plan", err)
		return
	}
	httpx.JSON(w, http.StatusOK, planResponse{
		PlanID:             res.PlanID,
		TotalCost:          res.TotalCost,
		DailyAverageCost:   res.DailyAverageCost,
		PortionAverageCost: res.PortionAverageCost,
		Days:               res.Days,
		People:             res.People,
	})
}

func (h *Handler) handleProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.RecomputeForProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, "product rollup", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReportResponse(report))
}

type itemResponse struct {
	Kind  ItemKind `json:"kind"`
	ID    int64    `json:"id"`
	OK    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
}

type reportResponse struct {
	RunID     string         `json:"run_id"`
	Succeeded map[string]int `json:"succeeded"`
	Failed    int            `json:"failed"`
	Items     []itemResponse `json:"items"`
}

func toReportResponse(report BatchReport) reportResponse {
	resp := reportResponse{
		RunID: report.RunID,
		Succeeded: map[string]int{
			string(KindRecipe):   report.Succeeded(KindRecipe),
			string(KindMealSlot): report.Succeeded(KindMealSlot),
			string(KindPlan):     report.Succeeded(KindPlan),
		},
		Failed: len(report.Failed()),
		Items:  make([]itemResponse, 0, len(report.Items)),
	}
	for _, item := range report.Items {
		out := itemResponse{Kind: item.Kind, ID: item.ID, OK: item.OK}
		if item.Err != nil {
			out.Error = item.Err.Error()
		}
		resp.Items = append(resp.Items, out)
	}
	return resp
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	if IsNotFound(err) {
		httpx.RespondError(w, httpx.Mark(httpx.ErrNotFound, err))
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func idParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.Mark(httpx.ErrValidation, fmt.Errorf("invalid id %q", raw))
	}
	return id, nil
}
