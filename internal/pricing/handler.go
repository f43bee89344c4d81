package pricing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/platform/httpx"
	"github.com/aydarnuman/catering-pro-sub001/internal/shared"
)

const observationScope = "price_observations"

// RollupEnqueuer schedules the cost rollup above a repriced product.
type RollupEnqueuer interface {
	EnqueueProductRollup(ctx context.Context, productID int64) error
}

// IdempotencyGuard claims request keys. shared.IdempotencyStore satisfies it.
type IdempotencyGuard interface {
	Claim(ctx context.Context, scope, key string) error
	Release(ctx context.Context, scope, key string) error
}

// Handler exposes the pricing operations over JSON.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	rollups     RollupEnqueuer
	idempotency IdempotencyGuard
	validator   *validator.Validate
}

// NewHandler constructs a Handler. rollups may be nil.
func NewHandler(logger *slog.Logger, service *Service, rollups RollupEnqueuer) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		rollups:   rollups,
		validator: validator.New(),
	}
}

// WithIdempotency makes observation ingestion honour the Idempotency-Key header.
func (h *Handler) WithIdempotency(guard IdempotencyGuard) *Handler {
	h.idempotency = guard
	return h
}

// MountRoutes registers pricing routes on the provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/prices", func(r chi.Router) {
		r.Post("/observations", h.handleRecordObservations)
		r.Get("/{productID}", h.handleResolve)
		r.Get("/{productID}/variants/best", h.handleBestVariant)
		r.Post("/{productID}/summary/refresh", h.handleRefresh)
		r.Put("/{productID}/parent", h.handleAssignParent)
	})
	r.Post("/anomalies/sweep", h.handleSweep)
}

type resolutionResponse struct {
	ProductID int64           `json:"product_id"`
	Price     decimal.Decimal `json:"price"`
	Source    Provenance      `json:"source"`
	Unit      string          `json:"unit,omitempty"`
	Stale     bool            `json:"stale"`
	Unpriced  bool            `json:"unpriced"`
	Warning   string          `json:"warning,omitempty"`
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pref := ParsePreference(r.URL.Query().Get("preference"))
	res, err := h.service.ResolvePriceWithPreference(r.Context(), id, pref)
	if err != nil {
		h.respondError(w, "resolve price", err)
		return
	}
	httpx.JSON(w, http.StatusOK, resolutionResponse{
		ProductID: id,
		Price:     res.Price,
		Source:    res.Source,
		Unit:      res.Unit,
		Stale:     res.Stale,
		Unpriced:  res.Unpriced,
		Warning:   res.Warning,
	})
}

type bestVariantResponse struct {
	ProductID int64            `json:"product_id"`
	Price     *decimal.Decimal `json:"price"`
}

func (h *Handler) handleBestVariant(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	best, err := h.service.BestVariantPrice(r.Context(), id)
	if err != nil {
		h.respondError(w, "best variant price", err)
		return
	}
	resp := bestVariantResponse{ProductID: id}
	if best.Valid {
		resp.Price = &best.Decimal
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type summaryResponse struct {
	EconomicalPrice decimal.Decimal `json:"economical_price"`
	UnitType        string          `json:"unit_type"`
	Confidence      float64         `json:"confidence"`
	SampleCount     int             `json:"sample_count"`
	RetainedCount   int             `json:"retained_count"`
	RefreshedAt     time.Time       `json:"refreshed_at"`
}

type refreshResponse struct {
	ProductID     int64            `json:"product_id"`
	Written       bool             `json:"written"`
	Summary       *summaryResponse `json:"summary,omitempty"`
	ParentID      *int64           `json:"parent_id,omitempty"`
	ParentWritten bool             `json:"parent_written"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.RefreshPriceSummary(r.Context(), id)
	if err != nil {
		h.respondError(w, "refresh summary", err)
		return
	}
	h.enqueueRefreshed(r.Context(), res)
	httpx.JSON(w, http.StatusOK, toRefreshResponse(res))
}

type parentRequest struct {
	ParentID *int64 `json:"parent_id" validate:"omitempty,gt=0"`
}

func (h *Handler) handleAssignParent(w http.ResponseWriter, r *http.Request) {
	id, err := productIDParam(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req parentRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.AssignParent(r.Context(), id, req.ParentID); err != nil {
		h.respondError(w, "assign parent", err)
		return
	}
	h.enqueueRollup(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

type observationRequest struct {
	ProductID    *int64             `json:"product_id" validate:"omitempty,gt=0"`
	StockItemID  *int64             `json:"stock_item_id" validate:"omitempty,gt=0"`
	ProductName  string             `json:"product_name" validate:"required_without=ProductID,max=300"`
	SourceKind   string             `json:"source_kind" validate:"omitempty,max=40"`
	SearchTerm   string             `json:"search_term" validate:"max=200"`
	KeepToday    bool               `json:"keep_today"`
	MaxRecords   int                `json:"max_records" validate:"gte=0,lte=100"`
	Observations []observationInput `json:"observations" validate:"required,min=1,max=100,dive"`
}

type observationInput struct {
	ProductName  string           `json:"product_name" validate:"max=300"`
	Source       string           `json:"source" validate:"max=120"`
	Brand        string           `json:"brand" validate:"max=120"`
	PackagePrice decimal.Decimal  `json:"package_price"`
	UnitPrice    decimal.Decimal  `json:"unit_price"`
	UnitType     string           `json:"unit_type" validate:"max=20"`
	PackageSize  *decimal.Decimal `json:"package_size"`
	Barcode      string           `json:"barcode" validate:"max=64"`
	MatchScore   *float64         `json:"match_score" validate:"omitempty,gte=0,lte=100"`
	SearchTerm   string           `json:"search_term" validate:"max=200"`
}

type observationResponse struct {
	Saved   int              `json:"saved"`
	Skipped int              `json:"skipped"`
	Refresh *refreshResponse `json:"refresh,omitempty"`
}

func (h *Handler) handleRecordObservations(w http.ResponseWriter, r *http.Request) {
	var req observationRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	batch := ObservationBatch{
		ProductID:   req.ProductID,
		StockItemID: req.StockItemID,
		ProductName: req.ProductName,
		SourceKind:  req.SourceKind,
		SearchTerm:  req.SearchTerm,
		KeepToday:   req.KeepToday,
		MaxRecords:  req.MaxRecords,
	}
	for i, in := range req.Observations {
		if !in.UnitPrice.IsPositive() && !in.PackagePrice.IsPositive() {
			httpx.RespondError(w, httpx.Mark(httpx.ErrValidation, fmt.Errorf("observations[%d]: unit_price or package_price must be positive", i)))
			return
		}
		batch.Observations = append(batch.Observations, ObservationInput{
			ProductName:  in.ProductName,
			Source:       in.Source,
			Brand:        in.Brand,
			PackagePrice: in.PackagePrice,
			UnitPrice:    in.UnitPrice,
			UnitType:     in.UnitType,
			PackageSize:  in.PackageSize,
			Barcode:      in.Barcode,
			MatchScore:   in.MatchScore,
			SearchTerm:   in.SearchTerm,
		})
	}
	key := r.Header.Get("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Claim(r.Context(), observationScope, key); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.RespondError(w, httpx.Mark(httpx.ErrDuplicate, fmt.Errorf("idempotency key %q already used", key)))
				return
			}
			h.respondError(w, "claim idempotency key", err)
			return
		}
	}
	outcome, err := h.service.RecordObservations(r.Context(), batch)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if releaseErr := h.idempotency.Release(context.WithoutCancel(r.Context()), observationScope, key); releaseErr != nil {
				h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", releaseErr))
			}
		}
		h.respondError(w, "record observations", err)
		return
	}
	resp := observationResponse{Saved: outcome.Saved, Skipped: outcome.Skipped}
	if outcome.Refresh != nil {
		refresh := toRefreshResponse(*outcome.Refresh)
		resp.Refresh = &refresh
		h.enqueueRefreshed(r.Context(), *outcome.Refresh)
	}
	httpx.JSON(w, http.StatusCreated, resp)
}

type sweepRequest struct {
	Ratio         float64 `json:"ratio" validate:"omitempty,gt=1"`
	MinConfidence float64 `json:"min_confidence" validate:"omitempty,gt=0,lte=1"`
	DryRun        bool    `json:"dry_run"`
}

type correctionResponse struct {
	ProductID    int64           `json:"product_id"`
	Name         string          `json:"name"`
	UnitType     string          `json:"unit_type"`
	OldPrice     decimal.Decimal `json:"old_price"`
	NewPrice     decimal.Decimal `json:"new_price"`
	Confidence   float64         `json:"confidence"`
	PreviousType Provenance      `json:"previous_type,omitempty"`
}

type sweepResponse struct {
	Corrected   int                  `json:"corrected"`
	DryRun      bool                 `json:"dry_run"`
	Corrections []correctionResponse `json:"corrections"`
}

func (h *Handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.RunAnomalySweep(r.Context(), SweepOptions{
		Ratio:         req.Ratio,
		MinConfidence: req.MinConfidence,
		DryRun:        req.DryRun,
	})
	if err != nil {
		h.respondError(w, "anomaly sweep", err)
		return
	}
	resp := sweepResponse{Corrected: result.Corrected, DryRun: result.DryRun, Corrections: []correctionResponse{}}
	for _, c := range result.Corrections {
		resp.Corrections = append(resp.Corrections, correctionResponse{
			ProductID:    c.ProductID,
			Name:         c.Name,
			UnitType:     c.UnitType,
			OldPrice:     c.OldPrice,
			NewPrice:     c.NewPrice,
			Confidence:   c.Confidence,
			PreviousType: c.PreviousType,
		})
		if !result.DryRun {
			h.enqueueRollup(r.Context(), c.ProductID)
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return h.validate(target)
	}
	if err := httpx.DecodeJSON(r, target); err != nil {
		return httpx.Mark(httpx.ErrValidation, fmt.Errorf("invalid json: %w", err))
	}
	return h.validate(target)
}

func (h *Handler) validate(target any) error {
	if err := h.validator.Struct(target); err != nil {
		return httpx.Mark(httpx.ErrValidation, err)
	}
	return nil
}

// enqueueRefreshed queues rollups for the product and parent summaries that
// were rewritten.
func (h *Handler) enqueueRefreshed(ctx context.Context, res RefreshResult) {
	if res.Written {
		h.enqueueRollup(ctx, res.ProductID)
	}
	if res.ParentWritten && res.ParentID != nil && *res.ParentID != res.ProductID {
		h.enqueueRollup(ctx, *res.ParentID)
	}
}

func (h *Handler) enqueueRollup(ctx context.Context, productID int64) {
	if h.rollups == nil {
		return
	}
	if err := h.rollups.EnqueueProductRollup(ctx, productID); err != nil {
		h.logger.Warn("enqueue product rollup", slog.Int64("product_id", productID), slog.Any("error", err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case IsNotFound(err):
		err = httpx.Mark(httpx.ErrNotFound, err)
	case errors.Is(err, ErrInvalidBatch), errors.Is(err, ErrVariantCycle):
		err = httpx.Mark(httpx.ErrValidation, err)
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func productIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "productID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, httpx.Mark(httpx.ErrValidation, fmt.Errorf("invalid product id %q", raw))
	}
	return id, nil
}

func toRefreshResponse(res RefreshResult) refreshResponse {
	out := refreshResponse{
		ProductID:     res.ProductID,
		Written:       res.Written,
		ParentID:      res.ParentID,
		ParentWritten: res.ParentWritten,
	}
	if res.Written {
		out.Summary = &summaryResponse{
			EconomicalPrice: res.Summary.EconomicalPrice,
			UnitType:        res.Summary.UnitType,
			Confidence:      res.Summary.Confidence,
			SampleCount:     res.Summary.SampleCount,
			RetainedCount:   res.Summary.RetainedCount,
			RefreshedAt:     res.Summary.RefreshedAt,
		}
	}
	return out
}
