package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aydarnuman/catering-pro-sub001/internal/costing"
	"github.com/aydarnuman/catering-pro-sub001/internal/observability"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/httpx"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
	"github.com/aydarnuman/catering-pro-sub001/jobs"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	PricingHandler *pricing.Handler
	CostingHandler *costing.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
	Database       Pinger
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{"status": "ok"}
		code := http.StatusOK
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				status["status"] = "degraded"
				status["database"] = err.Error()
				code = http.StatusServiceUnavailable
			}
		}
		httpx.JSON(w, code, status)
	})

	if params.Metrics != nil {
		r.Handle("/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if params.PricingHandler != nil {
			params.PricingHandler.MountRoutes(r)
		}
		if params.CostingHandler != nil {
			params.CostingHandler.MountRoutes(r)
		}
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
