package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aydarnuman/catering-pro-sub001/internal/costing"
	"github.com/aydarnuman/catering-pro-sub001/internal/diagnostics"
	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
	"github.com/aydarnuman/catering-pro-sub001/internal/units"
)

// ServicesParams groups what NewServices needs.
type ServicesParams struct {
	Config  *Config
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Services is the pricing and costing graph shared by the API and the worker.
type Services struct {
	Pricing     *pricing.Service
	Costing     *costing.Service
	Converter   *units.Converter
	Diagnostics *diagnostics.Sink
}

// NewServices wires repositories, the unit converter and the diagnostics sink.
// File overrides take precedence over the unit_conversions table.
func NewServices(params ServicesParams) (*Services, error) {
	if params.Config == nil {
		return nil, errors.New("app: config is required")
	}
	cfg := params.Config
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var overrides units.ChainOverrides
	if cfg.UnitOverridesFile != "" {
		static, err := units.LoadOverridesFile(cfg.UnitOverridesFile)
		if err != nil {
			return nil, err
		}
		logger.Info("unit overrides loaded", slog.String("file", cfg.UnitOverridesFile), slog.Int("entries", static.Len()))
		overrides = append(overrides, static)
	}
	overrides = append(overrides, units.NewRepository(params.Pool))

	sink := diagnostics.NewSink(diagnostics.NewRepository(params.Pool), logger.With(slog.String("component", "diagnostics")), cfg.DiagnosticsBufferSize)
	converter := units.NewConverter(overrides, sink, logger)

	pricingService := pricing.NewService(pricing.NewRepository(params.Pool), cfg.PricingConfig(), pricing.Options{
		Sink:    sink,
		Metrics: params.Metrics,
		Logger:  logger.With(slog.String("component", "pricing")),
	})
	costingService := costing.NewService(costing.NewRepository(params.Pool), pricingService, converter, cfg.CostingConfig(), costing.Options{
		Sink:    sink,
		Metrics: params.Metrics,
		Logger:  logger.With(slog.String("component", "costing")),
	})

	return &Services{
		Pricing:     pricingService,
		Costing:     costingService,
		Converter:   converter,
		Diagnostics: sink,
	}, nil
}

// Close flushes pending diagnostics.
func (s *Services) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	if dropped := s.Diagnostics.Dropped(); dropped > 0 {
		slog.Default().Warn("diagnostics dropped", slog.Int64("count", dropped))
	}
	return s.Diagnostics.Close(ctx)
}
