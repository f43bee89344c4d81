package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/aydarnuman/catering-pro-sub001/internal/app"
	"github.com/aydarnuman/catering-pro-sub001/internal/costing"
	"github.com/aydarnuman/catering-pro-sub001/internal/observability"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/db"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/migrate"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
	"github.com/aydarnuman/catering-pro-sub001/internal/shared"
	"github.com/aydarnuman/catering-pro-sub001/jobs"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "costengine-api"})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := migrate.Up(pool); err != nil {
			return err
		}
		version, dirty, err := migrate.Version(pool)
		if err != nil {
			return err
		}
		logger.Info("schema migrated", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	}

	metrics := observability.NewMetrics()
	services, err := app.NewServices(app.ServicesParams{
		Config:  cfg,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics.Jobs(),
	})
	if err != nil {
		return err
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		PricingHandler: pricing.NewHandler(logger, services.Pricing, jobClient).WithIdempotency(shared.NewIdempotencyStore(pool)),
		CostingHandler: costing.NewHandler(logger, services.Costing),
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		Database:       pool,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	if err := services.Close(shutdownCtx); err != nil {
		logger.Warn("flush diagnostics", slog.Any("error", err))
	}
	return nil
}
