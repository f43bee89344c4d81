package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aydarnuman/catering-pro-sub001/internal/app"
	"github.com/aydarnuman/catering-pro-sub001/internal/observability"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/cache"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/db"
	"github.com/aydarnuman/catering-pro-sub001/internal/shared"
	"github.com/aydarnuman/catering-pro-sub001/jobs"
)

const metricsAddr = ":9091"

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, ApplicationName: "costengine-worker"})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, false)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services, err := app.NewServices(app.ServicesParams{
		Config:  cfg,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics.Jobs(),
	})
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := services.Close(flushCtx); err != nil {
			logger.Warn("flush diagnostics", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	locker := cache.NewLocker(redisClient)
	summaryJob := jobs.NewSummaryRefreshJob(services.Pricing, locker, logger, metrics.Jobs()).WithRollups(jobClient)
	sweepJob := jobs.NewAnomalySweepJob(services.Pricing, locker, logger, metrics.Jobs()).WithRollups(jobClient)
	planJob := jobs.NewPlanRollupJob(services.Costing, locker, logger, metrics.Jobs())
	productJob := jobs.NewProductRollupJob(services.Costing, logger, metrics.Jobs())
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), cfg.IdempotencyRetention, logger, metrics.Jobs())

	summaryTask, err := jobs.NewSummaryRefreshTask(nil)
	if err != nil {
		logger.Error("build summary task", slog.Any("error", err))
		os.Exit(1)
	}
	sweepTask, err := jobs.NewAnomalySweepTask(jobs.AnomalySweepPayload{})
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	planTask, err := jobs.NewPlanRollupTask(nil)
	if err != nil {
		logger.Error("build plan task", slog.Any("error", err))
		os.Exit(1)
	}

	cronOpts := []asynq.Option{asynq.MaxRetry(3), asynq.Unique(time.Hour)}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSummaryRefresh, Handler: summaryJob.Handle},
			{Type: jobs.TaskAnomalySweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskPlanRollup, Handler: planJob.Handle},
			{Type: jobs.TaskProductRollup, Handler: productJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.CronSummaryRefresh, Task: summaryTask, Options: cronOpts},
			{Spec: cfg.CronAnomalySweep, Task: sweepTask, Options: cronOpts},
			{Spec: cfg.CronPlanRollup, Task: planTask, Options: cronOpts},
			{Spec: cfg.CronKeyCleanup, Task: jobs.NewIdempotencyCleanupTask(), Options: cronOpts},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              metricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker started",
		slog.Int("concurrency", cfg.WorkerConcurrency),
		slog.String("summary_cron", cfg.CronSummaryRefresh),
		slog.String("sweep_cron", cfg.CronAnomalySweep),
		slog.String("plan_cron", cfg.CronPlanRollup))

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
