package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aydarnuman/catering-pro-sub001/internal/costing"
	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
)

// ProductRollupService recomputes costs above one product.
type ProductRollupService interface {
	RecomputeForProduct(ctx context.Context, productID int64) (costing.BatchReport, error)
}

// RollupEnqueuer schedules the cost rollup above a repriced product. Client
// satisfies it.
type RollupEnqueuer interface {
	EnqueueProductRollup(ctx context.Context, productID int64) error
}

// enqueueRollups schedules one product rollup per distinct id and returns how
// many were accepted. Failures are logged and do not fail the calling job.
func enqueueRollups(ctx context.Context, rollups RollupEnqueuer, ids []int64, logger *slog.Logger) int {
	if rollups == nil {
		return 0
	}
	seen := make(map[int64]struct{}, len(ids))
	queued := 0
	for _, id := range ids {
		if _, ok := seen[id]; ok || id <= 0 {
			continue
		}
		seen[id] = struct{}{}
		if err := rollups.EnqueueProductRollup(ctx, id); err != nil {
			logger.Warn("enqueue product rollup", slog.Int64("product_id", id), slog.Any("error", err))
			continue
		}
		queued++
	}
	return queued
}

// ProductRollupJob reacts to a price change of one product.
type ProductRollupJob struct {
	Service ProductRollupService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewProductRollupJob constructs the job handler.
func NewProductRollupJob(service ProductRollupService, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProductRollupJob {
	return &ProductRollupJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle executes the rollup for the product in the payload.
func (j *ProductRollupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("product rollup: service not configured")
	}
	var payload ProductRollupPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.ProductID <= 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskProductRollup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger().With(slog.Int64("product_id", payload.ProductID))
	report, err := j.Service.RecomputeForProduct(ctx, payload.ProductID)
	if err != nil {
		resultErr = err
		logger.Error("product rollup failed", slog.Any("error", err))
		return resultErr
	}
	logReport(logger, report, time.Since(start))
	return resultErr
}

func (j *ProductRollupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProductRollup))
	}
	return slog.Default().With(slog.String("job", TaskProductRollup))
}

func (j *ProductRollupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
