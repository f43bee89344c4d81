package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/aydarnuman/catering-pro-sub001/internal/costing"
	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/cache"
)

// PlanRollupService recomputes plan cost trees.
type PlanRollupService interface {
	RecomputePlanTree(ctx context.Context, planID int64) (costing.BatchReport, error)
	RecomputeAllPlans(ctx context.Context) (costing.BatchReport, error)
}

// PlanRollupJob recomputes recipe, meal slot and plan costs.
type PlanRollupJob struct {
	Service PlanRollupService
	Locker  *cache.Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPlanRollupJob constructs the job handler.
func NewPlanRollupJob(service PlanRollupService, locker *cache.Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *PlanRollupJob {
	return &PlanRollupJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the rollup.
func (j *PlanRollupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("plan rollup: service not configured")
	}
	var payload PlanRollupPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	tracker := j.metrics().Track(TaskPlanRollup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if payload.PlanID != nil {
		report, err := j.Service.RecomputePlanTree(ctx, *payload.PlanID)
		if err != nil {
			if costing.IsNotFound(err) {
				j.logger().Warn("plan not found, dropping task", slog.Int64("plan_id", *payload.PlanID))
				return asynq.SkipRetry
			}
			resultErr = err
			return resultErr
		}
		logReport(j.logger().With(slog.Int64("plan_id", *payload.PlanID)), report, 0)
		return nil
	}

	resultErr = runExclusive(ctx, j.Locker, TaskPlanRollup, j.logger(), j.metrics(), func(ctx context.Context) error {
		start := j.now()
		report, err := j.Service.RecomputeAllPlans(ctx)
		if err != nil {
			j.logger().Error("plan rollup failed", slog.Any("error", err))
			return err
		}
		logReport(j.logger(), report, time.Since(start))
		return nil
	})
	return resultErr
}

// logReport writes one line per failed item and a summary line.
func logReport(logger *slog.Logger, report costing.BatchReport, elapsed time.Duration) {
	failed := report.Failed()
	for _, item := range failed {
		logger.Warn("rollup item failed",
			slog.String("run_id", report.RunID),
			slog.String("kind", string(item.Kind)),
			slog.Int64("id", item.ID),
			slog.Any("error", item.Err),
		)
	}
	logger.Info("completed cost rollup",
		slog.String("run_id", report.RunID),
		slog.Int("recipes", report.Succeeded(costing.KindRecipe)),
		slog.Int("meal_slots", report.Succeeded(costing.KindMealSlot)),
		slog.Int("plans", report.Succeeded(costing.KindPlan)),
		slog.Int("failed", len(failed)),
		slog.Duration("duration", elapsed),
	)
}

func (j *PlanRollupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPlanRollup))
	}
	return slog.Default().With(slog.String("job", TaskPlanRollup))
}

func (j *PlanRollupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *PlanRollupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
