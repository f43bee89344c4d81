package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/cache"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
)

// SummaryRefresher rebuilds price summaries.
type SummaryRefresher interface {
	RefreshPriceSummary(ctx context.Context, productID int64) (pricing.RefreshResult, error)
	RefreshAll(ctx context.Context) (pricing.RefreshReport, error)
}

// SummaryRefreshJob recomputes market price summaries.
type SummaryRefreshJob struct {
	Service SummaryRefresher
	Locker  *cache.Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Rollups RollupEnqueuer
	clock   func() time.Time
}

// NewSummaryRefreshJob constructs the job handler.
func NewSummaryRefreshJob(service SummaryRefresher, locker *cache.Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryRefreshJob {
	return &SummaryRefreshJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithRollups makes the job schedule a cost rollup for every product whose
// summary was rewritten.
func (j *SummaryRefreshJob) WithRollups(rollups RollupEnqueuer) *SummaryRefreshJob {
	j.Rollups = rollups
	return j
}

// Handle executes the summary refresh.
func (j *SummaryRefreshJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("summary refresh: service not configured")
	}
	var payload SummaryRefreshPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}

	tracker := j.metrics().Track(TaskSummaryRefresh)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if payload.ProductID != nil {
		logger := j.logger().With(slog.Int64("product_id", *payload.ProductID))
		res, err := j.Service.RefreshPriceSummary(ctx, *payload.ProductID)
		if err != nil {
			if pricing.IsNotFound(err) {
				logger.Warn("product not found, dropping task")
				return asynq.SkipRetry
			}
			resultErr = err
			logger.Error("summary refresh failed", slog.Any("error", err))
			return resultErr
		}
		logger.Info("summary refreshed", slog.Bool("written", res.Written), slog.Bool("parent_written", res.ParentWritten))
		var ids []int64
		if res.Written {
			ids = append(ids, res.ProductID)
		}
		if res.ParentWritten && res.ParentID != nil {
			ids = append(ids, *res.ParentID)
		}
		enqueueRollups(ctx, j.Rollups, ids, logger)
		return nil
	}

	resultErr = runExclusive(ctx, j.Locker, TaskSummaryRefresh, j.logger(), j.metrics(), func(ctx context.Context) error {
		start := j.now()
		report, err := j.Service.RefreshAll(ctx)
		if err != nil {
			j.logger().Error("summary refresh failed", slog.Any("error", err))
			return err
		}
		for id, ferr := range report.Failed {
			j.logger().Warn("product summary not refreshed", slog.Int64("product_id", id), slog.Any("error", ferr))
		}
		queued := enqueueRollups(ctx, j.Rollups, report.Written, j.logger())
		j.logger().Info("completed summary refresh",
			slog.Int("refreshed", report.Refreshed),
			slog.Int("rollups_queued", queued),
			slog.Int("unchanged", report.Unchanged),
			slog.Int("parents", report.Parents),
			slog.Int("failed", len(report.Failed)),
			slog.Duration("duration", time.Since(start)),
		)
		return nil
	})
	return resultErr
}

func (j *SummaryRefreshJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSummaryRefresh))
	}
	return slog.Default().With(slog.String("job", TaskSummaryRefresh))
}

func (j *SummaryRefreshJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SummaryRefreshJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
