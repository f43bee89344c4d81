package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/cache"
	"github.com/aydarnuman/catering-pro-sub001/internal/pricing"
)

// AnomalySweeper corrects outlying active prices.
type AnomalySweeper interface {
	RunAnomalySweep(ctx context.Context, opts pricing.SweepOptions) (pricing.SweepResult, error)
}

// AnomalySweepJob compares active prices against confident market summaries.
type AnomalySweepJob struct {
	Service AnomalySweeper
	Locker  *cache.Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	Rollups RollupEnqueuer
	clock   func() time.Time
}

// NewAnomalySweepJob initialises the anomaly sweep handler.
func NewAnomalySweepJob(service AnomalySweeper, locker *cache.Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *AnomalySweepJob {
	return &AnomalySweepJob{
		Service: service,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// WithRollups makes the job schedule a cost rollup for every corrected product.
func (j *AnomalySweepJob) WithRollups(rollups RollupEnqueuer) *AnomalySweepJob {
	j.Rollups = rollups
	return j
}

// Handle executes the sweep.
func (j *AnomalySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("anomaly sweep: service not configured")
	}
	var payload AnomalySweepPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	if payload.Ratio < 0 {
		payload.Ratio = 0
	}
	if payload.MinConfidence < 0 || payload.MinConfidence > 1 {
		payload.MinConfidence = 0
	}

	tracker := j.metrics().Track(TaskAnomalySweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(
		slog.String("run_id", uuid.NewString()),
		slog.Float64("ratio", payload.Ratio),
		slog.Float64("min_confidence", payload.MinConfidence),
		slog.Bool("dry_run", payload.DryRun),
	)
	resultErr = runExclusive(ctx, j.Locker, TaskAnomalySweep, logger, j.metrics(), func(ctx context.Context) error {
		start := j.now()
		logger.Info("starting anomaly sweep")
		result, err := j.Service.RunAnomalySweep(ctx, pricing.SweepOptions{
			Ratio:         payload.Ratio,
			MinConfidence: payload.MinConfidence,
			DryRun:        payload.DryRun,
		})
		if err != nil {
			logger.Error("sweep failed", slog.Any("error", err))
			return err
		}
		for _, c := range result.Corrections {
			logger.Warn("price anomaly",
				slog.Int64("product_id", c.ProductID),
				slog.String("product_name", c.Name),
				slog.String("old_price", c.OldPrice.String()),
				slog.String("new_price", c.NewPrice.String()),
				slog.Float64("confidence", c.Confidence),
			)
		}
		queued := 0
		if !payload.DryRun && !result.DryRun {
			ids := make([]int64, 0, len(result.Corrections))
			for _, c := range result.Corrections {
				ids = append(ids, c.ProductID)
			}
			queued = enqueueRollups(ctx, j.Rollups, ids, logger)
		}
		logger.Info("completed anomaly sweep",
			slog.Int("corrected", result.Corrected),
			slog.Int("rollups_queued", queued),
			slog.Duration("duration", time.Since(start)),
		)
		return nil
	})
	return resultErr
}

func (j *AnomalySweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAnomalySweep))
	}
	return slog.Default().With(slog.String("job", TaskAnomalySweep))
}

func (j *AnomalySweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AnomalySweepJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
