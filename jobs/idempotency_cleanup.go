package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
)

// DefaultIdempotencyRetention is how long ingestion keys are remembered.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// IdempotencyCleaner prunes old request keys. shared.IdempotencyStore satisfies it.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// IdempotencyCleanupJob removes expired ingestion keys.
type IdempotencyCleanupJob struct {
	Store     IdempotencyCleaner
	Retention time.Duration
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewIdempotencyCleanupJob constructs the job handler. A non-positive
// retention uses DefaultIdempotencyRetention.
func NewIdempotencyCleanupJob(store IdempotencyCleaner, retention time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = DefaultIdempotencyRetention
	}
	return &IdempotencyCleanupJob{Store: store, Retention: retention, Logger: logger, Metrics: metrics}
}

// Handle prunes keys older than the retention.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: store not configured")
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("job", TaskIdempotencyCleanup))

	tracker := metrics.Track(TaskIdempotencyCleanup)
	removed, err := j.Store.Cleanup(ctx, j.Retention)
	if err != nil {
		logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("idempotency keys pruned", slog.Int64("removed", removed), slog.Duration("retention", j.Retention))
	return tracker.End(nil)
}
