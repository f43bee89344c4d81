package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	jobmetrics "github.com/aydarnuman/catering-pro-sub001/internal/jobs"
	"github.com/aydarnuman/catering-pro-sub001/internal/platform/cache"
)

// DefaultLockTTL bounds how long a crashed run can block the next one.
const DefaultLockTTL = 30 * time.Minute

// runExclusive runs fn while holding the Redis lock for the task type. A run
// that finds the lock held is skipped without error.
func runExclusive(ctx context.Context, locker *cache.Locker, task string, logger *slog.Logger, metrics *jobmetrics.Metrics, fn func(context.Context) error) error {
	lock, err := locker.Acquire(ctx, task, DefaultLockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			logger.Info("previous run still active, skipped")
			metrics.Skipped(task)
			return nil
		}
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logger.Warn("release run lock", slog.Any("error", err))
		}
	}()
	return fn(ctx)
}
