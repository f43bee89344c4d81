package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client), mr
}

func TestLockerExcludesSecondHolder(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "pricing:anomaly_sweep", time.Minute)
	require.NoError(t, err)

	_, err = locker.Acquire(ctx, "pricing:anomaly_sweep", time.Minute)
	require.ErrorIs(t, err, ErrLockHeld)

	other, err := locker.Acquire(ctx, "costing:plan_rollup", time.Minute)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	require.NoError(t, lock.Release(ctx))

	again, err := locker.Acquire(ctx, "pricing:anomaly_sweep", time.Minute)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLockExpires(t *testing.T) {
	locker, mr := newTestLocker(t)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "pricing:summary_refresh", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "pricing:summary_refresh", time.Minute)
	require.NoError(t, err)

	// the expired holder must not delete the new holder's key
	require.NoError(t, stale.Release(ctx))
	require.True(t, mr.Exists(lockPrefix+"pricing:summary_refresh"))
	require.NoError(t, fresh.Release(ctx))
	require.False(t, mr.Exists(lockPrefix+"pricing:summary_refresh"))
}

func TestNilLockerAlwaysAcquires(t *testing.T) {
	locker := NewLocker(nil)
	lock, err := locker.Acquire(context.Background(), "any", time.Minute)
	require.NoError(t, err)
	require.NoError(t, lock.Release(context.Background()))
}
