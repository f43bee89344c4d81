package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("platform/cache: lock held")

const lockPrefix = "costengine:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker hands out short lived exclusive locks backed by Redis SET NX.
type Locker struct {
	client redis.Cmdable
}

// NewLocker constructs a Locker. A nil client disables locking: every Acquire succeeds.
func NewLocker(client redis.Cmdable) *Locker {
	return &Locker{client: client}
}

// Lock is a held lock. Release is safe to call more than once.
type Lock struct {
	client redis.Cmdable
	key    string
	token  string
}

// Acquire takes the named lock for ttl or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	if l == nil || l.client == nil {
		return &Lock{}, nil
	}
	key := lockPrefix + name
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{client: l.client, key: key, token: token}, nil
}

// Release drops the lock if it is still owned by this holder.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil || l.client == nil || l.token == "" {
		return nil
	}
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err()
	l.token = ""
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("platform/cache: release %s: %w", l.key, err)
	}
	return nil
}
