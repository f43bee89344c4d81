package shared

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// ErrIdempotencyConflict indicates the key was already claimed in the scope.
var ErrIdempotencyConflict = errors.New("shared: request already processed")

// IdempotencyStore persists claimed request keys per scope.
type IdempotencyStore struct {
	pool  *pgxpool.Pool
	clock func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, clock: func() time.Time { return time.Now().UTC() }}
}

// Claim records key under scope. A second claim of the same pair returns
// ErrIdempotencyConflict.
func (s *IdempotencyStore) Claim(ctx context.Context, scope, key string) error {
	if s == nil || s.pool == nil {
		return errors.New("shared: idempotency store not initialised")
	}
	if scope == "" || key == "" {
		return errors.New("shared: idempotency scope and key required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (scope, key, created_at) VALUES ($1, $2, $3)`, scope, key, s.clock())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

// Release forgets a claim so a failed request can be retried with the same key.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key)
	return err
}

// Cleanup removes claims older than retention and reports how many were removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.clock().Add(-retention))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
