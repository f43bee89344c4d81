package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Beginner opens transactions. *pgxpool.Pool satisfies it.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// MaxAttempts bounds how often a cost or observation write that lost a
// repeatable-read conflict is replayed.
const MaxAttempts = 3

// WithTx runs fn in a repeatable-read transaction owned by store, the label
// that prefixes infrastructure errors ("pricing", "costing"). Parallel recipe
// recomputes touch shared slot and plan rows, so serialization failures and
// deadlocks are replayed up to MaxAttempts times. Errors from fn are returned
// unwrapped so callers can match their own sentinels.
func WithTx(ctx context.Context, conn Beginner, store string, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err = runTx(ctx, conn, store, fn)
		if !Retryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return fmt.Errorf("%s: tx conflict after %d attempts: %w", store, MaxAttempts, err)
}

func runTx(ctx context.Context, conn Beginner, store string, fn func(pgx.Tx) error) error {
	tx, err := conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", store, err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: commit tx: %w", store, err)
	}
	committed = true
	return nil
}

// Retryable reports whether err is a Postgres conflict that a fresh
// transaction may not hit again.
func Retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == codeSerializationFailure || pgErr.Code == codeDeadlockDetected
}
