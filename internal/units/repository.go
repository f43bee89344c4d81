package units

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads per-product conversion overrides from unit_conversions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LookupOverride implements OverrideSource.
func (r *Repository) LookupOverride(ctx context.Context, productID int64, from, to string) (decimal.Decimal, bool, error) {
	if r == nil || r.pool == nil {
		return decimal.Zero, false, errors.New("units repository not initialised")
	}
	var factor decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT factor FROM unit_conversions
WHERE product_id = $1 AND from_unit = $2 AND to_unit = $3`, productID, Key(from), Key(to)).Scan(&factor)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return factor, true, nil
}
