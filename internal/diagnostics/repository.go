package diagnostics

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository stores events in PostgreSQL. Cost changes go to cost_change_log,
// everything else to pricing_diagnostics.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertEvent implements Writer.
func (r *Repository) InsertEvent(ctx context.Context, event Event) error {
	if r == nil || r.pool == nil {
		return errors.New("diagnostics repository not initialised")
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return err
	}
	if event.Kind == KindCostChanged {
		_, err = r.pool.Exec(ctx, `INSERT INTO cost_change_log (entity_type, entity_id, meta, changed_at)
VALUES ($1, $2, $3, $4)`, event.EntityType, event.EntityID, metaJSON, event.At)
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO pricing_diagnostics (kind, level, entity_type, entity_id, message, meta, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, string(event.Kind), event.Level.String(), event.EntityType, event.EntityID, event.Message, metaJSON, event.At)
	return err
}
