package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aydarnuman/catering-pro-sub001/internal/platform/db"
)

// Repository persists pricing data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

var errRepositoryNotInitialised = errors.New("pricing repository not initialised")

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil || r.pool == nil {
		return errRepositoryNotInitialised
	}
	return db.WithTx(ctx, r.pool, "pricing", func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const productColumns = `p.id, p.name, p.default_unit, p.parent_id, p.manual_price, p.last_invoice_price, p.last_invoice_date,
p.active_price, COALESCE(p.active_price_source, ''), COALESCE(p.price_unit, p.default_unit), s.economical_price,
COALESCE(s.confidence, 0)::float8, p.active, p.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (ProductCard, error) {
	var (
		card                             ProductCard
		manual, invoice, active, summary decimal.NullDecimal
		source                           string
	)
	err := row.Scan(&card.ID, &card.Name, &card.DefaultUnit, &card.ParentID, &manual, &invoice, &card.LastInvoiceDate,
		&active, &source, &card.PriceUnit, &summary, &card.SummaryConfidence, &card.Active, &card.UpdatedAt)
	if err != nil {
		return ProductCard{}, err
	}
	card.ManualPrice = manual.Decimal
	card.LastInvoicePrice = invoice.Decimal
	card.ActivePrice = active.Decimal
	card.ActiveSource = Provenance(source)
	card.SummaryPrice = summary.Decimal
	return card, nil
}

// GetProduct loads a card joined with its summary.
func (r *Repository) GetProduct(ctx context.Context, id int64) (ProductCard, error) {
	if r == nil || r.pool == nil {
		return ProductCard{}, errRepositoryNotInitialised
	}
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+`
FROM product_cards p
LEFT JOIN price_summaries s ON s.product_id = p.id
WHERE p.id = $1`, id)
	card, err := scanProduct(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProductCard{}, ErrProductNotFound
		}
		return ProductCard{}, err
	}
	return card, nil
}

// ListVariants returns the direct variants of parentID.
func (r *Repository) ListVariants(ctx context.Context, parentID int64) ([]ProductCard, error) {
	return r.listProducts(ctx, `SELECT `+productColumns+`
FROM product_cards p
LEFT JOIN price_summaries s ON s.product_id = p.id
WHERE p.parent_id = $1 AND p.id <> $1
ORDER BY p.id`, parentID)
}

// ListAnomalyCandidates returns active cards with a confident summary.
func (r *Repository) ListAnomalyCandidates(ctx context.Context, minConfidence float64) ([]ProductCard, error) {
	return r.listProducts(ctx, `SELECT `+productColumns+`
FROM product_cards p
JOIN price_summaries s ON s.product_id = p.id
WHERE p.active = true AND p.active_price > 0 AND s.economical_price > 0 AND s.confidence >= $1
ORDER BY p.id`, minConfidence)
}

func (r *Repository) listProducts(ctx context.Context, query string, args ...any) ([]ProductCard, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	cards := []ProductCard{}
	for rows.Next() {
		card, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return cards, nil
}

// ListObservations returns observations of the products collected since the given time.
func (r *Repository) ListObservations(ctx context.Context, productIDs []int64, since time.Time) ([]Observation, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, stock_item_id, product_name, source, COALESCE(brand, ''),
package_price, unit_price, unit_type, package_size, metadata, observed_at, match_score, COALESCE(search_term, '')
FROM price_observations
WHERE product_id = ANY($1) AND observed_at >= $2
ORDER BY observed_at ASC, id ASC`, productIDs, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Observation{}
	for rows.Next() {
		var (
			obs         Observation
			pkgPrice    decimal.NullDecimal
			packageSize decimal.NullDecimal
			metadata    []byte
		)
		if err := rows.Scan(&obs.ID, &obs.ProductID, &obs.StockItemID, &obs.ProductName, &obs.Source, &obs.Brand,
			&pkgPrice, &obs.UnitPrice, &obs.UnitType, &packageSize, &metadata, &obs.ObservedAt, &obs.MatchScore, &obs.SearchTerm); err != nil {
			return nil, err
		}
		obs.PackagePrice = pkgPrice.Decimal
		if packageSize.Valid {
			size := packageSize.Decimal
			obs.PackageSize = &size
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &obs.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, obs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListObservedProducts returns ids of products with observations since the given time.
func (r *Repository) ListObservedProducts(ctx context.Context, since time.Time) ([]int64, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT product_id FROM price_observations
WHERE product_id IS NOT NULL AND observed_at >= $1
ORDER BY product_id`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CorrectAnomalies rewrites outlying active prices to the market summary in one statement.
func (r *Repository) CorrectAnomalies(ctx context.Context, ratio, minConfidence float64) ([]Correction, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, `WITH candidates AS (
	SELECT p.id, p.active_price AS old_price, COALESCE(p.active_price_source, '') AS old_source
	FROM product_cards p
	JOIN price_summaries s ON s.product_id = p.id
	WHERE p.active = true
	  AND p.active_price > 0
	  AND s.economical_price > 0
	  AND s.confidence >= $1
	  AND (p.active_price / s.economical_price) > $2
	FOR UPDATE OF p
)
UPDATE product_cards p
SET active_price = s.economical_price,
    active_price_source = 'PIYASA',
    price_updated_at = NOW(),
    updated_at = NOW()
FROM candidates c, price_summaries s
WHERE p.id = c.id AND s.product_id = p.id
RETURNING p.id, p.name, s.unit_type, c.old_price, p.active_price, s.confidence::float8, c.old_source`, minConfidence, ratio)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Correction{}
	for rows.Next() {
		var (
			c      Correction
			source string
		)
		if err := rows.Scan(&c.ProductID, &c.Name, &c.UnitType, &c.OldPrice, &c.NewPrice, &c.Confidence, &source); err != nil {
			return nil, err
		}
		c.PreviousType = Provenance(source)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetParent updates the parent of a product.
func (r *Repository) SetParent(ctx context.Context, productID int64, parentID *int64) error {
	if r == nil || r.pool == nil {
		return errRepositoryNotInitialised
	}
	tag, err := r.pool.Exec(ctx, `UPDATE product_cards SET parent_id = $2, updated_at = NOW() WHERE id = $1`, productID, parentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func (r *txRepository) DeleteObservationsOn(ctx context.Context, productID int64, day time.Time) (int64, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM price_observations WHERE product_id = $1 AND observed_at::date = $2::date`, productID, day)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) InsertObservation(ctx context.Context, obs Observation) (int64, error) {
	metadata, err := json.Marshal(obs.Metadata)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO price_observations
(product_id, stock_item_id, product_name, source, brand, package_price, unit_price, unit_type, package_size, metadata, observed_at, match_score, search_term)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7,$8,$9,$10,$11,$12,NULLIF($13,'')) RETURNING id`,
		obs.ProductID, obs.StockItemID, obs.ProductName, obs.Source, obs.Brand, obs.PackagePrice, obs.UnitPrice,
		obs.UnitType, obs.PackageSize, metadata, obs.ObservedAt, obs.MatchScore, obs.SearchTerm).Scan(&id)
	return id, err
}

func (r *txRepository) ReplaceSummary(ctx context.Context, summary Summary) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM price_summaries WHERE product_id = $1`, summary.ProductID); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `INSERT INTO price_summaries
(product_id, economical_price, unit_type, confidence, sample_count, retained_count, min_price, max_price, median_price, refreshed_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		summary.ProductID, summary.EconomicalPrice, summary.UnitType, summary.Confidence, summary.SampleCount,
		summary.RetainedCount, summary.MinPrice, summary.MaxPrice, summary.MedianPrice, summary.RefreshedAt)
	return err
}
