package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/distrochain/distrochain/internal/shared"
)

// Repository serves inventory read paths from PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// ListBatches returns batches ordered first-expiry-first-out.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	q := r.builder.Select(batchColumns).
		From("inventory_batches").
		Where(squirrel.Eq{"distributor_id": filter.DistributorID}).
		OrderBy("product_key", "expiry_date", "batch_no")
	if filter.ProductName != "" {
		q = q.Where(squirrel.Eq{"product_key": shared.ProductKey(filter.ProductName)})
	}
	if !filter.IncludeEmpty {
		q = q.Where(squirrel.Gt{"qty": 0})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var batches []Batch
	if err := pgxscan.Select(ctx, r.pool, &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select batches: %w", err)
	}
	return batches, nil
}

// StockCard lists movements newest first.
func (r *Repository) StockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = 200
	}
	q := r.builder.Select(
		"id", "distributor_id", "product_name", "batch_no", "movement_type", "qty", "balance_qty",
		"ref_module", "ref_id", "note", "actor_id", "posted_at",
	).From("inventory_movements").
		Where(squirrel.Eq{"distributor_id": filter.DistributorID, "product_key": shared.ProductKey(filter.ProductName)}).
		OrderBy("posted_at DESC", "id DESC").
		Limit(limit)
	if filter.BatchNo != "" {
		q = q.Where(squirrel.Eq{"batch_no": filter.BatchNo})
	}
	if !filter.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"posted_at": filter.From})
	}
	if !filter.To.IsZero() {
		q = q.Where(squirrel.Lt{"posted_at": filter.To})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var cards []Movement
	if err := pgxscan.Select(ctx, r.pool, &cards, sql, args...); err != nil {
		return nil, fmt.Errorf("select movements: %w", err)
	}
	return cards, nil
}

// Drifts compares aggregates with the sum of their batches for one distributor.
func (r *Repository) Drifts(ctx context.Context, distributorID int64) ([]Drift, error) {
	const sql = `
		SELECT COALESCE(a.distributor_id, b.distributor_id) AS distributor_id,
		       COALESCE(a.product_key, b.product_key) AS product_key,
		       COALESCE(a.qty, 0) AS aggregate_qty,
		       COALESCE(b.qty, 0) AS batch_qty
		FROM (SELECT distributor_id, product_key, qty FROM inventory WHERE distributor_id = $1) a
		FULL OUTER JOIN (
			SELECT distributor_id, product_key, SUM(qty)::bigint AS qty
			FROM inventory_batches
			WHERE distributor_id = $1
			GROUP BY distributor_id, product_key
		) b ON a.distributor_id = b.distributor_id AND a.product_key = b.product_key
		WHERE COALESCE(a.qty, 0) <> COALESCE(b.qty, 0)
		ORDER BY product_key
	`
	var drifts []Drift
	if err := pgxscan.Select(ctx, r.pool, &drifts, sql, distributorID); err != nil {
		return nil, fmt.Errorf("select drifts: %w", err)
	}
	return drifts, nil
}

// DistributorIDs lists every distributor holding inventory rows.
func (r *Repository) DistributorIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := pgxscan.Select(ctx, r.pool, &ids, `
		SELECT distributor_id FROM inventory
		UNION
		SELECT distributor_id FROM inventory_batches
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("select distributors: %w", err)
	}
	return ids, nil
}

// ExpiringBatches lists non-empty batches expiring before the cutoff.
func (r *Repository) ExpiringBatches(ctx context.Context, before time.Time) ([]Batch, error) {
	sql, args, err := r.builder.Select(batchColumns).
		From("inventory_batches").
		Where(squirrel.Gt{"qty": 0}).
		Where(squirrel.Lt{"expiry_date": before}).
		OrderBy("expiry_date", "distributor_id", "product_key").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var batches []Batch
	if err := pgxscan.Select(ctx, r.pool, &batches, sql, args...); err != nil {
		return nil, fmt.Errorf("select expiring batches: %w", err)
	}
	return batches, nil
}
