package inbound

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/platform/db"
	"github.com/distrochain/distrochain/internal/shared"
)

// TxRepository exposes inbound allocation writes inside a transaction.
type TxRepository interface {
	inventory.TxStore
	LockInbound(ctx context.Context, id int64) (InboundOrder, error)
	LockLots(ctx context.Context, ids []int64) (map[int64]StockLot, error)
	DecrementLot(ctx context.Context, lotID, qty int64) error
	MarkPacked(ctx context.Context, id, actorID int64) error
}

// Repository provides PostgreSQL backed persistence for stock lots and inbound orders.
type Repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

type txRepository struct {
	inventory.TxStore
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{TxStore: inventory.NewTxStore(tx), tx: tx})
	})
}

// CreateLot inserts a stock lot.
func (r *Repository) CreateLot(ctx context.Context, lot StockLot) (StockLot, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_lots (product_name, product_key, batch_no, mfg_date, exp_date, qty_on_hand_pcs, created_by)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
RETURNING id, created_at`,
		lot.ProductName, shared.ProductKey(lot.ProductName), lot.BatchNo, lot.MfgDate, lot.ExpDate, lot.QtyOnHandPcs, lot.CreatedBy,
	).Scan(&lot.ID, &lot.CreatedAt)
	return lot, err
}

// ListLots returns lots with stock on hand, earliest expiry first.
func (r *Repository) ListLots(ctx context.Context, productName string) ([]StockLot, error) {
	q := r.builder.Select(
		"id", "product_name", "COALESCE(batch_no, '') AS batch_no", "mfg_date", "exp_date",
		"qty_on_hand_pcs", "created_by", "created_at",
	).From("stock_lots").
		Where(squirrel.Gt{"qty_on_hand_pcs": 0}).
		OrderBy("exp_date NULLS LAST", "id")
	if productName != "" {
		q = q.Where(squirrel.Eq{"product_key": shared.ProductKey(productName)})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var lots []StockLot
	if err := pgxscan.Select(ctx, r.pool, &lots, sql, args...); err != nil {
		return nil, fmt.Errorf("select stock lots: %w", err)
	}
	return lots, nil
}

func (t *txRepository) LockInbound(ctx context.Context, id int64) (InboundOrder, error) {
	order := InboundOrder{ID: id}
	err := t.tx.QueryRow(ctx, `SELECT distributor_id, status, payment_status
FROM inbound_orders WHERE id = $1 FOR UPDATE`, id).Scan(&order.DistributorID, &order.Status, &order.PaymentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return InboundOrder{}, ErrInboundNotFound
	}
	if err != nil {
		return InboundOrder{}, err
	}
	rows, err := t.tx.Query(ctx, `SELECT product_name, qty FROM inbound_order_lines WHERE inbound_order_id = $1 ORDER BY id`, id)
	if err != nil {
		return InboundOrder{}, err
	}
	order.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (Line, error) {
		var l Line
		err := row.Scan(&l.ProductName, &l.Qty)
		return l, err
	})
	return order, err
}

func (t *txRepository) LockLots(ctx context.Context, ids []int64) (map[int64]StockLot, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, product_name, COALESCE(batch_no, ''), mfg_date, exp_date, qty_on_hand_pcs, created_by, created_at
FROM stock_lots WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	lots, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (StockLot, error) {
		var l StockLot
		err := row.Scan(&l.ID, &l.ProductName, &l.BatchNo, &l.MfgDate, &l.ExpDate, &l.QtyOnHandPcs, &l.CreatedBy, &l.CreatedAt)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[int64]StockLot, len(lots))
	for _, l := range lots {
		out[l.ID] = l
	}
	return out, nil
}

// DecrementLot subtracts qty only while the lot still holds at least qty.
func (t *txRepository) DecrementLot(ctx context.Context, lotID, qty int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE stock_lots SET qty_on_hand_pcs = qty_on_hand_pcs - $2
WHERE id = $1 AND qty_on_hand_pcs >= $2`, lotID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: lot %d", ErrLotShort, lotID)
	}
	return nil
}

func (t *txRepository) MarkPacked(ctx context.Context, id, actorID int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE inbound_orders SET status = $2, packed_by = $3, packed_at = NOW() WHERE id = $1`, id, StatusPacked, actorID)
	return err
}
