package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/platform/db"
	"github.com/distrochain/distrochain/internal/shared"
)

// TxRepository exposes order writes inside a transaction. Invoicing composes it to
// lock and dispatch the order it bills.
type TxRepository interface {
	NextOrderNo(ctx context.Context) (string, error)
	InsertOrder(ctx context.Context, order Order) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	LockOrder(ctx context.Context, id int64) (Order, error)
	HasInvoice(ctx context.Context, orderID int64) (bool, error)
	ListLines(ctx context.Context, orderID int64) ([]Line, error)
	UpdateLine(ctx context.Context, lineID, qty int64, amount decimal.Decimal) error
	DeleteLine(ctx context.Context, lineID int64) error
	SetTotal(ctx context.Context, orderID int64, total decimal.Decimal) error
	MarkDispatched(ctx context.Context, orderID int64, total decimal.Decimal) error
	DeleteOrder(ctx context.Context, orderID int64) error
}

// Repository provides PostgreSQL backed persistence for orders.
type Repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds order writes to an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

var orderColumns = []string{
	"id", "order_no", "retailer_id", "distributor_id", "status", "total_amount",
	"idempotency_key", "request_hash", "COALESCE(device_id, '') AS device_id", "created_by", "created_at",
}

func (r *Repository) getOrder(ctx context.Context, where squirrel.Sqlizer) (Order, error) {
	sql, args, err := r.builder.Select(orderColumns...).From("orders").Where(where).ToSql()
	if err != nil {
		return Order{}, fmt.Errorf("build query: %w", err)
	}
	var order Order
	if err := pgxscan.Get(ctx, r.pool, &order, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Order{}, ErrOrderNotFound
		}
		return Order{}, err
	}
	return order, nil
}

// GetByIdempotencyKey returns the order stored under key without lines.
func (r *Repository) GetByIdempotencyKey(ctx context.Context, key string) (Order, error) {
	return r.getOrder(ctx, squirrel.Eq{"idempotency_key": key})
}

// Get returns the order with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Order, error) {
	order, err := r.getOrder(ctx, squirrel.Eq{"id": id})
	if err != nil {
		return Order{}, err
	}
	sql, args, err := r.builder.Select("id", "order_id", "product_name", "qty", "rate", "amount").
		From("order_lines").
		Where(squirrel.Eq{"order_id": id}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return Order{}, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, r.pool, &order.Lines, sql, args...); err != nil {
		return Order{}, fmt.Errorf("select order lines: %w", err)
	}
	return order, nil
}

func (t *txRepository) NextOrderNo(ctx context.Context) (string, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('order_no_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%06d", seq), nil
}

func (t *txRepository) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO orders (order_no, retailer_id, distributor_id, status, total_amount, idempotency_key, request_hash, device_id, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)
RETURNING id`, o.OrderNo, o.RetailerID, o.DistributorID, o.Status, o.TotalAmount, o.IdempotencyKey, o.RequestHash, o.DeviceID, o.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO order_lines (order_id, product_name, product_key, qty, rate, amount)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`, l.OrderID, l.ProductName, shared.ProductKey(l.ProductName), l.Qty, l.Rate, l.Amount).Scan(&id)
	return id, err
}

func (t *txRepository) LockOrder(ctx context.Context, id int64) (Order, error) {
	var o Order
	err := t.tx.QueryRow(ctx, `SELECT id, order_no, retailer_id, distributor_id, status, total_amount, idempotency_key, request_hash, COALESCE(device_id, ''), created_by, created_at
FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(
		&o.ID, &o.OrderNo, &o.RetailerID, &o.DistributorID, &o.Status, &o.TotalAmount,
		&o.IdempotencyKey, &o.RequestHash, &o.DeviceID, &o.CreatedBy, &o.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, err
}

func (t *txRepository) HasInvoice(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE order_id = $1)`, orderID).Scan(&exists)
	return exists, err
}

func (t *txRepository) ListLines(ctx context.Context, orderID int64) ([]Line, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, order_id, product_name, qty, rate, amount
FROM order_lines WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Line])
}

func (t *txRepository) UpdateLine(ctx context.Context, lineID, qty int64, amount decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE order_lines SET qty = $2, amount = $3 WHERE id = $1`, lineID, qty, amount)
	return err
}

func (t *txRepository) DeleteLine(ctx context.Context, lineID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE id = $1`, lineID)
	return err
}

func (t *txRepository) SetTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `UPDATE orders SET total_amount = $2 WHERE id = $1`, orderID, total)
	return err
}

func (t *txRepository) MarkDispatched(ctx context.Context, orderID int64, total decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, total_amount = $3 WHERE id = $1 AND status = $4`,
		orderID, StatusDispatched, total, StatusSubmitted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: order %d is no longer %s", shared.ErrLocked, orderID, StatusSubmitted)
	}
	return nil
}

func (t *txRepository) DeleteOrder(ctx context.Context, orderID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_lines WHERE order_id = $1`, orderID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id = $1`, orderID)
	return err
}
