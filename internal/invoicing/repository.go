package invoicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/ledger"
	"github.com/distrochain/distrochain/internal/orders"
	"github.com/distrochain/distrochain/internal/platform/db"
	"github.com/distrochain/distrochain/internal/shared"
)

// TxRepository is everything invoice generation writes in one transaction: the
// order, its batches and the retailer ledger, plus the invoice itself.
type TxRepository interface {
	orders.TxRepository
	inventory.TxStore
	ledger.TxStore
	InvoiceForOrder(ctx context.Context, orderID int64) (Invoice, error)
	NextInvoiceNo(ctx context.Context) (string, error)
	InsertInvoice(ctx context.Context, inv Invoice) (int64, error)
	InsertInvoiceLine(ctx context.Context, line Line) error
}

// Repository provides PostgreSQL backed persistence for invoices.
type Repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

type (
	orderTx  = orders.TxRepository
	stockTx  = inventory.TxStore
	ledgerTx = ledger.TxStore
)

type txRepository struct {
	orderTx
	stockTx
	ledgerTx
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			orderTx:  orders.NewTxRepository(tx),
			stockTx:  inventory.NewTxStore(tx),
			ledgerTx: ledger.NewTxStore(tx),
			tx:       tx,
		})
	})
}

var invoiceColumns = []string{
	"id", "invoice_no", "order_id", "retailer_id", "distributor_id", "total_amount", "paid_amount", "created_by", "created_at",
}

func (r *Repository) find(ctx context.Context, where squirrel.Sqlizer) (Invoice, error) {
	sql, args, err := r.builder.Select(invoiceColumns...).From("invoices").Where(where).ToSql()
	if err != nil {
		return Invoice{}, fmt.Errorf("build query: %w", err)
	}
	var inv Invoice
	if err := pgxscan.Get(ctx, r.pool, &inv, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	sql, args, err = r.builder.Select("id", "invoice_id", "product_name", "qty", "rate", "amount", "batch_no", "expiry_date").
		From("invoice_lines").
		Where(squirrel.Eq{"invoice_id": inv.ID}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return Invoice{}, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, r.pool, &inv.Lines, sql, args...); err != nil {
		return Invoice{}, fmt.Errorf("select invoice lines: %w", err)
	}
	return inv, nil
}

// Get returns the invoice with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Invoice, error) {
	return r.find(ctx, squirrel.Eq{"id": id})
}

// GetByOrder returns the invoice billed for an order.
func (r *Repository) GetByOrder(ctx context.Context, orderID int64) (Invoice, error) {
	return r.find(ctx, squirrel.Eq{"order_id": orderID})
}

func (t *txRepository) InvoiceForOrder(ctx context.Context, orderID int64) (Invoice, error) {
	var inv Invoice
	err := t.tx.QueryRow(ctx, `SELECT id, invoice_no, order_id, retailer_id, distributor_id, total_amount, paid_amount, created_by, created_at
FROM invoices WHERE order_id = $1`, orderID).Scan(
		&inv.ID, &inv.InvoiceNo, &inv.OrderID, &inv.RetailerID, &inv.DistributorID,
		&inv.TotalAmount, &inv.PaidAmount, &inv.CreatedBy, &inv.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

func (t *txRepository) NextInvoiceNo(ctx context.Context) (string, error) {
	var seq int64
	if err := t.tx.QueryRow(ctx, `SELECT nextval('invoice_no_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("INV-%06d", seq), nil
}

func (t *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO invoices (invoice_no, order_id, retailer_id, distributor_id, total_amount, paid_amount, created_by)
VALUES ($1, $2, $3, $4, $5, 0, $6)
RETURNING id`, inv.InvoiceNo, inv.OrderID, inv.RetailerID, inv.DistributorID, inv.TotalAmount, inv.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertInvoiceLine(ctx context.Context, l Line) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, product_name, product_key, qty, rate, amount, batch_no, expiry_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		l.InvoiceID, l.ProductName, shared.ProductKey(l.ProductName), l.Qty, l.Rate, l.Amount, l.BatchNo, l.ExpiryDate)
	return err
}
