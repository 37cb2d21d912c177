package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/distrochain/distrochain/internal/platform/db"
)

// TxStore appends ledger rows inside a transaction owned by the caller.
type TxStore interface {
	InsertEntry(ctx context.Context, e Entry) (int64, error)
	RefreshInvoicePaid(ctx context.Context, invoiceNo string) error
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

func (s *txStore) InsertEntry(ctx context.Context, e Entry) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO ledger_entries (retailer_id, entry_type, amount, entry_date, reference, narration, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, e.RetailerID, string(e.Type), e.Amount, e.Date, e.Reference, e.Narration, e.CreatedBy).Scan(&id)
	return id, err
}

// RefreshInvoicePaid recomputes invoices.paid_amount from credits referencing the invoice.
// No-op when the reference is not an invoice number.
func (s *txStore) RefreshInvoicePaid(ctx context.Context, invoiceNo string) error {
	_, err := s.tx.Exec(ctx, `UPDATE invoices
SET paid_amount = (
	SELECT COALESCE(SUM(amount), 0) FROM ledger_entries
	WHERE entry_type = 'CREDIT' AND reference = $1 AND retailer_id = invoices.retailer_id
)
WHERE invoice_no = $1`, invoiceNo)
	return err
}

// Repository persists ledger entries in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)}
}

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

// ListEntries returns a retailer's entries before until (zero = no bound), ordered by
// date then insertion.
func (r *Repository) ListEntries(ctx context.Context, retailerID int64, until time.Time) ([]Entry, error) {
	q := r.builder.Select("id", "retailer_id", "entry_type", "amount", "entry_date", "reference", "narration", "created_by", "created_at").
		From("ledger_entries").
		Where(squirrel.Eq{"retailer_id": retailerID}).
		OrderBy("entry_date", "id")
	if !until.IsZero() {
		q = q.Where(squirrel.Lt{"entry_date": until})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	var entries []Entry
	if err := pgxscan.Select(ctx, r.pool, &entries, sql, args...); err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	return entries, nil
}

// Totals sums debits and credits in [from, to). Zero bounds are open.
func (r *Repository) Totals(ctx context.Context, retailerID int64, from, to time.Time) (Totals, error) {
	q := r.builder.Select(
		"COALESCE(SUM(amount) FILTER (WHERE entry_type = 'DEBIT'), 0) AS debit",
		"COALESCE(SUM(amount) FILTER (WHERE entry_type = 'CREDIT'), 0) AS credit",
	).From("ledger_entries").
		Where(squirrel.Eq{"retailer_id": retailerID})
	if !from.IsZero() {
		q = q.Where(squirrel.GtOrEq{"entry_date": from})
	}
	if !to.IsZero() {
		q = q.Where(squirrel.Lt{"entry_date": to})
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return Totals{}, fmt.Errorf("build query: %w", err)
	}
	var totals Totals
	if err := pgxscan.Get(ctx, r.pool, &totals, sql, args...); err != nil {
		return Totals{}, fmt.Errorf("sum entries: %w", err)
	}
	return totals, nil
}
