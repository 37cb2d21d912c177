package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/distrochain/distrochain/internal/shared"
)

// TxStore mutates batches, aggregates and the stock card inside a transaction owned
// by the caller. Invoicing, inbound allocation and audit approval compose it into
// their own transactional repositories.
type TxStore interface {
	GetBatchForUpdate(ctx context.Context, distributorID int64, productName, batchNo string) (Batch, error)
	DecrementBatch(ctx context.Context, batchID, qty int64) (Batch, error)
	CreditBatch(ctx context.Context, credit BatchCredit) (Batch, error)
	AdjustBatch(ctx context.Context, batchID, delta int64) (Batch, error)
	AdjustAggregate(ctx context.Context, distributorID int64, productName string, delta int64) (int64, error)
	InsertMovement(ctx context.Context, m Movement) error
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds a TxStore to an open transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

const batchColumns = `id, distributor_id, product_name, product_key, batch_no, expiry_date, qty, updated_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.DistributorID, &b.ProductName, &b.ProductKey, &b.BatchNo, &b.ExpiryDate, &b.Qty, &b.UpdatedAt)
	return b, err
}

func (s *txStore) GetBatchForUpdate(ctx context.Context, distributorID int64, productName, batchNo string) (Batch, error) {
	row := s.tx.QueryRow(ctx, `SELECT `+batchColumns+`
FROM inventory_batches
WHERE distributor_id = $1 AND product_key = $2 AND batch_no = $3
FOR UPDATE`, distributorID, shared.ProductKey(productName), batchNo)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, BatchError(ErrBatchNotFound, productName, batchNo)
	}
	return b, err
}

// DecrementBatch subtracts qty only while the batch still holds at least qty.
func (s *txStore) DecrementBatch(ctx context.Context, batchID, qty int64) (Batch, error) {
	if qty <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	row := s.tx.QueryRow(ctx, `UPDATE inventory_batches
SET qty = qty - $2, updated_at = NOW()
WHERE id = $1 AND qty >= $2
RETURNING `+batchColumns, batchID, qty)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrInsufficientStock
	}
	return b, err
}

// CreditBatch inserts the batch or increments it. A conflicting row with another
// expiry date is left untouched and reported as ErrExpiryMismatch.
func (s *txStore) CreditBatch(ctx context.Context, credit BatchCredit) (Batch, error) {
	if credit.Qty <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	name := shared.ProductName(credit.ProductName)
	row := s.tx.QueryRow(ctx, `INSERT INTO inventory_batches (distributor_id, product_name, product_key, batch_no, expiry_date, qty)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (distributor_id, product_key, batch_no) DO UPDATE
SET qty = inventory_batches.qty + EXCLUDED.qty, updated_at = NOW()
WHERE inventory_batches.expiry_date = EXCLUDED.expiry_date
RETURNING `+batchColumns,
		credit.DistributorID, name, shared.ProductKey(name), credit.BatchNo, dateOnly(credit.ExpiryDate), credit.Qty)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, BatchError(ErrExpiryMismatch, name, credit.BatchNo)
	}
	return b, err
}

// AdjustBatch applies a signed delta, refusing to go below zero.
func (s *txStore) AdjustBatch(ctx context.Context, batchID, delta int64) (Batch, error) {
	row := s.tx.QueryRow(ctx, `UPDATE inventory_batches
SET qty = qty + $2, updated_at = NOW()
WHERE id = $1 AND qty + $2 >= 0
RETURNING `+batchColumns, batchID, delta)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrNegativeStock
	}
	return b, err
}

// AdjustAggregate applies delta to the product aggregate and returns the new quantity.
// Increments create the row; decrements require an existing row with enough stock.
func (s *txStore) AdjustAggregate(ctx context.Context, distributorID int64, productName string, delta int64) (int64, error) {
	name := shared.ProductName(productName)
	key := shared.ProductKey(name)
	var qty int64
	if delta >= 0 {
		err := s.tx.QueryRow(ctx, `INSERT INTO inventory (distributor_id, product_name, product_key, qty)
VALUES ($1, $2, $3, $4)
ON CONFLICT (distributor_id, product_key) DO UPDATE
SET qty = inventory.qty + EXCLUDED.qty, updated_at = NOW()
RETURNING qty`, distributorID, name, key, delta).Scan(&qty)
		return qty, err
	}
	err := s.tx.QueryRow(ctx, `UPDATE inventory
SET qty = qty + $3, updated_at = NOW()
WHERE distributor_id = $1 AND product_key = $2 AND qty + $3 >= 0
RETURNING qty`, distributorID, key, delta).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE distributor_id = $1 AND product_key = $2)`, distributorID, key).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, BatchError(ErrAggregateMissing, name, "")
		}
		return 0, BatchError(ErrInsufficientStock, name, "")
	}
	return qty, err
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) error {
	postedAt := m.PostedAt
	if postedAt.IsZero() {
		postedAt = time.Now().UTC()
	}
	name := shared.ProductName(m.ProductName)
	_, err := s.tx.Exec(ctx, `INSERT INTO inventory_movements (
	distributor_id, product_name, product_key, batch_no, movement_type, qty, balance_qty,
	ref_module, ref_id, note, actor_id, posted_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.DistributorID, name, shared.ProductKey(name), m.BatchNo, string(m.Type), m.Qty, m.BalanceQty,
		m.RefModule, m.RefID, m.Note, m.ActorID, postedAt)
	return err
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
