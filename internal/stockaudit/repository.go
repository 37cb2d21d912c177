package stockaudit

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/platform/db"
	"github.com/distrochain/distrochain/internal/shared"
)

// TxRepository exposes audit writes inside a transaction. Approval composes the
// inventory store so adjustments commit with the status change.
type TxRepository interface {
	inventory.TxStore

	InsertFieldAudit(ctx context.Context, audit FieldAudit) (int64, error)
	InsertFieldLine(ctx context.Context, line FieldLine) error
	SnapshotQty(ctx context.Context, key SnapshotKey) (int64, bool, error)
	UpsertSnapshot(ctx context.Context, key SnapshotKey, productName string, qty int64) error

	AuditIDByMonth(ctx context.Context, distributorID int64, monthKey string) (uuid.UUID, error)
	InsertAudit(ctx context.Context, audit StockAudit) (bool, error)
	InsertAuditLine(ctx context.Context, line Line) (int64, error)
	LockAudit(ctx context.Context, id uuid.UUID) (StockAudit, error)
	UpdateAuditLine(ctx context.Context, line Line) error
	UpdateAudit(ctx context.Context, audit StockAudit) error
	ListBatches(ctx context.Context, distributorID int64) ([]inventory.Batch, error)
	RecordApproval(ctx context.Context, log shared.ApprovalLog) error
}

// Repository provides PostgreSQL backed persistence for stock audits.
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

var (
	auditColumns = []string{
		"id", "distributor_id", "month_key", "status", "system_total", "physical_total", "net_variance",
		"created_by", "created_at", "submitted_by", "submitted_at", "approved_by", "approved_at",
	}
	lineColumns = []string{
		"id", "audit_id", "product_name", "batch_no", "expiry_date", "system_qty", "physical_qty", "variance",
		"mismatch_type", "reason", "root_cause", "remarks",
	}
)

// GetAudit returns the audit with its lines.
func (r *Repository) GetAudit(ctx context.Context, id uuid.UUID) (StockAudit, error) {
	sql, args, err := r.builder.Select(auditColumns...).From("stock_audits").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return StockAudit{}, fmt.Errorf("build query: %w", err)
	}
	var audit StockAudit
	if err := pgxscan.Get(ctx, r.pool, &audit, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return StockAudit{}, ErrAuditNotFound
		}
		return StockAudit{}, err
	}
	sql, args, err = r.builder.Select(lineColumns...).
		From("stock_audit_lines").
		Where(squirrel.Eq{"audit_id": id}).
		OrderBy("id").
		ToSql()
	if err != nil {
		return StockAudit{}, fmt.Errorf("build query: %w", err)
	}
	if err := pgxscan.Select(ctx, r.pool, &audit.Lines, sql, args...); err != nil {
		return StockAudit{}, fmt.Errorf("select audit lines: %w", err)
	}
	return audit, nil
}

func (t *txRepository) InsertFieldAudit(ctx context.Context, a FieldAudit) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO field_audits (distributor_id, retailer_id, created_by)
VALUES ($1, $2, $3) RETURNING id`, a.DistributorID, a.RetailerID, a.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepository) InsertFieldLine(ctx context.Context, l FieldLine) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO field_audit_lines (audit_id, product_name, product_key, batch_no, expiry_date, system_qty, physical_qty, variance, mismatch_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.AuditID, l.ProductName, shared.ProductKey(l.ProductName), l.BatchNo, l.ExpiryDate, l.SystemQty, l.PhysicalQty, l.Variance, l.MismatchType)
	return err
}

func (t *txRepository) SnapshotQty(ctx context.Context, k SnapshotKey) (int64, bool, error) {
	var qty int64
	err := t.tx.QueryRow(ctx, `SELECT qty FROM stock_snapshots
WHERE distributor_id = $1 AND retailer_id = $2 AND product_key = $3 AND batch_no = $4 AND expiry_date = $5
FOR UPDATE`, k.DistributorID, k.RetailerID, k.ProductKey, k.BatchNo, k.ExpiryDate).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	return qty, err == nil, err
}

func (t *txRepository) UpsertSnapshot(ctx context.Context, k SnapshotKey, productName string, qty int64) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO stock_snapshots (distributor_id, retailer_id, product_key, batch_no, expiry_date, product_name, qty)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (distributor_id, retailer_id, product_key, batch_no, expiry_date) DO UPDATE
SET qty = EXCLUDED.qty, product_name = EXCLUDED.product_name, updated_at = NOW()`,
		k.DistributorID, k.RetailerID, k.ProductKey, k.BatchNo, k.ExpiryDate, productName, qty)
	return err
}

func (t *txRepository) AuditIDByMonth(ctx context.Context, distributorID int64, monthKey string) (uuid.UUID, error) {
	var id uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT id FROM stock_audits WHERE distributor_id = $1 AND month_key = $2`, distributorID, monthKey).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrAuditNotFound
	}
	return id, err
}

// InsertAudit reports false when another audit already holds the month.
func (t *txRepository) InsertAudit(ctx context.Context, a StockAudit) (bool, error) {
	tag, err := t.tx.Exec(ctx, `INSERT INTO stock_audits (id, distributor_id, month_key, status, created_by)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (distributor_id, month_key) DO NOTHING`, a.ID, a.DistributorID, a.MonthKey, a.Status, a.CreatedBy)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) InsertAuditLine(ctx context.Context, l Line) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO stock_audit_lines (audit_id, product_name, product_key, batch_no, expiry_date, system_qty, physical_qty, variance, mismatch_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		l.AuditID, l.ProductName, shared.ProductKey(l.ProductName), l.BatchNo, l.ExpiryDate, l.SystemQty, l.PhysicalQty, l.Variance, l.MismatchType).Scan(&id)
	return id, err
}

func (t *txRepository) LockAudit(ctx context.Context, id uuid.UUID) (StockAudit, error) {
	a := StockAudit{ID: id}
	err := t.tx.QueryRow(ctx, `SELECT distributor_id, month_key, status, system_total, physical_total, net_variance,
	created_by, created_at, submitted_by, submitted_at, approved_by, approved_at
FROM stock_audits WHERE id = $1 FOR UPDATE`, id).Scan(
		&a.DistributorID, &a.MonthKey, &a.Status, &a.SystemTotal, &a.PhysicalTotal, &a.NetVariance,
		&a.CreatedBy, &a.CreatedAt, &a.SubmittedBy, &a.SubmittedAt, &a.ApprovedBy, &a.ApprovedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockAudit{}, ErrAuditNotFound
	}
	if err != nil {
		return StockAudit{}, err
	}
	rows, err := t.tx.Query(ctx, `SELECT id, audit_id, product_name, batch_no, expiry_date, system_qty, physical_qty, variance,
	mismatch_type, reason, root_cause, remarks
FROM stock_audit_lines WHERE audit_id = $1 ORDER BY id`, id)
	if err != nil {
		return StockAudit{}, err
	}
	a.Lines, err = pgx.CollectRows(rows, pgx.RowToStructByName[Line])
	return a, err
}

func (t *txRepository) UpdateAuditLine(ctx context.Context, l Line) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_audit_lines
SET physical_qty = $2, variance = $3, mismatch_type = $4, reason = $5, root_cause = $6, remarks = $7
WHERE id = $1`, l.ID, l.PhysicalQty, l.Variance, l.MismatchType, l.Reason, l.RootCause, l.Remarks)
	return err
}

func (t *txRepository) UpdateAudit(ctx context.Context, a StockAudit) error {
	_, err := t.tx.Exec(ctx, `UPDATE stock_audits
SET status = $2, system_total = $3, physical_total = $4, net_variance = $5,
	submitted_by = $6, submitted_at = $7, approved_by = $8, approved_at = $9
WHERE id = $1`, a.ID, a.Status, a.SystemTotal, a.PhysicalTotal, a.NetVariance, a.SubmittedBy, a.SubmittedAt, a.ApprovedBy, a.ApprovedAt)
	return err
}

func (t *txRepository) ListBatches(ctx context.Context, distributorID int64) ([]inventory.Batch, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, distributor_id, product_name, product_key, batch_no, expiry_date, qty, updated_at
FROM inventory_batches WHERE distributor_id = $1 AND qty > 0
ORDER BY product_key, expiry_date, batch_no`, distributorID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[inventory.Batch])
}

func (t *txRepository) RecordApproval(ctx context.Context, log shared.ApprovalLog) error {
	return shared.InsertApproval(ctx, t.tx, log)
}
