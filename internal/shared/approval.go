package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
)

// ApprovalModuleStockAudit tags approval rows written by warehouse stock audits.
const ApprovalModuleStockAudit = "stock_audit"

// ApprovalLog represents a single approval record.
type ApprovalLog struct {
	ID      int64
	Module  string
	RefID   uuid.UUID
	ActorID int64
	Role    Role
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// Execer is the subset of pgx.Tx and *pgxpool.Pool needed to write approvals.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func (l ApprovalLog) validate() error {
	if l.Module == "" {
		return errors.New("approval module required")
	}
	if l.ActorID == 0 {
		return errors.New("approval actor required")
	}
	if l.RefID == uuid.Nil {
		return errors.New("approval ref id required")
	}
	if l.Action == "" {
		return errors.New("approval action required")
	}
	return nil
}

// InsertApproval writes an approval row through q, typically the transaction that
// changed the approved entity so history and state commit together.
func InsertApproval(ctx context.Context, q Execer, log ApprovalLog) error {
	if err := log.validate(); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := q.Exec(ctx, `INSERT INTO approvals (module, ref_id, actor_id, actor_role, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`, log.Module, log.RefID, log.ActorID, string(log.Role), string(log.Action), log.Note, at)
	return err
}

// ApprovalRecorder reads approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// List returns approvals for module/ref.
func (r *ApprovalRecorder) List(ctx context.Context, module string, ref uuid.UUID) ([]ApprovalLog, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, module, ref_id, actor_id, actor_role, action, note, at
FROM approvals WHERE module=$1 AND ref_id=$2 ORDER BY at ASC, id ASC`, module, ref)
	if err != nil {
		r.logger.Error("list approvals", slog.String("module", module), slog.Any("error", err))
		return nil, err
	}
	logs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ApprovalLog, error) {
		var l ApprovalLog
		var role, action string
		err := row.Scan(&l.ID, &l.Module, &l.RefID, &l.ActorID, &role, &action, &l.Note, &l.At)
		l.Role = Role(role)
		l.Action = ApprovalAction(action)
		return l, err
	})
	if err != nil {
		return nil, err
	}
	return logs, nil
}
