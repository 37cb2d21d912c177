package stockaudit

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/distrochain/distrochain/internal/shared"
)

// Status enumerates warehouse audit states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
)

// MismatchType classifies a counted line against the system quantity.
type MismatchType string

const (
	MismatchShort  MismatchType = "SHORT"
	MismatchExcess MismatchType = "EXCESS"
	MismatchMatch  MismatchType = "MATCH"
)

// Classify returns the mismatch type of a variance (physical - system).
func Classify(variance int64) MismatchType {
	switch {
	case variance < 0:
		return MismatchShort
	case variance > 0:
		return MismatchExcess
	default:
		return MismatchMatch
	}
}

// StockAudit is a monthly warehouse count for one distributor.
type StockAudit struct {
	ID            uuid.UUID            `db:"id" json:"id"`
	DistributorID int64                `db:"distributor_id" json:"distributor_id"`
	MonthKey      string               `db:"month_key" json:"month_key"`
	Status        Status               `db:"status" json:"status"`
	SystemTotal   int64                `db:"system_total" json:"system_total"`
	PhysicalTotal int64                `db:"physical_total" json:"physical_total"`
	NetVariance   int64                `db:"net_variance" json:"net_variance"`
	CreatedBy     int64                `db:"created_by" json:"created_by"`
	CreatedAt     time.Time            `db:"created_at" json:"created_at"`
	SubmittedBy   *int64               `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt   *time.Time           `db:"submitted_at" json:"submitted_at,omitempty"`
	ApprovedBy    *int64               `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt    *time.Time           `db:"approved_at" json:"approved_at,omitempty"`
	Lines         []Line               `db:"-" json:"lines"`
	History       []shared.ApprovalLog `db:"-" json:"history,omitempty"`
}

// Line is one counted batch.
type Line struct {
	ID           int64        `db:"id" json:"id"`
	AuditID      uuid.UUID    `db:"audit_id" json:"audit_id"`
	ProductName  string       `db:"product_name" json:"product_name"`
	BatchNo      string       `db:"batch_no" json:"batch_no"`
	ExpiryDate   time.Time    `db:"expiry_date" json:"expiry_date"`
	SystemQty    int64        `db:"system_qty" json:"system_qty"`
	PhysicalQty  int64        `db:"physical_qty" json:"physical_qty"`
	Variance     int64        `db:"variance" json:"variance"`
	MismatchType MismatchType `db:"mismatch_type" json:"mismatch_type"`
	Reason       string       `db:"reason" json:"reason,omitempty"`
	RootCause    string       `db:"root_cause" json:"root_cause,omitempty"`
	Remarks      string       `db:"remarks" json:"remarks,omitempty"`
}

func (l *Line) recompute() {
	l.Variance = l.PhysicalQty - l.SystemQty
	l.MismatchType = Classify(l.Variance)
}

// explained reports whether a line passes the variance gate.
func (l Line) explained() bool {
	return l.Variance == 0 || (strings.TrimSpace(l.Reason) != "" && strings.TrimSpace(l.Remarks) != "")
}

// LinePatch updates a counted line. Nil fields are left unchanged.
type LinePatch struct {
	LineID      int64
	PhysicalQty *int64
	Reason      *string
	RootCause   *string
	Remarks     *string
}

// NewLineInput adds a batch that the audit was not seeded with, such as stock
// found on the floor that has no system batch yet.
type NewLineInput struct {
	ProductName string
	BatchNo     string
	ExpiryDate  time.Time
	PhysicalQty int64
	Reason      string
	RootCause   string
	Remarks     string
}

// ApproveResult reports an approval.
type ApproveResult struct {
	Status                 Status `json:"status"`
	AppliedAdjustmentCount int    `json:"applied_adjustment_count"`
}

// FieldLineInput is one product counted at a retailer.
type FieldLineInput struct {
	ProductName string
	BatchNo     string
	ExpiryDate  time.Time
	SystemQty   *int64
	PhysicalQty *int64
}

// FieldAudit is the header of a retailer shelf count.
type FieldAudit struct {
	ID            int64     `json:"id"`
	DistributorID int64     `json:"distributor_id"`
	RetailerID    int64     `json:"retailer_id"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// FieldLine is an immutable history row of a field audit.
type FieldLine struct {
	AuditID      int64        `json:"audit_id"`
	ProductName  string       `json:"product_name"`
	BatchNo      string       `json:"batch_no"`
	ExpiryDate   time.Time    `json:"expiry_date"`
	SystemQty    int64        `json:"system_qty"`
	PhysicalQty  int64        `json:"physical_qty"`
	Variance     int64        `json:"variance"`
	MismatchType MismatchType `json:"mismatch_type"`
}

// FieldAuditResult reports a stored field audit.
type FieldAuditResult struct {
	AuditID int64       `json:"audit_id"`
	Lines   []FieldLine `json:"lines"`
}

// SnapshotKey identifies the last counted quantity of a batch at a retailer.
type SnapshotKey struct {
	DistributorID int64
	RetailerID    int64
	ProductKey    string
	BatchNo       string
	ExpiryDate    time.Time
}

var (
	// ErrAuditNotFound indicates the stock audit does not exist.
	ErrAuditNotFound = fmt.Errorf("%w: stock audit", shared.ErrNotFound)
	// ErrUnexplainedVariance indicates variance lines without reason and remarks.
	ErrUnexplainedVariance = fmt.Errorf("%w: variance lines need reason and remarks", shared.ErrValidation)
)

func lockedError(id uuid.UUID, status Status) error {
	return fmt.Errorf("%w: stock audit %s is %s", shared.ErrLocked, id, status)
}

// ParseMonthKey validates a YYYY-MM key.
func ParseMonthKey(key string) (string, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(key))
	if err != nil {
		return "", fmt.Errorf("%w: month key %q must be YYYY-MM", shared.ErrValidation, key)
	}
	return t.Format("2006-01"), nil
}
