package inventory

import (
	"fmt"
	"time"

	"github.com/distrochain/distrochain/internal/shared"
)

// MovementType enumerates stock card movements.
type MovementType string

const (
	// MovementIn credits a batch (inbound allocation, positive audit variance).
	MovementIn MovementType = "IN"
	// MovementOut debits a batch for an invoice.
	MovementOut MovementType = "OUT"
	// MovementAdjust applies an approved stock audit variance.
	MovementAdjust MovementType = "ADJUST"
)

// Batch is the distributor-level stock of one product batch.
type Batch struct {
	ID            int64     `db:"id"`
	DistributorID int64     `db:"distributor_id"`
	ProductName   string    `db:"product_name"`
	ProductKey    string    `db:"product_key"`
	BatchNo       string    `db:"batch_no"`
	ExpiryDate    time.Time `db:"expiry_date"`
	Qty           int64     `db:"qty"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Expired reports whether the batch expiry date is before the day of now.
func (b Batch) Expired(now time.Time) bool {
	y, m, d := now.Date()
	return b.ExpiryDate.Before(time.Date(y, m, d, 0, 0, 0, 0, now.Location()))
}

// Aggregate is the per distributor and product total that mirrors the sum of batches.
type Aggregate struct {
	DistributorID int64  `db:"distributor_id"`
	ProductName   string `db:"product_name"`
	ProductKey    string `db:"product_key"`
	Qty           int64  `db:"qty"`
}

// BatchCredit adds stock to a batch, creating it when missing.
type BatchCredit struct {
	DistributorID int64
	ProductName   string
	BatchNo       string
	ExpiryDate    time.Time
	Qty           int64
}

// Movement is one stock card line for a batch quantity change.
type Movement struct {
	ID            int64        `db:"id"`
	DistributorID int64        `db:"distributor_id"`
	ProductName   string       `db:"product_name"`
	BatchNo       string       `db:"batch_no"`
	Type          MovementType `db:"movement_type"`
	Qty           int64        `db:"qty"`
	BalanceQty    int64        `db:"balance_qty"`
	RefModule     string       `db:"ref_module"`
	RefID         string       `db:"ref_id"`
	Note          string       `db:"note"`
	ActorID       int64        `db:"actor_id"`
	PostedAt      time.Time    `db:"posted_at"`
}

// StockCardFilter filters card entries.
type StockCardFilter struct {
	DistributorID int64
	ProductName   string
	BatchNo       string
	From          time.Time
	To            time.Time
	Limit         uint64
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	DistributorID int64
	ProductName   string
	IncludeEmpty  bool
}

// Drift reports an aggregate that disagrees with the sum of its batches.
type Drift struct {
	DistributorID int64  `db:"distributor_id" json:"distributor_id"`
	ProductKey    string `db:"product_key" json:"product_key"`
	AggregateQty  int64  `db:"aggregate_qty" json:"aggregate_qty"`
	BatchQty      int64  `db:"batch_qty" json:"batch_qty"`
}

// Pick is one FEFO allocation proposal.
type Pick struct {
	BatchNo    string    `json:"batch_no"`
	ExpiryDate time.Time `json:"expiry_date"`
	Qty        int64     `json:"qty"`
}

var (
	// ErrBatchNotFound indicates no batch exists for distributor, product and batch number.
	ErrBatchNotFound = fmt.Errorf("%w: inventory batch not found", shared.ErrIntegrity)
	// ErrInsufficientStock indicates a conditional decrement found less stock than requested.
	ErrInsufficientStock = fmt.Errorf("%w: insufficient stock", shared.ErrIntegrity)
	// ErrNegativeStock triggered when an adjustment would result in negative qty.
	ErrNegativeStock = fmt.Errorf("%w: negative stock not allowed", shared.ErrIntegrity)
	// ErrExpiryMismatch indicates a batch key already exists with another expiry date.
	ErrExpiryMismatch = fmt.Errorf("%w: batch expiry mismatch", shared.ErrIntegrity)
	// ErrAggregateMissing indicates the per product aggregate row is absent.
	ErrAggregateMissing = fmt.Errorf("%w: inventory aggregate missing", shared.ErrIntegrity)
	// ErrInvalidQuantity indicates invalid qty.
	ErrInvalidQuantity = fmt.Errorf("%w: inventory: quantity must be positive", shared.ErrValidation)
)

// BatchError names the product and batch an integrity failure refers to.
func BatchError(base error, productName, batchNo string) error {
	return fmt.Errorf("%w: product %q batch %q", base, productName, batchNo)
}
