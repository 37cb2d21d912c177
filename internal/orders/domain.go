package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/shared"
)

// Status enumerates order lifecycle states.
type Status string

const (
	StatusSubmitted  Status = "SUBMITTED"
	StatusDispatched Status = "DISPATCHED"
	StatusDelivered  Status = "DELIVERED"
	StatusRejected   Status = "REJECTED"
	StatusCancelled  Status = "CANCELLED"
)

// Order is a retailer order captured in the field.
type Order struct {
	ID             int64           `db:"id" json:"id"`
	OrderNo        string          `db:"order_no" json:"order_no"`
	RetailerID     int64           `db:"retailer_id" json:"retailer_id"`
	DistributorID  int64           `db:"distributor_id" json:"distributor_id"`
	Status         Status          `db:"status" json:"status"`
	TotalAmount    decimal.Decimal `db:"total_amount" json:"total_amount"`
	IdempotencyKey string          `db:"idempotency_key" json:"idempotency_key"`
	RequestHash    string          `db:"request_hash" json:"request_hash"`
	DeviceID       string          `db:"device_id" json:"device_id,omitempty"`
	CreatedBy      int64           `db:"created_by" json:"created_by"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	Lines          []Line          `db:"-" json:"lines,omitempty"`
}

// Line is one product on an order.
type Line struct {
	ID          int64           `db:"id" json:"id"`
	OrderID     int64           `db:"order_id" json:"order_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Qty         int64           `db:"qty" json:"qty"`
	Rate        decimal.Decimal `db:"rate" json:"rate"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
}

// LineInput is a requested order line.
type LineInput struct {
	ProductName string
	Qty         int64
	Rate        decimal.Decimal
}

// SubmitInput carries a field order submission.
type SubmitInput struct {
	RetailerID     int64
	DistributorID  int64
	Lines          []LineInput
	IdempotencyKey string
	DeviceID       string
}

// SubmitResult reports the stored order. Deduped is true when the key was seen before.
type SubmitResult struct {
	OrderID int64  `json:"order_id"`
	OrderNo string `json:"order_no"`
	Deduped bool   `json:"deduped"`
}

// LineQtyChange sets a line quantity; Qty <= 0 removes the line.
type LineQtyChange struct {
	LineID int64
	Qty    int64
}

var (
	// ErrOrderNotFound indicates the order does not exist.
	ErrOrderNotFound = fmt.Errorf("%w: order", shared.ErrNotFound)
	// ErrNoLines indicates a submission without lines.
	ErrNoLines = fmt.Errorf("%w: order requires at least one line", shared.ErrValidation)
	// ErrIdempotencyKey indicates a blank idempotency key.
	ErrIdempotencyKey = fmt.Errorf("%w: idempotency key required", shared.ErrValidation)
	// ErrAllLinesRemoved indicates an edit that would leave the order empty.
	ErrAllLinesRemoved = fmt.Errorf("%w: edit removes every line, delete the order instead", shared.ErrValidation)
)

func lockedError(orderID int64, status Status, invoiced bool) error {
	if invoiced {
		return fmt.Errorf("%w: order %d is %s and already invoiced", shared.ErrLocked, orderID, status)
	}
	return fmt.Errorf("%w: order %d is %s", shared.ErrLocked, orderID, status)
}

func lineAmount(qty int64, rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(decimal.NewFromInt(qty)).Round(2)
}
