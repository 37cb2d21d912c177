package invoicing

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/shared"
)

// Invoice bills a dispatched order against specific batches.
type Invoice struct {
	ID            int64           `db:"id" json:"id"`
	InvoiceNo     string          `db:"invoice_no" json:"invoice_no"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	RetailerID    int64           `db:"retailer_id" json:"retailer_id"`
	DistributorID int64           `db:"distributor_id" json:"distributor_id"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount    decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	CreatedBy     int64           `db:"created_by" json:"created_by"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	Lines         []Line          `db:"-" json:"lines,omitempty"`
}

// Line is one invoiced product drawn from one batch.
type Line struct {
	ID          int64           `db:"id" json:"id"`
	InvoiceID   int64           `db:"invoice_id" json:"invoice_id"`
	ProductName string          `db:"product_name" json:"product_name"`
	Qty         int64           `db:"qty" json:"qty"`
	Rate        decimal.Decimal `db:"rate" json:"rate"`
	Amount      decimal.Decimal `db:"amount" json:"amount"`
	BatchNo     string          `db:"batch_no" json:"batch_no"`
	ExpiryDate  time.Time       `db:"expiry_date" json:"expiry_date"`
	ProductID   int64           `db:"-" json:"product_id,omitempty"`
}

// Allocation picks the batch and rate for one ordered product.
type Allocation struct {
	ProductName string
	BatchNo     string
	Rate        decimal.Decimal
}

// Result reports the invoice for an order. Already is true when it existed before the call.
type Result struct {
	InvoiceID   int64           `json:"invoice_id"`
	InvoiceNo   string          `json:"invoice_no"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Already     bool            `json:"already"`
}

var (
	// ErrInvoiceNotFound indicates the invoice does not exist.
	ErrInvoiceNotFound = fmt.Errorf("%w: invoice", shared.ErrNotFound)
	// ErrNoAllocations indicates an empty allocation list.
	ErrNoAllocations = fmt.Errorf("%w: allocations required", shared.ErrValidation)
)

func resultOf(inv Invoice, already bool) Result {
	return Result{InvoiceID: inv.ID, InvoiceNo: inv.InvoiceNo, TotalAmount: inv.TotalAmount, Already: already}
}
