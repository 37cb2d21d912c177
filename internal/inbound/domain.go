package inbound

import (
	"fmt"
	"time"

	"github.com/distrochain/distrochain/internal/shared"
)

// Status enumerates inbound order states.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPacked  Status = "PACKED"
)

// PaymentStatus enumerates inbound payment states.
type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "PENDING"
	PaymentVerified PaymentStatus = "VERIFIED"
)

// StockLot is central warehouse stock awaiting allocation to distributors.
type StockLot struct {
	ID           int64      `db:"id" json:"id"`
	ProductName  string     `db:"product_name" json:"product_name"`
	BatchNo      string     `db:"batch_no" json:"batch_no"`
	MfgDate      *time.Time `db:"mfg_date" json:"mfg_date,omitempty"`
	ExpDate      *time.Time `db:"exp_date" json:"exp_date,omitempty"`
	QtyOnHandPcs int64      `db:"qty_on_hand_pcs" json:"qty_on_hand_pcs"`
	CreatedBy    int64      `db:"created_by" json:"created_by"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
}

// InboundOrder is a distributor's purchase from the central warehouse.
type InboundOrder struct {
	ID            int64
	DistributorID int64
	Status        Status
	PaymentStatus PaymentStatus
	Lines         []Line
}

// Line is one ordered product.
type Line struct {
	ProductName string
	Qty         int64
}

// Allocation draws qty of a product from a stock lot.
type Allocation struct {
	ProductName string
	StockLotID  int64
	Qty         int64
}

// CreateLotInput records new warehouse stock.
type CreateLotInput struct {
	ProductName string
	BatchNo     string
	MfgDate     *time.Time
	ExpDate     *time.Time
	Qty         int64
}

var (
	// ErrInboundNotFound indicates the inbound order does not exist.
	ErrInboundNotFound = fmt.Errorf("%w: inbound order", shared.ErrNotFound)
	// ErrLotNotFound indicates an allocation references a missing lot.
	ErrLotNotFound = fmt.Errorf("%w: stock lot not found", shared.ErrIntegrity)
	// ErrLotShort indicates a lot holds less than the allocated quantity.
	ErrLotShort = fmt.Errorf("%w: stock lot short", shared.ErrIntegrity)
	// ErrLotMismatch indicates a lot holds another product or lacks batch data.
	ErrLotMismatch = fmt.Errorf("%w: stock lot unusable", shared.ErrIntegrity)
	// ErrAllocationTotal indicates allocated and ordered quantities differ.
	ErrAllocationTotal = fmt.Errorf("%w: allocation total differs from ordered quantity", shared.ErrIntegrity)
)
