package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/shared"
)

// EntryType distinguishes billing from collection.
type EntryType string

const (
	// EntryDebit records an amount billed to the retailer.
	EntryDebit EntryType = "DEBIT"
	// EntryCredit records an amount collected from the retailer.
	EntryCredit EntryType = "CREDIT"
)

// Valid reports whether t is DEBIT or CREDIT.
func (t EntryType) Valid() bool {
	return t == EntryDebit || t == EntryCredit
}

// Entry is an append-only ledger row.
type Entry struct {
	ID         int64           `db:"id" json:"id"`
	RetailerID int64           `db:"retailer_id" json:"retailer_id"`
	Type       EntryType       `db:"entry_type" json:"type"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	Date       time.Time       `db:"entry_date" json:"date"`
	Reference  string          `db:"reference" json:"reference"`
	Narration  string          `db:"narration" json:"narration"`
	CreatedBy  int64           `db:"created_by" json:"created_by"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
}

// signed returns the entry's effect on the retailer balance.
func (e Entry) signed() decimal.Decimal {
	if e.Type == EntryCredit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// StatementLine pairs an entry with the balance after it.
type StatementLine struct {
	Entry
	RunningBalance decimal.Decimal `json:"running_balance"`
}

// AppendInput describes a ledger entry to append.
type AppendInput struct {
	RetailerID int64
	Type       EntryType
	Amount     decimal.Decimal
	Date       time.Time
	Reference  string
	Narration  string
}

// EntryFilter bounds a statement. Zero times are open ends; To is exclusive.
type EntryFilter struct {
	From time.Time
	To   time.Time
}

// Totals sums both sides of the ledger.
type Totals struct {
	Debit  decimal.Decimal `db:"debit" json:"debit"`
	Credit decimal.Decimal `db:"credit" json:"credit"`
}

// Summary is the retailer's billed, collected and pending amounts.
type Summary struct {
	RetailerID int64           `json:"retailer_id"`
	Billed     decimal.Decimal `json:"billed"`
	Collected  decimal.Decimal `json:"collected"`
	Pending    decimal.Decimal `json:"pending"`
}

// Windows holds today, week-to-date and month-to-date totals.
type Windows struct {
	Today Totals `json:"today"`
	Week  Totals `json:"week"`
	Month Totals `json:"month"`
}

// Aging buckets outstanding debits by age after applying credits oldest first.
type Aging struct {
	AsOf       time.Time       `json:"as_of"`
	Current    decimal.Decimal `json:"current"`
	Days31To60 decimal.Decimal `json:"days_31_60"`
	Days61To90 decimal.Decimal `json:"days_61_90"`
	Over90     decimal.Decimal `json:"over_90"`
	Total      decimal.Decimal `json:"total"`
	Advance    decimal.Decimal `json:"advance"`
}

var (
	// ErrInvalidEntryType indicates a type other than DEBIT or CREDIT.
	ErrInvalidEntryType = fmt.Errorf("%w: ledger: entry type must be DEBIT or CREDIT", shared.ErrValidation)
	// ErrInvalidAmount indicates a non-positive amount.
	ErrInvalidAmount = fmt.Errorf("%w: ledger: amount must be positive", shared.ErrValidation)
)
