package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statement computes running balances for entries ordered by (date, id) and keeps
// those on or after from. Entries before from still contribute to the opening balance.
func Statement(entries []Entry, from time.Time) []StatementLine {
	lines := make([]StatementLine, 0, len(entries))
	balance := decimal.Zero
	for _, e := range entries {
		balance = balance.Add(e.signed())
		if !from.IsZero() && e.Date.Before(from) {
			continue
		}
		lines = append(lines, StatementLine{Entry: e, RunningBalance: balance})
	}
	return lines
}

// Summarize derives billed, collected and pending from ledger totals.
func Summarize(retailerID int64, t Totals) Summary {
	pending := t.Debit.Sub(t.Credit)
	if pending.IsNegative() {
		pending = decimal.Zero
	}
	return Summary{RetailerID: retailerID, Billed: t.Debit, Collected: t.Credit, Pending: pending}
}

// WindowBounds returns the start of today, of the ISO week (Monday) and of the month.
func WindowBounds(now time.Time) (today, week, month time.Time) {
	y, m, d := now.Date()
	today = time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	offset := (int(today.Weekday()) + 6) % 7
	week = today.AddDate(0, 0, -offset)
	month = time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
	return today, week, month
}

type openDebit struct {
	date      time.Time
	remaining decimal.Decimal
}

// AgeEntries applies every credit to the oldest open debits and buckets what is left
// by days outstanding at asOf.
func AgeEntries(entries []Entry, asOf time.Time) Aging {
	var debits []openDebit
	credit := decimal.Zero
	for _, e := range entries {
		if e.Date.After(asOf) {
			continue
		}
		switch e.Type {
		case EntryDebit:
			debits = append(debits, openDebit{date: e.Date, remaining: e.Amount})
		case EntryCredit:
			credit = credit.Add(e.Amount)
		}
	}
	for i := range debits {
		if credit.IsZero() {
			break
		}
		applied := decimal.Min(credit, debits[i].remaining)
		debits[i].remaining = debits[i].remaining.Sub(applied)
		credit = credit.Sub(applied)
	}

	aging := Aging{
		AsOf:       asOf,
		Current:    decimal.Zero,
		Days31To60: decimal.Zero,
		Days61To90: decimal.Zero,
		Over90:     decimal.Zero,
		Total:      decimal.Zero,
		Advance:    credit,
	}
	for _, d := range debits {
		if !d.remaining.IsPositive() {
			continue
		}
		days := int(asOf.Sub(d.date).Hours() / 24)
		switch {
		case days <= 30:
			aging.Current = aging.Current.Add(d.remaining)
		case days <= 60:
			aging.Days31To60 = aging.Days31To60.Add(d.remaining)
		case days <= 90:
			aging.Days61To90 = aging.Days61To90.Add(d.remaining)
		default:
			aging.Over90 = aging.Over90.Add(d.remaining)
		}
		aging.Total = aging.Total.Add(d.remaining)
	}
	return aging
}
