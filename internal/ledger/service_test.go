package ledger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/distrochain/distrochain/internal/shared"
)

type memoryRepo struct {
	mu        sync.Mutex
	entries   []Entry
	nextID    int64
	refreshed []string
	failWith  error
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := slices.Clone(r.entries)
	refreshed := slices.Clone(r.refreshed)
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.entries = entries
		r.refreshed = refreshed
		return err
	}
	return nil
}

func (r *memoryRepo) ListEntries(_ context.Context, retailerID int64, until time.Time) ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, e := range r.entries {
		if e.RetailerID == retailerID && (until.IsZero() || e.Date.Before(until)) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b Entry) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return int(a.ID - b.ID)
	})
	return out, nil
}

func (r *memoryRepo) Totals(_ context.Context, retailerID int64, from, to time.Time) (Totals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := Totals{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, e := range r.entries {
		if e.RetailerID != retailerID {
			continue
		}
		if !from.IsZero() && e.Date.Before(from) {
			continue
		}
		if !to.IsZero() && !e.Date.Before(to) {
			continue
		}
		if e.Type == EntryDebit {
			t.Debit = t.Debit.Add(e.Amount)
		} else {
			t.Credit = t.Credit.Add(e.Amount)
		}
	}
	return t, nil
}

func (tx *memoryTx) InsertEntry(_ context.Context, e Entry) (int64, error) {
	if tx.repo.failWith != nil {
		return 0, tx.repo.failWith
	}
	tx.repo.nextID++
	e.ID = tx.repo.nextID
	tx.repo.entries = append(tx.repo.entries, e)
	return e.ID, nil
}

func (tx *memoryTx) RefreshInvoicePaid(_ context.Context, invoiceNo string) error {
	tx.repo.refreshed = append(tx.repo.refreshed, invoiceNo)
	return nil
}

var (
	retailers   = shared.StaticRetailers{100: 1, 200: 2}
	distributor = shared.Caller{UserID: 5, Role: shared.RoleDistributor, DistributorID: 1}
	officer     = shared.Caller{UserID: 6, Role: shared.RoleFieldOfficer, DistributorID: 1}
)

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func at(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func newTestService(repo *memoryRepo, now time.Time) *Service {
	svc := NewService(repo, retailers, nil, nil, nil)
	svc.now = func() time.Time { return now }
	return svc
}

func TestRunningBalanceOrdersByDateThenInsertion(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, at("2024-05-31"))

	_, err := svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: EntryDebit, Amount: amt("1000"), Date: at("2024-05-02"), Reference: "INV-2"})
	require.NoError(t, err)
	_, err = svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: EntryDebit, Amount: amt("500"), Date: at("2024-05-01"), Reference: "INV-1"})
	require.NoError(t, err)
	_, err = svc.AppendEntry(ctx, officer, AppendInput{RetailerID: 100, Type: EntryCredit, Amount: amt("300"), Date: at("2024-05-02"), Reference: "INV-1"})
	require.NoError(t, err)

	lines, err := svc.Entries(ctx, distributor, 100, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	require.Equal(t, "INV-1", lines[0].Reference)
	require.True(t, lines[0].RunningBalance.Equal(amt("500")))
	require.True(t, lines[1].RunningBalance.Equal(amt("1500")))
	require.Equal(t, EntryCredit, lines[2].Type)
	require.True(t, lines[2].RunningBalance.Equal(amt("1200")))

	windowed, err := svc.Entries(ctx, distributor, 100, EntryFilter{From: at("2024-05-02")})
	require.NoError(t, err)
	require.Len(t, windowed, 2)
	require.True(t, windowed[0].RunningBalance.Equal(amt("1500")), "opening balance includes earlier entries")

	require.Equal(t, []string{"INV-1"}, repo.refreshed)
}

func TestSummaryIdentityAndClamp(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, at("2024-05-31"))

	_, err := svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: EntryDebit, Amount: amt("1000")})
	require.NoError(t, err)
	_, err = svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: EntryCredit, Amount: amt("400")})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, distributor, 100)
	require.NoError(t, err)
	require.True(t, summary.Billed.Equal(amt("1000")))
	require.True(t, summary.Collected.Equal(amt("400")))
	require.True(t, summary.Pending.Equal(amt("600")))

	balance, err := svc.Balance(ctx, distributor, 100)
	require.NoError(t, err)
	require.True(t, balance.Debit.Sub(balance.Credit).Equal(summary.Billed.Sub(summary.Collected)))

	_, err = svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: EntryCredit, Amount: amt("900")})
	require.NoError(t, err)
	summary, err = svc.Summary(ctx, distributor, 100)
	require.NoError(t, err)
	require.True(t, summary.Pending.IsZero(), "overpayment clamps pending at zero")
	require.True(t, summary.Collected.Equal(amt("1300")))
}

func TestAppendEntryRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	svc := newTestService(repo, at("2024-05-31"))

	_, err := svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: "REFUND", Amount: amt("1")})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 100, Type: EntryDebit, Amount: amt("0")})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 200, Type: EntryCredit, Amount: amt("10")})
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.AppendEntry(ctx, officer, AppendInput{RetailerID: 100, Type: EntryDebit, Amount: amt("10")})
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.AppendEntry(ctx, distributor, AppendInput{RetailerID: 999, Type: EntryCredit, Amount: amt("10")})
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, repo.entries)
}

func TestAppendEntryRollsBackOnFailure(t *testing.T) {
	repo := newMemoryRepo()
	repo.failWith = errors.New("disk full")
	svc := newTestService(repo, at("2024-05-31"))
	_, err := svc.AppendEntry(context.Background(), distributor, AppendInput{RetailerID: 100, Type: EntryCredit, Amount: amt("10"), Reference: "INV-1"})
	require.Error(t, err)
	require.Empty(t, repo.entries)
	require.Empty(t, repo.refreshed)
}

type failingAudit struct{}

func (failingAudit) Record(context.Context, shared.AuditLog) error {
	return errors.New("audit store down")
}

func TestAppendEntryLogsAuditFailure(t *testing.T) {
	repo := newMemoryRepo()
	var buf bytes.Buffer
	svc := NewService(repo, retailers, nil, failingAudit{}, slog.New(slog.NewTextHandler(&buf, nil)))

	id, err := svc.AppendEntry(context.Background(), distributor, AppendInput{RetailerID: 100, Type: EntryDebit, Amount: amt("10")})
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Len(t, repo.entries, 1)
	require.Contains(t, buf.String(), "audit log")
	require.Contains(t, buf.String(), "audit store down")
}

func TestWindows(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	// Thursday.
	svc := newTestService(repo, time.Date(2024, 5, 16, 15, 0, 0, 0, time.UTC))

	for _, e := range []AppendInput{
		{RetailerID: 100, Type: EntryDebit, Amount: amt("100"), Date: at("2024-04-30")},
		{RetailerID: 100, Type: EntryDebit, Amount: amt("200"), Date: at("2024-05-03")},
		{RetailerID: 100, Type: EntryDebit, Amount: amt("300"), Date: at("2024-05-13")},
		{RetailerID: 100, Type: EntryCredit, Amount: amt("50"), Date: time.Date(2024, 5, 16, 9, 0, 0, 0, time.UTC)},
	} {
		_, err := svc.AppendEntry(ctx, distributor, e)
		require.NoError(t, err)
	}

	windows, err := svc.Windows(ctx, distributor, 100)
	require.NoError(t, err)
	require.True(t, windows.Today.Debit.IsZero())
	require.True(t, windows.Today.Credit.Equal(amt("50")))
	require.True(t, windows.Week.Debit.Equal(amt("300")))
	require.True(t, windows.Month.Debit.Equal(amt("500")))
	require.True(t, windows.Month.Credit.Equal(amt("50")))
}

func TestWindowBoundsStartOnMonday(t *testing.T) {
	today, week, month := WindowBounds(time.Date(2024, 5, 19, 23, 0, 0, 0, time.UTC))
	require.Equal(t, at("2024-05-19"), today)
	require.Equal(t, at("2024-05-13"), week)
	require.Equal(t, at("2024-05-01"), month)
}

func TestAgeEntriesAppliesCreditsOldestFirst(t *testing.T) {
	entries := []Entry{
		{ID: 1, Type: EntryDebit, Amount: amt("100"), Date: at("2024-01-01")},
		{ID: 2, Type: EntryDebit, Amount: amt("200"), Date: at("2024-03-01")},
		{ID: 3, Type: EntryCredit, Amount: amt("150"), Date: at("2024-03-05")},
		{ID: 4, Type: EntryDebit, Amount: amt("50"), Date: at("2024-04-20")},
	}
	aging := AgeEntries(entries, at("2024-05-01"))
	require.True(t, aging.Over90.IsZero())
	require.True(t, aging.Days61To90.Equal(amt("150")), "remaining half of the March debit")
	require.True(t, aging.Current.Equal(amt("50")))
	require.True(t, aging.Total.Equal(amt("200")))
	require.True(t, aging.Advance.IsZero())

	advance := AgeEntries([]Entry{
		{ID: 1, Type: EntryDebit, Amount: amt("10"), Date: at("2024-01-01")},
		{ID: 2, Type: EntryCredit, Amount: amt("25"), Date: at("2024-01-02")},
	}, at("2024-05-01"))
	require.True(t, advance.Total.IsZero())
	require.True(t, advance.Advance.Equal(amt("15")))
}
