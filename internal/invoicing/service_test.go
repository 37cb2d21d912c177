package invoicing_test

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/inventory/inventorytest"
	"github.com/distrochain/distrochain/internal/invoicing"
	"github.com/distrochain/distrochain/internal/ledger"
	"github.com/distrochain/distrochain/internal/orders"
	"github.com/distrochain/distrochain/internal/orders/orderstest"
	"github.com/distrochain/distrochain/internal/shared"
)

type (
	orderTx = orders.TxRepository
	stockTx = inventory.TxStore
)

// memoryRepo composes the order and inventory fakes with in-memory invoices and
// ledger entries, rolling all of them back together.
type memoryRepo struct {
	txMu     sync.Mutex
	orders   *orderstest.Store
	stock    *inventorytest.Store
	mu       sync.Mutex
	invoices map[int64]invoicing.Invoice
	entries  []ledger.Entry
	seq      int64
}

type memoryTx struct {
	orderTx
	stockTx
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:   orderstest.NewStore(),
		stock:    inventorytest.NewStore(),
		invoices: make(map[int64]invoicing.Invoice),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, invoicing.TxRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	restoreOrders := r.orders.Checkpoint()
	restoreStock := r.stock.Checkpoint()
	r.mu.Lock()
	invoices, entries, seq := maps.Clone(r.invoices), slices.Clone(r.entries), r.seq
	r.mu.Unlock()
	err := fn(ctx, &memoryTx{orderTx: r.orders, stockTx: r.stock, repo: r})
	if err != nil {
		restoreOrders()
		restoreStock()
		r.mu.Lock()
		r.invoices, r.entries, r.seq = invoices, entries, seq
		r.mu.Unlock()
	}
	return err
}

func (r *memoryRepo) Get(_ context.Context, id int64) (invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[id]
	if !ok {
		return invoicing.Invoice{}, invoicing.ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *memoryRepo) GetByOrder(_ context.Context, orderID int64) (invoicing.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.OrderID == orderID {
			return inv, nil
		}
	}
	return invoicing.Invoice{}, invoicing.ErrInvoiceNotFound
}

func (r *memoryRepo) ledgerEntries() []ledger.Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.entries)
}

func (r *memoryRepo) invoiceCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.invoices)
}

func (t *memoryTx) InvoiceForOrder(ctx context.Context, orderID int64) (invoicing.Invoice, error) {
	return t.repo.GetByOrder(ctx, orderID)
}

func (t *memoryTx) NextInvoiceNo(context.Context) (string, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.seq++
	return "INV-" + strconv.FormatInt(t.repo.seq, 10), nil
}

func (t *memoryTx) InsertInvoice(_ context.Context, inv invoicing.Invoice) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, existing := range t.repo.invoices {
		if existing.OrderID == inv.OrderID {
			return 0, &pgconn.PgError{Code: "23505"}
		}
	}
	inv.ID = int64(len(t.repo.invoices) + 1)
	inv.Lines = nil
	t.repo.invoices[inv.ID] = inv
	t.repo.orders.SetInvoiced(inv.OrderID)
	return inv.ID, nil
}

func (t *memoryTx) InsertInvoiceLine(_ context.Context, l invoicing.Line) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	inv := t.repo.invoices[l.InvoiceID]
	inv.Lines = append(slices.Clip(inv.Lines), l)
	t.repo.invoices[l.InvoiceID] = inv
	return nil
}

func (t *memoryTx) InsertEntry(_ context.Context, e ledger.Entry) (int64, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	e.ID = int64(len(t.repo.entries) + 1)
	t.repo.entries = append(t.repo.entries, e)
	return e.ID, nil
}

func (t *memoryTx) RefreshInvoicePaid(context.Context, string) error {
	return nil
}

type invalidations struct {
	mu  sync.Mutex
	ids []int64
}

func (i *invalidations) Invalidate(_ context.Context, retailerID int64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.ids = append(i.ids, retailerID)
}

var (
	retailers   = shared.StaticRetailers{100: 1}
	officer     = shared.Caller{UserID: 7, Role: shared.RoleFieldOfficer, DistributorID: 1}
	distributor = shared.Caller{UserID: 3, Role: shared.RoleDistributor, DistributorID: 1}
	expiry      = time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC)
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type fixture struct {
	repo    *memoryRepo
	svc     *invoicing.Service
	ledger  *invalidations
	orderID int64
}

// newFixture stores the order [{Soap,10,50},{Cream,5,100}] and the given batch stock.
func newFixture(t *testing.T, soapQty, creamQty int64) fixture {
	t.Helper()
	repo := newMemoryRepo()
	res, err := orders.NewService(repo.orders, retailers, nil, nil).SubmitOrder(context.Background(), officer, orders.SubmitInput{
		RetailerID:     100,
		DistributorID:  1,
		IdempotencyKey: "order-1",
		Lines: []orders.LineInput{
			{ProductName: "Soap", Qty: 10, Rate: dec("50")},
			{ProductName: "Cream", Qty: 5, Rate: dec("100")},
		},
	})
	require.NoError(t, err)
	repo.stock.SeedBatch(1, "Soap", "batchA", expiry, soapQty)
	repo.stock.SeedBatch(1, "Cream", "batchB", expiry, creamQty)
	inv := &invalidations{}
	return fixture{
		repo:    repo,
		svc:     invoicing.NewService(repo, inv, nil, nil),
		ledger:  inv,
		orderID: res.OrderID,
	}
}

func allocations() []invoicing.Allocation {
	return []invoicing.Allocation{
		{ProductName: "Soap", BatchNo: "batchA", Rate: dec("50")},
		{ProductName: "Cream", BatchNo: "batchB", Rate: dec("100")},
	}
}

func TestGenerateInvoiceSoapCreamScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20, 8)

	order, err := f.repo.orders.Get(ctx, f.orderID)
	require.NoError(t, err)
	require.True(t, order.TotalAmount.Equal(dec("1000")))

	res, err := f.svc.GenerateInvoice(ctx, distributor, f.orderID, allocations())
	require.NoError(t, err)
	require.False(t, res.Already)
	require.True(t, res.TotalAmount.Equal(dec("1000")))

	require.Equal(t, int64(10), f.repo.stock.BatchQty(1, "Soap", "batchA"))
	require.Equal(t, int64(3), f.repo.stock.BatchQty(1, "Cream", "batchB"))
	require.Equal(t, int64(10), f.repo.stock.AggregateQty(1, "Soap"))
	require.Equal(t, int64(3), f.repo.stock.AggregateQty(1, "Cream"))

	entries := f.repo.ledgerEntries()
	require.Len(t, entries, 1)
	require.Equal(t, ledger.EntryDebit, entries[0].Type)
	require.True(t, entries[0].Amount.Equal(dec("1000")))
	require.Equal(t, res.InvoiceNo, entries[0].Reference)
	require.Equal(t, int64(100), entries[0].RetailerID)

	order, err = f.repo.orders.Get(ctx, f.orderID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusDispatched, order.Status)

	inv, err := f.svc.GetInvoice(ctx, distributor, res.InvoiceID)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 2)
	require.Equal(t, "Cream", inv.Lines[0].ProductName)
	require.Equal(t, "batchB", inv.Lines[0].BatchNo)
	require.Equal(t, expiry, inv.Lines[0].ExpiryDate)

	movements := f.repo.stock.Movements()
	require.Len(t, movements, 2)
	for _, m := range movements {
		require.Equal(t, inventory.MovementOut, m.Type)
		require.Equal(t, "invoice", m.RefModule)
		require.Equal(t, res.InvoiceNo, m.RefID)
	}
	require.Equal(t, []int64{100}, f.ledger.ids)
}

func TestGenerateInvoiceInsufficientStockRollsBack(t *testing.T) {
	cases := map[string]struct {
		soap, cream int64
	}{
		"cream short": {soap: 20, cream: 3},
		"soap short":  {soap: 9, cream: 8},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, tc.soap, tc.cream)

			_, err := f.svc.GenerateInvoice(ctx, distributor, f.orderID, allocations())
			require.ErrorIs(t, err, shared.ErrIntegrity)
			require.ErrorIs(t, err, inventory.ErrInsufficientStock)

			require.Zero(t, f.repo.invoiceCount())
			require.Empty(t, f.repo.ledgerEntries())
			require.Empty(t, f.repo.stock.Movements())
			require.Equal(t, tc.soap, f.repo.stock.BatchQty(1, "Soap", "batchA"))
			require.Equal(t, tc.cream, f.repo.stock.BatchQty(1, "Cream", "batchB"))
			require.Equal(t, tc.soap, f.repo.stock.AggregateQty(1, "Soap"))
			require.Equal(t, tc.cream, f.repo.stock.AggregateQty(1, "Cream"))
			order, err := f.repo.orders.Get(ctx, f.orderID)
			require.NoError(t, err)
			require.Equal(t, orders.StatusSubmitted, order.Status)
			require.Empty(t, f.ledger.ids)
		})
	}
}

func TestGenerateInvoiceOnlyOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20, 8)

	first, err := f.svc.GenerateInvoice(ctx, distributor, f.orderID, allocations())
	require.NoError(t, err)
	second, err := f.svc.GenerateInvoice(ctx, distributor, f.orderID, allocations())
	require.NoError(t, err)
	require.True(t, second.Already)
	require.Equal(t, first.InvoiceID, second.InvoiceID)
	require.Equal(t, first.InvoiceNo, second.InvoiceNo)

	require.Equal(t, 1, f.repo.invoiceCount())
	require.Len(t, f.repo.ledgerEntries(), 1)
	require.Equal(t, int64(10), f.repo.stock.BatchQty(1, "Soap", "batchA"))
}

func TestGenerateInvoiceConcurrentCallsBillOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 100, 100)

	const workers = 8
	results := make([]invoicing.Result, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = f.svc.GenerateInvoice(ctx, distributor, f.orderID, allocations())
		}()
	}
	wg.Wait()

	fresh := 0
	for i := range workers {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].InvoiceID, results[i].InvoiceID)
		if !results[i].Already {
			fresh++
		}
	}
	require.Equal(t, 1, fresh)
	require.Equal(t, int64(90), f.repo.stock.BatchQty(1, "Soap", "batchA"))
	require.Equal(t, int64(95), f.repo.stock.BatchQty(1, "Cream", "batchB"))
	require.Len(t, f.repo.ledgerEntries(), 1)
}

func TestGenerateInvoiceNormalisesAllocations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20, 8)

	res, err := f.svc.GenerateInvoice(ctx, distributor, f.orderID, []invoicing.Allocation{
		{ProductName: "soap", BatchNo: "batchA", Rate: dec("40")},
		{ProductName: " CREAM ", BatchNo: "batchB", Rate: dec("100")},
		{ProductName: "SOAP", BatchNo: "batchA", Rate: dec("45")},
	})
	require.NoError(t, err)
	require.True(t, res.TotalAmount.Equal(dec("950")), "last soap rate wins: 10*45 + 5*100")
}

func TestGenerateInvoiceRejectsBadAllocations(t *testing.T) {
	cases := map[string]struct {
		allocs []invoicing.Allocation
		want   error
	}{
		"empty": {allocs: nil, want: shared.ErrValidation},
		"missing product": {allocs: []invoicing.Allocation{
			{ProductName: "Soap", BatchNo: "batchA", Rate: dec("50")},
		}, want: shared.ErrValidation},
		"product not on order": {allocs: append(allocations(), invoicing.Allocation{ProductName: "Shampoo", BatchNo: "S1", Rate: dec("9")}), want: shared.ErrValidation},
		"blank batch": {allocs: []invoicing.Allocation{
			{ProductName: "Soap", BatchNo: " ", Rate: dec("50")},
			{ProductName: "Cream", BatchNo: "batchB", Rate: dec("100")},
		}, want: shared.ErrValidation},
		"zero rate": {allocs: []invoicing.Allocation{
			{ProductName: "Soap", BatchNo: "batchA", Rate: dec("0")},
			{ProductName: "Cream", BatchNo: "batchB", Rate: dec("100")},
		}, want: shared.ErrValidation},
		"unknown batch": {allocs: []invoicing.Allocation{
			{ProductName: "Soap", BatchNo: "batchA", Rate: dec("50")},
			{ProductName: "Cream", BatchNo: "batchZ", Rate: dec("100")},
		}, want: inventory.ErrBatchNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 20, 8)
			_, err := f.svc.GenerateInvoice(context.Background(), distributor, f.orderID, tc.allocs)
			require.ErrorIs(t, err, tc.want)
			require.Zero(t, f.repo.invoiceCount())
			require.Equal(t, int64(20), f.repo.stock.BatchQty(1, "Soap", "batchA"))
		})
	}
}

func TestGenerateInvoiceGuards(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, 20, 8)
	_, err := f.svc.GenerateInvoice(ctx, officer, f.orderID, allocations())
	require.ErrorIs(t, err, shared.ErrForbidden)

	outsider := shared.Caller{UserID: 4, Role: shared.RoleDistributor, DistributorID: 2}
	_, err = f.svc.GenerateInvoice(ctx, outsider, f.orderID, allocations())
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = f.svc.GenerateInvoice(ctx, distributor, 999, allocations())
	require.ErrorIs(t, err, shared.ErrNotFound)

	f.repo.orders.SetStatus(f.orderID, orders.StatusCancelled)
	_, err = f.svc.GenerateInvoice(ctx, distributor, f.orderID, allocations())
	require.ErrorIs(t, err, shared.ErrLocked)
	require.Equal(t, int64(20), f.repo.stock.BatchQty(1, "Soap", "batchA"))
}

func TestGenerateInvoiceBySalesManager(t *testing.T) {
	f := newFixture(t, 20, 8)
	manager := shared.Caller{UserID: 11, Role: shared.RoleSalesManager}
	res, err := f.svc.GenerateInvoice(context.Background(), manager, f.orderID, allocations())
	require.NoError(t, err)
	require.False(t, res.Already)
	require.Equal(t, 1, f.repo.invoiceCount())

	warehouse := shared.Caller{UserID: 12, Role: shared.RoleWarehouse, DistributorID: 1}
	_, err = f.svc.GenerateInvoice(context.Background(), warehouse, f.orderID, allocations())
	require.ErrorIs(t, err, shared.ErrForbidden)
}

type staticCatalog map[string]int64

func (c staticCatalog) ProductIDs(context.Context, []string) map[string]int64 {
	return c
}

func TestGetInvoiceAddsCatalogIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 20, 8)
	res, err := f.svc.GenerateInvoice(ctx, distributor, f.orderID, allocations())
	require.NoError(t, err)

	f.svc.WithCatalog(staticCatalog{"soap": 41})
	inv, err := f.svc.GetInvoice(ctx, distributor, res.InvoiceID)
	require.NoError(t, err)
	require.Len(t, inv.Lines, 2)
	require.Zero(t, inv.Lines[0].ProductID)
	require.Equal(t, int64(41), inv.Lines[1].ProductID)
}
