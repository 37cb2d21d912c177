package inventory_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/inventory/inventorytest"
	"github.com/distrochain/distrochain/internal/shared"
)

var distributor = shared.Caller{UserID: 10, Role: shared.RoleDistributor, DistributorID: 1}

func day(s string) time.Time {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPlanFEFOSkipsExpiredAndOrdersByExpiry(t *testing.T) {
	now := day("2024-06-01")
	batches := []inventory.Batch{
		{BatchNo: "late", ExpiryDate: day("2025-01-01"), Qty: 50},
		{BatchNo: "gone", ExpiryDate: day("2024-05-01"), Qty: 100},
		{BatchNo: "soon", ExpiryDate: day("2024-07-01"), Qty: 5},
	}
	picks, err := inventory.PlanFEFO(batches, 12, now)
	require.NoError(t, err)
	require.Equal(t, []inventory.Pick{
		{BatchNo: "soon", ExpiryDate: day("2024-07-01"), Qty: 5},
		{BatchNo: "late", ExpiryDate: day("2025-01-01"), Qty: 7},
	}, picks)

	picks, err = inventory.PlanFEFO(batches, 60, now)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.ErrorIs(t, err, shared.ErrIntegrity)
	require.Len(t, picks, 2)
}

func TestIssueKeepsAggregateInStepWithBatches(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewStore()
	store.SeedBatch(1, "Soap", "B1", day("2026-01-01"), 100)

	batch, err := store.GetBatchForUpdate(ctx, 1, "SOAP", "B1")
	require.NoError(t, err)
	updated, err := inventory.Issue(ctx, store, batch, 30, inventory.Ref{Module: "invoice", ID: "INV-1"})
	require.NoError(t, err)
	require.Equal(t, int64(70), updated.Qty)
	require.Equal(t, int64(70), store.AggregateQty(1, "soap"))
	require.Equal(t, store.BatchSum(1, "soap"), store.AggregateQty(1, "soap"))

	moves := store.Movements()
	require.Len(t, moves, 1)
	require.Equal(t, inventory.MovementOut, moves[0].Type)
	require.Equal(t, int64(-30), moves[0].Qty)
	require.Equal(t, int64(70), moves[0].BalanceQty)

	_, err = inventory.Issue(ctx, store, updated, 71, inventory.Ref{})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	require.Contains(t, err.Error(), `batch "B1"`)
}

func TestReceiveRejectsExpiryMismatch(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewStore()
	_, err := inventory.Receive(ctx, store, inventory.BatchCredit{DistributorID: 1, ProductName: "Cream", BatchNo: "C1", ExpiryDate: day("2026-03-01"), Qty: 10}, inventory.Ref{})
	require.NoError(t, err)
	_, err = inventory.Receive(ctx, store, inventory.BatchCredit{DistributorID: 1, ProductName: "cream", BatchNo: "C1", ExpiryDate: day("2026-03-01"), Qty: 5}, inventory.Ref{})
	require.NoError(t, err)
	require.Equal(t, int64(15), store.BatchQty(1, "Cream", "C1"))

	_, err = inventory.Receive(ctx, store, inventory.BatchCredit{DistributorID: 1, ProductName: "Cream", BatchNo: "C1", ExpiryDate: day("2026-04-01"), Qty: 5}, inventory.Ref{})
	require.ErrorIs(t, err, inventory.ErrExpiryMismatch)
}

func TestAdjustRefusesNegative(t *testing.T) {
	ctx := context.Background()
	store := inventorytest.NewStore()
	batch := store.SeedBatch(1, "Soap", "B1", day("2026-01-01"), 4)
	_, err := inventory.Adjust(ctx, store, batch, -5, inventory.Ref{})
	require.ErrorIs(t, err, inventory.ErrNegativeStock)
	updated, err := inventory.Adjust(ctx, store, batch, -4, inventory.Ref{})
	require.NoError(t, err)
	require.Zero(t, updated.Qty)
	require.Zero(t, store.AggregateQty(1, "Soap"))
}

func TestCheckConsistencyReportsDrift(t *testing.T) {
	store := inventorytest.NewStore()
	store.SeedBatch(1, "Soap", "B1", day("2026-01-01"), 10)
	store.SeedBatch(2, "Cream", "C1", day("2026-01-01"), 8)
	store.SetAggregate(2, "Cream", 9)

	svc := inventory.NewService(store, nil)
	drifts, err := svc.CheckConsistency(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []inventory.Drift{{DistributorID: 2, ProductKey: "cream", AggregateQty: 9, BatchQty: 8}}, drifts)

	drifts, err = svc.CheckConsistency(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, drifts)
}

func TestCheckConsistencyLogsDriftForOneDistributor(t *testing.T) {
	store := inventorytest.NewStore()
	store.SeedBatch(2, "Cream", "C1", day("2026-01-01"), 8)
	store.SetAggregate(2, "Cream", 9)

	var buf bytes.Buffer
	svc := inventory.NewService(store, slog.New(slog.NewTextHandler(&buf, nil)))
	drifts, err := svc.CheckConsistency(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	require.Contains(t, buf.String(), "inventory drift")
	require.Contains(t, buf.String(), "distributor_id=2")
	require.Contains(t, buf.String(), "product_key=cream")
}

func TestListBatchesEnforcesScope(t *testing.T) {
	store := inventorytest.NewStore()
	store.SeedBatch(1, "Soap", "B2", day("2026-02-01"), 10)
	store.SeedBatch(1, "Soap", "B1", day("2026-01-01"), 10)
	svc := inventory.NewService(store, nil)

	batches, err := svc.ListBatches(context.Background(), distributor, inventory.BatchFilter{ProductName: "soap"})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	require.Equal(t, "B1", batches[0].BatchNo)

	_, err = svc.ListBatches(context.Background(), distributor, inventory.BatchFilter{DistributorID: 2})
	require.ErrorIs(t, err, shared.ErrForbidden)
}
