package orders_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/distrochain/distrochain/internal/orders"
	"github.com/distrochain/distrochain/internal/orders/orderstest"
	"github.com/distrochain/distrochain/internal/shared"
)

var (
	retailers = shared.StaticRetailers{100: 1, 200: 2}
	officer   = shared.Caller{UserID: 7, Role: shared.RoleFieldOfficer, DistributorID: 1}
	admin     = shared.Caller{UserID: 1, Role: shared.RoleAdmin}
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newService() (*orders.Service, *orderstest.Store) {
	store := orderstest.NewStore()
	return orders.NewService(store, retailers, nil, nil), store
}

func soapAndCream(key string) orders.SubmitInput {
	return orders.SubmitInput{
		RetailerID:     100,
		DistributorID:  1,
		IdempotencyKey: key,
		DeviceID:       "tablet-3",
		Lines: []orders.LineInput{
			{ProductName: " Soap ", Qty: 10, Rate: dec("12.50")},
			{ProductName: "Cream", Qty: 5, Rate: dec("40")},
		},
	}
}

func TestSubmitOrderStoresLinesAndTotal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()

	res, err := svc.SubmitOrder(ctx, officer, soapAndCream("k-1"))
	require.NoError(t, err)
	require.False(t, res.Deduped)
	require.Equal(t, "ORD-000001", res.OrderNo)

	order, err := svc.GetOrder(ctx, officer, res.OrderID)
	require.NoError(t, err)
	require.Equal(t, orders.StatusSubmitted, order.Status)
	require.True(t, order.TotalAmount.Equal(dec("325")))
	require.Len(t, order.Lines, 2)
	require.Equal(t, "Soap", order.Lines[0].ProductName)
	require.True(t, order.Lines[0].Amount.Equal(dec("125")))
	require.Equal(t, "tablet-3", order.DeviceID)
	require.NotEmpty(t, order.RequestHash)
}

func TestSubmitOrderIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	first, err := svc.SubmitOrder(ctx, officer, soapAndCream("k-1"))
	require.NoError(t, err)
	second, err := svc.SubmitOrder(ctx, officer, soapAndCream("k-1"))
	require.NoError(t, err)
	require.True(t, second.Deduped)
	require.Equal(t, first.OrderID, second.OrderID)
	require.Equal(t, first.OrderNo, second.OrderNo)

	changed := soapAndCream("k-1")
	changed.Lines[0].Qty = 99
	third, err := svc.SubmitOrder(ctx, officer, changed)
	require.NoError(t, err)
	require.True(t, third.Deduped, "the key decides, not the payload")
	require.Equal(t, first.OrderID, third.OrderID)
	require.Equal(t, 1, store.Count())
}

func TestSubmitOrderConcurrentSameKey(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	const workers = 12
	results := make([]orders.SubmitResult, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.SubmitOrder(ctx, officer, soapAndCream("shared-key"))
		}()
	}
	wg.Wait()

	fresh := 0
	for i := range workers {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].OrderID, results[i].OrderID)
		if !results[i].Deduped {
			fresh++
		}
	}
	require.Equal(t, 1, fresh)
	require.Equal(t, 1, store.Count())
}

func TestSubmitOrderValidation(t *testing.T) {
	cases := map[string]func(*orders.SubmitInput){
		"no lines":      func(in *orders.SubmitInput) { in.Lines = nil },
		"zero qty":      func(in *orders.SubmitInput) { in.Lines[0].Qty = 0 },
		"negative rate": func(in *orders.SubmitInput) { in.Lines[1].Rate = dec("-1") },
		"blank product": func(in *orders.SubmitInput) { in.Lines[0].ProductName = "  " },
		"blank key":     func(in *orders.SubmitInput) { in.IdempotencyKey = " " },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			svc, store := newService()
			input := soapAndCream("k")
			mutate(&input)
			_, err := svc.SubmitOrder(context.Background(), officer, input)
			require.ErrorIs(t, err, shared.ErrValidation)
			require.Zero(t, store.Count())
		})
	}
}

func TestSubmitOrderScope(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	other := shared.Caller{UserID: 9, Role: shared.RoleFieldOfficer, DistributorID: 2}
	_, err := svc.SubmitOrder(ctx, other, soapAndCream("k-1"))
	require.ErrorIs(t, err, shared.ErrForbidden)

	foreign := soapAndCream("k-2")
	foreign.RetailerID = 200
	_, err = svc.SubmitOrder(ctx, admin, foreign)
	require.ErrorIs(t, err, shared.ErrForbidden)

	unknown := soapAndCream("k-3")
	unknown.RetailerID = 404
	_, err = svc.SubmitOrder(ctx, admin, unknown)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Zero(t, store.Count())
}

func TestSubmitOrderKeyTakenByAnotherDistributor(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	first, err := svc.SubmitOrder(ctx, officer, soapAndCream("shared-key"))
	require.NoError(t, err)

	second := shared.Caller{UserID: 9, Role: shared.RoleFieldOfficer, DistributorID: 2}
	input := soapAndCream("shared-key")
	input.RetailerID = 200
	input.DistributorID = 2
	input.Lines[0].Qty = 3
	res, err := svc.SubmitOrder(ctx, second, input)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.ErrorContains(t, err, "shared-key")
	require.Zero(t, res.OrderID)
	require.Equal(t, 1, store.Count())

	// Same distributor, different retailer under the same key.
	other := soapAndCream("shared-key")
	other.RetailerID = 300
	svc2 := orders.NewService(store, shared.StaticRetailers{100: 1, 300: 1}, nil, nil)
	_, err = svc2.SubmitOrder(ctx, officer, other)
	require.ErrorIs(t, err, shared.ErrValidation)

	again, err := svc.SubmitOrder(ctx, officer, soapAndCream("shared-key"))
	require.NoError(t, err)
	require.True(t, again.Deduped)
	require.Equal(t, first.OrderID, again.OrderID)
}

func TestEditOrderRecomputesTotal(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	res, err := svc.SubmitOrder(ctx, officer, soapAndCream("k-1"))
	require.NoError(t, err)
	order, err := svc.GetOrder(ctx, officer, res.OrderID)
	require.NoError(t, err)
	soap, cream := order.Lines[0], order.Lines[1]

	edited, err := svc.EditOrder(ctx, officer, res.OrderID, []orders.LineQtyChange{
		{LineID: soap.ID, Qty: 4},
		{LineID: cream.ID, Qty: 0},
	})
	require.NoError(t, err)
	require.Len(t, edited.Lines, 1)
	require.Equal(t, int64(4), edited.Lines[0].Qty)
	require.True(t, edited.TotalAmount.Equal(dec("50")))
}

func TestEditOrderRejectsBadChanges(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService()
	res, err := svc.SubmitOrder(ctx, officer, soapAndCream("k-1"))
	require.NoError(t, err)
	order, err := svc.GetOrder(ctx, officer, res.OrderID)
	require.NoError(t, err)

	_, err = svc.EditOrder(ctx, officer, res.OrderID, []orders.LineQtyChange{{LineID: 9999, Qty: 1}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.EditOrder(ctx, officer, res.OrderID, []orders.LineQtyChange{
		{LineID: order.Lines[0].ID, Qty: 0},
		{LineID: order.Lines[1].ID, Qty: -1},
	})
	require.ErrorIs(t, err, orders.ErrAllLinesRemoved)

	after, err := svc.GetOrder(ctx, officer, res.OrderID)
	require.NoError(t, err)
	require.Len(t, after.Lines, 2, "failed edit leaves the order untouched")
	require.True(t, after.TotalAmount.Equal(dec("325")))
}

func TestEditAndDeleteLockedOnceInvoicedOrDispatched(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()

	invoiced, err := svc.SubmitOrder(ctx, officer, soapAndCream("k-1"))
	require.NoError(t, err)
	store.SetInvoiced(invoiced.OrderID)
	dispatched, err := svc.SubmitOrder(ctx, officer, soapAndCream("k-2"))
	require.NoError(t, err)
	store.SetStatus(dispatched.OrderID, orders.StatusDispatched)

	for _, id := range []int64{invoiced.OrderID, dispatched.OrderID} {
		order, err := svc.GetOrder(ctx, officer, id)
		require.NoError(t, err)
		_, err = svc.EditOrder(ctx, officer, id, []orders.LineQtyChange{{LineID: order.Lines[0].ID, Qty: 1}})
		require.ErrorIs(t, err, shared.ErrLocked)
		_, err = svc.DeleteOrder(ctx, officer, id)
		require.ErrorIs(t, err, shared.ErrLocked)
	}
	require.Equal(t, 2, store.Count())
}

func TestDeleteOrder(t *testing.T) {
	ctx := context.Background()
	svc, store := newService()
	res, err := svc.SubmitOrder(ctx, officer, soapAndCream("k-1"))
	require.NoError(t, err)

	other := shared.Caller{UserID: 9, Role: shared.RoleDistributor, DistributorID: 2}
	_, err = svc.DeleteOrder(ctx, other, res.OrderID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	deleted, err := svc.DeleteOrder(ctx, officer, res.OrderID)
	require.NoError(t, err)
	require.True(t, deleted)
	_, err = svc.GetOrder(ctx, officer, res.OrderID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Zero(t, store.Count())
}

func TestRequestHashIgnoresOrderAndFormatting(t *testing.T) {
	a, err := orders.RequestHash([]orders.LineInput{
		{ProductName: "Soap", Qty: 10, Rate: dec("12.50")},
		{ProductName: "Cream", Qty: 5, Rate: dec("40")},
	})
	require.NoError(t, err)
	b, err := orders.RequestHash([]orders.LineInput{
		{ProductName: " Cream", Qty: 5, Rate: dec("40.00")},
		{ProductName: "Soap ", Qty: 10, Rate: dec("12.5")},
	})
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := orders.RequestHash([]orders.LineInput{{ProductName: "Soap", Qty: 11, Rate: dec("12.5")}})
	require.NoError(t, err)
	require.NotEqual(t, a, c)
	require.Len(t, a, 64)
}
