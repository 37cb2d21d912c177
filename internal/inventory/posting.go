package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Ref ties a stock movement to the document that caused it. Type, when set,
// replaces the movement type a posting records by default.
type Ref struct {
	Type    MovementType
	Module  string
	ID      string
	Note    string
	ActorID int64
	At      time.Time
}

// Issue removes qty from a locked batch and from its aggregate, then records an OUT
// movement. batch must come from GetBatchForUpdate in the same transaction.
func Issue(ctx context.Context, store TxStore, batch Batch, qty int64, ref Ref) (Batch, error) {
	if qty <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if batch.Qty < qty {
		return Batch{}, shortError(batch, qty)
	}
	updated, err := store.DecrementBatch(ctx, batch.ID, qty)
	if err != nil {
		if errors.Is(err, ErrInsufficientStock) {
			return Batch{}, shortError(batch, qty)
		}
		return Batch{}, err
	}
	if _, err := store.AdjustAggregate(ctx, batch.DistributorID, batch.ProductName, -qty); err != nil {
		return Batch{}, err
	}
	if err := store.InsertMovement(ctx, movement(updated, MovementOut, -qty, ref)); err != nil {
		return Batch{}, err
	}
	return updated, nil
}

// Receive credits a batch (creating it when needed) and its aggregate, then records an
// IN movement.
func Receive(ctx context.Context, store TxStore, credit BatchCredit, ref Ref) (Batch, error) {
	updated, err := store.CreditBatch(ctx, credit)
	if err != nil {
		return Batch{}, err
	}
	if _, err := store.AdjustAggregate(ctx, credit.DistributorID, updated.ProductName, credit.Qty); err != nil {
		return Batch{}, err
	}
	if err := store.InsertMovement(ctx, movement(updated, MovementIn, credit.Qty, ref)); err != nil {
		return Batch{}, err
	}
	return updated, nil
}

// Adjust applies a signed variance to a locked batch and its aggregate, recording an
// ADJUST movement.
func Adjust(ctx context.Context, store TxStore, batch Batch, delta int64, ref Ref) (Batch, error) {
	if delta == 0 {
		return batch, nil
	}
	updated, err := store.AdjustBatch(ctx, batch.ID, delta)
	if err != nil {
		if errors.Is(err, ErrNegativeStock) {
			return Batch{}, fmt.Errorf("%w: product %q batch %q holds %d, adjustment %d", ErrNegativeStock, batch.ProductName, batch.BatchNo, batch.Qty, delta)
		}
		return Batch{}, err
	}
	if _, err := store.AdjustAggregate(ctx, batch.DistributorID, batch.ProductName, delta); err != nil {
		return Batch{}, err
	}
	if err := store.InsertMovement(ctx, movement(updated, MovementAdjust, delta, ref)); err != nil {
		return Batch{}, err
	}
	return updated, nil
}

func shortError(batch Batch, qty int64) error {
	return fmt.Errorf("%w: product %q batch %q has %d, need %d", ErrInsufficientStock, batch.ProductName, batch.BatchNo, batch.Qty, qty)
}

func movement(b Batch, kind MovementType, qty int64, ref Ref) Movement {
	if ref.Type != "" {
		kind = ref.Type
	}
	return Movement{
		DistributorID: b.DistributorID,
		ProductName:   b.ProductName,
		BatchNo:       b.BatchNo,
		Type:          kind,
		Qty:           qty,
		BalanceQty:    b.Qty,
		RefModule:     ref.Module,
		RefID:         ref.ID,
		Note:          ref.Note,
		ActorID:       ref.ActorID,
		PostedAt:      ref.At,
	}
}
