// Package inventorytest provides an in-memory inventory store for service tests.
package inventorytest

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/shared"
)

// Store implements inventory.TxStore and inventory.RepositoryPort in memory.
// Checkpoint gives callers rollback semantics for their fake transactions.
type Store struct {
	mu         sync.Mutex
	nextID     int64
	batches    map[int64]inventory.Batch
	aggregates map[aggKey]inventory.Aggregate
	movements  []inventory.Movement
}

type aggKey struct {
	distributorID int64
	productKey    string
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		batches:    make(map[int64]inventory.Batch),
		aggregates: make(map[aggKey]inventory.Aggregate),
	}
}

// Checkpoint snapshots the store and returns a function restoring that snapshot.
func (s *Store) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	batches := maps.Clone(s.batches)
	aggregates := maps.Clone(s.aggregates)
	movements := slices.Clone(s.movements)
	nextID := s.nextID
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.batches = batches
		s.aggregates = aggregates
		s.movements = movements
		s.nextID = nextID
	}
}

// SeedBatch adds stock to a batch and its aggregate without recording a movement.
func (s *Store) SeedBatch(distributorID int64, productName, batchNo string, expiry time.Time, qty int64) inventory.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.findLocked(distributorID, productName, batchNo)
	if !ok {
		s.nextID++
		b = inventory.Batch{
			ID:            s.nextID,
			DistributorID: distributorID,
			ProductName:   shared.ProductName(productName),
			ProductKey:    shared.ProductKey(productName),
			BatchNo:       batchNo,
			ExpiryDate:    expiry,
		}
	}
	b.Qty += qty
	s.batches[b.ID] = b
	s.adjustAggregateLocked(distributorID, productName, qty)
	return b
}

// SetAggregate overwrites an aggregate, used to simulate drift.
func (s *Store) SetAggregate(distributorID int64, productName string, qty int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := aggKey{distributorID, shared.ProductKey(productName)}
	s.aggregates[k] = inventory.Aggregate{DistributorID: distributorID, ProductName: shared.ProductName(productName), ProductKey: k.productKey, Qty: qty}
}

// BatchQty returns the batch quantity, or -1 when the batch does not exist.
func (s *Store) BatchQty(distributorID int64, productName, batchNo string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.findLocked(distributorID, productName, batchNo)
	if !ok {
		return -1
	}
	return b.Qty
}

// AggregateQty returns the aggregate quantity, or -1 when missing.
func (s *Store) AggregateQty(distributorID int64, productName string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aggregates[aggKey{distributorID, shared.ProductKey(productName)}]
	if !ok {
		return -1
	}
	return a.Qty
}

// BatchSum returns the total of every batch of a product.
func (s *Store) BatchSum(distributorID int64, productName string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	key := shared.ProductKey(productName)
	for _, b := range s.batches {
		if b.DistributorID == distributorID && b.ProductKey == key {
			total += b.Qty
		}
	}
	return total
}

// Movements returns a copy of recorded movements in insertion order.
func (s *Store) Movements() []inventory.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.movements)
}

func (s *Store) GetBatchForUpdate(_ context.Context, distributorID int64, productName, batchNo string) (inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.findLocked(distributorID, productName, batchNo)
	if !ok {
		return inventory.Batch{}, inventory.BatchError(inventory.ErrBatchNotFound, productName, batchNo)
	}
	return b, nil
}

func (s *Store) DecrementBatch(_ context.Context, batchID, qty int64) (inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.Qty < qty {
		return inventory.Batch{}, inventory.ErrInsufficientStock
	}
	b.Qty -= qty
	s.batches[batchID] = b
	return b, nil
}

func (s *Store) CreditBatch(_ context.Context, credit inventory.BatchCredit) (inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if credit.Qty <= 0 {
		return inventory.Batch{}, inventory.ErrInvalidQuantity
	}
	b, ok := s.findLocked(credit.DistributorID, credit.ProductName, credit.BatchNo)
	if ok {
		if !sameDay(b.ExpiryDate, credit.ExpiryDate) {
			return inventory.Batch{}, inventory.BatchError(inventory.ErrExpiryMismatch, credit.ProductName, credit.BatchNo)
		}
		b.Qty += credit.Qty
		s.batches[b.ID] = b
		return b, nil
	}
	s.nextID++
	b = inventory.Batch{
		ID:            s.nextID,
		DistributorID: credit.DistributorID,
		ProductName:   shared.ProductName(credit.ProductName),
		ProductKey:    shared.ProductKey(credit.ProductName),
		BatchNo:       credit.BatchNo,
		ExpiryDate:    credit.ExpiryDate,
		Qty:           credit.Qty,
	}
	s.batches[b.ID] = b
	return b, nil
}

func (s *Store) AdjustBatch(_ context.Context, batchID, delta int64) (inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.Qty+delta < 0 {
		return inventory.Batch{}, inventory.ErrNegativeStock
	}
	b.Qty += delta
	s.batches[batchID] = b
	return b, nil
}

func (s *Store) AdjustAggregate(_ context.Context, distributorID int64, productName string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := aggKey{distributorID, shared.ProductKey(productName)}
	a, ok := s.aggregates[k]
	if delta < 0 {
		if !ok {
			return 0, inventory.BatchError(inventory.ErrAggregateMissing, productName, "")
		}
		if a.Qty+delta < 0 {
			return 0, inventory.BatchError(inventory.ErrInsufficientStock, productName, "")
		}
	}
	return s.adjustAggregateLocked(distributorID, productName, delta), nil
}

func (s *Store) InsertMovement(_ context.Context, m inventory.Movement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m.ID = s.nextID
	s.movements = append(s.movements, m)
	return nil
}

// ListBatches implements inventory.RepositoryPort.
func (s *Store) ListBatches(_ context.Context, filter inventory.BatchFilter) ([]inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Batch
	key := shared.ProductKey(filter.ProductName)
	for _, b := range s.batches {
		if b.DistributorID != filter.DistributorID {
			continue
		}
		if filter.ProductName != "" && b.ProductKey != key {
			continue
		}
		if !filter.IncludeEmpty && b.Qty <= 0 {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b inventory.Batch) int {
		if c := cmp.Compare(a.ProductKey, b.ProductKey); c != 0 {
			return c
		}
		if c := a.ExpiryDate.Compare(b.ExpiryDate); c != 0 {
			return c
		}
		return cmp.Compare(a.BatchNo, b.BatchNo)
	})
	return out, nil
}

// StockCard implements inventory.RepositoryPort.
func (s *Store) StockCard(_ context.Context, filter inventory.StockCardFilter) ([]inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := shared.ProductKey(filter.ProductName)
	var out []inventory.Movement
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.DistributorID == filter.DistributorID && shared.ProductKey(m.ProductName) == key {
			out = append(out, m)
		}
	}
	return out, nil
}

// Drifts implements inventory.RepositoryPort.
func (s *Store) Drifts(_ context.Context, distributorID int64) ([]inventory.Drift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sums := make(map[string]int64)
	for _, b := range s.batches {
		if b.DistributorID == distributorID {
			sums[b.ProductKey] += b.Qty
		}
	}
	keys := make(map[string]struct{})
	for k := range sums {
		keys[k] = struct{}{}
	}
	for k := range s.aggregates {
		if k.distributorID == distributorID {
			keys[k.productKey] = struct{}{}
		}
	}
	var drifts []inventory.Drift
	for _, key := range slices.Sorted(maps.Keys(keys)) {
		agg := s.aggregates[aggKey{distributorID, key}].Qty
		if agg != sums[key] {
			drifts = append(drifts, inventory.Drift{DistributorID: distributorID, ProductKey: key, AggregateQty: agg, BatchQty: sums[key]})
		}
	}
	return drifts, nil
}

// DistributorIDs implements inventory.RepositoryPort.
func (s *Store) DistributorIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]struct{})
	for _, b := range s.batches {
		seen[b.DistributorID] = struct{}{}
	}
	for k := range s.aggregates {
		seen[k.distributorID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

// ExpiringBatches implements inventory.RepositoryPort.
func (s *Store) ExpiringBatches(_ context.Context, before time.Time) ([]inventory.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []inventory.Batch
	for _, b := range s.batches {
		if b.Qty > 0 && b.ExpiryDate.Before(before) {
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b inventory.Batch) int { return a.ExpiryDate.Compare(b.ExpiryDate) })
	return out, nil
}

func (s *Store) findLocked(distributorID int64, productName, batchNo string) (inventory.Batch, bool) {
	key := shared.ProductKey(productName)
	for _, b := range s.batches {
		if b.DistributorID == distributorID && b.ProductKey == key && b.BatchNo == batchNo {
			return b, true
		}
	}
	return inventory.Batch{}, false
}

func (s *Store) adjustAggregateLocked(distributorID int64, productName string, delta int64) int64 {
	k := aggKey{distributorID, shared.ProductKey(productName)}
	a, ok := s.aggregates[k]
	if !ok {
		a = inventory.Aggregate{DistributorID: distributorID, ProductName: shared.ProductName(productName), ProductKey: k.productKey}
	}
	a.Qty += delta
	s.aggregates[k] = a
	return a.Qty
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

var _ inventory.TxStore = (*Store)(nil)
var _ inventory.RepositoryPort = (*Store)(nil)

// String summarises the store for test failure output.
func (s *Store) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("inventorytest.Store{batches:%d aggregates:%d movements:%d}", len(s.batches), len(s.aggregates), len(s.movements))
}
