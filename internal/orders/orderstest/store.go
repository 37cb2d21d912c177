// Package orderstest provides an in-memory order store for service tests.
package orderstest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/orders"
)

// Store implements orders.RepositoryPort and orders.TxRepository in memory.
// WithTx serialises transactions and restores the previous state on error.
type Store struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	nextID   int64
	seq      int64
	orders   map[int64]orders.Order
	lines    map[int64]orders.Line
	invoiced map[int64]bool
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		orders:   make(map[int64]orders.Order),
		lines:    make(map[int64]orders.Line),
		invoiced: make(map[int64]bool),
	}
}

// Checkpoint snapshots the store and returns a function restoring that snapshot.
func (s *Store) Checkpoint() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordersCopy := maps.Clone(s.orders)
	linesCopy := maps.Clone(s.lines)
	invoiced := maps.Clone(s.invoiced)
	nextID, seq := s.nextID, s.seq
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.orders, s.lines, s.invoiced = ordersCopy, linesCopy, invoiced
		s.nextID, s.seq = nextID, seq
	}
}

// WithTx runs fn against the store, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, orders.TxRepository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	restore := s.Checkpoint()
	if err := fn(ctx, s); err != nil {
		restore()
		return err
	}
	return nil
}

// SetInvoiced flags an order as having an invoice.
func (s *Store) SetInvoiced(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoiced[orderID] = true
}

// SetStatus overwrites an order status.
func (s *Store) SetStatus(orderID int64, status orders.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	o.Status = status
	s.orders[orderID] = o
}

// Count returns the number of stored orders.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) GetByIdempotencyKey(_ context.Context, key string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if o.IdempotencyKey == key {
			return o, nil
		}
	}
	return orders.Order{}, orders.ErrOrderNotFound
}

func (s *Store) Get(_ context.Context, id int64) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	o.Lines = s.linesLocked(id)
	return o, nil
}

func (s *Store) NextOrderNo(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return fmt.Sprintf("ORD-%06d", s.seq), nil
}

func (s *Store) InsertOrder(_ context.Context, o orders.Order) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orders {
		if existing.IdempotencyKey == o.IdempotencyKey {
			return 0, &pgconn.PgError{Code: "23505", ConstraintName: "orders_idempotency_key_key"}
		}
	}
	s.nextID++
	o.ID = s.nextID
	o.Lines = nil
	o.CreatedAt = time.Now().UTC()
	s.orders[o.ID] = o
	return o.ID, nil
}

func (s *Store) InsertLine(_ context.Context, l orders.Line) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	l.ID = s.nextID
	s.lines[l.ID] = l
	return l.ID, nil
}

func (s *Store) LockOrder(_ context.Context, id int64) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) HasInvoice(_ context.Context, orderID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invoiced[orderID], nil
}

func (s *Store) ListLines(_ context.Context, orderID int64) ([]orders.Line, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linesLocked(orderID), nil
}

func (s *Store) UpdateLine(_ context.Context, lineID, qty int64, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.lines[lineID]
	l.Qty, l.Amount = qty, amount
	s.lines[lineID] = l
	return nil
}

func (s *Store) DeleteLine(_ context.Context, lineID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lines, lineID)
	return nil
}

func (s *Store) SetTotal(_ context.Context, orderID int64, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	o.TotalAmount = total
	s.orders[orderID] = o
	return nil
}

func (s *Store) MarkDispatched(_ context.Context, orderID int64, total decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	if o.Status != orders.StatusSubmitted {
		return fmt.Errorf("order %d is no longer %s", orderID, orders.StatusSubmitted)
	}
	o.Status = orders.StatusDispatched
	o.TotalAmount = total
	s.orders[orderID] = o
	return nil
}

func (s *Store) DeleteOrder(_ context.Context, orderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.lines {
		if l.OrderID == orderID {
			delete(s.lines, id)
		}
	}
	delete(s.orders, orderID)
	return nil
}

func (s *Store) linesLocked(orderID int64) []orders.Line {
	var out []orders.Line
	for _, id := range slices.Sorted(maps.Keys(s.lines)) {
		if l := s.lines[id]; l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out
}
