package inbound

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateLot(ctx context.Context, lot StockLot) (StockLot, error)
	ListLots(ctx context.Context, productName string) ([]StockLot, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts allocation outcomes.
type MetricsPort interface {
	InboundAllocated()
	StockRejected(module string)
}

// Service allocates warehouse stock lots to distributor inbound orders.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) *Service {
	s.metrics = m
	return s
}

type lotDraw struct {
	key   string
	lotID int64
	qty   int64
}

// AllocateInbound packs a paid inbound order from stock lots. The allocation must
// cover every ordered product exactly; lots, batches and the order move together.
func (s *Service) AllocateInbound(ctx context.Context, caller shared.Caller, inboundID int64, allocations []Allocation) error {
	if err := caller.RequireRole(shared.RoleWarehouse, shared.RoleAdmin); err != nil {
		return err
	}
	if len(allocations) == 0 {
		return fmt.Errorf("%w: allocations required", shared.ErrValidation)
	}
	draws := make(map[lotDraw]int64)
	perLot := make(map[int64]int64)
	allocated := make(map[string]int64)
	for i, a := range allocations {
		if shared.ProductName(a.ProductName) == "" || a.StockLotID <= 0 || a.Qty <= 0 {
			return fmt.Errorf("%w: allocation %d needs product, lot and positive qty", shared.ErrValidation, i+1)
		}
		key := shared.ProductKey(a.ProductName)
		draws[lotDraw{key: key, lotID: a.StockLotID}] += a.Qty
		perLot[a.StockLotID] += a.Qty
		allocated[key] += a.Qty
	}

	ordering := slices.SortedFunc(maps.Keys(draws), func(a, b lotDraw) int {
		return cmp.Or(cmp.Compare(a.key, b.key), cmp.Compare(a.lotID, b.lotID))
	})

	var distributorID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockInbound(ctx, inboundID)
		if err != nil {
			return err
		}
		distributorID = order.DistributorID
		if order.Status != StatusPending {
			return fmt.Errorf("%w: inbound order %d is %s", shared.ErrLocked, inboundID, order.Status)
		}
		if order.PaymentStatus != PaymentVerified {
			return fmt.Errorf("%w: inbound order %d payment is %s", shared.ErrLocked, inboundID, order.PaymentStatus)
		}

		ordered := make(map[string]int64)
		names := make(map[string]string)
		for _, l := range order.Lines {
			key := shared.ProductKey(l.ProductName)
			ordered[key] += l.Qty
			names[key] = shared.ProductName(l.ProductName)
		}
		for key := range allocated {
			if _, ok := ordered[key]; !ok {
				return fmt.Errorf("%w: product %q is not on inbound order %d", shared.ErrValidation, key, inboundID)
			}
		}
		for _, key := range slices.Sorted(maps.Keys(ordered)) {
			if allocated[key] != ordered[key] {
				return fmt.Errorf("%w: product %q ordered %d, allocated %d", ErrAllocationTotal, names[key], ordered[key], allocated[key])
			}
		}

		lotIDs := slices.Sorted(maps.Keys(perLot))
		lots, err := tx.LockLots(ctx, lotIDs)
		if err != nil {
			return fmt.Errorf("lock lots: %w", err)
		}
		for _, d := range ordering {
			lot, ok := lots[d.lotID]
			if !ok {
				return fmt.Errorf("%w: lot %d", ErrLotNotFound, d.lotID)
			}
			if err := usable(lot, d.key); err != nil {
				return err
			}
		}
		for _, id := range lotIDs {
			if lots[id].QtyOnHandPcs < perLot[id] {
				return fmt.Errorf("%w: lot %d holds %d, allocated %d", ErrLotShort, id, lots[id].QtyOnHandPcs, perLot[id])
			}
			if err := tx.DecrementLot(ctx, id, perLot[id]); err != nil {
				return err
			}
		}

		ref := inventory.Ref{Module: "inbound", ID: strconv.FormatInt(inboundID, 10), ActorID: caller.UserID, At: s.now()}
		for _, d := range ordering {
			lot := lots[d.lotID]
			if _, err := inventory.Receive(ctx, tx, inventory.BatchCredit{
				DistributorID: order.DistributorID,
				ProductName:   lot.ProductName,
				BatchNo:       lot.BatchNo,
				ExpiryDate:    *lot.ExpDate,
				Qty:           draws[d],
			}, ref); err != nil {
				return err
			}
		}
		return tx.MarkPacked(ctx, inboundID, caller.UserID)
	})
	if err != nil {
		if errors.Is(err, shared.ErrIntegrity) {
			s.logger.Warn("inbound allocation rejected", slog.Int64("inbound_id", inboundID), slog.Any("error", err))
			if s.metrics != nil {
				s.metrics.StockRejected("inbound")
			}
		}
		return err
	}
	if s.metrics != nil {
		s.metrics.InboundAllocated()
	}
	s.record(ctx, caller, "inbound:allocate", "inbound_order", inboundID, map[string]any{
		"distributor_id": distributorID,
		"lots":           len(perLot),
	})
	return nil
}

// usable checks that a lot carries the allocated product with batch data.
func usable(lot StockLot, key string) error {
	if shared.ProductKey(lot.ProductName) != key {
		return fmt.Errorf("%w: lot %d holds %q, not %q", ErrLotMismatch, lot.ID, lot.ProductName, key)
	}
	if strings.TrimSpace(lot.BatchNo) == "" {
		return fmt.Errorf("%w: lot %d has no batch number", ErrLotMismatch, lot.ID)
	}
	if lot.ExpDate == nil || lot.ExpDate.IsZero() {
		return fmt.Errorf("%w: lot %d has no expiry date", ErrLotMismatch, lot.ID)
	}
	return nil
}

// CreateStockLot records warehouse stock-in. Batch number and dates may be filled in
// later; such lots cannot be allocated until they are.
func (s *Service) CreateStockLot(ctx context.Context, caller shared.Caller, input CreateLotInput) (StockLot, error) {
	if err := caller.RequireRole(shared.RoleWarehouse, shared.RoleAdmin); err != nil {
		return StockLot{}, err
	}
	name := shared.ProductName(input.ProductName)
	if name == "" {
		return StockLot{}, fmt.Errorf("%w: product name required", shared.ErrValidation)
	}
	if input.Qty <= 0 {
		return StockLot{}, fmt.Errorf("%w: qty must be positive", shared.ErrValidation)
	}
	if input.MfgDate != nil && input.ExpDate != nil && input.ExpDate.Before(*input.MfgDate) {
		return StockLot{}, fmt.Errorf("%w: expiry before manufacture date", shared.ErrValidation)
	}
	lot, err := s.repo.CreateLot(ctx, StockLot{
		ProductName:  name,
		BatchNo:      strings.TrimSpace(input.BatchNo),
		MfgDate:      input.MfgDate,
		ExpDate:      input.ExpDate,
		QtyOnHandPcs: input.Qty,
		CreatedBy:    caller.UserID,
	})
	if err != nil {
		return StockLot{}, fmt.Errorf("create stock lot: %w", err)
	}
	s.record(ctx, caller, "stock_lot:create", "stock_lot", lot.ID, map[string]any{"product": name, "qty": input.Qty})
	return lot, nil
}

// ListStockLots returns lots with stock on hand for the allocation picker.
func (s *Service) ListStockLots(ctx context.Context, caller shared.Caller, productName string) ([]StockLot, error) {
	if err := caller.RequireRole(shared.RoleWarehouse, shared.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListLots(ctx, shared.ProductName(productName))
}

func (s *Service) record(ctx context.Context, caller shared.Caller, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    caller,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
