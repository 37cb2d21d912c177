package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetByIdempotencyKey(ctx context.Context, key string) (Order, error)
	Get(ctx context.Context, id int64) (Order, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts order submissions.
type MetricsPort interface {
	OrderSubmitted(deduped bool)
}

// Service implements order intake.
type Service struct {
	repo      RepositoryPort
	retailers shared.RetailerScope
	audit     AuditPort
	metrics   MetricsPort
	logger    *slog.Logger
}

// NewService builds Service. audit may be nil.
func NewService(repo RepositoryPort, retailers shared.RetailerScope, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, retailers: retailers, audit: audit, logger: logger}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) *Service {
	s.metrics = m
	return s
}

func validateSubmit(input SubmitInput) error {
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return ErrIdempotencyKey
	}
	if input.RetailerID <= 0 || input.DistributorID <= 0 {
		return fmt.Errorf("%w: retailer and distributor are required", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return ErrNoLines
	}
	for i, l := range input.Lines {
		if shared.ProductName(l.ProductName) == "" {
			return fmt.Errorf("%w: line %d: product name required", shared.ErrValidation, i+1)
		}
		if l.Qty <= 0 {
			return fmt.Errorf("%w: line %d: qty must be positive", shared.ErrValidation, i+1)
		}
		if l.Rate.IsNegative() {
			return fmt.Errorf("%w: line %d: rate must not be negative", shared.ErrValidation, i+1)
		}
	}
	return nil
}

// SubmitOrder stores a new order or returns the one already stored under the same
// idempotency key.
func (s *Service) SubmitOrder(ctx context.Context, caller shared.Caller, input SubmitInput) (SubmitResult, error) {
	if err := validateSubmit(input); err != nil {
		return SubmitResult{}, err
	}
	if err := caller.RequireDistributor(input.DistributorID); err != nil {
		return SubmitResult{}, err
	}
	owner, err := s.retailers.DistributorOf(ctx, input.RetailerID)
	if err != nil {
		return SubmitResult{}, err
	}
	if owner != input.DistributorID {
		return SubmitResult{}, fmt.Errorf("%w: retailer %d does not belong to distributor %d", shared.ErrForbidden, input.RetailerID, input.DistributorID)
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	hash, err := RequestHash(input.Lines)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("hash request: %w", err)
	}

	existing, err := s.repo.GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return s.deduped(input, existing, hash)
	case !errors.Is(err, ErrOrderNotFound):
		return SubmitResult{}, fmt.Errorf("lookup idempotency key: %w", err)
	}

	order := Order{
		RetailerID:     input.RetailerID,
		DistributorID:  input.DistributorID,
		Status:         StatusSubmitted,
		IdempotencyKey: key,
		RequestHash:    hash,
		DeviceID:       strings.TrimSpace(input.DeviceID),
		CreatedBy:      caller.UserID,
		TotalAmount:    decimal.Zero,
	}
	for _, l := range input.Lines {
		line := Line{ProductName: shared.ProductName(l.ProductName), Qty: l.Qty, Rate: l.Rate}
		line.Amount = lineAmount(line.Qty, line.Rate)
		order.TotalAmount = order.TotalAmount.Add(line.Amount)
		order.Lines = append(order.Lines, line)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		orderNo, err := tx.NextOrderNo(ctx)
		if err != nil {
			return fmt.Errorf("next order no: %w", err)
		}
		order.OrderNo = orderNo
		id, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return err
		}
		order.ID = id
		for _, line := range order.Lines {
			line.OrderID = id
			if _, err := tx.InsertLine(ctx, line); err != nil {
				return fmt.Errorf("insert order line: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		if shared.IsUniqueViolation(err) {
			winner, getErr := s.repo.GetByIdempotencyKey(ctx, key)
			if getErr != nil {
				return SubmitResult{}, fmt.Errorf("reread idempotency key: %w", getErr)
			}
			return s.deduped(input, winner, hash)
		}
		return SubmitResult{}, fmt.Errorf("submit order: %w", err)
	}

	if s.metrics != nil {
		s.metrics.OrderSubmitted(false)
	}
	s.record(ctx, caller, "order:submit", order.ID, map[string]any{
		"order_no":    order.OrderNo,
		"retailer_id": order.RetailerID,
		"total":       order.TotalAmount.StringFixed(2),
	})
	return SubmitResult{OrderID: order.ID, OrderNo: order.OrderNo}, nil
}

// deduped returns the stored order for a reused key. A key already taken for
// another retailer or distributor is rejected rather than handed back.
func (s *Service) deduped(input SubmitInput, existing Order, hash string) (SubmitResult, error) {
	if existing.DistributorID != input.DistributorID || existing.RetailerID != input.RetailerID {
		s.logger.Warn("idempotency key reused across scopes",
			slog.String("idempotency_key", existing.IdempotencyKey),
			slog.Int64("distributor_id", input.DistributorID),
			slog.Int64("retailer_id", input.RetailerID),
		)
		return SubmitResult{}, fmt.Errorf("%w: idempotency key %q already used by another order", shared.ErrValidation, existing.IdempotencyKey)
	}
	if existing.RequestHash != hash {
		s.logger.Warn("idempotency key reused with different payload",
			slog.String("idempotency_key", existing.IdempotencyKey),
			slog.Int64("order_id", existing.ID),
		)
	}
	if s.metrics != nil {
		s.metrics.OrderSubmitted(true)
	}
	return SubmitResult{OrderID: existing.ID, OrderNo: existing.OrderNo, Deduped: true}, nil
}

// lockEditable locks the order and checks it is still SUBMITTED and not invoiced.
func lockEditable(ctx context.Context, tx TxRepository, caller shared.Caller, orderID int64) (Order, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := caller.RequireDistributor(order.DistributorID); err != nil {
		return Order{}, err
	}
	invoiced, err := tx.HasInvoice(ctx, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("check invoice: %w", err)
	}
	if order.Status != StatusSubmitted || invoiced {
		return Order{}, lockedError(orderID, order.Status, invoiced)
	}
	return order, nil
}

// EditOrder changes line quantities of a SUBMITTED order and recomputes its total.
func (s *Service) EditOrder(ctx context.Context, caller shared.Caller, orderID int64, changes []LineQtyChange) (Order, error) {
	if len(changes) == 0 {
		return Order{}, fmt.Errorf("%w: no line changes", shared.ErrValidation)
	}
	wanted := make(map[int64]int64, len(changes))
	for _, c := range changes {
		wanted[c.LineID] = c.Qty
	}
	var total decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := lockEditable(ctx, tx, caller, orderID); err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, orderID)
		if err != nil {
			return fmt.Errorf("list lines: %w", err)
		}
		known := make(map[int64]struct{}, len(lines))
		for _, l := range lines {
			known[l.ID] = struct{}{}
		}
		for id := range wanted {
			if _, ok := known[id]; !ok {
				return fmt.Errorf("%w: line %d is not on order %d", shared.ErrValidation, id, orderID)
			}
		}
		total = decimal.Zero
		surviving := 0
		for _, l := range lines {
			qty, changed := wanted[l.ID]
			switch {
			case !changed:
				total = total.Add(l.Amount)
				surviving++
			case qty <= 0:
				if err := tx.DeleteLine(ctx, l.ID); err != nil {
					return fmt.Errorf("delete line: %w", err)
				}
			default:
				amount := lineAmount(qty, l.Rate)
				if err := tx.UpdateLine(ctx, l.ID, qty, amount); err != nil {
					return fmt.Errorf("update line: %w", err)
				}
				total = total.Add(amount)
				surviving++
			}
		}
		if surviving == 0 {
			return ErrAllLinesRemoved
		}
		return tx.SetTotal(ctx, orderID, total)
	})
	if err != nil {
		return Order{}, err
	}
	s.record(ctx, caller, "order:edit", orderID, map[string]any{"total": total.StringFixed(2)})
	return s.repo.Get(ctx, orderID)
}

// DeleteOrder removes a SUBMITTED order and its lines.
func (s *Service) DeleteOrder(ctx context.Context, caller shared.Caller, orderID int64) (bool, error) {
	var orderNo string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := lockEditable(ctx, tx, caller, orderID)
		if err != nil {
			return err
		}
		orderNo = order.OrderNo
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return false, err
	}
	s.record(ctx, caller, "order:delete", orderID, map[string]any{"order_no": orderNo})
	return true, nil
}

// GetOrder returns the order with its lines.
func (s *Service) GetOrder(ctx context.Context, caller shared.Caller, orderID int64) (Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if err := caller.RequireDistributor(order.DistributorID); err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *Service) record(ctx context.Context, caller shared.Caller, action string, orderID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    caller,
		Action:   action,
		Entity:   "order",
		EntityID: strconv.FormatInt(orderID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
