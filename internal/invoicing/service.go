package invoicing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/ledger"
	"github.com/distrochain/distrochain/internal/orders"
	"github.com/distrochain/distrochain/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Invoice, error)
	GetByOrder(ctx context.Context, orderID int64) (Invoice, error)
}

// LedgerPort retires cached ledger reads after an invoice posts a debit.
type LedgerPort interface {
	Invalidate(ctx context.Context, retailerID int64)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts invoice outcomes.
type MetricsPort interface {
	InvoiceGenerated(already bool)
	StockRejected(module string)
}

// Service turns submitted orders into invoices.
type Service struct {
	repo    RepositoryPort
	ledger  LedgerPort
	audit   AuditPort
	catalog CatalogPort
	metrics MetricsPort
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds Service. ledger and audit may be nil.
func NewService(repo RepositoryPort, ledger LedgerPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		ledger: ledger,
		audit:  audit,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CatalogPort resolves product ids for display.
type CatalogPort interface {
	ProductIDs(ctx context.Context, names []string) map[string]int64
}

// WithCatalog enables product id enrichment on reads.
func (s *Service) WithCatalog(c CatalogPort) *Service {
	s.catalog = c
	return s
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) *Service {
	s.metrics = m
	return s
}

// GenerateInvoice bills a SUBMITTED order from the allocated batches. Stock, the
// invoice, the order status and the ledger debit are written in one transaction.
// Calling it again for an invoiced order returns the existing invoice.
func (s *Service) GenerateInvoice(ctx context.Context, caller shared.Caller, orderID int64, allocations []Allocation) (Result, error) {
	if err := caller.RequireRole(shared.RoleDistributor, shared.RoleSalesManager, shared.RoleAdmin); err != nil {
		return Result{}, err
	}
	allocs, err := normalizeAllocations(allocations)
	if err != nil {
		return Result{}, err
	}

	var (
		result Result
		inv    Invoice
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if err := caller.RequireDistributor(order.DistributorID); err != nil {
			return err
		}
		existing, err := tx.InvoiceForOrder(ctx, orderID)
		switch {
		case err == nil:
			result = resultOf(existing, true)
			return nil
		case !errors.Is(err, ErrInvoiceNotFound):
			return fmt.Errorf("check invoice: %w", err)
		}
		if order.Status != orders.StatusSubmitted {
			return fmt.Errorf("%w: order %d is %s", shared.ErrLocked, orderID, order.Status)
		}
		lines, err := tx.ListLines(ctx, orderID)
		if err != nil {
			return fmt.Errorf("list order lines: %w", err)
		}
		demands, err := matchDemand(lines, allocs)
		if err != nil {
			return err
		}

		invoiceNo, err := tx.NextInvoiceNo(ctx)
		if err != nil {
			return fmt.Errorf("next invoice no: %w", err)
		}
		now := s.now()
		ref := inventory.Ref{Module: "invoice", ID: invoiceNo, Note: order.OrderNo, ActorID: caller.UserID, At: now}
		inv = Invoice{
			InvoiceNo:     invoiceNo,
			OrderID:       order.ID,
			RetailerID:    order.RetailerID,
			DistributorID: order.DistributorID,
			TotalAmount:   decimal.Zero,
			PaidAmount:    decimal.Zero,
			CreatedBy:     caller.UserID,
			CreatedAt:     now,
		}
		for _, d := range demands {
			batch, err := tx.GetBatchForUpdate(ctx, order.DistributorID, d.name, d.alloc.BatchNo)
			if err != nil {
				return err
			}
			if _, err := inventory.Issue(ctx, tx, batch, d.qty, ref); err != nil {
				return err
			}
			line := Line{
				ProductName: batch.ProductName,
				Qty:         d.qty,
				Rate:        d.alloc.Rate,
				Amount:      d.alloc.Rate.Mul(decimal.NewFromInt(d.qty)).Round(2),
				BatchNo:     batch.BatchNo,
				ExpiryDate:  batch.ExpiryDate,
			}
			inv.TotalAmount = inv.TotalAmount.Add(line.Amount)
			inv.Lines = append(inv.Lines, line)
		}

		inv.ID, err = tx.InsertInvoice(ctx, inv)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		for i := range inv.Lines {
			inv.Lines[i].InvoiceID = inv.ID
			if err := tx.InsertInvoiceLine(ctx, inv.Lines[i]); err != nil {
				return fmt.Errorf("insert invoice line: %w", err)
			}
		}
		if err := tx.MarkDispatched(ctx, order.ID, inv.TotalAmount); err != nil {
			return fmt.Errorf("dispatch order: %w", err)
		}
		if _, err := tx.InsertEntry(ctx, ledger.Entry{
			RetailerID: order.RetailerID,
			Type:       ledger.EntryDebit,
			Amount:     inv.TotalAmount,
			Date:       now,
			Reference:  invoiceNo,
			Narration:  fmt.Sprintf("Invoice %s for order %s", invoiceNo, order.OrderNo),
			CreatedBy:  caller.UserID,
		}); err != nil {
			return fmt.Errorf("post ledger debit: %w", err)
		}
		result = resultOf(inv, false)
		return nil
	})
	if err != nil {
		if shared.IsUniqueViolation(err) {
			existing, getErr := s.repo.GetByOrder(ctx, orderID)
			if getErr == nil {
				return resultOf(existing, true), nil
			}
		}
		if errors.Is(err, shared.ErrIntegrity) {
			s.logger.Warn("invoice rejected", slog.Int64("order_id", orderID), slog.Any("error", err))
			if s.metrics != nil {
				s.metrics.StockRejected("invoice")
			}
		}
		return Result{}, err
	}
	if s.metrics != nil {
		s.metrics.InvoiceGenerated(result.Already)
	}
	if result.Already {
		return result, nil
	}

	if s.ledger != nil {
		s.ledger.Invalidate(ctx, inv.RetailerID)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Actor:    caller,
			Action:   "invoice:generate",
			Entity:   "invoice",
			EntityID: strconv.FormatInt(inv.ID, 10),
			Meta: map[string]any{
				"invoice_no": inv.InvoiceNo,
				"order_id":   inv.OrderID,
				"total":      inv.TotalAmount.StringFixed(2),
			},
		}); err != nil {
			s.logger.Warn("audit log", slog.String("action", "invoice:generate"), slog.Any("error", err))
		}
	}
	return result, nil
}

// GetInvoice returns the invoice with its lines.
func (s *Service) GetInvoice(ctx context.Context, caller shared.Caller, invoiceID int64) (Invoice, error) {
	inv, err := s.repo.Get(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if err := caller.RequireDistributor(inv.DistributorID); err != nil {
		return Invoice{}, err
	}
	if s.catalog != nil && len(inv.Lines) > 0 {
		names := make([]string, len(inv.Lines))
		for i, l := range inv.Lines {
			names[i] = l.ProductName
		}
		ids := s.catalog.ProductIDs(ctx, names)
		for i := range inv.Lines {
			inv.Lines[i].ProductID = ids[shared.ProductKey(inv.Lines[i].ProductName)]
		}
	}
	return inv, nil
}
