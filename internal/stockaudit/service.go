package stockaudit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/distrochain/distrochain/internal/inventory"
	"github.com/distrochain/distrochain/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAudit(ctx context.Context, id uuid.UUID) (StockAudit, error)
}

// HistoryPort reads approval history.
type HistoryPort interface {
	List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts approvals.
type MetricsPort interface {
	AuditApproved(adjustments int)
	StockRejected(module string)
}

// Service reconciles counted stock against the system, at retailers and in the
// distributor warehouse.
type Service struct {
	repo      RepositoryPort
	retailers shared.RetailerScope
	history   HistoryPort
	audit     AuditPort
	metrics   MetricsPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service. history and audit may be nil.
func NewService(repo RepositoryPort, retailers shared.RetailerScope, history HistoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		retailers: retailers,
		history:   history,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithMetrics attaches a metrics sink.
func (s *Service) WithMetrics(m MetricsPort) *Service {
	s.metrics = m
	return s
}

// SubmitFieldAudit stores a retailer shelf count and moves the retailer snapshot to
// the counted quantities. Field audits have no approval step.
func (s *Service) SubmitFieldAudit(ctx context.Context, caller shared.Caller, retailerID int64, inputs []FieldLineInput) (FieldAuditResult, error) {
	if err := caller.RequireRole(shared.RoleFieldOfficer, shared.RoleDistributor, shared.RoleSalesManager, shared.RoleAdmin); err != nil {
		return FieldAuditResult{}, err
	}
	if len(inputs) == 0 {
		return FieldAuditResult{}, fmt.Errorf("%w: field audit needs at least one line", shared.ErrValidation)
	}
	distributorID, err := shared.AuthorizeRetailer(ctx, s.retailers, caller, retailerID)
	if err != nil {
		return FieldAuditResult{}, err
	}

	keys := make([]SnapshotKey, len(inputs))
	seen := make(map[SnapshotKey]int, len(inputs))
	for i, in := range inputs {
		name := shared.ProductName(in.ProductName)
		batchNo := strings.TrimSpace(in.BatchNo)
		switch {
		case name == "":
			return FieldAuditResult{}, fmt.Errorf("%w: line %d: product name required", shared.ErrValidation, i+1)
		case batchNo == "":
			return FieldAuditResult{}, fmt.Errorf("%w: line %d: batch number required", shared.ErrValidation, i+1)
		case in.ExpiryDate.IsZero():
			return FieldAuditResult{}, fmt.Errorf("%w: line %d: expiry date required", shared.ErrValidation, i+1)
		case in.PhysicalQty == nil || *in.PhysicalQty < 0:
			return FieldAuditResult{}, fmt.Errorf("%w: line %d: physical qty must be zero or more", shared.ErrValidation, i+1)
		case in.SystemQty != nil && *in.SystemQty < 0:
			return FieldAuditResult{}, fmt.Errorf("%w: line %d: system qty must be zero or more", shared.ErrValidation, i+1)
		}
		k := SnapshotKey{
			DistributorID: distributorID,
			RetailerID:    retailerID,
			ProductKey:    shared.ProductKey(name),
			BatchNo:       batchNo,
			ExpiryDate:    dateOnly(in.ExpiryDate),
		}
		if prev, dup := seen[k]; dup {
			return FieldAuditResult{}, fmt.Errorf("%w: lines %d and %d count the same product batch", shared.ErrValidation, prev, i+1)
		}
		seen[k] = i + 1
		keys[i] = k
	}

	var result FieldAuditResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertFieldAudit(ctx, FieldAudit{DistributorID: distributorID, RetailerID: retailerID, CreatedBy: caller.UserID})
		if err != nil {
			return fmt.Errorf("insert field audit: %w", err)
		}
		lines := make([]FieldLine, 0, len(inputs))
		for i, in := range inputs {
			system := int64(0)
			if in.SystemQty != nil {
				system = *in.SystemQty
			} else {
				qty, found, err := tx.SnapshotQty(ctx, keys[i])
				if err != nil {
					return fmt.Errorf("read snapshot: %w", err)
				}
				if found {
					system = qty
				}
			}
			line := FieldLine{
				AuditID:     id,
				ProductName: shared.ProductName(in.ProductName),
				BatchNo:     keys[i].BatchNo,
				ExpiryDate:  keys[i].ExpiryDate,
				SystemQty:   system,
				PhysicalQty: *in.PhysicalQty,
			}
			line.Variance = line.PhysicalQty - line.SystemQty
			line.MismatchType = Classify(line.Variance)
			if err := tx.InsertFieldLine(ctx, line); err != nil {
				return fmt.Errorf("insert field line: %w", err)
			}
			if err := tx.UpsertSnapshot(ctx, keys[i], line.ProductName, line.PhysicalQty); err != nil {
				return fmt.Errorf("upsert snapshot: %w", err)
			}
			lines = append(lines, line)
		}
		result = FieldAuditResult{AuditID: id, Lines: lines}
		return nil
	})
	if err != nil {
		return FieldAuditResult{}, err
	}
	s.record(ctx, caller, "field_audit:submit", "field_audit", strconv.FormatInt(result.AuditID, 10), map[string]any{
		"retailer_id": retailerID,
		"lines":       len(result.Lines),
	})
	return result, nil
}

// OpenWarehouseAudit returns the audit of the month for the distributor, creating a
// DRAFT seeded from current batches when none exists.
func (s *Service) OpenWarehouseAudit(ctx context.Context, caller shared.Caller, distributorID int64, monthKey string) (StockAudit, error) {
	if err := caller.RequireRole(shared.RoleDistributor, shared.RoleWarehouse, shared.RoleSalesManager, shared.RoleAdmin); err != nil {
		return StockAudit{}, err
	}
	if err := caller.RequireDistributor(distributorID); err != nil {
		return StockAudit{}, err
	}
	month, err := ParseMonthKey(monthKey)
	if err != nil {
		return StockAudit{}, err
	}

	var (
		id      uuid.UUID
		created bool
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.AuditIDByMonth(ctx, distributorID, month)
		if err == nil {
			id = existing
			return nil
		}
		if !errors.Is(err, ErrAuditNotFound) {
			return err
		}
		audit := StockAudit{ID: uuid.New(), DistributorID: distributorID, MonthKey: month, Status: StatusDraft, CreatedBy: caller.UserID}
		inserted, err := tx.InsertAudit(ctx, audit)
		if err != nil {
			return fmt.Errorf("insert stock audit: %w", err)
		}
		if !inserted {
			id, err = tx.AuditIDByMonth(ctx, distributorID, month)
			return err
		}
		batches, err := tx.ListBatches(ctx, distributorID)
		if err != nil {
			return fmt.Errorf("list batches: %w", err)
		}
		for _, b := range batches {
			if _, err := tx.InsertAuditLine(ctx, Line{
				AuditID:      audit.ID,
				ProductName:  b.ProductName,
				BatchNo:      b.BatchNo,
				ExpiryDate:   b.ExpiryDate,
				SystemQty:    b.Qty,
				PhysicalQty:  b.Qty,
				MismatchType: MismatchMatch,
			}); err != nil {
				return fmt.Errorf("insert audit line: %w", err)
			}
		}
		id, created = audit.ID, true
		return nil
	})
	if err != nil {
		return StockAudit{}, err
	}
	if created {
		s.record(ctx, caller, "stock_audit:open", "stock_audit", id.String(), map[string]any{
			"distributor_id": distributorID,
			"month":          month,
		})
	}
	return s.repo.GetAudit(ctx, id)
}

// PatchAuditLines updates counted quantities and explanations. A SUBMITTED audit
// must keep passing the variance gate.
func (s *Service) PatchAuditLines(ctx context.Context, caller shared.Caller, id uuid.UUID, patches []LinePatch) (StockAudit, error) {
	if len(patches) == 0 {
		return StockAudit{}, fmt.Errorf("%w: no line changes", shared.ErrValidation)
	}
	var out StockAudit
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		audit, err := s.lockScoped(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if audit.Status == StatusApproved {
			return lockedError(id, audit.Status)
		}
		index := make(map[int64]int, len(audit.Lines))
		for i, l := range audit.Lines {
			index[l.ID] = i
		}
		touched := make(map[int]struct{}, len(patches))
		for _, p := range patches {
			i, ok := index[p.LineID]
			if !ok {
				return fmt.Errorf("%w: line %d is not on audit %s", shared.ErrValidation, p.LineID, id)
			}
			l := &audit.Lines[i]
			if p.PhysicalQty != nil {
				if *p.PhysicalQty < 0 {
					return fmt.Errorf("%w: line %d: physical qty must be zero or more", shared.ErrValidation, p.LineID)
				}
				l.PhysicalQty = *p.PhysicalQty
			}
			if p.Reason != nil {
				l.Reason = strings.TrimSpace(*p.Reason)
			}
			if p.RootCause != nil {
				l.RootCause = strings.TrimSpace(*p.RootCause)
			}
			if p.Remarks != nil {
				l.Remarks = strings.TrimSpace(*p.Remarks)
			}
			l.recompute()
			touched[i] = struct{}{}
		}
		if audit.Status == StatusSubmitted {
			if err := gate(audit.Lines); err != nil {
				return err
			}
			audit.totals()
			if err := tx.UpdateAudit(ctx, audit); err != nil {
				return fmt.Errorf("update stock audit: %w", err)
			}
		}
		for _, i := range slices.Sorted(maps.Keys(touched)) {
			if err := tx.UpdateAuditLine(ctx, audit.Lines[i]); err != nil {
				return fmt.Errorf("update audit line: %w", err)
			}
		}
		out = audit
		return nil
	})
	if err != nil {
		return StockAudit{}, err
	}
	return out, nil
}

// AddAuditLine counts a batch missing from a DRAFT audit. The system quantity is
// the current batch quantity, or zero when the batch is not in stock.
func (s *Service) AddAuditLine(ctx context.Context, caller shared.Caller, id uuid.UUID, input NewLineInput) (StockAudit, error) {
	name := shared.ProductName(input.ProductName)
	batchNo := strings.TrimSpace(input.BatchNo)
	switch {
	case name == "":
		return StockAudit{}, fmt.Errorf("%w: product name required", shared.ErrValidation)
	case batchNo == "":
		return StockAudit{}, fmt.Errorf("%w: batch number required", shared.ErrValidation)
	case input.ExpiryDate.IsZero():
		return StockAudit{}, fmt.Errorf("%w: expiry date required", shared.ErrValidation)
	case input.PhysicalQty < 0:
		return StockAudit{}, fmt.Errorf("%w: physical qty must be zero or more", shared.ErrValidation)
	}
	expiry := dateOnly(input.ExpiryDate)

	var lineID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		audit, err := s.lockScoped(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		if audit.Status != StatusDraft {
			return lockedError(id, audit.Status)
		}
		key := shared.ProductKey(name)
		for _, l := range audit.Lines {
			if shared.ProductKey(l.ProductName) == key && l.BatchNo == batchNo {
				return fmt.Errorf("%w: %s/%s is already line %d", shared.ErrValidation, name, batchNo, l.ID)
			}
		}
		line := Line{
			AuditID:     id,
			ProductName: name,
			BatchNo:     batchNo,
			ExpiryDate:  expiry,
			PhysicalQty: input.PhysicalQty,
			Reason:      strings.TrimSpace(input.Reason),
			RootCause:   strings.TrimSpace(input.RootCause),
			Remarks:     strings.TrimSpace(input.Remarks),
		}
		batch, err := tx.GetBatchForUpdate(ctx, audit.DistributorID, name, batchNo)
		switch {
		case err == nil:
			if !dateOnly(batch.ExpiryDate).Equal(expiry) {
				return fmt.Errorf("%w: %s/%s expires %s in stock", shared.ErrValidation, name, batchNo, batch.ExpiryDate.Format(time.DateOnly))
			}
			line.SystemQty = batch.Qty
		case !errors.Is(err, inventory.ErrBatchNotFound):
			return fmt.Errorf("read batch: %w", err)
		}
		line.recompute()
		lineID, err = tx.InsertAuditLine(ctx, line)
		if err != nil {
			return fmt.Errorf("insert audit line: %w", err)
		}
		return nil
	})
	if err != nil {
		return StockAudit{}, err
	}
	s.record(ctx, caller, "stock_audit:add_line", "stock_audit", id.String(), map[string]any{
		"line_id":  lineID,
		"product":  name,
		"batch_no": batchNo,
	})
	return s.repo.GetAudit(ctx, id)
}

// SubmitWarehouseAudit moves a DRAFT to SUBMITTED once every variance is explained.
// Submitting twice returns the current status.
func (s *Service) SubmitWarehouseAudit(ctx context.Context, caller shared.Caller, id uuid.UUID) (Status, error) {
	var (
		status    Status
		submitted bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		audit, err := s.lockScoped(ctx, tx, caller, id)
		if err != nil {
			return err
		}
		switch audit.Status {
		case StatusApproved:
			return lockedError(id, audit.Status)
		case StatusSubmitted:
			status = audit.Status
			return nil
		}
		if err := gate(audit.Lines); err != nil {
			return err
		}
		now := s.now()
		audit.totals()
		audit.Status = StatusSubmitted
		audit.SubmittedBy = &caller.UserID
		audit.SubmittedAt = &now
		if err := tx.UpdateAudit(ctx, audit); err != nil {
			return fmt.Errorf("update stock audit: %w", err)
		}
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  shared.ApprovalModuleStockAudit,
			RefID:   id,
			ActorID: caller.UserID,
			Role:    caller.Role,
			Action:  shared.ApprovalSubmit,
			At:      now,
		}); err != nil {
			return fmt.Errorf("record submit: %w", err)
		}
		status, submitted = audit.Status, true
		return nil
	})
	if err != nil {
		return "", err
	}
	if submitted {
		s.record(ctx, caller, "stock_audit:submit", "stock_audit", id.String(), nil)
	}
	return status, nil
}

// ApproveAudit applies every non-zero variance of a SUBMITTED audit to stock and
// locks the audit.
func (s *Service) ApproveAudit(ctx context.Context, caller shared.Caller, id uuid.UUID) (ApproveResult, error) {
	if err := caller.RequireRole(shared.RoleSalesManager, shared.RoleAdmin); err != nil {
		return ApproveResult{}, err
	}
	var result ApproveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		audit, err := tx.LockAudit(ctx, id)
		if err != nil {
			return err
		}
		if audit.Status != StatusSubmitted {
			return lockedError(id, audit.Status)
		}
		now := s.now()
		ref := inventory.Ref{Module: "stock_audit", ID: id.String(), ActorID: caller.UserID, At: now}
		applied := 0
		for _, l := range audit.Lines {
			if l.Variance == 0 {
				continue
			}
			if err := applyVariance(ctx, tx, audit.DistributorID, l, ref); err != nil {
				return err
			}
			applied++
		}
		audit.totals()
		audit.Status = StatusApproved
		audit.ApprovedBy = &caller.UserID
		audit.ApprovedAt = &now
		if err := tx.UpdateAudit(ctx, audit); err != nil {
			return fmt.Errorf("update stock audit: %w", err)
		}
		if err := tx.RecordApproval(ctx, shared.ApprovalLog{
			Module:  shared.ApprovalModuleStockAudit,
			RefID:   id,
			ActorID: caller.UserID,
			Role:    caller.Role,
			Action:  shared.ApprovalApprove,
			Note:    fmt.Sprintf("%d adjustments", applied),
			At:      now,
		}); err != nil {
			return fmt.Errorf("record approval: %w", err)
		}
		result = ApproveResult{Status: audit.Status, AppliedAdjustmentCount: applied}
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrIntegrity) {
			s.logger.Warn("stock audit approval rejected", slog.String("audit_id", id.String()), slog.Any("error", err))
			if s.metrics != nil {
				s.metrics.StockRejected("stock_audit")
			}
		}
		return ApproveResult{}, err
	}
	if s.metrics != nil {
		s.metrics.AuditApproved(result.AppliedAdjustmentCount)
	}
	s.record(ctx, caller, "stock_audit:approve", "stock_audit", id.String(), map[string]any{
		"adjustments": result.AppliedAdjustmentCount,
	})
	return result, nil
}

// applyVariance moves one batch by the line variance. A batch absent from stock is
// created for a positive variance, which covers lines from AddAuditLine.
func applyVariance(ctx context.Context, tx TxRepository, distributorID int64, l Line, ref inventory.Ref) error {
	batch, err := tx.GetBatchForUpdate(ctx, distributorID, l.ProductName, l.BatchNo)
	if errors.Is(err, inventory.ErrBatchNotFound) && l.Variance > 0 {
		ref.Type = inventory.MovementAdjust
		_, err = inventory.Receive(ctx, tx, inventory.BatchCredit{
			DistributorID: distributorID,
			ProductName:   l.ProductName,
			BatchNo:       l.BatchNo,
			ExpiryDate:    l.ExpiryDate,
			Qty:           l.Variance,
		}, ref)
		return err
	}
	if err != nil {
		return err
	}
	_, err = inventory.Adjust(ctx, tx, batch, l.Variance, ref)
	return err
}

// GetAudit returns the audit with its lines and approval history.
func (s *Service) GetAudit(ctx context.Context, caller shared.Caller, id uuid.UUID) (StockAudit, error) {
	audit, err := s.repo.GetAudit(ctx, id)
	if err != nil {
		return StockAudit{}, err
	}
	if err := caller.RequireDistributor(audit.DistributorID); err != nil {
		return StockAudit{}, err
	}
	if s.history != nil {
		history, err := s.history.List(ctx, shared.ApprovalModuleStockAudit, id)
		if err != nil {
			s.logger.Warn("approval history", slog.String("audit_id", id.String()), slog.Any("error", err))
		} else {
			audit.History = history
		}
	}
	return audit, nil
}

func (s *Service) lockScoped(ctx context.Context, tx TxRepository, caller shared.Caller, id uuid.UUID) (StockAudit, error) {
	audit, err := tx.LockAudit(ctx, id)
	if err != nil {
		return StockAudit{}, err
	}
	if err := caller.RequireDistributor(audit.DistributorID); err != nil {
		return StockAudit{}, err
	}
	return audit, nil
}

// gate rejects variance lines without reason and remarks.
func gate(lines []Line) error {
	var missing []string
	for _, l := range lines {
		if !l.explained() {
			missing = append(missing, fmt.Sprintf("%s/%s", l.ProductName, l.BatchNo))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnexplainedVariance, strings.Join(missing, ", "))
	}
	return nil
}

func (a *StockAudit) totals() {
	a.SystemTotal, a.PhysicalTotal, a.NetVariance = 0, 0, 0
	for _, l := range a.Lines {
		a.SystemTotal += l.SystemQty
		a.PhysicalTotal += l.PhysicalQty
		a.NetVariance += l.Variance
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Service) record(ctx context.Context, caller shared.Caller, action, entity, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    caller,
		Action:   action,
		Entity:   entity,
		EntityID: id,
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
