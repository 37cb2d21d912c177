package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/distrochain/distrochain/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	ListEntries(ctx context.Context, retailerID int64, until time.Time) ([]Entry, error)
	Totals(ctx context.Context, retailerID int64, from, to time.Time) (Totals, error)
}

// SummaryCache caches retailer summaries.
type SummaryCache interface {
	Summary(ctx context.Context, retailerID int64, loader func(context.Context) (Summary, error)) (Summary, error)
	Invalidate(ctx context.Context, retailerID int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service appends to and reads the retailer ledger.
type Service struct {
	repo      RepositoryPort
	retailers shared.RetailerScope
	cache     SummaryCache
	audit     AuditPort
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds Service. cache and audit may be nil.
func NewService(repo RepositoryPort, retailers shared.RetailerScope, cache SummaryCache, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		retailers: retailers,
		cache:     cache,
		audit:     audit,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// AppendEntry appends a manual ledger entry, typically a collection (CREDIT).
// A CREDIT referencing an invoice number refreshes that invoice's paid amount.
func (s *Service) AppendEntry(ctx context.Context, caller shared.Caller, input AppendInput) (int64, error) {
	if !input.Type.Valid() {
		return 0, ErrInvalidEntryType
	}
	if !input.Amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	switch input.Type {
	case EntryCredit:
		if err := caller.RequireRole(shared.RoleFieldOfficer, shared.RoleDistributor, shared.RoleAdmin); err != nil {
			return 0, err
		}
	case EntryDebit:
		if err := caller.RequireRole(shared.RoleDistributor, shared.RoleAdmin); err != nil {
			return 0, err
		}
	}
	if _, err := shared.AuthorizeRetailer(ctx, s.retailers, caller, input.RetailerID); err != nil {
		return 0, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	entry := Entry{
		RetailerID: input.RetailerID,
		Type:       input.Type,
		Amount:     input.Amount.Round(2),
		Date:       date,
		Reference:  strings.TrimSpace(input.Reference),
		Narration:  strings.TrimSpace(input.Narration),
		CreatedBy:  caller.UserID,
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		var err error
		id, err = tx.InsertEntry(ctx, entry)
		if err != nil {
			return fmt.Errorf("insert ledger entry: %w", err)
		}
		if entry.Type == EntryCredit && entry.Reference != "" {
			if err := tx.RefreshInvoicePaid(ctx, entry.Reference); err != nil {
				return fmt.Errorf("refresh invoice paid: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.Invalidate(ctx, entry.RetailerID)
	s.record(ctx, caller, "ledger:"+string(entry.Type), id, map[string]any{
		"retailer_id": entry.RetailerID,
		"amount":      entry.Amount.StringFixed(2),
		"reference":   entry.Reference,
	})
	return id, nil
}

// Invalidate drops the cached summary after a write that touched the retailer's ledger.
func (s *Service) Invalidate(ctx context.Context, retailerID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, retailerID); err != nil {
		s.logger.Warn("ledger cache invalidate", slog.Int64("retailer_id", retailerID), slog.Any("error", err))
	}
}

// Entries returns the statement with running balances.
func (s *Service) Entries(ctx context.Context, caller shared.Caller, retailerID int64, filter EntryFilter) ([]StatementLine, error) {
	if _, err := shared.AuthorizeRetailer(ctx, s.retailers, caller, retailerID); err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && !filter.From.Before(filter.To) {
		return nil, fmt.Errorf("%w: ledger: from must be before to", shared.ErrValidation)
	}
	entries, err := s.repo.ListEntries(ctx, retailerID, filter.To)
	if err != nil {
		return nil, err
	}
	return Statement(entries, filter.From), nil
}

// Balance returns Σ DEBIT − Σ CREDIT; negative means the retailer is in advance.
func (s *Service) Balance(ctx context.Context, caller shared.Caller, retailerID int64) (Totals, error) {
	if _, err := shared.AuthorizeRetailer(ctx, s.retailers, caller, retailerID); err != nil {
		return Totals{}, err
	}
	return s.repo.Totals(ctx, retailerID, time.Time{}, time.Time{})
}

// Summary returns billed, collected and pending amounts. Collected is always the
// sum of CREDIT entries.
func (s *Service) Summary(ctx context.Context, caller shared.Caller, retailerID int64) (Summary, error) {
	if _, err := shared.AuthorizeRetailer(ctx, s.retailers, caller, retailerID); err != nil {
		return Summary{}, err
	}
	load := func(ctx context.Context) (Summary, error) {
		totals, err := s.repo.Totals(ctx, retailerID, time.Time{}, time.Time{})
		if err != nil {
			return Summary{}, err
		}
		return Summarize(retailerID, totals), nil
	}
	if s.cache == nil {
		return load(ctx)
	}
	return s.cache.Summary(ctx, retailerID, load)
}

// Windows returns today, week and month totals relative to the service clock.
func (s *Service) Windows(ctx context.Context, caller shared.Caller, retailerID int64) (Windows, error) {
	if _, err := shared.AuthorizeRetailer(ctx, s.retailers, caller, retailerID); err != nil {
		return Windows{}, err
	}
	today, week, month := WindowBounds(s.now())
	var out Windows
	var err error
	if out.Today, err = s.repo.Totals(ctx, retailerID, today, time.Time{}); err != nil {
		return Windows{}, err
	}
	if out.Week, err = s.repo.Totals(ctx, retailerID, week, time.Time{}); err != nil {
		return Windows{}, err
	}
	if out.Month, err = s.repo.Totals(ctx, retailerID, month, time.Time{}); err != nil {
		return Windows{}, err
	}
	return out, nil
}

// Aging returns outstanding amounts by age as of asOf (zero = now).
func (s *Service) Aging(ctx context.Context, caller shared.Caller, retailerID int64, asOf time.Time) (Aging, error) {
	if _, err := shared.AuthorizeRetailer(ctx, s.retailers, caller, retailerID); err != nil {
		return Aging{}, err
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	entries, err := s.repo.ListEntries(ctx, retailerID, time.Time{})
	if err != nil {
		return Aging{}, err
	}
	return AgeEntries(entries, asOf), nil
}

func (s *Service) record(ctx context.Context, caller shared.Caller, action string, entryID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		Actor:    caller,
		Action:   action,
		Entity:   "ledger_entry",
		EntityID: strconv.FormatInt(entryID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit log", slog.String("action", action), slog.Any("error", err))
	}
}
