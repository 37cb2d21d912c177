package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/distrochain/distrochain/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	StockCard(ctx context.Context, filter StockCardFilter) ([]Movement, error)
	Drifts(ctx context.Context, distributorID int64) ([]Drift, error)
	DistributorIDs(ctx context.Context) ([]int64, error)
	ExpiringBatches(ctx context.Context, before time.Time) ([]Batch, error)
}

// Service exposes inventory reads and consistency checks. Stock writes happen
// through TxStore inside the owning operation's transaction.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// ListBatches lists a distributor's batches in FEFO order.
func (s *Service) ListBatches(ctx context.Context, caller shared.Caller, filter BatchFilter) ([]Batch, error) {
	if filter.DistributorID == 0 {
		filter.DistributorID = caller.DistributorID
	}
	if err := caller.RequireDistributor(filter.DistributorID); err != nil {
		return nil, err
	}
	return s.repo.ListBatches(ctx, filter)
}

// SuggestFEFO proposes batches for qty pieces of a product, earliest expiry first.
func (s *Service) SuggestFEFO(ctx context.Context, caller shared.Caller, distributorID int64, productName string, qty int64) ([]Pick, error) {
	if shared.ProductName(productName) == "" {
		return nil, fmt.Errorf("%w: product name required", shared.ErrValidation)
	}
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	batches, err := s.ListBatches(ctx, caller, BatchFilter{DistributorID: distributorID, ProductName: productName})
	if err != nil {
		return nil, err
	}
	return PlanFEFO(batches, qty, s.now())
}

// PlanFEFO walks batches by expiry, skipping expired ones, until qty is covered.
// When stock runs out the partial plan is returned with ErrInsufficientStock.
func PlanFEFO(batches []Batch, qty int64, now time.Time) ([]Pick, error) {
	var picks []Pick
	remaining := qty
	for _, b := range sortedByExpiry(batches) {
		if remaining == 0 {
			break
		}
		if b.Qty <= 0 || b.Expired(now) {
			continue
		}
		take := min(b.Qty, remaining)
		picks = append(picks, Pick{BatchNo: b.BatchNo, ExpiryDate: b.ExpiryDate, Qty: take})
		remaining -= take
	}
	if remaining > 0 {
		return picks, fmt.Errorf("%w: %d pieces short", ErrInsufficientStock, remaining)
	}
	return picks, nil
}

// StockCard lists movements of a product for the caller's distributor.
func (s *Service) StockCard(ctx context.Context, caller shared.Caller, filter StockCardFilter) ([]Movement, error) {
	if filter.DistributorID == 0 {
		filter.DistributorID = caller.DistributorID
	}
	if err := caller.RequireDistributor(filter.DistributorID); err != nil {
		return nil, err
	}
	if shared.ProductName(filter.ProductName) == "" {
		return nil, fmt.Errorf("%w: product name required", shared.ErrValidation)
	}
	return s.repo.StockCard(ctx, filter)
}

// CheckConsistency reports aggregates that differ from the sum of their batches.
// distributorID 0 scans every distributor.
func (s *Service) CheckConsistency(ctx context.Context, distributorID int64) ([]Drift, error) {
	if distributorID != 0 {
		drifts, err := s.repo.Drifts(ctx, distributorID)
		if err != nil {
			return nil, err
		}
		s.logDrifts(drifts)
		return drifts, nil
	}
	ids, err := s.repo.DistributorIDs(ctx)
	if err != nil {
		return nil, err
	}
	var (
		mu     sync.Mutex
		drifts []Drift
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, id := range ids {
		g.Go(func() error {
			found, err := s.repo.Drifts(gctx, id)
			if err != nil {
				return fmt.Errorf("distributor %d: %w", id, err)
			}
			mu.Lock()
			drifts = append(drifts, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sortDrifts(drifts)
	s.logDrifts(drifts)
	return drifts, nil
}

func (s *Service) logDrifts(drifts []Drift) {
	for _, d := range drifts {
		s.logger.Warn("inventory drift",
			slog.Int64("distributor_id", d.DistributorID),
			slog.String("product_key", d.ProductKey),
			slog.Int64("aggregate_qty", d.AggregateQty),
			slog.Int64("batch_qty", d.BatchQty),
		)
	}
}

// ExpiringBatches lists stocked batches expiring within the window.
func (s *Service) ExpiringBatches(ctx context.Context, within time.Duration) ([]Batch, error) {
	if within <= 0 {
		return nil, errors.New("inventory: expiry window must be positive")
	}
	return s.repo.ExpiringBatches(ctx, s.now().Add(within))
}
