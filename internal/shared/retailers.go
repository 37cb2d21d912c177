package shared

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RetailerScope resolves which distributor a retailer belongs to.
type RetailerScope interface {
	DistributorOf(ctx context.Context, retailerID int64) (int64, error)
}

// RetailerDirectory reads retailer ownership from PostgreSQL.
type RetailerDirectory struct {
	pool *pgxpool.Pool
}

// NewRetailerDirectory constructs RetailerDirectory.
func NewRetailerDirectory(pool *pgxpool.Pool) *RetailerDirectory {
	return &RetailerDirectory{pool: pool}
}

// DistributorOf returns the owning distributor id.
func (d *RetailerDirectory) DistributorOf(ctx context.Context, retailerID int64) (int64, error) {
	var distributorID int64
	err := d.pool.QueryRow(ctx, `SELECT distributor_id FROM retailers WHERE id = $1`, retailerID).Scan(&distributorID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("retailer %d: %w", retailerID, ErrNotFound)
	}
	return distributorID, err
}

// AuthorizeRetailer checks that the caller may act for the retailer's distributor and
// returns that distributor.
func AuthorizeRetailer(ctx context.Context, scope RetailerScope, caller Caller, retailerID int64) (int64, error) {
	if retailerID <= 0 {
		return 0, fmt.Errorf("%w: retailer id required", ErrValidation)
	}
	distributorID, err := scope.DistributorOf(ctx, retailerID)
	if err != nil {
		return 0, err
	}
	if !caller.CanActFor(distributorID) {
		return 0, fmt.Errorf("%w: retailer %d belongs to distributor %d", ErrForbidden, retailerID, distributorID)
	}
	return distributorID, nil
}

// StaticRetailers is an in-memory RetailerScope keyed by retailer id.
type StaticRetailers map[int64]int64

// DistributorOf implements RetailerScope.
func (s StaticRetailers) DistributorOf(_ context.Context, retailerID int64) (int64, error) {
	distributorID, ok := s[retailerID]
	if !ok {
		return 0, fmt.Errorf("retailer %d: %w", retailerID, ErrNotFound)
	}
	return distributorID, nil
}
