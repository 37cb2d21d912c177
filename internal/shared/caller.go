package shared

import (
	"context"
	"fmt"
)

// Role enumerates the actors allowed to call core operations.
type Role string

const (
	RoleFieldOfficer Role = "FIELD_OFFICER"
	RoleDistributor  Role = "DISTRIBUTOR"
	RoleWarehouse    Role = "WAREHOUSE"
	RoleSalesManager Role = "SALES_MANAGER"
	RoleAdmin        Role = "ADMIN"
)

// Valid reports whether the role is known.
func (r Role) Valid() bool {
	switch r {
	case RoleFieldOfficer, RoleDistributor, RoleWarehouse, RoleSalesManager, RoleAdmin:
		return true
	}
	return false
}

// Caller identifies who performs an operation. It is passed explicitly to every
// service call instead of being read from ambient session state.
type Caller struct {
	UserID        int64
	Role          Role
	DistributorID int64
}

// HasRole reports whether the caller holds one of the supplied roles.
func (c Caller) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// CanActFor reports whether the caller may operate on data owned by distributorID.
// Admins and sales managers span every distributor; everyone else is scoped to
// their own distributor.
func (c Caller) CanActFor(distributorID int64) bool {
	if c.Role == RoleAdmin || c.Role == RoleSalesManager {
		return true
	}
	return c.DistributorID != 0 && c.DistributorID == distributorID
}

// RequireRole returns ErrForbidden unless the caller holds one of roles.
func (c Caller) RequireRole(roles ...Role) error {
	if c.HasRole(roles...) {
		return nil
	}
	return fmt.Errorf("%w: role %s not permitted", ErrForbidden, c.Role)
}

// RequireDistributor returns ErrForbidden when the caller is scoped elsewhere.
func (c Caller) RequireDistributor(distributorID int64) error {
	if c.CanActFor(distributorID) {
		return nil
	}
	return fmt.Errorf("%w: distributor %d outside caller scope", ErrForbidden, distributorID)
}

func (c Caller) String() string {
	return fmt.Sprintf("%s#%d@%d", c.Role, c.UserID, c.DistributorID)
}

type callerContextKey struct{}

// ContextWithCaller stores the caller resolved by the HTTP edge.
func ContextWithCaller(ctx context.Context, caller Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, caller)
}

// CallerFromContext extracts the caller; ok is false when the edge did not set one.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	caller, ok := ctx.Value(callerContextKey{}).(Caller)
	return caller, ok
}
