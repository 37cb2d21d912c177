package shared

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error classes shared by every core package. Package errors wrap exactly one of
// these so the HTTP edge can map them without knowing the package.
var (
	// ErrValidation marks malformed input. Nothing was written.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden marks a caller acting outside its role or distributor.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrIntegrity marks a stock or ledger rule violation. The transaction was rolled back.
	ErrIntegrity = errors.New("integrity violation")
	// ErrLocked marks an entity whose lifecycle state forbids the operation.
	ErrLocked = errors.New("locked")
)

const (
	pgUniqueViolation      = "23505"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == pgUniqueViolation
}

// IsCheckViolation reports whether err is a PostgreSQL CHECK constraint violation.
func IsCheckViolation(err error) bool {
	return pgCode(err) == pgCheckViolation
}

// IsRetryable reports serialization failures and deadlocks.
func IsRetryable(err error) bool {
	code := pgCode(err)
	return code == pgSerializationFailure || code == pgDeadlockDetected
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
