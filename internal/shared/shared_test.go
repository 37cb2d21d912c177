package shared

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestCallerScope(t *testing.T) {
	fo := Caller{UserID: 7, Role: RoleFieldOfficer, DistributorID: 3}
	require.True(t, fo.CanActFor(3))
	require.False(t, fo.CanActFor(4))
	require.ErrorIs(t, fo.RequireDistributor(4), ErrForbidden)
	require.ErrorIs(t, fo.RequireRole(RoleSalesManager, RoleAdmin), ErrForbidden)
	require.NoError(t, fo.RequireRole(RoleFieldOfficer))

	unscoped := Caller{UserID: 8, Role: RoleDistributor}
	require.False(t, unscoped.CanActFor(0))

	admin := Caller{UserID: 1, Role: RoleAdmin}
	require.True(t, admin.CanActFor(99))
}

func TestCallerContextRoundTrip(t *testing.T) {
	_, ok := CallerFromContext(context.Background())
	require.False(t, ok)

	want := Caller{UserID: 2, Role: RoleWarehouse, DistributorID: 5}
	got, ok := CallerFromContext(ContextWithCaller(context.Background(), want))
	require.True(t, ok)
	require.Equal(t, want, got)
}

func TestProductKeyFoldsCaseAndSpace(t *testing.T) {
	require.Equal(t, ProductKey("soap"), ProductKey("  SOAP "))
	require.Equal(t, "Soap", ProductName("  Soap "))
	require.NotEqual(t, ProductKey("soap"), ProductKey("soap bar"))
}

func TestPgErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	require.True(t, IsUniqueViolation(unique))
	require.False(t, IsRetryable(unique))
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40001"}))
	require.True(t, IsCheckViolation(&pgconn.PgError{Code: "23514"}))
	require.False(t, IsUniqueViolation(errors.New("plain")))
}

type recordingExec struct {
	sql  string
	args []any
}

func (r *recordingExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql = sql
	r.args = args
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestInsertApprovalValidates(t *testing.T) {
	exec := &recordingExec{}
	err := InsertApproval(context.Background(), exec, ApprovalLog{Module: ApprovalModuleStockAudit, ActorID: 1, Action: ApprovalApprove})
	require.Error(t, err)
	require.Empty(t, exec.sql)

	ref := uuid.New()
	err = InsertApproval(context.Background(), exec, ApprovalLog{Module: ApprovalModuleStockAudit, RefID: ref, ActorID: 1, Role: RoleSalesManager, Action: ApprovalApprove})
	require.NoError(t, err)
	require.Contains(t, exec.sql, "INSERT INTO approvals")
	require.Equal(t, ref, exec.args[1])
	require.Equal(t, "SALES_MANAGER", exec.args[3])
}
