package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

type failingQuerier struct {
	calls int
	args  []any
}

func (q *failingQuerier) Query(_ context.Context, _ string, args ...any) (pgx.Rows, error) {
	q.calls++
	q.args = args
	return nil, errors.New("connection refused")
}

func TestProductIDsDegradesToEmpty(t *testing.T) {
	q := &failingQuerier{}
	d := NewDirectory(q, nil)

	ids := d.ProductIDs(context.Background(), []string{"Soap", " soap ", "Cream"})
	require.NotNil(t, ids)
	require.Empty(t, ids)
	require.Equal(t, 1, q.calls)
	require.Equal(t, []string{"soap", "cream"}, q.args[0])
}

func TestProductIDsSkipsEmptyInput(t *testing.T) {
	q := &failingQuerier{}
	d := NewDirectory(q, nil)

	require.Empty(t, d.ProductIDs(context.Background(), []string{" ", ""}))
	require.Zero(t, q.calls)

	var nilDir *Directory
	require.Empty(t, nilDir.ProductIDs(context.Background(), []string{"Soap"}))
}
