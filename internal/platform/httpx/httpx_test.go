package httpx

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/distrochain/distrochain/internal/shared"
)

func TestRespondErrorMapsTaxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: qty must be positive", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: distributor 9", shared.ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("order 4: %w", shared.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: order is DISPATCHED", shared.ErrLocked), http.StatusConflict},
		{fmt.Errorf("%w: batch B1 short", shared.ErrIntegrity), http.StatusUnprocessableEntity},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		RespondError(rr, tc.err)
		require.Equal(t, tc.status, rr.Code, tc.err.Error())
		if tc.status == http.StatusInternalServerError {
			require.NotContains(t, rr.Body.String(), "boom")
		}
	}
}

type bindTarget struct {
	Name string `json:"name" validate:"required"`
	Qty  int64  `json:"qty" validate:"gt=0"`
}

func TestBindValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"","qty":0}`))
	var target bindTarget
	err := Bind(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Contains(t, err.Error(), "bindTarget.Name")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"soap","qty":2}`))
	require.NoError(t, Bind(req, &target))
	require.Equal(t, int64(2), target.Qty)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"soap","qty":2,"extra":1}`))
	require.ErrorIs(t, Bind(req, &target), shared.ErrValidation)
}
