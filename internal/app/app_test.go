package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/distrochain/distrochain/internal/observability"
	"github.com/distrochain/distrochain/internal/orders"
	"github.com/distrochain/distrochain/internal/shared"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.Error(t, err, "empty dsn must be rejected")

	t.Setenv("PG_DSN", "postgres://localhost/distrochain")
	cfg, err = LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.LedgerCacheTTL)
	require.Equal(t, 120, cfg.RateLimitPerMinute)
	require.Equal(t, 720*time.Hour, cfg.ExpiryWindow)
	require.EqualValues(t, 20, cfg.PGMaxConns)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigValidation(t *testing.T) {
	cases := map[string][2]string{
		"rate limit":   {"RATE_LIMIT_PER_MINUTE", "0"},
		"cache ttl":    {"LEDGER_CACHE_TTL", "0s"},
		"short window": {"EXPIRY_WINDOW", "1h"},
		"log level":    {"LOG_LEVEL", "loud"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("PG_DSN", "postgres://localhost/distrochain")
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestParseTestMode(t *testing.T) {
	for raw, want := range map[string]bool{"1": true, "true": true, "": false, "0": false, "yes": false} {
		require.Equal(t, want, parseTestMode(raw), raw)
	}
}

func TestLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, `"msg":"shown"`)
}

func TestCallerFromHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderUserID, "7")
	h.Set(HeaderRole, "distributor")
	h.Set(HeaderDistributorID, "3")

	caller, err := callerFromHeaders(h)
	require.NoError(t, err)
	require.Equal(t, shared.Caller{UserID: 7, Role: shared.RoleDistributor, DistributorID: 3}, caller)

	bad := []http.Header{
		{},
		{HeaderUserID: {"7"}, HeaderRole: {"JANITOR"}},
		{HeaderUserID: {"abc"}, HeaderRole: {"ADMIN"}},
		{HeaderUserID: {"7"}, HeaderRole: {"ADMIN"}, HeaderDistributorID: {"-1"}},
	}
	for _, header := range bad {
		_, err := callerFromHeaders(header)
		require.ErrorIs(t, err, shared.ErrForbidden)
	}
}

type orderStub struct {
	seen shared.Caller
}

func (s *orderStub) SubmitOrder(context.Context, shared.Caller, orders.SubmitInput) (orders.SubmitResult, error) {
	return orders.SubmitResult{}, nil
}

func (s *orderStub) EditOrder(context.Context, shared.Caller, int64, []orders.LineQtyChange) (orders.Order, error) {
	return orders.Order{}, nil
}

func (s *orderStub) DeleteOrder(context.Context, shared.Caller, int64) (bool, error) {
	return true, nil
}

func (s *orderStub) GetOrder(_ context.Context, caller shared.Caller, orderID int64) (orders.Order, error) {
	s.seen = caller
	return orders.Order{ID: orderID}, nil
}

func TestRouterResolvesCallerForAPI(t *testing.T) {
	stub := &orderStub{}
	router := NewRouter(RouterParams{
		Config:        &Config{RateLimitPerMinute: 100, AppRequestTimeout: time.Second},
		Metrics:       observability.NewMetrics(),
		OrdersHandler: orders.NewHandler(nil, stub),
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/orders/42", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/orders/42", nil)
	req.Header.Set(HeaderUserID, "9")
	req.Header.Set(HeaderRole, "SALES_MANAGER")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, shared.RoleSalesManager, stub.seen.Role)
	require.EqualValues(t, 9, stub.seen.UserID)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "distrochain_http_requests_total"))
}
