package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/distrochain/distrochain/internal/observability"
	"github.com/distrochain/distrochain/internal/platform/httpx"
	"github.com/distrochain/distrochain/internal/shared"
)

// Gateway headers carrying the authenticated caller. Session handling lives in
// the gateway; the API trusts these headers.
const (
	HeaderUserID        = "X-User-ID"
	HeaderRole          = "X-Role"
	HeaderDistributorID = "X-Distributor-ID"
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the distrochain middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		ReferrerPolicy:     "no-referrer",
		SSLRedirect:        cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
	})

	timeout := 30 * time.Second
	if cfg.Config != nil && cfg.Config.AppRequestTimeout > 0 {
		timeout = cfg.Config.AppRequestTimeout
	}
	limit := 120
	if cfg.Config != nil && cfg.Config.RateLimitPerMinute > 0 {
		limit = cfg.Config.RateLimitPerMinute
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, cfg.Metrics.Middleware)
	}
	return middlewares
}

// CallerMiddleware resolves the caller from gateway headers. Requests without a
// valid caller are rejected with 403.
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, err := callerFromHeaders(r.Header)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithCaller(r.Context(), caller)))
	})
}

func callerFromHeaders(h http.Header) (shared.Caller, error) {
	userID, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderUserID)), 10, 64)
	if err != nil || userID <= 0 {
		return shared.Caller{}, fmt.Errorf("%w: missing or invalid %s", shared.ErrForbidden, HeaderUserID)
	}
	role := shared.Role(strings.ToUpper(strings.TrimSpace(h.Get(HeaderRole))))
	if !role.Valid() {
		return shared.Caller{}, fmt.Errorf("%w: unknown role %q", shared.ErrForbidden, h.Get(HeaderRole))
	}
	var distributorID int64
	if raw := strings.TrimSpace(h.Get(HeaderDistributorID)); raw != "" {
		distributorID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || distributorID < 0 {
			return shared.Caller{}, fmt.Errorf("%w: invalid %s", shared.ErrForbidden, HeaderDistributorID)
		}
	}
	return shared.Caller{UserID: userID, Role: role, DistributorID: distributorID}, nil
}
