package api

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/web/auth"
	"github.com/conduit-lang/crudkit/internal/web/middleware"
	"github.com/conduit-lang/crudkit/internal/web/profiling"
	"github.com/conduit-lang/crudkit/internal/web/ratelimit"
	"github.com/conduit-lang/crudkit/internal/web/response"
)

// RouterConfig holds the shared pieces of the HTTP surface
type RouterConfig struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	// Auth verifies bearer tokens. Without it every request is anonymous.
	Auth *auth.AuthService
	// RateLimiter throttles resource requests per caller when set
	RateLimiter ratelimit.Limiter
	// Profiling mounts pprof under profiling.DefaultPath when set
	Profiling *profiling.Config
}

// NewRouter mounts resources under /{name} behind the standard middleware
// stack: request id, recovery, logging, metrics, bearer auth and the
// optional rate limit. It also serves /healthz, /metrics when metrics are
// configured and the role-gated pprof endpoints when profiling is.
func NewRouter(cfg RouterConfig, resources ...Resource) chi.Router {
	logger := observability.OrNop(cfg.Logger)

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logging(logger, "/healthz", "/metrics"),
		middleware.Metrics(cfg.Metrics),
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		response.RenderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	if cfg.Profiling != nil {
		r.Group(func(r chi.Router) {
			if cfg.Auth != nil {
				r.Use(middleware.Auth(cfg.Auth, logger))
			}
			r.Mount(profiling.DefaultPath, profiling.Handler(*cfg.Profiling))
		})
	}

	r.Group(func(r chi.Router) {
		if cfg.Auth != nil {
			r.Use(middleware.Auth(cfg.Auth, logger))
		}
		if cfg.RateLimiter != nil {
			r.Use(ratelimit.Middleware(cfg.RateLimiter, ratelimit.ByPrincipalOrIP, logger))
		}
		for _, res := range resources {
			r.Mount("/"+res.Name(), res.Routes())
		}
	})
	return r
}

// Routes lists the endpoints of resources ordered by pattern and method
func Routes(resources ...Resource) []RouteInfo {
	var out []RouteInfo
	for _, res := range resources {
		out = append(out, res.RouteInfos()...)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		return out[i].Method < out[j].Method
	})
	return out
}
