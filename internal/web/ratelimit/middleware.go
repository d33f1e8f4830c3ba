package ratelimit

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/web/response"
)

// Response headers
const (
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderReset     = "X-RateLimit-Reset"
)

// KeyFunc picks the bucket of a request
type KeyFunc func(r *http.Request) string

// ByPrincipalOrIP keys signed-in callers by user id and anonymous ones by
// remote address. It must run after the auth middleware.
func ByPrincipalOrIP(r *http.Request) string {
	if p := security.FromContext(r.Context()); p.IsAuthenticated() {
		return "user:" + p.ID()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// Middleware rejects requests over the limit with 429. Limiter errors let
// the request through.
func Middleware(l Limiter, key KeyFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			d, err := l.Allow(r.Context(), k)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.String("key", k), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set(HeaderLimit, strconv.Itoa(d.Limit))
			h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
			h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.Unix(), 10))
			if !d.Allowed {
				wait := math.Ceil(time.Until(d.ResetAt).Seconds())
				h.Set("Retry-After", strconv.Itoa(max(1, int(wait))))
				logger.Debug("rate limit exceeded", zap.String("key", k))
				response.RenderError(w, http.StatusTooManyRequests,
					fmt.Errorf("rate limit of %d requests exceeded", d.Limit))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
