package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/web/auth"
	"github.com/conduit-lang/crudkit/internal/web/response"
)

// Auth puts the caller's principal into the request context.
//
// A request without an Authorization header runs as the anonymous
// principal; class permissions decide what it may do. A header that is
// present but malformed or carries an invalid token is rejected with 401.
func Auth(authService *auth.AuthService, logger *zap.Logger) Middleware {
	logger = observability.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				ctx := security.WithPrincipal(r.Context(), security.Anonymous())
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
				response.RenderErrorWithCode(w, http.StatusUnauthorized, errInvalidAuthorization, "unauthorized")
				return
			}

			principal, err := authService.Principal(strings.TrimSpace(token))
			if err != nil {
				logger.Debug("token rejected",
					zap.String("request_id", GetRequestID(r.Context())),
					zap.Error(err),
				)
				response.RenderErrorWithCode(w, http.StatusUnauthorized, auth.ErrInvalidToken, "unauthorized")
				return
			}

			ctx := security.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

var errInvalidAuthorization = errors.New("invalid authorization format")
