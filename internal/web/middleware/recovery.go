package middleware

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/conduit-lang/crudkit/internal/observability"
	"github.com/conduit-lang/crudkit/internal/web/response"
)

// Recovery turns a panicking handler into a 500 response and logs the panic
// with its stack. http.ErrAbortHandler is re-raised.
func Recovery(logger *zap.Logger) Middleware {
	logger = observability.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("panic: %v", rec)
				}
				logger.Error("panic recovered",
					zap.Error(err),
					zap.String("request_id", GetRequestID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"),
				)
				response.RenderInternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
