// Package profiling mounts the net/http/pprof endpoints behind a role check.
//
// Profiles expose goroutine stacks and heap contents, so the handler is only
// mounted when server.profiling is on and only answers principals holding
// one of the configured roles.
package profiling

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/go-chi/chi/v5"

	"github.com/conduit-lang/crudkit/internal/orm/security"
	"github.com/conduit-lang/crudkit/internal/web/response"
)

// DefaultPath is where the router mounts the profiling handler
const DefaultPath = "/debug/pprof"

// Config holds profiling configuration
type Config struct {
	// Roles may read profiles. Empty means any signed-in principal.
	Roles []string

	// BlockRate sets the block profiling rate (0 = disabled)
	BlockRate int

	// MutexFraction sets the mutex profiling fraction (0 = disabled)
	MutexFraction int
}

// Handler returns the pprof routes, relative to the mount point
func Handler(config Config) http.Handler {
	runtime.SetBlockProfileRate(config.BlockRate)
	runtime.SetMutexProfileFraction(config.MutexFraction)

	perm := security.Permission{Roles: config.Roles}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p := security.FromContext(req.Context())
			if !perm.Allows(p) {
				status := http.StatusForbidden
				if !p.IsAuthenticated() {
					status = http.StatusUnauthorized
				}
				response.RenderError(w, status, errors.New("profiling requires an authorized user"))
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	r.HandleFunc("/", pprof.Index)
	r.HandleFunc("/cmdline", pprof.Cmdline)
	r.HandleFunc("/profile", pprof.Profile)
	r.HandleFunc("/symbol", pprof.Symbol)
	r.HandleFunc("/trace", pprof.Trace)
	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		r.Handle("/"+name, pprof.Handler(name))
	}
	return r
}
