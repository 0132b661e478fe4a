package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/negotiate/pkg/api/handlers"
	"github.com/marmos91/negotiate/pkg/api/middleware"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

// RouterOptions selects what the router serves besides the health probes.
type RouterOptions struct {
	// Negotiate authenticates /api/v1 and the upstream proxy. Required.
	Negotiate *negotiate.Middleware

	// Checks are run by /health/ready.
	Checks []handlers.Check

	// Upstream, when set, receives every request no other route matched,
	// after authentication.
	Upstream http.Handler

	// RequestTimeout bounds handler execution. Zero disables it.
	RequestTimeout time.Duration
}

// NewRouter creates and configures the chi router with all middleware and routes.
//
// Routes:
//   - GET /health - Liveness probe
//   - GET /health/ready - Readiness probe
//   - GET /api/v1/whoami - Authenticated identity of the connection
//   - /* - Upstream proxy, authenticated (when configured)
func NewRouter(opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Tracing runs before RequestLogger so log lines carry the trace id.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Tracing)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	if opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(opts.RequestTimeout))
	}

	healthHandler := handlers.NewHealthHandler("negotiate", opts.Checks...)

	// Health routes - unauthenticated
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Group(func(r chi.Router) {
		r.Use(opts.Negotiate.Handler)

		r.Get("/api/v1/whoami", handlers.WhoAmI)

		if opts.Upstream != nil {
			r.Handle("/*", opts.Upstream)
		} else {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, "/api/v1/whoami", http.StatusTemporaryRedirect)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handlers.NotFound(w, "not found")
	})

	return r
}
