package middleware

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"

	"github.com/marmos91/negotiate/internal/telemetry"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

// Tracing wraps each request in a server span. Handshake step spans
// started by the Negotiate handler become its children.
func Tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !telemetry.IsEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		ctx, span := telemetry.StartHTTPSpan(r)
		defer span.End()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		if rctx := chi.RouteContext(ctx); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				span.SetName(fmt.Sprintf("%s %s", r.Method, pattern))
				span.SetAttributes(telemetry.HTTPRoute(pattern))
			}
		}

		status := ww.Status()
		span.SetAttributes(telemetry.HTTPStatus(status))
		if cs, ok := negotiate.ConnStateFromContext(ctx); ok {
			span.SetAttributes(telemetry.AuthConnID(cs.ID()))
			if id, ok := cs.Identity(); ok {
				span.SetAttributes(telemetry.AuthPrincipal(id.Principal))
			}
		}
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}
