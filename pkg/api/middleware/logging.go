package middleware

import (
	"net"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/negotiate/internal/logger"
	"github.com/marmos91/negotiate/internal/telemetry"
	"github.com/marmos91/negotiate/pkg/negotiate"
)

// RequestLogger seeds the request's LogContext and logs each request.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, bytes, duration
//     and, once the connection is authenticated, the principal
//
// Place it after chi's RequestID and RealIP so both are picked up.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lc := logger.NewLogContext(clientIP(r))
		lc.RequestID = chimw.GetReqID(r.Context())
		if traceID := telemetry.TraceID(r.Context()); traceID != "" {
			lc = lc.WithTrace(traceID, telemetry.SpanID(r.Context()))
		}
		ctx := logger.WithContext(r.Context(), lc)
		r = r.WithContext(ctx)

		logger.DebugCtx(ctx, "HTTP request started",
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyRemoteAddr, r.RemoteAddr,
		)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		args := []any{
			logger.KeyMethod, r.Method,
			logger.KeyPath, r.URL.Path,
			logger.KeyStatus, ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDurationMs, lc.DurationMs(),
		}
		// The Negotiate handler enriches its own copy of the context, so
		// the principal is read back from the connection.
		if cs, ok := negotiate.ConnStateFromContext(ctx); ok {
			args = append(args, logger.KeyConnectionID, cs.ID())
			if id, ok := cs.Identity(); ok {
				args = append(args, logger.KeyMechanism, id.Mechanism.String(), logger.KeyPrincipal, id.Principal)
			}
		}
		logger.InfoCtx(ctx, "HTTP request completed", args...)
	})
}

// clientIP returns r.RemoteAddr without the port. chi's RealIP has already
// replaced it with the forwarded address when one was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
