package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext holds request-scoped logging context.
//
// The negotiate middleware creates one per request and fills in the
// connection and mechanism fields as the handshake progresses, so every
// *Ctx log call made further down the handler chain carries them.
type LogContext struct {
	TraceID   string    // OpenTelemetry trace ID
	SpanID    string    // OpenTelemetry span ID
	RequestID string    // Per-request identifier (chi RequestID or generated)
	ConnID    string    // Connection identifier, stable across requests on one connection
	ClientIP  string    // Client IP address (without port)
	Mechanism string    // Negotiated mechanism: kerberos, ntlm
	Principal string    // Authenticated principal, once known
	StartTime time.Time // For duration calculation
}

// WithContext returns a new context with the given LogContext
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext from context, or nil if not present
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a new LogContext with the given client IP
func NewLogContext(clientIP string) *LogContext {
	return &LogContext{
		ClientIP:  clientIP,
		StartTime: time.Now(),
	}
}

// Clone creates a copy of the LogContext
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithConnection returns a copy with the connection identifier set
func (lc *LogContext) WithConnection(connID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.ConnID = connID
	}
	return clone
}

// WithMechanism returns a copy with the negotiated mechanism set
func (lc *LogContext) WithMechanism(mechanism string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Mechanism = mechanism
	}
	return clone
}

// WithPrincipal returns a copy with the authenticated principal set
func (lc *LogContext) WithPrincipal(principal string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Principal = principal
	}
	return clone
}

// WithTrace returns a copy with trace info set
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID = traceID
		clone.SpanID = spanID
	}
	return clone
}

// DurationMs returns the duration since StartTime in milliseconds
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
