package logger

import (
	"log/slog"
)

// Standard field keys for structured logging.
// Use these keys consistently across all log statements for log aggregation and querying.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id" // OpenTelemetry trace ID for request correlation
	KeySpanID  = "span_id"  // OpenTelemetry span ID for operation tracking

	// ========================================================================
	// HTTP Request
	// ========================================================================
	KeyRequestID = "request_id" // Per-request identifier
	KeyMethod    = "method"     // HTTP method
	KeyPath      = "path"       // Request path
	KeyStatus    = "status"     // HTTP status code
	KeyBytes     = "bytes"      // Response bytes written

	// ========================================================================
	// Client & Connection
	// ========================================================================
	KeyClientIP     = "client_ip"     // Client IP address
	KeyRemoteAddr   = "remote_addr"   // Client address including port
	KeyConnectionID = "connection_id" // Connection identifier

	// ========================================================================
	// Negotiate Handshake
	// ========================================================================
	KeyMechanism   = "mechanism"    // kerberos, ntlm
	KeyPhase       = "phase"        // unauthorized, pending, authenticated
	KeyOutcome     = "outcome"      // continue, finished, failure
	KeyTokenLen    = "token_len"    // Decoded token size in bytes
	KeyReplyLen    = "reply_len"    // Response token size in bytes
	KeyStep        = "step"         // Handshake leg on the connection (1-based)
	KeySPN         = "spn"          // Service principal name
	KeyPrincipal   = "principal"    // Authenticated principal (user@REALM, DOMAIN\user)
	KeyUsername    = "username"     // Bare username
	KeyDomain      = "domain"       // NTLM domain or Kerberos realm
	KeyWorkstation = "workstation"  // NTLM workstation name
	KeyMessageType = "message_type" // NTLM message type (1, 2, 3)

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms" // Operation duration in milliseconds
	KeyError      = "error"       // Error message
	KeyStoreType  = "store_type"  // Account store type: static, sqlite, postgres
	KeyKeytab     = "keytab"      // Keytab path
)

// ============================================================================
// Field constructors for type safety
// ============================================================================

// TraceID returns a slog.Attr for OpenTelemetry trace ID
func TraceID(id string) slog.Attr {
	return slog.String(KeyTraceID, id)
}

// SpanID returns a slog.Attr for OpenTelemetry span ID
func SpanID(id string) slog.Attr {
	return slog.String(KeySpanID, id)
}

// RequestID returns a slog.Attr for the request identifier
func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}

// ClientIP returns a slog.Attr for client IP address
func ClientIP(addr string) slog.Attr {
	return slog.String(KeyClientIP, addr)
}

// ConnectionID returns a slog.Attr for connection identifier
func ConnectionID(id string) slog.Attr {
	return slog.String(KeyConnectionID, id)
}

// Mechanism returns a slog.Attr for the negotiated mechanism
func Mechanism(name string) slog.Attr {
	return slog.String(KeyMechanism, name)
}

// Phase returns a slog.Attr for the connection's handshake phase
func Phase(name string) slog.Attr {
	return slog.String(KeyPhase, name)
}

// Outcome returns a slog.Attr for a handshake step outcome
func Outcome(name string) slog.Attr {
	return slog.String(KeyOutcome, name)
}

// TokenLen returns a slog.Attr for a decoded token size
func TokenLen(n int) slog.Attr {
	return slog.Int(KeyTokenLen, n)
}

// Principal returns a slog.Attr for the authenticated principal
func Principal(name string) slog.Attr {
	return slog.String(KeyPrincipal, name)
}

// Username returns a slog.Attr for username
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Domain returns a slog.Attr for domain or realm name
func Domain(name string) slog.Attr {
	return slog.String(KeyDomain, name)
}

// DurationMs returns a slog.Attr for duration in milliseconds
func DurationMs(ms float64) slog.Attr {
	return slog.Float64(KeyDurationMs, ms)
}

// Err returns a slog.Attr for an error
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
