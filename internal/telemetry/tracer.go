package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for authentication spans.
// HTTP keys follow OpenTelemetry semantic conventions; handshake keys use
// the "auth." prefix.
const (
	// ========================================================================
	// Client attributes
	// ========================================================================
	AttrClientIP   = "client.ip"
	AttrClientAddr = "client.address"

	// ========================================================================
	// HTTP attributes
	// ========================================================================
	AttrHTTPMethod = "http.request.method"
	AttrHTTPRoute  = "http.route"
	AttrHTTPStatus = "http.response.status_code"

	// ========================================================================
	// Handshake attributes
	// ========================================================================
	AttrAuthMechanism = "auth.mechanism"  // kerberos, ntlm
	AttrAuthStep      = "auth.step"       // 1-based step number on the connection
	AttrAuthTokenLen  = "auth.token_len"  // Decoded client token length
	AttrAuthReplyLen  = "auth.reply_len"  // Server token length
	AttrAuthOutcome   = "auth.outcome"    // continue, finished, failure
	AttrAuthPrincipal = "auth.principal"  // Authenticated principal
	AttrAuthConnID    = "auth.connection" // Connection identifier
	AttrSPN           = "auth.spn"        // Service principal name

	AttrAuthMechanisms = "auth.mechanisms" // Enabled mechanisms (resource)
)

// Span names.
const (
	SpanHTTPRequest   = "http.request"
	SpanNegotiateStep = "negotiate.step"
	SpanAccountLookup = "accounts.lookup"
	SpanKeytabReload  = "kerberos.keytab_reload"
)

// ClientIP returns an attribute for client IP address
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// ClientAddr returns an attribute for full client address
func ClientAddr(addr string) attribute.KeyValue {
	return attribute.String(AttrClientAddr, addr)
}

// HTTPMethod returns an attribute for the request method
func HTTPMethod(method string) attribute.KeyValue {
	return attribute.String(AttrHTTPMethod, method)
}

// HTTPRoute returns an attribute for the matched route
func HTTPRoute(route string) attribute.KeyValue {
	return attribute.String(AttrHTTPRoute, route)
}

// HTTPStatus returns an attribute for the response status code
func HTTPStatus(code int) attribute.KeyValue {
	return attribute.Int(AttrHTTPStatus, code)
}

// AuthMechanism returns an attribute for the security mechanism
func AuthMechanism(mech string) attribute.KeyValue {
	return attribute.String(AttrAuthMechanism, mech)
}

// AuthStep returns an attribute for the handshake step number
func AuthStep(step int) attribute.KeyValue {
	return attribute.Int(AttrAuthStep, step)
}

// AuthTokenLen returns an attribute for the client token length
func AuthTokenLen(n int) attribute.KeyValue {
	return attribute.Int(AttrAuthTokenLen, n)
}

// AuthReplyLen returns an attribute for the server token length
func AuthReplyLen(n int) attribute.KeyValue {
	return attribute.Int(AttrAuthReplyLen, n)
}

// AuthOutcome returns an attribute for the step outcome
func AuthOutcome(outcome string) attribute.KeyValue {
	return attribute.String(AttrAuthOutcome, outcome)
}

// AuthPrincipal returns an attribute for the authenticated principal
func AuthPrincipal(principal string) attribute.KeyValue {
	return attribute.String(AttrAuthPrincipal, principal)
}

// AuthConnID returns an attribute for the connection identifier
func AuthConnID(id string) attribute.KeyValue {
	return attribute.String(AttrAuthConnID, id)
}

// SPN returns an attribute for the service principal name
func SPN(spn string) attribute.KeyValue {
	return attribute.String(AttrSPN, spn)
}

// StartStepSpan starts a span for one handshake step.
func StartStepSpan(ctx context.Context, mechanism string, step, tokenLen int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	allAttrs := []attribute.KeyValue{
		AuthMechanism(mechanism),
		AuthStep(step),
		AuthTokenLen(tokenLen),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanNegotiateStep, trace.WithAttributes(allAttrs...))
}

// StartHTTPSpan starts a server span for r, continuing any trace carried in
// the request headers.
func StartHTTPSpan(r *http.Request, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	allAttrs := []attribute.KeyValue{
		HTTPMethod(r.Method),
		ClientAddr(r.RemoteAddr),
	}
	allAttrs = append(allAttrs, attrs...)

	return StartSpan(ctx, SpanHTTPRequest,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(allAttrs...))
}
