// Package middleware provides the HTTP middleware stacked in front of the
// Negotiate handler: request logging and tracing.
package middleware
