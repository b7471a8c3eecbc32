// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for the request-scoped logger.
// Used by HTTP middleware to store and retrieve the logger enriched with
// request_id and remote address fields.
type LoggerKey struct{}

// RequestIDKey is the context key type for the per-request id assigned by
// the HTTP middleware.
type RequestIDKey struct{}

// ClientIPKey is the context key type for the client address resolved by
// the HTTP middleware. Trusts X-Forwarded-For and X-Real-IP ahead of the
// socket peer so capture metadata survives a fronting reverse proxy.
type ClientIPKey struct{}
