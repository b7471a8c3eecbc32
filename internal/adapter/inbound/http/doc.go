// Package http assembles the gateway's single HTTP listener.
//
// One port serves four surfaces:
//
//	/s/{name}/mcp, /servers/{name}/mcp  - MCP wire path (proxy package)
//	/.well-known/*                      - OAuth discovery relay (proxy package)
//	/api/*                              - management REST API (api package)
//	/health, /metrics                   - gateway self-health and Prometheus
//
// Create and start a transport:
//
//	transport := http.NewTransport(proxyHandler, apiHandler,
//	    http.WithAddr("127.0.0.1:3333"),
//	    http.WithLogger(logger),
//	    http.WithMetrics(metrics),
//	    http.WithHealthChecker(checker),
//	)
//	err := transport.Start(ctx)
//
// Start blocks until the context is cancelled, then drains in-flight
// requests with a bounded timeout. A failure to bind the listen address
// is returned as *BindError so the caller can distinguish operator
// mistakes from runtime crashes.
//
// # Middleware chain
//
// Requests pass through middleware in this order:
//
//  1. RequestIDMiddleware - assigns or propagates X-Request-ID, enriches logger
//  2. RealIPMiddleware    - resolves client address from proxy headers
//  3. AccessLogMiddleware - one structured line per completed request
//
// The resolved client address and request-scoped logger travel in the
// request context under the internal/ctxkey keys, where the proxy
// package picks them up for capture metadata.
//
// # Metrics
//
// Metrics owns a private Prometheus registry seeded with the Go and
// process collectors. It implements the proxy package's Observer
// interface; wire it with proxyHandler.SetObserver(metrics) and
// service.WithProbeHook(metrics.HealthProbe).
package http
