package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mcpgateway/mcpgateway/internal/adapter/inbound/proxy"
)

// shutdownTimeout bounds the drain of in-flight requests, long-lived
// SSE streams included.
const shutdownTimeout = 10 * time.Second

// BindError reports a failure to bind the listen address. Callers map it
// to a distinct exit code: a taken or privileged port is an operator
// mistake, not a crash.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// Transport is the gateway's single HTTP listener. It mounts the MCP
// wire routes, the management API, the self-health endpoint, and the
// metrics endpoint on one mux behind the shared middleware chain.
type Transport struct {
	addr    string
	logger  *slog.Logger
	health  *HealthChecker
	metrics *Metrics

	handler http.Handler
	server  *http.Server

	mu        sync.Mutex
	boundAddr string
}

// Option configures a Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:3333".
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the transport and its middleware.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithHealthChecker mounts the self-health report at GET /health.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) {
		t.health = hc
	}
}

// WithMetrics mounts the Prometheus registry at GET /metrics.
func WithMetrics(m *Metrics) Option {
	return func(t *Transport) {
		t.metrics = m
	}
}

// NewTransport assembles the route tree around the wire handler and the
// management API. Either handler may be omitted; a nil api leaves the
// /api/ prefix unrouted.
func NewTransport(proxyHandler *proxy.Handler, api http.Handler, opts ...Option) *Transport {
	t := &Transport{
		addr:   "127.0.0.1:3333",
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	mux := http.NewServeMux()
	if proxyHandler != nil {
		proxyHandler.Register(mux)
	}
	if api != nil {
		mux.Handle("/api/", api)
	}
	if t.health != nil {
		mux.Handle("GET /health", t.health.Handler())
	}
	if t.metrics != nil {
		mux.Handle("GET /metrics", t.metrics.Handler())
	}
	// Browsers probe this when the management API is opened directly.
	mux.HandleFunc("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	var handler http.Handler = mux
	handler = AccessLogMiddleware()(handler)
	handler = RealIPMiddleware(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	t.handler = handler

	return t
}

// Handler returns the assembled route tree including middleware.
// Exposed for in-process tests.
func (t *Transport) Handler() http.Handler {
	return t.handler
}

// Addr returns the bound listener address once Start has opened it.
// Useful when listening on port 0.
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.boundAddr
}

// Start binds the listen address and serves until the context is
// cancelled or the listener fails. Bind failures return *BindError
// before any request is served.
func (t *Transport) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return &BindError{Addr: t.addr, Err: err}
	}

	t.mu.Lock()
	t.boundAddr = ln.Addr().String()
	t.server = &http.Server{
		Handler:           t.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	t.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("http server listening", "addr", ln.Addr().String())
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("shutting down http server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown drains in-flight requests with a bounded timeout.
func (t *Transport) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("http server shutdown", "error", err)
		return err
	}
	t.logger.Info("http server drained")
	return nil
}

// Close shuts the server down outside Start's context path. Safe to call
// before Start.
func (t *Transport) Close() error {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv == nil {
		return nil
	}
	return t.shutdown()
}
