// Package proxy implements the MCP wire path. It forwards JSON-RPC traffic
// to registered upstream servers, feeds every observed message to the
// capture pipeline, and proxies OAuth discovery documents so clients can
// authenticate against upstreams through the gateway.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mcpgateway/mcpgateway/internal/ctxkey"
	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
	"github.com/mcpgateway/mcpgateway/internal/domain/registry"
	"github.com/mcpgateway/mcpgateway/internal/domain/session"
	"github.com/mcpgateway/mcpgateway/internal/domain/sse"
	"github.com/mcpgateway/mcpgateway/internal/service"
	"github.com/mcpgateway/mcpgateway/pkg/mcp"
)

const (
	sessionHeader    = "Mcp-Session-Id"
	protocolHeader   = "Mcp-Protocol-Version"
	serverCookieName = "mcp-gateway-server"
)

// hopByHopHeaders must be removed when relaying in either direction. They
// are meaningful only for a single transport-level connection (RFC 9110
// section 7.6.1).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// passthroughHeaders are the client headers forwarded to the upstream.
// Everything else is dropped; the upstream sees the gateway, not the
// client. Content-Length and Host are recomputed by the transport.
var passthroughHeaders = []string{
	"Accept",
	"Authorization",
	"Content-Type",
	"Last-Event-Id",
	sessionHeader,
	protocolHeader,
}

// ServerSource resolves a registered server by name.
type ServerSource interface {
	Get(ctx context.Context, name string) (registry.Server, error)
}

// Handler serves the per-server wire routes and the OAuth discovery
// routes. One Handler fronts all registered servers; upstream connections
// are pooled per server name.
type Handler struct {
	servers    ServerSource
	capture    *service.CaptureService
	clientInfo *session.InfoStore
	serverInfo *session.InfoStore
	pool       *ClientPool
	observer   Observer
	logger     *slog.Logger
}

// NewHandler creates the wire handler. Wire ForgetServer into the registry
// service's removal hook so pooled connections die with their server.
func NewHandler(servers ServerSource, captureSvc *service.CaptureService, clientInfo, serverInfo *session.InfoStore, logger *slog.Logger) *Handler {
	return &Handler{
		servers:    servers,
		capture:    captureSvc,
		clientInfo: clientInfo,
		serverInfo: serverInfo,
		pool:       NewClientPool(),
		observer:   nopObserver{},
		logger:     logger,
	}
}

// SetObserver installs the traffic metrics sink. Call before Register.
func (h *Handler) SetObserver(o Observer) {
	if o == nil {
		h.observer = nopObserver{}
		return
	}
	h.observer = o
}

// ForgetServer drops the pooled HTTP client for a removed server.
func (h *Handler) ForgetServer(name string) {
	h.pool.Close(name)
}

// Close releases every pooled upstream client.
func (h *Handler) Close() {
	h.pool.CloseAll()
}

// Register mounts the wire and discovery routes on mux. The short /s/
// prefix and the long /servers/ alias resolve identically; the short form
// is canonical in emitted URLs and cookies.
func (h *Handler) Register(mux *http.ServeMux) {
	for _, prefix := range []string{"/s", "/servers"} {
		mux.HandleFunc("POST "+prefix+"/{name}/mcp", h.handlePost)
		mux.HandleFunc("GET "+prefix+"/{name}/mcp", h.handleSubscribe)
		mux.HandleFunc("DELETE "+prefix+"/{name}/mcp", h.handleDelete)

		mux.HandleFunc("GET /.well-known/oauth-protected-resource"+prefix+"/{name}/mcp", h.handleProtectedResource)
		mux.HandleFunc("GET /.well-known/oauth-authorization-server"+prefix+"/{name}/mcp", h.handleAuthorizationServer)
		mux.HandleFunc("GET /.well-known/openid-configuration"+prefix+"/{name}/mcp", h.handleOpenIDConfiguration)
		mux.HandleFunc("GET "+prefix+"/{name}/mcp/.well-known/openid-configuration", h.handleOpenIDConfiguration)
		mux.HandleFunc("POST "+prefix+"/{name}/mcp/register", h.handleRegister)
	}

	// Bare discovery paths carry no server name; the scoped cookie set on
	// 401 and on named discovery hits routes them to the right upstream.
	mux.HandleFunc("GET /.well-known/oauth-protected-resource", h.handleProtectedResource)
	mux.HandleFunc("GET /.well-known/oauth-authorization-server", h.handleAuthorizationServer)
	mux.HandleFunc("GET /.well-known/openid-configuration", h.handleOpenIDConfiguration)
	mux.HandleFunc("OPTIONS /.well-known/", h.handleDiscoveryPreflight)
}

// handlePost relays one JSON-RPC exchange: parse and capture the inbound
// batch, forward the original bytes, then capture and relay whatever came
// back (unary JSON or an SSE stream).
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.observer.ProxyRequest(srv.Name, "", http.StatusBadRequest)
		writeRPCError(w, nil, mcp.ParseErrorCode, "parse error", err)
		return
	}
	msgs, err := mcp.ParseMessages(body)
	if err != nil {
		// Broken JSON is a parse error; well-formed JSON that is not a
		// JSON-RPC message is an invalid request.
		code, message := mcp.InvalidRequestCode, "invalid request"
		if !json.Valid(body) {
			code, message = mcp.ParseErrorCode, "parse error"
		}
		h.observer.ProxyRequest(srv.Name, "", http.StatusBadRequest)
		writeRPCError(w, nil, code, message, err)
		return
	}

	ex := h.exchange(srv.Name, r)
	for _, msg := range msgs {
		h.capture.CaptureRequest(ex, msg)
	}

	start := time.Now()
	resp, err := h.forward(r, srv, body)
	h.observer.ProxyDuration(srv.Name, time.Since(start).Seconds())
	if err != nil {
		h.upstreamFailure(w, ex, msgs, err, time.Since(start).Milliseconds())
		return
	}
	defer resp.Body.Close()

	for _, msg := range msgs {
		if msg.IsRequest() {
			h.observer.ProxyRequest(srv.Name, msg.Method(), resp.StatusCode)
		}
	}

	respEx := h.responseExchange(ex, r, resp)
	if resp.StatusCode == http.StatusUnauthorized {
		setServerCookie(w, srv.Name)
	}
	if isEventStream(resp.Header) {
		h.streamSSE(w, r, resp, respEx, start)
		return
	}
	h.relayUnary(w, resp, respEx)
}

// handleSubscribe relays a GET subscription. The upstream usually answers
// with an SSE stream of server-initiated messages; anything else is
// relayed like a unary response.
func (h *Handler) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	ex := h.exchange(srv.Name, r)
	start := time.Now()
	resp, err := h.forward(r, srv, nil)
	h.observer.ProxyDuration(srv.Name, time.Since(start).Seconds())
	if err != nil {
		h.logger.Warn("upstream transport failure", "server", srv.Name, "method", r.Method, "error", err)
		h.observer.ProxyRequest(srv.Name, "", http.StatusBadGateway)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	defer resp.Body.Close()

	h.observer.ProxyRequest(srv.Name, "", resp.StatusCode)
	respEx := h.responseExchange(ex, r, resp)
	if resp.StatusCode == http.StatusUnauthorized {
		setServerCookie(w, srv.Name)
	}
	if isEventStream(resp.Header) {
		h.streamSSE(w, r, resp, respEx, start)
		return
	}
	h.relayUnary(w, resp, respEx)
}

// handleDelete relays an explicit session termination. On upstream
// success the identity caches for that session are dropped; persisted
// logs are untouched.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.resolveServer(w, r)
	if !ok {
		return
	}

	sessionID := sessionFromRequest(r)
	resp, err := h.forward(r, srv, nil)
	if err != nil {
		h.logger.Warn("upstream transport failure", "server", srv.Name, "method", r.Method, "error", err)
		h.observer.ProxyRequest(srv.Name, "", http.StatusBadGateway)
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}
	defer resp.Body.Close()

	h.observer.ProxyRequest(srv.Name, "", resp.StatusCode)
	if resp.StatusCode < 300 && sessionID != capture.StatelessSessionID {
		h.clientInfo.Clear(sessionID)
		h.serverInfo.Clear(sessionID)
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("relay body write failed", "server", srv.Name, "error", err)
	}
}

// forward builds and sends the upstream request. Only the passthrough
// allowlist plus the server's configured headers cross the boundary; Host
// is rewritten to the upstream's.
func (h *Handler) forward(r *http.Request, srv registry.Server, body []byte) (*http.Response, error) {
	ctx, span := otel.Tracer("mcpgateway/proxy").Start(r.Context(), "proxy.forward",
		trace.WithAttributes(
			attribute.String("server", srv.Name),
			attribute.String("http.method", r.Method),
		))
	defer span.End()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	out, err := http.NewRequestWithContext(ctx, r.Method, srv.URL, reader)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	for _, k := range passthroughHeaders {
		if vs := r.Header.Values(k); len(vs) > 0 {
			out.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
		}
	}
	for k, v := range srv.Headers {
		out.Header.Set(k, v)
	}

	resp, err := h.pool.Get(srv.Name).Do(out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upstream transport")
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	return resp, nil
}

// relayUnary forwards a buffered response verbatim and records any
// JSON-RPC responses found in it. Non-JSON bodies (error pages, empty 202
// acknowledgements) relay uncaptured.
func (h *Handler) relayUnary(w http.ResponseWriter, resp *http.Response, ex service.Exchange) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		h.logger.Warn("upstream body read failed", "server", ex.ServerName, "error", err)
		writeError(w, http.StatusBadGateway, "upstream_error", "reading upstream response: "+err.Error())
		return
	}

	if len(bytes.TrimSpace(body)) > 0 {
		if msgs, perr := mcp.ParseMessages(body); perr == nil {
			for _, msg := range msgs {
				if msg.IsResponse() {
					h.capture.CaptureResponse(ex, msg, resp.StatusCode)
				}
			}
		} else {
			h.logger.Debug("upstream body is not JSON-RPC", "server", ex.ServerName, "status", resp.StatusCode)
		}
	}

	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("relay body write failed", "server", ex.ServerName, "error", err)
	}
}

// streamSSE tees the upstream stream: one copy goes to the client byte for
// byte, the other feeds the SSE parser and capture. The client write
// drives the upstream read, so a slow client applies backpressure
// upstream. Capture rides an io.Pipe and can only ever slow the stream,
// never corrupt it; its worker keeps draining until the stream ends.
func (h *Handler) streamSSE(w http.ResponseWriter, r *http.Request, resp *http.Response, ex service.Exchange, start time.Time) {
	copyResponseHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)

	pr, pw := io.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.captureStream(pr, ex)
	}()

	tee := io.TeeReader(resp.Body, pw)
	buf := make([]byte, 32*1024)
	var streamErr error
	for {
		n, rerr := tee.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Client went away; stop reading so the upstream
				// connection is released.
				break
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr != io.EOF {
				streamErr = rerr
			}
			break
		}
	}
	pw.Close()
	<-done

	if streamErr != nil && r.Context().Err() == nil {
		h.logger.Warn("sse stream terminated by upstream", "server", ex.ServerName, "error", streamErr)
		h.capture.CaptureStreamError(ex, streamErr, time.Since(start).Milliseconds())
	}
}

// captureStream reads the capture side of the tee until the stream ends,
// dispatching each parsed frame. It never stops reading early: abandoning
// the pipe would stall the client copy.
func (h *Handler) captureStream(pr *io.PipeReader, ex service.Exchange) {
	parser := sse.NewParser()
	buf := make([]byte, 4096)
	for {
		n, err := pr.Read(buf)
		if n > 0 {
			for _, ev := range parser.Feed(buf[:n]) {
				h.captureEvent(ex, ev)
			}
		}
		if err != nil {
			if tail := parser.Flush(); tail != nil {
				h.captureEvent(ex, *tail)
			}
			return
		}
	}
}

// captureEvent records one SSE frame, as an embedded JSON-RPC message when
// the data parses as one, otherwise as a raw event.
func (h *Handler) captureEvent(ex service.Exchange, ev sse.Event) {
	if ev.HasJSONData() {
		if msg, err := mcp.Wrap([]byte(ev.Data)); err == nil {
			h.observer.SSEEvent(ex.ServerName, "jsonrpc")
			h.capture.CaptureSSEJsonRpc(ex, &ev, msg)
			return
		}
	}
	h.observer.SSEEvent(ex.ServerName, "event")
	h.capture.CaptureSSEEvent(ex, &ev)
}

// upstreamFailure answers a failed POST with the synthesized -32000
// envelope, one per addressable request, and records the failure.
func (h *Handler) upstreamFailure(w http.ResponseWriter, ex service.Exchange, msgs []*mcp.Message, cause error, durationMs int64) {
	h.logger.Warn("upstream transport failure", "server", ex.ServerName, "error", cause)

	var bodies []json.RawMessage
	for _, msg := range msgs {
		if msg.IsRequest() && !msg.IsNotification() {
			h.capture.CaptureError(ex, msg, cause, http.StatusBadGateway, durationMs)
			h.observer.ProxyRequest(ex.ServerName, msg.Method(), http.StatusBadGateway)
			bodies = append(bodies, capture.SynthesizeErrorResponse(msg.RawID(), cause))
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	var payload []byte
	switch len(bodies) {
	case 0:
		// Only notifications failed; nothing to address, but the caller
		// still gets the envelope.
		h.observer.ProxyRequest(ex.ServerName, "", http.StatusBadGateway)
		payload = capture.SynthesizeErrorResponse(nil, cause)
	case 1:
		payload = bodies[0]
	default:
		payload, _ = json.Marshal(bodies)
	}
	if _, err := w.Write(payload); err != nil {
		h.logger.Debug("error body write failed", "server", ex.ServerName, "error", err)
	}
}

// resolveServer looks up the {name} path segment. Unknown servers answer
// 404 with a plain JSON error: there is no JSON-RPC exchange to speak of
// yet.
func (h *Handler) resolveServer(w http.ResponseWriter, r *http.Request) (registry.Server, bool) {
	name := r.PathValue("name")
	srv, err := h.servers.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, registry.ErrServerNotFound) || errors.Is(err, registry.ErrInvalidServerName) {
			h.observer.ProxyRequest(name, "", http.StatusNotFound)
			writeError(w, http.StatusNotFound, "server_not_found", fmt.Sprintf("no server registered as %q", name))
		} else {
			h.logger.Error("server lookup failed", "name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "storage_error", "server lookup failed")
		}
		return registry.Server{}, false
	}
	return srv, true
}

// exchange captures the request-side context for the capture pipeline.
func (h *Handler) exchange(serverName string, r *http.Request) service.Exchange {
	return service.Exchange{
		ServerName: serverName,
		SessionID:  sessionFromRequest(r),
		HTTP: capture.HTTPContext{
			UserAgent: r.UserAgent(),
			ClientIP:  clientIP(r),
		},
	}
}

// responseExchange rebinds the exchange to the session id the upstream
// assigned, if any. The identity observed during the handshake is restored
// under the new id so direct lookups hit without the stateless fallback.
func (h *Handler) responseExchange(ex service.Exchange, r *http.Request, resp *http.Response) service.Exchange {
	assigned := resp.Header.Get(sessionHeader)
	if assigned == "" || assigned == ex.SessionID {
		return ex
	}
	if info := h.clientInfo.Get(r.Context(), ex.SessionID); info != nil {
		h.clientInfo.Store(assigned, info)
	}
	out := ex
	out.SessionID = assigned
	return out
}

func sessionFromRequest(r *http.Request) string {
	if id := r.Header.Get(sessionHeader); id != "" {
		return id
	}
	return capture.StatelessSessionID
}

func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxkey.ClientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isEventStream(header http.Header) bool {
	ct := header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.EqualFold(strings.TrimSpace(ct), "text/event-stream")
}

func setServerCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     serverCookieName,
		Value:    name,
		Path:     "/.well-known",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func copyResponseHeaders(dst, src http.Header) {
	for k, vs := range src {
		dst[k] = append([]string(nil), vs...)
	}
	for _, k := range hopByHopHeaders {
		dst.Del(k)
	}
}

// writeError emits the plain JSON error shape used when no JSON-RPC
// exchange exists: {"error":{"code","message"}}.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// writeRPCError emits a JSON-RPC error envelope with HTTP status 400 for
// bodies the gateway itself rejected.
func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, cause error) {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	env := map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    code,
			"message": message,
			"data":    map[string]string{"details": cause.Error()},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(env)
}
