package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mcpgateway/mcpgateway/internal/domain/registry"
)

// Discovery documents the gateway relays from upstreams.
const (
	wellKnownProtectedResource = "/.well-known/oauth-protected-resource"
	wellKnownAuthServer        = "/.well-known/oauth-authorization-server"
	wellKnownOpenIDConfig      = "/.well-known/openid-configuration"
)

// discoveryBodyLimit bounds how much of an upstream discovery document is
// read. Real documents are a few hundred bytes.
const discoveryBodyLimit = 1 << 20

// handleProtectedResource serves RFC 9728 protected resource metadata.
// The upstream document is rewritten so the resource points at the
// gateway; when the upstream has none, one is synthesized from its
// authorization server metadata. MCP Inspector depends on the synthesis.
func (h *Handler) handleProtectedResource(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.discoveryServer(w, r)
	if !ok {
		return
	}

	body, status, err := h.fetchDiscovery(r.Context(), srv, wellKnownProtectedResource)
	if err != nil {
		h.discoveryFailure(w, srv.Name, err)
		return
	}

	switch {
	case status == http.StatusNotFound:
		if synth := h.synthesizeProtectedResource(r, srv); synth != nil {
			h.writeDiscovery(w, srv.Name, http.StatusOK, synth)
			return
		}
		h.writeDiscovery(w, srv.Name, status, body)
	case status == http.StatusOK:
		h.writeDiscovery(w, srv.Name, status, rewriteResource(body, gatewayResource(r, srv.Name)))
	default:
		h.writeDiscovery(w, srv.Name, status, body)
	}
}

// handleAuthorizationServer passes RFC 8414 metadata through unchanged.
func (h *Handler) handleAuthorizationServer(w http.ResponseWriter, r *http.Request) {
	h.relayDiscovery(w, r, wellKnownAuthServer)
}

// handleOpenIDConfiguration passes OIDC discovery through unchanged. It
// serves both the root-level path and the RFC-compliant location under
// the resource itself.
func (h *Handler) handleOpenIDConfiguration(w http.ResponseWriter, r *http.Request) {
	h.relayDiscovery(w, r, wellKnownOpenIDConfig)
}

// handleRegister forwards an RFC 7591 dynamic client registration request
// to the upstream's /register endpoint.
func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	srv, ok := h.discoveryServer(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, discoveryBodyLimit))
	if err != nil {
		setCORS(w.Header())
		writeError(w, http.StatusBadRequest, "invalid_request", "reading request body: "+err.Error())
		return
	}

	out, err := http.NewRequestWithContext(r.Context(), http.MethodPost, baseURL(srv.URL)+"/register", strings.NewReader(string(body)))
	if err != nil {
		h.discoveryFailure(w, srv.Name, err)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		out.Header.Set("Content-Type", ct)
	}
	for k, v := range srv.Headers {
		out.Header.Set(k, v)
	}

	resp, err := h.pool.Get(srv.Name).Do(out)
	if err != nil {
		h.discoveryFailure(w, srv.Name, err)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, discoveryBodyLimit))
	if err != nil {
		h.discoveryFailure(w, srv.Name, err)
		return
	}
	h.writeDiscovery(w, srv.Name, resp.StatusCode, respBody)
}

// handleDiscoveryPreflight answers CORS preflights for every discovery
// path.
func (h *Handler) handleDiscoveryPreflight(w http.ResponseWriter, r *http.Request) {
	setCORS(w.Header())
	w.WriteHeader(http.StatusNoContent)
}

// relayDiscovery fetches one well-known document and passes it through
// with gateway CORS and the routing cookie.
func (h *Handler) relayDiscovery(w http.ResponseWriter, r *http.Request, suffix string) {
	srv, ok := h.discoveryServer(w, r)
	if !ok {
		return
	}
	body, status, err := h.fetchDiscovery(r.Context(), srv, suffix)
	if err != nil {
		h.discoveryFailure(w, srv.Name, err)
		return
	}
	h.writeDiscovery(w, srv.Name, status, body)
}

// discoveryServer resolves the target server from the {name} path segment,
// falling back to the scoped cookie for bare /.well-known hits.
func (h *Handler) discoveryServer(w http.ResponseWriter, r *http.Request) (registry.Server, bool) {
	name := r.PathValue("name")
	if name == "" {
		if c, err := r.Cookie(serverCookieName); err == nil {
			name = c.Value
		}
	}
	if name == "" {
		setCORS(w.Header())
		writeError(w, http.StatusNotFound, "server_not_found", "no server name in path and no gateway cookie")
		return registry.Server{}, false
	}

	srv, err := h.servers.Get(r.Context(), name)
	if err != nil {
		setCORS(w.Header())
		writeError(w, http.StatusNotFound, "server_not_found", fmt.Sprintf("no server registered as %q", name))
		return registry.Server{}, false
	}
	return srv, true
}

// fetchDiscovery issues the upstream GET for one well-known suffix,
// relative to the upstream base (its URL minus the /mcp or /sse segment).
func (h *Handler) fetchDiscovery(ctx context.Context, srv registry.Server, suffix string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(srv.URL)+suffix, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range srv.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.pool.Get(srv.Name).Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, discoveryBodyLimit))
	if err != nil {
		return nil, 0, fmt.Errorf("read discovery body: %w", err)
	}
	return body, resp.StatusCode, nil
}

// synthesizeProtectedResource builds protected resource metadata for
// upstreams that only publish authorization server metadata. Returns nil
// when the upstream has neither document.
func (h *Handler) synthesizeProtectedResource(r *http.Request, srv registry.Server) []byte {
	body, status, err := h.fetchDiscovery(r.Context(), srv, wellKnownAuthServer)
	if err != nil || status != http.StatusOK {
		return nil
	}

	var meta struct {
		Issuer string `json:"issuer"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil
	}
	issuer := meta.Issuer
	if issuer == "" {
		issuer = baseURL(srv.URL)
	}

	synth, err := json.Marshal(map[string]any{
		"resource":              gatewayResource(r, srv.Name),
		"authorization_servers": []string{issuer},
	})
	if err != nil {
		return nil
	}
	return synth
}

// writeDiscovery emits one discovery response: JSON content type, gateway
// CORS, and the scoped routing cookie.
func (h *Handler) writeDiscovery(w http.ResponseWriter, serverName string, status int, body []byte) {
	setCORS(w.Header())
	setServerCookie(w, serverName)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		h.logger.Debug("discovery body write failed", "server", serverName, "error", err)
	}
}

func (h *Handler) discoveryFailure(w http.ResponseWriter, serverName string, err error) {
	h.logger.Warn("discovery fetch failed", "server", serverName, "error", err)
	setCORS(w.Header())
	writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
}

// rewriteResource repoints the document's resource field at the gateway,
// preserving every other field. Unparseable documents pass through
// untouched.
func rewriteResource(body []byte, resource string) []byte {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}
	encoded, err := json.Marshal(resource)
	if err != nil {
		return body
	}
	doc["resource"] = encoded
	rewritten, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return rewritten
}

// gatewayResource is the canonical gateway-side URL for a server, always
// using the short /s/ prefix.
func gatewayResource(r *http.Request, name string) string {
	return gatewayBaseURL(r) + "/s/" + name + "/mcp"
}

func gatewayBaseURL(r *http.Request) string {
	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// baseURL strips a trailing /mcp or /sse segment from an upstream URL;
// well-known paths hang off the host root, not the MCP endpoint.
func baseURL(upstream string) string {
	for _, suffix := range []string{"/mcp", "/sse"} {
		if strings.HasSuffix(upstream, suffix) {
			return strings.TrimSuffix(upstream, suffix)
		}
	}
	return upstream
}

func setCORS(header http.Header) {
	header.Set("Access-Control-Allow-Origin", "*")
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, MCP-Protocol-Version")
}
