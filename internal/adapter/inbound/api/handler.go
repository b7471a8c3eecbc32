// Package api provides the management REST surface mounted at /api. Its
// handlers are thin translators: query parsing and status mapping here,
// all behavior in the service and storage layers.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
	"github.com/mcpgateway/mcpgateway/internal/service"
)

// Handler serves the management API routes.
type Handler struct {
	registry *service.RegistryService
	health   *service.HealthService
	history  capture.QueryStore
	token    string
	logger   *slog.Logger
}

// Option configures a Handler dependency.
type Option func(*Handler)

// WithRegistry sets the server registry service.
func WithRegistry(s *service.RegistryService) Option {
	return func(h *Handler) { h.registry = s }
}

// WithHealth sets the health probe service.
func WithHealth(s *service.HealthService) Option {
	return func(h *Handler) { h.health = s }
}

// WithHistory sets the capture history store.
func WithHistory(s capture.QueryStore) Option {
	return func(h *Handler) { h.history = s }
}

// WithToken sets the management bearer token. The value may be plaintext,
// a sha256: digest, or an argon2id hash; see the token package.
func WithToken(token string) Option {
	return func(h *Handler) { h.token = token }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a management API handler with the given options.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns an http.Handler with all management routes registered,
// wrapped in the bearer-token middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Capture history reads.
	mux.HandleFunc("GET /api/logs", h.handleQueryLogs)
	mux.HandleFunc("GET /api/servers", h.handleListServerActivity)
	mux.HandleFunc("GET /api/sessions", h.handleListSessions)
	mux.HandleFunc("GET /api/clients", h.handleListClients)
	mux.HandleFunc("GET /api/methods", h.handleListMethods)
	mux.HandleFunc("GET /api/servers/{name}/metrics", h.handleServerMetrics)

	// Registry CRUD. The config paths are the only ones that expose
	// stored headers.
	mux.HandleFunc("GET /api/servers/config", h.handleListServerConfigs)
	mux.HandleFunc("POST /api/servers/config", h.handleAddServer)
	mux.HandleFunc("PUT /api/servers/config/{name}", h.handleUpdateServer)
	mux.HandleFunc("DELETE /api/servers/config/{name}", h.handleRemoveServer)

	// Probes and maintenance.
	mux.HandleFunc("POST /api/servers/{name}/health-check", h.handleHealthCheck)
	mux.HandleFunc("POST /api/logs/clear", h.handleClearLogs)

	return h.authMiddleware(mux)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
func (h *Handler) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// pathParam extracts a named path parameter from the request URL.
func (h *Handler) pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
