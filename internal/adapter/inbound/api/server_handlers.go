package api

import (
	"errors"
	"net/http"

	"github.com/mcpgateway/mcpgateway/internal/domain/registry"
)

// serverConfigRequest is the JSON body for add and update server
// endpoints. Update ignores Name and treats absent fields as "leave as
// is".
type serverConfigRequest struct {
	Name    string            `json:"name"`
	URL     *string           `json:"url"`
	Headers map[string]string `json:"headers"`
}

// handleListServerActivity returns per-server traffic aggregations from
// the capture history. Registered servers with no traffic do not appear;
// use /api/servers/config for the registry itself.
// GET /api/servers
func (h *Handler) handleListServerActivity(w http.ResponseWriter, r *http.Request) {
	servers, err := h.history.GetServers(r.Context())
	if err != nil {
		h.logger.Error("server aggregation failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "server aggregation failed")
		return
	}
	h.respondJSON(w, http.StatusOK, servers)
}

// handleServerMetrics returns the activity snapshot for one server.
// GET /api/servers/{name}/metrics
func (h *Handler) handleServerMetrics(w http.ResponseWriter, r *http.Request) {
	name := h.pathParam(r, "name")
	metrics, err := h.history.GetServerMetrics(r.Context(), name)
	if err != nil {
		h.logger.Error("server metrics failed", "name", name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "server metrics failed")
		return
	}
	h.respondJSON(w, http.StatusOK, metrics)
}

// handleListServerConfigs returns every registration including its
// headers. This is the only aggregate route that exposes header values;
// they may hold upstream credentials.
// GET /api/servers/config
func (h *Handler) handleListServerConfigs(w http.ResponseWriter, r *http.Request) {
	servers, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list servers", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list servers")
		return
	}
	h.respondJSON(w, http.StatusOK, servers)
}

// handleAddServer registers a new upstream.
// POST /api/servers/config
func (h *Handler) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var req serverConfigRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rawURL := ""
	if req.URL != nil {
		rawURL = *req.URL
	}

	srv, err := h.registry.Add(r.Context(), req.Name, rawURL, req.Headers)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrServerExists):
			h.respondError(w, http.StatusConflict, "server name already exists")
		case errors.Is(err, registry.ErrInvalidServerName), errors.Is(err, registry.ErrInvalidServerURL):
			h.respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to add server", "name", req.Name, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to add server")
		}
		return
	}

	h.respondJSON(w, http.StatusCreated, srv)
}

// handleUpdateServer changes a registration's URL and/or headers. The
// name is immutable; remove and re-add to rename.
// PUT /api/servers/config/{name}
func (h *Handler) handleUpdateServer(w http.ResponseWriter, r *http.Request) {
	name := h.pathParam(r, "name")

	var req serverConfigRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	srv, err := h.registry.Update(r.Context(), name, registry.Update{
		URL:     req.URL,
		Headers: req.Headers,
	})
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrServerNotFound):
			h.respondError(w, http.StatusNotFound, "server not found")
		case errors.Is(err, registry.ErrInvalidServerName), errors.Is(err, registry.ErrInvalidServerURL):
			h.respondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("failed to update server", "name", name, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to update server")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, srv)
}

// handleRemoveServer unregisters an upstream. Capture history for the
// name is preserved.
// DELETE /api/servers/config/{name}
func (h *Handler) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	name := h.pathParam(r, "name")

	if err := h.registry.Remove(r.Context(), name); err != nil {
		switch {
		case errors.Is(err, registry.ErrServerNotFound), errors.Is(err, registry.ErrInvalidServerName):
			h.respondError(w, http.StatusNotFound, "server not found")
		default:
			h.logger.Error("failed to remove server", "name", name, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to remove server")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleHealthCheck probes one upstream immediately and returns the fresh
// status row.
// POST /api/servers/{name}/health-check
func (h *Handler) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	name := h.pathParam(r, "name")

	status, err := h.health.CheckOne(r.Context(), name)
	if err != nil {
		switch {
		case errors.Is(err, registry.ErrServerNotFound), errors.Is(err, registry.ErrInvalidServerName):
			h.respondError(w, http.StatusNotFound, "server not found")
		default:
			h.logger.Error("health check failed", "name", name, "error", err)
			h.respondError(w, http.StatusInternalServerError, "health check failed")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, status)
}
