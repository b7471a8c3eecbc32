package api

import (
	"net/http"
)

// handleListSessions lists observed sessions with their identity and
// traffic counts, optionally scoped to one server.
// GET /api/sessions?server=
func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.history.GetSessions(r.Context(), r.URL.Query().Get("server"))
	if err != nil {
		h.logger.Error("session aggregation failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "session aggregation failed")
		return
	}
	h.respondJSON(w, http.StatusOK, sessions)
}

// handleListClients aggregates traffic per observed client identity.
// GET /api/clients
func (h *Handler) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.history.GetClients(r.Context())
	if err != nil {
		h.logger.Error("client aggregation failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "client aggregation failed")
		return
	}
	h.respondJSON(w, http.StatusOK, clients)
}
