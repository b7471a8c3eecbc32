package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/mcpgateway/mcpgateway/internal/domain/capture"
)

// parseQueryOptions translates GET /api/logs query parameters into storage
// query options. Range parameters that do not parse are rejected.
func parseQueryOptions(r *http.Request) (capture.QueryOptions, error) {
	q := r.URL.Query()
	opts := capture.QueryOptions{
		ServerName:    q.Get("server"),
		SessionID:     q.Get("session"),
		Method:        q.Get("method"),
		ClientName:    q.Get("client"),
		ClientVersion: q.Get("clientVersion"),
		ClientIP:      q.Get("clientIp"),
	}

	if v := q.Get("after"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("invalid after timestamp %q", v)
		}
		opts.After = t
	}
	if v := q.Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("invalid before timestamp %q", v)
		}
		opts.Before = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return opts, fmt.Errorf("invalid limit %q", v)
		}
		opts.Limit = n
	}
	switch v := q.Get("order"); v {
	case "", capture.OrderAsc, capture.OrderDesc:
		opts.Order = v
	default:
		return opts, fmt.Errorf("invalid order %q", v)
	}

	return opts, nil
}

// handleQueryLogs returns one page of capture records.
// GET /api/logs
func (h *Handler) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseQueryOptions(r)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	page, err := h.history.QueryLogs(r.Context(), opts)
	if err != nil {
		h.logger.Error("log query failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "log query failed")
		return
	}
	h.respondJSON(w, http.StatusOK, page)
}

// handleListMethods aggregates traffic per JSON-RPC method.
// GET /api/methods
func (h *Handler) handleListMethods(w http.ResponseWriter, r *http.Request) {
	methods, err := h.history.GetMethods(r.Context(), r.URL.Query().Get("server"))
	if err != nil {
		h.logger.Error("method aggregation failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "method aggregation failed")
		return
	}
	h.respondJSON(w, http.StatusOK, methods)
}

// handleClearLogs wipes capture history. Server registrations and health
// rows are preserved.
// POST /api/logs/clear
func (h *Handler) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if err := h.history.ClearAll(r.Context()); err != nil {
		h.logger.Error("clear logs failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	h.logger.Info("capture history cleared")
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
