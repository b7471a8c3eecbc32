package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"

	"github.com/mcpgateway/mcpgateway/internal/domain/registry"
)

// Pinger verifies the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ServerLister counts registered servers for the health report.
type ServerLister interface {
	List(ctx context.Context) ([]registry.Server, error)
}

// HealthResponse is the envelope returned by GET /health.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// HealthChecker reports the gateway process's own health: storage
// reachability, capture backpressure, and registry size. Per-upstream
// health is the health scheduler's job, not this endpoint's.
type HealthChecker struct {
	storage Pinger
	capture CaptureStats
	servers ServerLister
	version string
}

// NewHealthChecker creates a HealthChecker. Nil components are reported
// as not configured instead of failing the check.
func NewHealthChecker(storage Pinger, capture CaptureStats, servers ServerLister, version string) *HealthChecker {
	return &HealthChecker{
		storage: storage,
		capture: capture,
		servers: servers,
		version: version,
	}
}

// Check runs all component checks. Status is "healthy", "degraded" when
// the capture channel is over 90% full, or "unhealthy" when storage is
// unreachable.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]string)
	status := "healthy"

	if h.storage != nil {
		if err := h.storage.Ping(ctx); err != nil {
			checks["storage"] = "unreachable: " + err.Error()
			status = "unhealthy"
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not configured"
	}

	if h.capture != nil {
		depth := h.capture.ChannelDepth()
		capacity := h.capture.ChannelCapacity()
		percent := 0
		if capacity > 0 {
			percent = depth * 100 / capacity
		}
		if percent > 90 {
			checks["capture"] = fmt.Sprintf("degraded: %d/%d (%d%%)", depth, capacity, percent)
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["capture"] = fmt.Sprintf("ok: %d/%d (%d%%)", depth, capacity, percent)
		}
		if drops := h.capture.DroppedRecords(); drops > 0 {
			checks["capture_drops"] = fmt.Sprintf("%d dropped", drops)
		}
	} else {
		checks["capture"] = "not configured"
	}

	if h.servers != nil {
		if list, err := h.servers.List(ctx); err != nil {
			checks["registry"] = "unreachable: " + err.Error()
			status = "unhealthy"
		} else {
			checks["registry"] = strconv.Itoa(len(list)) + " servers"
		}
	} else {
		checks["registry"] = "not configured"
	}

	checks["goroutines"] = strconv.Itoa(runtime.NumGoroutine())

	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler serves the health report. Unauthenticated. Degraded still
// answers 200 so orchestrators keep routing while the gateway sheds
// capture load; only unhealthy returns 503.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if report.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(report)
	})
}
