package api

import (
	"net/http"
	"strings"

	"github.com/mcpgateway/mcpgateway/internal/domain/token"
)

// bearerToken extracts the presented management token from the request:
// the Authorization header first, then the token query parameter for
// clients that cannot set headers (EventSource, browser links).
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") {
			return strings.TrimPrefix(auth, "Bearer ")
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authMiddleware enforces the management bearer token on every /api
// route. The configured value may be hashed; verification is delegated
// to the token package.
func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := bearerToken(r)
		if presented == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-gateway"`)
			h.respondError(w, http.StatusUnauthorized, "missing management token")
			return
		}

		ok, err := token.Verify(presented, h.token)
		if err != nil {
			h.logger.Error("token verification failed", "error", err)
			h.respondError(w, http.StatusInternalServerError, "token verification failed")
			return
		}
		if !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp-gateway", error="invalid_token"`)
			h.respondError(w, http.StatusUnauthorized, "invalid management token")
			return
		}

		next.ServeHTTP(w, r)
	})
}
