package mcpgateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestQueryLogs(t *testing.T) {
	var gotQuery map[string]string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/logs" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		gotQuery = map[string]string{}
		for key := range r.URL.Query() {
			gotQuery[key] = r.URL.Query().Get(key)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LogPage{
			Data: []Record{{
				Method:    "tools/call",
				Direction: "request",
				Metadata:  RecordMetadata{ServerName: "weather", SessionID: "sess-1"},
			}},
			Pagination: Pagination{Count: 1, Limit: 25},
		})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithToken("test-token"))

	after := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	page, err := client.QueryLogs(context.Background(), LogQuery{
		Server: "weather",
		Method: "tools/call",
		After:  after,
		Limit:  25,
		Order:  "asc",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(page.Data) != 1 {
		t.Fatalf("len(Data) = %d, want 1", len(page.Data))
	}
	if page.Data[0].Metadata.ServerName != "weather" {
		t.Errorf("record server = %q", page.Data[0].Metadata.ServerName)
	}
	if page.Pagination.Count != 1 {
		t.Errorf("pagination count = %d", page.Pagination.Count)
	}

	want := map[string]string{
		"server": "weather",
		"method": "tools/call",
		"after":  "2026-03-01T10:00:00Z",
		"limit":  "25",
		"order":  "asc",
	}
	for key, val := range want {
		if gotQuery[key] != val {
			t.Errorf("query %s = %q, want %q", key, gotQuery[key], val)
		}
	}
	for _, absent := range []string{"session", "client", "clientIp", "before"} {
		if _, ok := gotQuery[absent]; ok {
			t.Errorf("query should omit zero-value param %s", absent)
		}
	}
}

func TestAddServer(t *testing.T) {
	var gotBody map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/servers/config" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Server{
			Name: "weather", URL: "http://localhost:8081/mcp", Type: "http",
			Headers: map[string]string{"X-Key": "v1"},
		})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithToken("test-token"))

	srv, err := client.AddServer(context.Background(), "weather", "http://localhost:8081/mcp",
		map[string]string{"X-Key": "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Name != "weather" || srv.Type != "http" {
		t.Errorf("returned server = %+v", srv)
	}

	if gotBody["name"] != "weather" {
		t.Errorf("body name = %v", gotBody["name"])
	}
	if gotBody["url"] != "http://localhost:8081/mcp" {
		t.Errorf("body url = %v", gotBody["url"])
	}
	headers, ok := gotBody["headers"].(map[string]any)
	if !ok || headers["X-Key"] != "v1" {
		t.Errorf("body headers = %v", gotBody["headers"])
	}
}

func TestUpdateServerOmitsNilFields(t *testing.T) {
	var gotBody map[string]json.RawMessage

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/api/servers/config/weather" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("failed to decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Server{Name: "weather", URL: "http://localhost:8081/mcp", Type: "http"})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithToken("test-token"))

	// Only headers change; url stays absent so the gateway keeps it.
	_, err := client.UpdateServer(context.Background(), "weather", ServerUpdate{
		Headers: map[string]string{"X-Key": "v2"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := gotBody["url"]; ok {
		t.Error("body should omit nil url")
	}
	if _, ok := gotBody["headers"]; !ok {
		t.Error("body missing headers")
	}
}

func TestRemoveServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete || r.URL.Path != "/api/servers/config/weather" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithToken("test-token"))

	if err := client.RemoveServer(context.Background(), "weather"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckServerHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/servers/weather/health-check" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(HealthStatus{
			Name:           "weather",
			Health:         HealthUp,
			LastCheckTime:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
			ResponseTimeMs: 12,
		})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithToken("test-token"))

	status, err := client.CheckServerHealth(context.Background(), "weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status.Health != HealthUp {
		t.Errorf("health = %q, want up", status.Health)
	}
	if status.ResponseTimeMs != 12 {
		t.Errorf("response time = %d", status.ResponseTimeMs)
	}
}

func TestGatewayHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(GatewayHealth{
			Status:  "healthy",
			Checks:  map[string]string{"storage": "ok", "registry": "2 servers"},
			Version: "0.1.0",
		})
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL))

	gh, err := client.GatewayHealth(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gh.Status != "healthy" || gh.Checks["registry"] != "2 servers" {
		t.Errorf("gateway health = %+v", gh)
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
		message  string
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":"missing bearer token"}`, ErrUnauthorized, "missing bearer token"},
		{"not found", http.StatusNotFound, `{"error":"server not found"}`, ErrNotFound, "server not found"},
		{"conflict", http.StatusConflict, `{"error":"server name already exists"}`, ErrConflict, "server name already exists"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(WithBaseURL(server.URL), WithToken("test-token"))

			_, err := client.Servers(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.sentinel)
			}
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error is not *APIError: %v", err)
			}
			if apiErr.Status != tt.status {
				t.Errorf("status = %d, want %d", apiErr.Status, tt.status)
			}
			if apiErr.Message != tt.message {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.message)
			}
		})
	}
}

func TestErrorMessageFallsBackToRawBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain text failure", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(WithBaseURL(server.URL), WithToken("test-token"))

	_, err := client.Servers(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error is not *APIError: %v", err)
	}
	if apiErr.Message != "plain text failure" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	client := NewClient(WithBaseURL(addr), WithToken("test-token"), WithTimeout(time.Second))

	_, err := client.Servers(context.Background())
	if err == nil {
		t.Fatal("expected error against closed server")
	}
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Errorf("error is not *TransportError: %v", err)
	}
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("MCP_GATEWAY_ADDR", "http://gateway.internal:4444")
	t.Setenv("MCP_GATEWAY_TOKEN", "env-token")

	client := NewClient()
	if client.baseURL != "http://gateway.internal:4444" {
		t.Errorf("baseURL = %q", client.baseURL)
	}
	if client.token != "env-token" {
		t.Errorf("token = %q", client.token)
	}

	// Options override env.
	client = NewClient(WithBaseURL("http://other:1111"), WithToken("opt-token"))
	if client.baseURL != "http://other:1111" {
		t.Errorf("baseURL = %q", client.baseURL)
	}
	if client.token != "opt-token" {
		t.Errorf("token = %q", client.token)
	}
}
