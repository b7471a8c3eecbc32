package mcpgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is the MCP Gateway SDK client. It talks to the gateway's
// management API over HTTP with bearer-token authentication.
type Client struct {
	baseURL    string
	token      string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new MCP Gateway SDK client.
// It reads configuration from MCP_GATEWAY_* environment variables by
// default. Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL: envOrDefault("MCP_GATEWAY_ADDR", "http://127.0.0.1:3333"),
		token:   os.Getenv("MCP_GATEWAY_TOKEN"),
		timeout: 10 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// QueryLogs retrieves one page of captured traffic matching the query.
func (c *Client) QueryLogs(ctx context.Context, q LogQuery) (*LogPage, error) {
	var page LogPage
	if err := c.doRequest(ctx, http.MethodGet, "/api/logs", q.values(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// Servers returns per-server traffic aggregates. Registered servers with
// no captured traffic do not appear; use ServerConfigs for the registry.
func (c *Client) Servers(ctx context.Context) ([]ServerActivity, error) {
	var servers []ServerActivity
	if err := c.doRequest(ctx, http.MethodGet, "/api/servers", nil, nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// Sessions lists observed MCP sessions, optionally scoped to one server.
func (c *Client) Sessions(ctx context.Context, server string) ([]SessionSummary, error) {
	q := url.Values{}
	if server != "" {
		q.Set("server", server)
	}
	var sessions []SessionSummary
	if err := c.doRequest(ctx, http.MethodGet, "/api/sessions", q, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Clients aggregates traffic per MCP client identity.
func (c *Client) Clients(ctx context.Context) ([]ClientSummary, error) {
	var clients []ClientSummary
	if err := c.doRequest(ctx, http.MethodGet, "/api/clients", nil, nil, &clients); err != nil {
		return nil, err
	}
	return clients, nil
}

// Methods aggregates traffic per JSON-RPC method, optionally scoped to one
// server.
func (c *Client) Methods(ctx context.Context, server string) ([]MethodSummary, error) {
	q := url.Values{}
	if server != "" {
		q.Set("server", server)
	}
	var methods []MethodSummary
	if err := c.doRequest(ctx, http.MethodGet, "/api/methods", q, nil, &methods); err != nil {
		return nil, err
	}
	return methods, nil
}

// ServerMetrics returns the activity snapshot for one server.
func (c *Client) ServerMetrics(ctx context.Context, name string) (*ServerMetrics, error) {
	var metrics ServerMetrics
	path := "/api/servers/" + url.PathEscape(name) + "/metrics"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, nil, &metrics); err != nil {
		return nil, err
	}
	return &metrics, nil
}

// ServerConfigs returns every registration including its headers. This is
// the only read that exposes header values; they may hold credentials.
func (c *Client) ServerConfigs(ctx context.Context) ([]Server, error) {
	var servers []Server
	if err := c.doRequest(ctx, http.MethodGet, "/api/servers/config", nil, nil, &servers); err != nil {
		return nil, err
	}
	return servers, nil
}

// AddServer registers a new upstream. Name and URL are required; headers
// are injected into every proxied request to this upstream.
func (c *Client) AddServer(ctx context.Context, name, serverURL string, headers map[string]string) (*Server, error) {
	body := map[string]any{
		"name": name,
		"url":  serverURL,
	}
	if len(headers) > 0 {
		body["headers"] = headers
	}
	var srv Server
	if err := c.doRequest(ctx, http.MethodPost, "/api/servers/config", nil, body, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// UpdateServer changes a registration's URL and/or headers. Nil fields in
// the update are left unchanged. The name is immutable; remove and re-add
// to rename.
func (c *Client) UpdateServer(ctx context.Context, name string, update ServerUpdate) (*Server, error) {
	var srv Server
	path := "/api/servers/config/" + url.PathEscape(name)
	if err := c.doRequest(ctx, http.MethodPut, path, nil, update, &srv); err != nil {
		return nil, err
	}
	return &srv, nil
}

// RemoveServer unregisters an upstream. Capture history for the name is
// preserved.
func (c *Client) RemoveServer(ctx context.Context, name string) error {
	path := "/api/servers/config/" + url.PathEscape(name)
	return c.doRequest(ctx, http.MethodDelete, path, nil, nil, nil)
}

// CheckServerHealth triggers an immediate probe of one upstream and
// returns the outcome.
func (c *Client) CheckServerHealth(ctx context.Context, name string) (*HealthStatus, error) {
	var status HealthStatus
	path := "/api/servers/" + url.PathEscape(name) + "/health-check"
	if err := c.doRequest(ctx, http.MethodPost, path, nil, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ClearLogs truncates capture history and session metadata. Server
// registrations survive.
func (c *Client) ClearLogs(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodPost, "/api/logs/clear", nil, nil, nil)
}

// GatewayHealth returns the gateway's own health report. This endpoint is
// unauthenticated on the gateway side.
func (c *Client) GatewayHealth(ctx context.Context) (*GatewayHealth, error) {
	var gh GatewayHealth
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil, &gh); err != nil {
		return nil, err
	}
	return &gh, nil
}

// values encodes the log query as URL parameters, omitting zero values.
func (q LogQuery) values() url.Values {
	v := url.Values{}
	set := func(key, val string) {
		if val != "" {
			v.Set(key, val)
		}
	}
	set("server", q.Server)
	set("session", q.Session)
	set("method", q.Method)
	set("client", q.Client)
	set("clientVersion", q.ClientVersion)
	set("clientIp", q.ClientIP)
	set("order", q.Order)
	if !q.After.IsZero() {
		v.Set("after", q.After.UTC().Format(time.RFC3339))
	}
	if !q.Before.IsZero() {
		v.Set("before", q.Before.UTC().Format(time.RFC3339))
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	return v
}

// doRequest performs an HTTP request against the gateway and decodes the
// JSON response into result when it is non-nil.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any, result any) error {
	reqURL := strings.TrimRight(c.baseURL, "/") + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &TransportError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return &APIError{
			Status:  httpResp.StatusCode,
			Message: errorMessage(respBody),
		}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// errorMessage extracts the message from the gateway's {"error": "..."}
// body, falling back to the raw body.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
