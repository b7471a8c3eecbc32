// Package mcpgateway provides a Go SDK for the MCP Gateway management API.
//
// MCP Gateway is an observability proxy for Model Context Protocol servers.
// This SDK registers upstream servers, queries captured traffic, and reads
// health state programmatically. It uses only the Go standard library
// (net/http) with zero external dependencies.
//
// Quick start:
//
//	// Set MCP_GATEWAY_ADDR and MCP_GATEWAY_TOKEN env vars, then:
//	client := mcpgateway.NewClient()
//
//	page, err := client.QueryLogs(ctx, mcpgateway.LogQuery{
//	    Server: "weather",
//	    Method: "tools/call",
//	    Limit:  50,
//	})
//	if err != nil {
//	    var apiErr *mcpgateway.APIError
//	    if errors.As(err, &apiErr) {
//	        fmt.Printf("gateway rejected the query: %s\n", apiErr.Message)
//	    }
//	}
package mcpgateway

import (
	"encoding/json"
	"time"
)

// Health is the probe verdict for one upstream server.
type Health string

const (
	// HealthUp indicates the last probe reached the server.
	HealthUp Health = "up"

	// HealthDown indicates the last probe failed.
	HealthDown Health = "down"

	// HealthUnknown indicates no probe has completed yet.
	HealthUnknown Health = "unknown"
)

// Server is one upstream registration as returned by the gateway.
// Headers are only populated by the config endpoints; aggregate endpoints
// withhold them because they may carry upstream credentials.
type Server struct {
	// Name is the unique registration name used in proxy paths.
	Name string `json:"name"`

	// URL is the upstream MCP endpoint.
	URL string `json:"url"`

	// Type is the upstream transport type. Always "http".
	Type string `json:"type"`

	// Headers are extra headers the proxy injects into upstream requests.
	Headers map[string]string `json:"headers,omitempty"`
}

// ServerUpdate carries the mutable fields of a registration. Nil fields
// are left unchanged on the server.
type ServerUpdate struct {
	// URL replaces the upstream endpoint when non-nil.
	URL *string `json:"url,omitempty"`

	// Headers replaces the injected header set when non-nil. An empty
	// non-nil map clears all headers.
	Headers map[string]string `json:"headers,omitempty"`
}

// PeerInfo identifies one side of an MCP session, taken from the
// initialize handshake.
type PeerInfo struct {
	// Name is the implementation name (e.g. "claude-code").
	Name string `json:"name"`

	// Version is the implementation version.
	Version string `json:"version"`

	// Title is the optional human-readable title.
	Title string `json:"title,omitempty"`
}

// SSEEvent is one captured server-sent event frame.
type SSEEvent struct {
	// ID is the SSE id field.
	ID string `json:"id,omitempty"`

	// Type is the SSE event field.
	Type string `json:"event,omitempty"`

	// Data is the SSE data payload.
	Data string `json:"data,omitempty"`

	// Retry is the SSE retry field.
	Retry string `json:"retry,omitempty"`
}

// RecordMetadata locates a captured message within a server and session.
type RecordMetadata struct {
	// ServerName is the registration the traffic flowed through.
	ServerName string `json:"serverName"`

	// SessionID is the MCP session, or "stateless" before the handshake.
	SessionID string `json:"sessionId"`

	// DurationMs is the request-to-response latency. 0 means not measured.
	DurationMs int64 `json:"durationMs"`

	// HTTPStatus is the status the MCP client saw.
	HTTPStatus int `json:"httpStatus"`

	// Client identifies the MCP client, when the handshake was observed.
	Client *PeerInfo `json:"client,omitempty"`

	// Server identifies the upstream MCP server.
	Server *PeerInfo `json:"server,omitempty"`

	// UserAgent is the client's User-Agent header.
	UserAgent string `json:"userAgent,omitempty"`

	// ClientIP is the client's remote address.
	ClientIP string `json:"clientIp,omitempty"`

	// SSEEventID is the id field for SSE records.
	SSEEventID string `json:"sseEventId,omitempty"`

	// SSEEventType is the event field for SSE records.
	SSEEventType string `json:"sseEventType,omitempty"`

	// InputTokens is the token usage reported by the upstream, if any.
	InputTokens int64 `json:"inputTokens,omitempty"`

	// OutputTokens is the token usage reported by the upstream, if any.
	OutputTokens int64 `json:"outputTokens,omitempty"`

	// MethodDetail qualifies the method (e.g. the tool name for
	// tools/call).
	MethodDetail string `json:"methodDetail,omitempty"`
}

// Record is one captured message exactly as the gateway stored it.
type Record struct {
	// Timestamp is when the gateway observed the message, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// Method is the JSON-RPC method, when known.
	Method string `json:"method,omitempty"`

	// ID is the JSON-RPC id as it appeared on the wire.
	ID json.RawMessage `json:"id,omitempty"`

	// Direction is one of "request", "response", "sse-event",
	// "sse-jsonrpc".
	Direction string `json:"direction"`

	// Metadata locates the message.
	Metadata RecordMetadata `json:"metadata"`

	// Request is the raw JSON-RPC request body for request records.
	Request json.RawMessage `json:"request,omitempty"`

	// Response is the raw JSON-RPC response body for response records.
	Response json.RawMessage `json:"response,omitempty"`

	// SSEEvent is the captured frame for SSE records.
	SSEEvent *SSEEvent `json:"sseEvent,omitempty"`
}

// Pagination describes one page of log results.
type Pagination struct {
	// Count is the number of records in this page.
	Count int `json:"count"`

	// Limit is the applied page size.
	Limit int `json:"limit"`

	// HasMore reports whether older (or newer) records exist beyond this
	// page.
	HasMore bool `json:"hasMore"`

	// OldestTimestamp is the timestamp of the oldest record in the page.
	OldestTimestamp *time.Time `json:"oldestTimestamp,omitempty"`

	// NewestTimestamp is the timestamp of the newest record in the page.
	NewestTimestamp *time.Time `json:"newestTimestamp,omitempty"`
}

// LogPage is one page of capture records.
type LogPage struct {
	// Data holds the records, ordered per the query.
	Data []Record `json:"data"`

	// Pagination describes the page.
	Pagination Pagination `json:"pagination"`
}

// LogQuery filters a QueryLogs call. Zero values mean "no filter".
type LogQuery struct {
	// Server scopes results to one registration name.
	Server string

	// Session scopes results to one MCP session id.
	Session string

	// Method scopes results to one JSON-RPC method.
	Method string

	// Client scopes results to one client implementation name.
	Client string

	// ClientVersion scopes results to one client version.
	ClientVersion string

	// ClientIP scopes results to one client address.
	ClientIP string

	// After excludes records at or before this time.
	After time.Time

	// Before excludes records at or after this time.
	Before time.Time

	// Limit caps the page size. The gateway clamps it server-side.
	Limit int

	// Order is "asc" or "desc" (default).
	Order string
}

// ServerActivity summarizes captured traffic for one server name.
type ServerActivity struct {
	// Name is the registration name.
	Name string `json:"name"`

	// ExchangeCount is the number of captured records.
	ExchangeCount int64 `json:"exchangeCount"`

	// SessionCount is the number of distinct sessions observed.
	SessionCount int64 `json:"sessionCount"`

	// FirstActivity is the earliest record timestamp.
	FirstActivity *time.Time `json:"firstActivity,omitempty"`

	// LastActivity is the latest record timestamp.
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// SessionSummary is one observed MCP session with its traffic counts.
type SessionSummary struct {
	// SessionID is the Mcp-Session-Id value.
	SessionID string `json:"sessionId"`

	// ServerName is the registration the session ran against.
	ServerName string `json:"serverName"`

	// Client identifies the MCP client, when known.
	Client *PeerInfo `json:"client,omitempty"`

	// Server identifies the upstream server, when known.
	Server *PeerInfo `json:"server,omitempty"`

	// FirstSeen is when the session was first observed.
	FirstSeen time.Time `json:"firstSeen"`

	// LastSeen is when the session was last observed.
	LastSeen time.Time `json:"lastSeen"`

	// ExchangeCount is the number of captured records for the session.
	ExchangeCount int64 `json:"exchangeCount"`
}

// ClientSummary aggregates traffic per client identity.
type ClientSummary struct {
	// Name is the client implementation name.
	Name string `json:"name"`

	// Version is the client implementation version.
	Version string `json:"version"`

	// SessionCount is the number of distinct sessions for this client.
	SessionCount int64 `json:"sessionCount"`

	// ExchangeCount is the total captured records for this client.
	ExchangeCount int64 `json:"exchangeCount"`

	// LastActivity is the latest record timestamp for this client.
	LastActivity *time.Time `json:"lastActivity,omitempty"`
}

// MethodSummary aggregates traffic per JSON-RPC method.
type MethodSummary struct {
	// Method is the JSON-RPC method name.
	Method string `json:"method"`

	// Count is the number of captured calls.
	Count int64 `json:"count"`

	// AvgDurationMs is the mean measured latency.
	AvgDurationMs float64 `json:"avgDurationMs"`

	// LastUsed is the latest call timestamp.
	LastUsed *time.Time `json:"lastUsed,omitempty"`
}

// ServerMetrics is the per-server activity snapshot.
type ServerMetrics struct {
	// LastActivity is the latest record timestamp for the server.
	LastActivity *time.Time `json:"lastActivity,omitempty"`

	// ExchangeCount is the total captured records for the server.
	ExchangeCount int64 `json:"exchangeCount"`
}

// HealthStatus is the stored probe outcome for one upstream server.
type HealthStatus struct {
	// Name is the registration name.
	Name string `json:"name"`

	// Health is the probe verdict.
	Health Health `json:"health"`

	// LastCheckTime is when the last probe ran.
	LastCheckTime time.Time `json:"lastCheckTime"`

	// LastHealthyTime is when the server last answered a probe.
	LastHealthyTime *time.Time `json:"lastHealthyTime,omitempty"`

	// LastErrorTime is when a probe last failed.
	LastErrorTime *time.Time `json:"lastErrorTime,omitempty"`

	// ErrorCode classifies the last failure (e.g. "ECONNREFUSED").
	ErrorCode string `json:"errorCode,omitempty"`

	// ErrorMessage is the last failure's error string.
	ErrorMessage string `json:"errorMessage,omitempty"`

	// ResponseTimeMs is the last probe's round-trip time.
	ResponseTimeMs int64 `json:"responseTimeMs,omitempty"`
}

// GatewayHealth is the gateway's own health report from GET /health.
type GatewayHealth struct {
	// Status is "healthy", "degraded", or "unhealthy".
	Status string `json:"status"`

	// Checks maps each subsystem to its state description.
	Checks map[string]string `json:"checks"`

	// Version is the gateway build version.
	Version string `json:"version,omitempty"`
}
