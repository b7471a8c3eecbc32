// Package capture contains domain types for captured MCP traffic.
package capture

import (
	"encoding/json"
	"time"

	"github.com/mcpgateway/mcpgateway/internal/domain/sse"
	"github.com/mcpgateway/mcpgateway/pkg/mcp"
)

// Direction classifies what a capture record observed on the wire.
type Direction string

const (
	// DirectionRequest is a JSON-RPC request or notification from the client.
	DirectionRequest Direction = "request"
	// DirectionResponse is a JSON-RPC response delivered as a unary HTTP body.
	DirectionResponse Direction = "response"
	// DirectionSSEEvent is a raw SSE frame with no recognizable JSON-RPC payload.
	DirectionSSEEvent Direction = "sse-event"
	// DirectionSSEJsonRpc is a JSON-RPC frame extracted from an SSE stream.
	DirectionSSEJsonRpc Direction = "sse-jsonrpc"
)

// IsValid reports whether d is one of the four capture directions.
func (d Direction) IsValid() bool {
	switch d {
	case DirectionRequest, DirectionResponse, DirectionSSEEvent, DirectionSSEJsonRpc:
		return true
	}
	return false
}

// StatelessSessionID is the sentinel session for traffic observed before
// the MCP handshake assigns a real Mcp-Session-Id. Identity stored under it
// is the fallback for sessions that never completed a handshake.
const StatelessSessionID = "stateless"

// HTTPContext carries transport-level attributes of an observed exchange.
type HTTPContext struct {
	// Status is the HTTP status the client saw (or will see).
	Status int
	// UserAgent is the client's User-Agent header.
	UserAgent string
	// ClientIP is the remote address of the client connection.
	ClientIP string
}

// Metadata describes where and how a message was observed.
type Metadata struct {
	ServerName   string        `json:"serverName"`
	SessionID    string        `json:"sessionId"`
	DurationMs   int64         `json:"durationMs"`
	HTTPStatus   int           `json:"httpStatus"`
	Client       *mcp.PeerInfo `json:"client,omitempty"`
	Server       *mcp.PeerInfo `json:"server,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	ClientIP     string        `json:"clientIp,omitempty"`
	SSEEventID   string        `json:"sseEventId,omitempty"`
	SSEEventType string        `json:"sseEventType,omitempty"`
	InputTokens  int64         `json:"inputTokens,omitempty"`
	OutputTokens int64         `json:"outputTokens,omitempty"`
	MethodDetail string        `json:"methodDetail,omitempty"`
}

// Record is one durable row describing one observed message. Records are
// append-only; a DurationMs of 0 means "not measured" (notification, or a
// response whose request was never seen).
type Record struct {
	// Timestamp is when the gateway observed the message, in UTC.
	Timestamp time.Time `json:"timestamp"`
	// Method is the JSON-RPC method; empty for responses until resolved
	// against the tracker, and for raw SSE events.
	Method string `json:"method,omitempty"`
	// ID is the JSON-RPC id exactly as it appeared on the wire
	// (number, string, or null). Nil for notifications and raw SSE events.
	ID json.RawMessage `json:"id,omitempty"`
	// Direction is one of request, response, sse-event, sse-jsonrpc.
	Direction Direction `json:"direction"`
	// Metadata locates the message within a server and session.
	Metadata Metadata `json:"metadata"`
	// Request holds the raw JSON-RPC request body for request records.
	Request json.RawMessage `json:"request,omitempty"`
	// Response holds the raw JSON-RPC response body for response records.
	Response json.RawMessage `json:"response,omitempty"`
	// SSEEvent holds the frame for sse-event and sse-jsonrpc records.
	SSEEvent *sse.Event `json:"sseEvent,omitempty"`
}
