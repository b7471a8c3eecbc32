// Package mcp provides JSON-RPC message parsing and inspection helpers
// for the mcp-gateway capture pipeline.
package mcp

import (
	"bytes"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Method names the gateway inspects. The proxy forwards every message
// verbatim; initialize matters because its payload carries the client and
// server identity attached to later capture records.
const (
	MethodInitialize    = "initialize"
	MethodToolsCall     = "tools/call"
	MethodResourcesRead = "resources/read"
	MethodPromptsGet    = "prompts/get"
)

// Message wraps a decoded JSON-RPC message together with its original
// bytes. The raw bytes are what the proxy forwards and what capture
// persists; the decoded form is only used for inspection.
type Message struct {
	// Raw contains the original bytes of the message.
	Raw []byte

	// Decoded contains the parsed JSON-RPC message.
	// The concrete type is either *jsonrpc.Request or *jsonrpc.Response.
	Decoded jsonrpc.Message
}

// IsRequest returns true if the message is a JSON-RPC request or notification.
func (m *Message) IsRequest() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse returns true if the message is a JSON-RPC response.
func (m *Message) IsResponse() bool {
	if m.Decoded == nil {
		return false
	}
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// IsNotification returns true for a request without an id. Notifications
// never receive a response, so the tracker ignores them.
func (m *Message) IsNotification() bool {
	req := m.Request()
	if req == nil {
		return false
	}
	return req.ID == jsonrpc.ID{}
}

// Method returns the method name if this is a request, empty string otherwise.
func (m *Message) Method() string {
	req := m.Request()
	if req == nil {
		return ""
	}
	return req.Method
}

// Request returns the underlying Request, or nil if this is not a request.
func (m *Message) Request() *jsonrpc.Request {
	if m.Decoded == nil {
		return nil
	}
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the underlying Response, or nil if this is not a response.
func (m *Message) Response() *jsonrpc.Response {
	if m.Decoded == nil {
		return nil
	}
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// RawID extracts the message id from the raw bytes as json.RawMessage,
// preserving the original form (number, string, or null). The SDK's
// jsonrpc.ID type does not round-trip cleanly through interface{}, so the
// id is read straight from the wire bytes. Returns nil when absent.
func (m *Message) RawID() json.RawMessage {
	if m.Raw == nil {
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(m.Raw, &raw); err != nil {
		return nil
	}

	return raw["id"]
}

// IDKey returns a canonical string form of the message id, suitable as a
// map key for request/response correlation. Numbers and strings produce
// distinct keys (`1` vs `"1"`). Returns "" for null or absent ids.
func (m *Message) IDKey() string {
	id := m.RawID()
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return ""
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, id); err != nil {
		return string(id)
	}
	return buf.String()
}

// MethodDetail returns a human-oriented refinement of the method for
// capture metadata: the tool name for tools/call, the resource URI for
// resources/read, the prompt name for prompts/get. Empty otherwise.
func (m *Message) MethodDetail() string {
	req := m.Request()
	if req == nil || len(req.Params) == 0 {
		return ""
	}

	var params struct {
		Name string `json:"name"`
		URI  string `json:"uri"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return ""
	}

	switch req.Method {
	case MethodToolsCall, MethodPromptsGet:
		return params.Name
	case MethodResourcesRead:
		return params.URI
	default:
		return ""
	}
}
