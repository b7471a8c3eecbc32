package mcp

import (
	"encoding/json"
	"fmt"
)

// PeerInfo identifies one side of an MCP conversation, as exchanged in the
// initialize handshake: clientInfo in the request params, serverInfo in the
// response result.
type PeerInfo struct {
	Name    string `json:"name" validate:"required"`
	Version string `json:"version"`
	Title   string `json:"title,omitempty"`
}

// ClientInfoFromInitialize extracts clientInfo from an initialize request.
// Returns nil without error when the message is not an initialize request
// or carries no clientInfo.
func ClientInfoFromInitialize(m *Message) (*PeerInfo, error) {
	req := m.Request()
	if req == nil || req.Method != MethodInitialize || len(req.Params) == 0 {
		return nil, nil
	}

	var params struct {
		ClientInfo *PeerInfo `json:"clientInfo"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, fmt.Errorf("parse initialize params: %w", err)
	}
	return params.ClientInfo, nil
}

// ServerInfoFromInitializeResult extracts serverInfo from an initialize
// response. Returns nil without error when the message is not a response
// or its result carries no serverInfo.
func ServerInfoFromInitializeResult(m *Message) (*PeerInfo, error) {
	resp := m.Response()
	if resp == nil || len(resp.Result) == 0 {
		return nil, nil
	}

	var result struct {
		ServerInfo *PeerInfo `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("parse initialize result: %w", err)
	}
	return result.ServerInfo, nil
}
