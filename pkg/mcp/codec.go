package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// ErrInvalidMessage is returned for bodies that are neither a JSON-RPC
// object nor a batch array of them.
var ErrInvalidMessage = errors.New("invalid JSON-RPC message")

// JSON-RPC 2.0 error codes the gateway emits on behalf of a body it
// rejected before forwarding.
const (
	ParseErrorCode     = -32700
	InvalidRequestCode = -32600
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire data into either a
// *jsonrpc.Request or a *jsonrpc.Response.
// This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// Wrap decodes raw JSON-RPC bytes and pairs them with the decoded form.
func Wrap(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:     raw,
		Decoded: decoded,
	}, nil
}

// ParseMessages parses an HTTP body as either a single JSON-RPC message or
// a batch array. A batch yields one Message per element, each retaining its
// own raw bytes. An empty body or empty batch is ErrInvalidMessage.
func ParseMessages(body []byte) ([]*Message, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, ErrInvalidMessage
	}

	if trimmed[0] != '[' {
		msg, err := Wrap(body)
		if err != nil {
			return nil, err
		}
		return []*Message{msg}, nil
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(trimmed, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if len(elements) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrInvalidMessage)
	}

	messages := make([]*Message, 0, len(elements))
	for i, element := range elements {
		msg, err := Wrap(element)
		if err != nil {
			return nil, fmt.Errorf("batch element %d: %w", i, err)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}
