package capture

import (
	"encoding/json"
)

// JSON-RPC error code and message used when the gateway answers on behalf
// of an upstream that could not be reached.
const (
	UpstreamErrorCode    = -32000
	UpstreamErrorMessage = "upstream error"
)

type wireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   wireError       `json:"error"`
}

// SynthesizeErrorResponse builds the JSON-RPC error body returned and
// recorded when forwarding a request fails at the transport level. The id
// is echoed verbatim from the original request.
func SynthesizeErrorResponse(id json.RawMessage, cause error) json.RawMessage {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	env := errorEnvelope{
		JSONRPC: "2.0",
		ID:      id,
		Error: wireError{
			Code:    UpstreamErrorCode,
			Message: UpstreamErrorMessage,
			Data:    map[string]string{"details": cause.Error()},
		},
	}
	body, err := json.Marshal(env)
	if err != nil {
		// Marshal of this shape cannot fail for encodable causes.
		return json.RawMessage(`{"jsonrpc":"2.0","id":null,"error":{"code":-32000,"message":"upstream error"}}`)
	}
	return body
}

type usagePayload struct {
	InputTokens       *int64 `json:"inputTokens"`
	OutputTokens      *int64 `json:"outputTokens"`
	InputTokensSnake  *int64 `json:"input_tokens"`
	OutputTokensSnake *int64 `json:"output_tokens"`
}

// ExtractTokenUsage pulls model token counts out of a response result, when
// the upstream reports them under a "usage" object. Both camelCase and
// snake_case spellings are accepted. Returns zeros when absent.
func ExtractTokenUsage(result json.RawMessage) (inputTokens, outputTokens int64) {
	if len(result) == 0 {
		return 0, 0
	}
	var payload struct {
		Usage usagePayload `json:"usage"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return 0, 0
	}
	u := payload.Usage
	switch {
	case u.InputTokens != nil:
		inputTokens = *u.InputTokens
	case u.InputTokensSnake != nil:
		inputTokens = *u.InputTokensSnake
	}
	switch {
	case u.OutputTokens != nil:
		outputTokens = *u.OutputTokens
	case u.OutputTokensSnake != nil:
		outputTokens = *u.OutputTokensSnake
	}
	return inputTokens, outputTokens
}
