package mcp

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

func TestEncodeDecodeRequest(t *testing.T) {
	id, err := jsonrpc.MakeID(float64(1))
	if err != nil {
		t.Fatalf("MakeID failed: %v", err)
	}

	params := json.RawMessage(`{"name":"file_read","arguments":{"path":"/tmp/test.txt"}}`)
	req := &jsonrpc.Request{
		ID:     id,
		Method: "tools/call",
		Params: params,
	}

	encoded, err := EncodeMessage(req)
	if err != nil {
		t.Fatalf("EncodeMessage failed: %v", err)
	}

	decoded, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}

	decodedReq, ok := decoded.(*jsonrpc.Request)
	if !ok {
		t.Fatalf("expected *jsonrpc.Request, got %T", decoded)
	}

	if decodedReq.Method != "tools/call" {
		t.Errorf("expected method 'tools/call', got %q", decodedReq.Method)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{
			name: "not valid json",
			data: []byte(`{not valid`),
		},
		{
			name: "empty object",
			data: []byte(`{}`),
		},
		{
			name: "missing jsonrpc version",
			data: []byte(`{"id":1,"method":"test"}`),
		},
		{
			name: "wrong jsonrpc version",
			data: []byte(`{"jsonrpc":"1.0","id":1,"method":"test"}`),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.data)
			if err == nil {
				t.Errorf("expected error for malformed JSON %q, got nil", tt.name)
			}
		})
	}
}

func TestParseMessagesSingle(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)

	msgs, err := ParseMessages(raw)
	if err != nil {
		t.Fatalf("ParseMessages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("ParseMessages() len = %d, want 1", len(msgs))
	}
	if msgs[0].Method() != "tools/list" {
		t.Errorf("Method() = %q, want %q", msgs[0].Method(), "tools/list")
	}
	if string(msgs[0].Raw) != string(raw) {
		t.Errorf("raw bytes not preserved: got %q", msgs[0].Raw)
	}
}

func TestParseMessagesBatch(t *testing.T) {
	raw := []byte(`[
		{"jsonrpc":"2.0","id":1,"method":"tools/list"},
		{"jsonrpc":"2.0","method":"notifications/progress"},
		{"jsonrpc":"2.0","id":"abc","result":{}}
	]`)

	msgs, err := ParseMessages(raw)
	if err != nil {
		t.Fatalf("ParseMessages() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("ParseMessages() len = %d, want 3", len(msgs))
	}

	if !msgs[0].IsRequest() || msgs[0].IsNotification() {
		t.Error("element 0 should be a tracked request")
	}
	if !msgs[1].IsNotification() {
		t.Error("element 1 should be a notification")
	}
	if !msgs[2].IsResponse() {
		t.Error("element 2 should be a response")
	}
}

func TestParseMessagesInvalid(t *testing.T) {
	tests := []struct {
		name string
		body []byte
	}{
		{name: "empty body", body: []byte("")},
		{name: "whitespace only", body: []byte("  \n\t")},
		{name: "empty batch", body: []byte(`[]`)},
		{name: "batch with bad element", body: []byte(`[{"jsonrpc":"2.0","id":1,"method":"a"},{"bogus":true}]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMessages(tt.body)
			if err == nil {
				t.Fatal("ParseMessages() error = nil, want error")
			}
		})
	}

	// The sentinel should be detectable for non-message bodies.
	_, err := ParseMessages([]byte(`[]`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("ParseMessages([]) error = %v, want ErrInvalidMessage", err)
	}
}

func TestIDKey(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "numeric id", raw: `{"jsonrpc":"2.0","id":1,"method":"x"}`, want: "1"},
		{name: "string id", raw: `{"jsonrpc":"2.0","id":"abc","method":"x"}`, want: `"abc"`},
		{name: "string of digits distinct from number", raw: `{"jsonrpc":"2.0","id":"1","method":"x"}`, want: `"1"`},
		{name: "notification has no key", raw: `{"jsonrpc":"2.0","method":"x"}`, want: ""},
		{name: "response id", raw: `{"jsonrpc":"2.0","id":7,"result":{}}`, want: "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Wrap([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Wrap() error = %v", err)
			}
			if got := msg.IDKey(); got != tt.want {
				t.Errorf("IDKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMethodDetail(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{
			name: "tools/call uses tool name",
			raw:  `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_weather","arguments":{}}}`,
			want: "get_weather",
		},
		{
			name: "resources/read uses uri",
			raw:  `{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"file:///etc/hosts"}}`,
			want: "file:///etc/hosts",
		},
		{
			name: "prompts/get uses prompt name",
			raw:  `{"jsonrpc":"2.0","id":3,"method":"prompts/get","params":{"name":"summarize"}}`,
			want: "summarize",
		},
		{
			name: "other methods have no detail",
			raw:  `{"jsonrpc":"2.0","id":4,"method":"tools/list","params":{"name":"ignored"}}`,
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Wrap([]byte(tt.raw))
			if err != nil {
				t.Fatalf("Wrap() error = %v", err)
			}
			if got := msg.MethodDetail(); got != tt.want {
				t.Errorf("MethodDetail() = %q, want %q", got, tt.want)
			}
		})
	}
}
