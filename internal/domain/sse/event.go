// Package sse implements an incremental parser and serializer for
// Server-Sent Events streams (text/event-stream).
package sse

import (
	"bytes"
	"fmt"
	"strings"
)

// Event is one SSE frame. Fields mirror the wire protocol: event, id and
// retry are scalars, data is the newline-joined concatenation of all data
// lines in the frame.
type Event struct {
	ID    string `json:"id,omitempty"`
	Type  string `json:"event,omitempty"`
	Data  string `json:"data,omitempty"`
	Retry string `json:"retry,omitempty"`
}

// IsEmpty reports whether the event carries no fields at all. Empty events
// are never dispatched by the parser.
func (e Event) IsEmpty() bool {
	return e.ID == "" && e.Type == "" && e.Data == "" && e.Retry == ""
}

// HasJSONData reports whether the data payload looks like a JSON value
// worth attempting as an embedded JSON-RPC frame.
func (e Event) HasJSONData() bool {
	trimmed := strings.TrimLeft(e.Data, " \t")
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
}

// Encode serializes the event back into its canonical wire frame,
// terminated by a blank line. Parsing the output yields the same event.
func (e Event) Encode() []byte {
	var b bytes.Buffer
	if e.Type != "" {
		fmt.Fprintf(&b, "event: %s\n", e.Type)
	}
	if e.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", e.ID)
	}
	if e.Retry != "" {
		fmt.Fprintf(&b, "retry: %s\n", e.Retry)
	}
	if e.Data != "" {
		for _, line := range strings.Split(e.Data, "\n") {
			fmt.Fprintf(&b, "data: %s\n", line)
		}
	}
	b.WriteByte('\n')
	return b.Bytes()
}
