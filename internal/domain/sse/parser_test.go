package sse

import (
	"reflect"
	"testing"
)

func TestFeedSingleEvent(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("event: message\nid: 42\ndata: {\"jsonrpc\":\"2.0\"}\n\n"))
	want := []Event{{ID: "42", Type: "message", Data: "{\"jsonrpc\":\"2.0\"}"}}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
}

func TestFeedChunked(t *testing.T) {
	p := NewParser()
	if got := p.Feed([]byte("event: mes")); len(got) != 0 {
		t.Fatalf("partial chunk produced %d events", len(got))
	}
	if got := p.Feed([]byte("sage\ndata: hel")); len(got) != 0 {
		t.Fatalf("partial chunk produced %d events", len(got))
	}
	events := p.Feed([]byte("lo\n\n"))
	want := []Event{{Type: "message", Data: "hello"}}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
}

func TestFeedMultiLineData(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: line one\ndata: line two\ndata:\n\n"))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Data != "line one\nline two\n" {
		t.Errorf("data = %q, want %q", events[0].Data, "line one\nline two\n")
	}
}

func TestFeedCRLF(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("id: 7\r\ndata: ok\r\n\r\n"))
	want := []Event{{ID: "7", Data: "ok"}}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
}

func TestFeedIgnoresCommentsAndUnknownFields(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte(": keepalive\nwhatever: x\ndata: kept\n\n"))
	want := []Event{{Data: "kept"}}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
}

func TestFeedMultipleEvents(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data: one\n\nevent: ping\ndata: two\n\nretry: 3000\ndata: three\n\n"))
	want := []Event{
		{Data: "one"},
		{Type: "ping", Data: "two"},
		{Retry: "3000", Data: "three"},
	}
	if !reflect.DeepEqual(events, want) {
		t.Fatalf("events = %+v, want %+v", events, want)
	}
}

func TestFeedStripsSingleLeadingSpace(t *testing.T) {
	p := NewParser()
	events := p.Feed([]byte("data:  two spaces\ndata:none\n\n"))
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Data != " two spaces\nnone" {
		t.Errorf("data = %q", events[0].Data)
	}
}

func TestFeedSkipsEmptyFrames(t *testing.T) {
	p := NewParser()
	if events := p.Feed([]byte("\n\n\n")); len(events) != 0 {
		t.Fatalf("blank lines produced %d events", len(events))
	}
}

func TestFlushUnterminatedEvent(t *testing.T) {
	p := NewParser()
	if events := p.Feed([]byte("event: done\ndata: tail\n")); len(events) != 0 {
		t.Fatalf("unterminated frame produced %d events", len(events))
	}
	ev := p.Flush()
	if ev == nil {
		t.Fatal("Flush returned nil for pending event")
	}
	if ev.Type != "done" || ev.Data != "tail" {
		t.Errorf("flushed event = %+v", ev)
	}
	if again := p.Flush(); again != nil {
		t.Errorf("second Flush returned %+v, want nil", again)
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{"full", Event{ID: "9", Type: "message", Data: "{\"a\":1}", Retry: "1000"}},
		{"multiline data", Event{Data: "one\ntwo"}},
		{"type only", Event{Type: "ping"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewParser()
			events := p.Feed(tt.event.Encode())
			if len(events) != 1 {
				t.Fatalf("round trip produced %d events, want 1", len(events))
			}
			if !reflect.DeepEqual(events[0], tt.event) {
				t.Errorf("round trip = %+v, want %+v", events[0], tt.event)
			}
		})
	}
}

func TestHasJSONData(t *testing.T) {
	tests := []struct {
		data string
		want bool
	}{
		{"{\"jsonrpc\":\"2.0\"}", true},
		{"  [1,2]", true},
		{"plain text", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := (Event{Data: tt.data}).HasJSONData(); got != tt.want {
			t.Errorf("HasJSONData(%q) = %v, want %v", tt.data, got, tt.want)
		}
	}
}
