package sse

import (
	"bytes"
	"strings"
)

// Parser consumes an SSE byte stream in arbitrary chunks and emits events
// as their terminating blank line arrives. State carries across Feed calls,
// so a field split mid-chunk is reassembled before it is interpreted.
type Parser struct {
	buf       bytes.Buffer
	cur       Event
	dataLines []string
}

// NewParser returns a parser positioned at the start of a stream.
func NewParser() *Parser {
	return &Parser{}
}

// Feed appends chunk to the stream and returns the events completed by it,
// in stream order. Incomplete trailing input stays buffered for the next
// call.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf.Write(chunk)
	var events []Event
	for {
		line, ok := p.nextLine()
		if !ok {
			break
		}
		if ev, done := p.consumeLine(line); done {
			events = append(events, ev)
		}
	}
	return events
}

// Flush returns the event accumulated from fields not yet terminated by a
// blank line, or nil if nothing is pending. Call it once the stream ends so
// a final unterminated frame is not lost.
func (p *Parser) Flush() *Event {
	ev, ok := p.finalize()
	if !ok {
		return nil
	}
	return &ev
}

// nextLine extracts one complete line from the buffer. Lines terminate on
// LF, with an optional preceding CR stripped.
func (p *Parser) nextLine() (string, bool) {
	data := p.buf.Bytes()
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return "", false
	}
	line := string(p.buf.Next(i + 1))
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, true
}

func (p *Parser) consumeLine(line string) (Event, bool) {
	if line == "" {
		return p.finalize()
	}
	if strings.HasPrefix(line, ":") {
		// Comment line, per the protocol it carries nothing.
		return Event{}, false
	}
	field, value, found := strings.Cut(line, ":")
	if !found {
		field, value = line, ""
	}
	value = strings.TrimPrefix(value, " ")
	switch field {
	case "data":
		p.dataLines = append(p.dataLines, value)
	case "event":
		p.cur.Type = value
	case "id":
		p.cur.ID = value
	case "retry":
		p.cur.Retry = value
	default:
		// Unknown fields are ignored without aborting the stream.
	}
	return Event{}, false
}

func (p *Parser) finalize() (Event, bool) {
	ev := p.cur
	ev.Data = strings.Join(p.dataLines, "\n")
	p.cur = Event{}
	p.dataLines = nil
	if ev.IsEmpty() {
		return Event{}, false
	}
	return ev, true
}
