// Package sse reads and writes the line-framed `data: <json>` streams used by
// the assistant endpoints. It is not a full W3C event-source implementation:
// only data lines are meaningful and every line carries one JSON object.
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Event types emitted by the assistant service.
const (
	TypeCreated   = "response.created"
	TypeDelta     = "response.output_text.delta"
	TypeText      = "text"
	TypeCompleted = "response.completed"
	TypeError     = "error"
)

var dataPrefix = []byte("data:")

// Event is one decoded data line. Data holds the raw JSON object so callers
// can read fields this package does not model.
type Event struct {
	Type    string
	ID      string
	Text    string
	Message string
	Data    json.RawMessage
}

// IsText reports whether the event carries a text fragment.
func (e Event) IsText() bool {
	return e.Type == TypeDelta || e.Type == TypeText
}

type wireEvent struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	Delta   json.RawMessage `json:"delta"`
	Content json.RawMessage `json:"content"`
	Message json.RawMessage `json:"message"`
}

// Decoder splits a byte stream into events. Lines that do not start with
// "data:" and payloads that are not JSON objects are skipped. A final line
// without a terminating newline is discarded.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event, io.EOF at the clean end of the stream, or the
// underlying read error.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if ev, ok := ParseLine(line); ok {
			return ev, nil
		}
	}
}

// ParseLine decodes a single line. ok is false for lines that carry no event.
func ParseLine(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if !bytes.HasPrefix(line, dataPrefix) {
		return Event{}, false
	}
	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 || payload[0] != '{' {
		return Event{}, false
	}
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return Event{}, false
	}
	ev := Event{
		Type:    w.Type,
		ID:      w.ID,
		Message: stringField(w.Message),
		Data:    json.RawMessage(append([]byte(nil), payload...)),
	}
	switch w.Type {
	case TypeDelta:
		ev.Text = deltaText(w.Delta)
	case TypeText:
		ev.Text = stringField(w.Content)
	}
	return ev, true
}

// deltaText accepts both {"delta":{"text":"..."}} and {"delta":"..."}.
func deltaText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Text
	}
	return stringField(raw)
}

func stringField(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
