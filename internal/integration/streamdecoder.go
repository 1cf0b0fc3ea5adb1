package integration

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Stream protocol markers.
const (
	EventPrefix  = "data: "
	DoneSentinel = "[DONE]"
)

// LineKind classifies one decoded stream line.
type LineKind int

const (
	// LineSkip carries no content.
	LineSkip LineKind = iota
	// LineChunk carries a text chunk.
	LineChunk
	// LineError carries an error message that ends the stream.
	LineError
)

// LineDecoder splits a byte stream into lines. Bytes after the last newline
// are kept until more data arrives, so reads may split lines (and multi-byte
// characters) anywhere.
type LineDecoder struct {
	buf []byte
}

// Feed appends p and returns every line it completes, without the newline
// and any trailing carriage return.
func (d *LineDecoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimSuffix(d.buf[:i], []byte{'\r'})))
		d.buf = d.buf[i+1:]
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return lines
}

// Flush returns the buffered unterminated line, if any, and resets the decoder.
func (d *LineDecoder) Flush() (string, bool) {
	if len(d.buf) == 0 {
		return "", false
	}
	line := string(bytes.TrimSuffix(d.buf, []byte{'\r'}))
	d.buf = nil
	return line, true
}

// ParseLine interprets one line of the chat stream protocol.
//
// Prefixed lines carry a payload. The sentinel payload and payloads flagged
// done are skipped; a payload with an error field ends the stream; otherwise
// the text field (or else the content field) is the chunk. Payloads that are
// not JSON objects, and non-blank unprefixed lines, are passed through as raw
// chunks.
func ParseLine(line string) (LineKind, string) {
	payload, ok := strings.CutPrefix(line, EventPrefix)
	if !ok {
		if strings.TrimSpace(line) == "" {
			return LineSkip, ""
		}
		return LineChunk, line
	}
	if strings.TrimSpace(payload) == DoneSentinel {
		return LineSkip, ""
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return LineChunk, payload
	}
	if obj == nil || truthy(obj["done"]) {
		return LineSkip, ""
	}
	if e := obj["error"]; truthy(e) {
		return LineError, stringify(e)
	}

	text, ok := obj["text"]
	if !ok || text == nil {
		text = obj["content"]
	}
	if s, ok := text.(string); ok {
		return LineChunk, s
	}
	return LineSkip, ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "stream error"
	}
	return string(b)
}
