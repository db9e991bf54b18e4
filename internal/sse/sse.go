// Package sse implements the server-sent-events framing shared by every
// upstream stream reader and by the client-facing Anthropic event writer:
// a frame reader that splits on blank lines and extracts "data:" payloads,
// and a writer that emits "event:"/"data:" records and flushes after each
// one, grounded on the teacher's bufio.Scanner-based stream loops
// (internal/service/llm/openai/openai.go, internal/service/llm/antropic/antropic.go)
// and its writeSSEChunk/writeSSEError helpers (internal/server/gateway.go).
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Frame is one parsed SSE record.
type Frame struct {
	// Event is the value of the "event:" line, if any.
	Event string
	// Data is the concatenation of every "data:" line's value, newline
	// joined, matching the SSE spec's multi-line data field semantics.
	Data string
	// Raw holds the exact bytes of the record as received (every line,
	// newline separated, no trailing blank line), for verbatim forwarding.
	Raw []byte
}

// ReadFrames scans r for blank-line-delimited SSE records and invokes fn
// once per record. Comment lines (starting with ":") are dropped. fn's
// error, if non-nil, stops the scan and is returned.
func ReadFrames(r io.Reader, fn func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var rawLines []string
	var dataLines []string
	var event string

	flush := func() error {
		if len(rawLines) == 0 {
			return nil
		}
		f := Frame{
			Event: event,
			Data:  strings.Join(dataLines, "\n"),
			Raw:   []byte(strings.Join(rawLines, "\n")),
		}
		rawLines, dataLines, event = nil, nil, ""
		return fn(f)
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		rawLines = append(rawLines, line)
		switch {
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimPrefix(strings.TrimPrefix(line, "event:"), " ")
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

// Writer emits framed SSE records to an http.ResponseWriter, flushing after
// every record so the client sees each event as it is produced.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter wraps w for SSE output. It sets the standard streaming headers
// and fails if w does not support flushing.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent JSON-encodes payload and writes it as "event: name\ndata:
// <json>\n\n", flushing immediately.
func (sw *Writer) WriteEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal event %s: %w", name, err)
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// WriteRaw forwards a record's exact bytes unchanged (plus the trailing
// blank line SSE framing requires), used for Anthropic-wire passthrough
// streams that must not be re-serialized.
func (sw *Writer) WriteRaw(raw []byte) error {
	if _, err := sw.w.Write(raw); err != nil {
		return err
	}
	if !bytes.HasSuffix(raw, []byte("\n")) {
		if _, err := io.WriteString(sw.w, "\n"); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(sw.w, "\n"); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// ErrorPayload is the body of a synthesized "error" event (spec §4.6.4,
// §7): upstream/cancellation failures mid-stream are surfaced this way
// rather than as an HTTP error envelope, since headers are already sent.
type ErrorPayload struct {
	Type  string     `json:"type"`
	Error ErrorInner `json:"error"`
}

type ErrorInner struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// WriteError emits a synthesized error event. openAICompatDone additionally
// appends a "data: [DONE]" sentinel, used only when the proxy itself is
// emulating an OpenAI-shape stream for a consumer expecting that sentinel;
// the default Anthropic client-facing stream never sets it, ending instead
// with message_stop.
func (sw *Writer) WriteError(kind, message string, openAICompatDone bool) error {
	if err := sw.WriteEvent("error", ErrorPayload{
		Type:  "error",
		Error: ErrorInner{Type: kind, Message: message},
	}); err != nil {
		return err
	}
	if openAICompatDone {
		if _, err := io.WriteString(sw.w, "data: [DONE]\n\n"); err != nil {
			return err
		}
		sw.flusher.Flush()
	}
	return nil
}

// LogUnparseable records a debug-level log for a frame whose data payload
// was not parseable JSON and not the "[DONE]" sentinel — spec §4.6.4
// mandates dropping such frames rather than aborting the client stream.
func LogUnparseable(source, data string, err error) {
	slog.Debug("sse: dropping unparseable frame", "source", source, "error", err, "data", data)
}
