package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ContentTypeEventStream is the transport content type of a framed stream.
// Consumers branch on it first; anything else is the single-JSON fallback.
const ContentTypeEventStream = "text/event-stream"

// IsEventStream reports whether a response content type carries a framed
// event stream rather than a single JSON document.
func IsEventStream(contentType string) bool {
	for i := 0; i < len(contentType); i++ {
		if contentType[i] == ';' {
			contentType = contentType[:i]
			break
		}
	}
	return contentType == ContentTypeEventStream
}

// Writer frames events onto a one-way push channel. Each data frame is the
// literal "data: " prefix followed by the JSON event; frames are separated
// by a blank line. Heartbeats are comment frames carrying no payload.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter prepares w for streaming, setting the event-stream headers.
// Returns an error when the ResponseWriter cannot flush incrementally.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported by response writer")
	}

	w.Header().Set("Content-Type", ContentTypeEventStream)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	return &Writer{w: w, flusher: flusher}, nil
}

// NewWriterTo wraps a plain io.Writer without header handling (used by tests
// and non-HTTP transports). Flushing is a no-op.
func NewWriterTo(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Send frames and flushes a single event.
func (sw *Writer) Send(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}

// Heartbeat writes a comment frame. It keeps the connection alive and is
// never parsed as JSON by consumers.
func (sw *Writer) Heartbeat() error {
	if _, err := io.WriteString(sw.w, ": heartbeat\n\n"); err != nil {
		return fmt.Errorf("writing heartbeat: %w", err)
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	return nil
}
