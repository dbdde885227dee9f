package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

const readChunkSize = 4096

// Iterator consumes a framed event stream: a finite, single-pass sequence of
// events ending with io.EOF. Buffering of partial network reads is owned by
// the iterator; frames that fail to parse as JSON are logged and skipped so
// one malformed frame never aborts a multi-minute job.
type Iterator struct {
	r      io.Reader
	buf    []byte
	eof    bool
	logger *slog.Logger
}

// NewIterator wraps an event-stream body.
func NewIterator(r io.Reader) *Iterator {
	return &Iterator{r: r, logger: slog.Default()}
}

var frameDelim = []byte("\n\n")

// Next returns the next event. Heartbeat frames are returned as events of
// KindHeartbeat; callers ignore them and must not treat them as progress.
// Returns io.EOF when the stream ends.
func (it *Iterator) Next() (Event, error) {
	for {
		frame, err := it.nextFrame()
		if err != nil {
			return Event{}, err
		}

		ev, ok := it.parseFrame(frame)
		if !ok {
			continue
		}
		return ev, nil
	}
}

// nextFrame returns the next delimiter-separated frame, reading more bytes
// from the underlying stream as needed.
func (it *Iterator) nextFrame() ([]byte, error) {
	for {
		if i := bytes.Index(it.buf, frameDelim); i >= 0 {
			frame := it.buf[:i]
			it.buf = it.buf[i+len(frameDelim):]
			return frame, nil
		}

		if it.eof {
			// Trailing data without a final delimiter is still a frame.
			if len(bytes.TrimSpace(it.buf)) > 0 {
				frame := it.buf
				it.buf = nil
				return frame, nil
			}
			return nil, io.EOF
		}

		chunk := make([]byte, readChunkSize)
		n, err := it.r.Read(chunk)
		if n > 0 {
			it.buf = append(it.buf, chunk[:n]...)
		}
		if err == io.EOF {
			it.eof = true
		} else if err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
	}
}

// parseFrame decodes one frame. Comment frames (leading ':') become
// heartbeats; data frames are JSON after the "data: " prefix. Returns
// ok=false for frames that must be discarded.
func (it *Iterator) parseFrame(frame []byte) (Event, bool) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return Event{}, false
	}

	if frame[0] == ':' {
		return Event{Kind: KindHeartbeat}, true
	}

	payload := frame
	if rest, ok := bytes.CutPrefix(frame, []byte("data:")); ok {
		payload = bytes.TrimSpace(rest)
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		it.logger.Debug("skipping malformed stream frame", "error", err, "frame_len", len(frame))
		return Event{}, false
	}
	if ev.Kind == "" {
		it.logger.Debug("skipping frame without event kind")
		return Event{}, false
	}
	return ev, true
}

// DecodeSingle parses the single-JSON fallback body: one terminal event
// (complete or error) encoded as a plain JSON document.
func DecodeSingle(r io.Reader) (Event, error) {
	var ev Event
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		return Event{}, fmt.Errorf("decoding response: %w", err)
	}
	if !ev.IsTerminal() {
		return Event{}, fmt.Errorf("expected terminal event, got kind %q", ev.Kind)
	}
	return ev, nil
}
