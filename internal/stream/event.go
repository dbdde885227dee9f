// Package stream implements the progress stream protocol: the framed wire
// format by which generation progress, completion, and errors are pushed to
// a caller incrementally, plus the single-JSON fallback for callers that
// cannot hold a channel open.
package stream

import "encoding/json"

// Kind discriminates progress events.
type Kind string

const (
	KindProgress  Kind = "progress"
	KindComplete  Kind = "complete"
	KindError     Kind = "error"
	KindHeartbeat Kind = "heartbeat"
)

// Event is one frame of a generation progress stream. Exactly one terminal
// event (complete or error) ends a job's stream; percent values are
// non-decreasing up to that point.
type Event struct {
	Kind    Kind            `json:"kind"`
	Percent int             `json:"percent,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Reason  string          `json:"reason,omitempty"`
}

// IsTerminal reports whether no further events are valid after this one.
func (e Event) IsTerminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

func Progress(percent int, message string) Event {
	return Event{Kind: KindProgress, Percent: percent, Message: message}
}

func Complete(payload json.RawMessage) Event {
	return Event{Kind: KindComplete, Percent: 100, Payload: payload}
}

func Error(reason string) Event {
	return Event{Kind: KindError, Reason: reason}
}
