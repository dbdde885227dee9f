package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document is an uploaded source document. ExtractedText is empty while
// text extraction is still pending (or failed); Indexed and ChunkCount are
// flipped by the index worker once the chunk index is built.
type Document struct {
	ID            string
	Title         string
	Source        string
	ContentType   string // "text", "html", "pdf"
	ExtractedText string
	TextLength    int
	Indexed       bool
	ChunkCount    int
	CreatedAt     time.Time
}

// Artifact is a persisted generation result. ContentJSON holds the
// tagged-variant content envelope.
type Artifact struct {
	ID          string
	DocumentID  string
	Kind        string
	ContentJSON string
	CreatedAt   time.Time
}

// StudySession is a recorded artifact-viewing session. Sessions shorter
// than the configured minimum are never written.
type StudySession struct {
	ID              string
	DocumentID      string
	ActivityKind    string
	StartedAt       time.Time
	CompletedAt     time.Time
	DurationSeconds int
}

// GenerationRun records one job execution so a disconnected caller can
// query its status and reach the draft afterwards.
type GenerationRun struct {
	ID         string
	DocumentID string
	Kind       string
	Status     string // "running", "completed", "failed"
	Progress   int
	Error      string
	DraftRef   string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
