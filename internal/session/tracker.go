// Package session tracks study sessions: started when an artifact view is
// mounted, completed on unmount. Sessions shorter than the configured
// minimum are dropped, so accidental opens never pollute the history.
package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/synaptic/internal/storage"
)

// SessionStore is the durable side of a completed session.
type SessionStore interface {
	SaveStudySession(sess storage.StudySession) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type active struct {
	documentID   string
	activityKind string
	startedAt    time.Time
}

// Tracker holds in-flight sessions in memory and writes them through on
// completion.
type Tracker struct {
	store       SessionStore
	clock       Clock
	minDuration time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	active map[string]active
}

// NewTracker creates a Tracker. Sessions completing in under minDuration
// are dropped; if minDuration is <= 0 it defaults to one minute.
func NewTracker(store SessionStore, minDuration time.Duration) *Tracker {
	if minDuration <= 0 {
		minDuration = time.Minute
	}
	return &Tracker{
		store:       store,
		clock:       realClock{},
		minDuration: minDuration,
		logger:      slog.Default(),
		active:      make(map[string]active),
	}
}

// SetClock replaces the time source. Intended for tests.
func (t *Tracker) SetClock(c Clock) { t.clock = c }

// Start opens a session and returns its id.
func (t *Tracker) Start(documentID, activityKind string) string {
	id := uuid.New().String()

	t.mu.Lock()
	t.active[id] = active{
		documentID:   documentID,
		activityKind: activityKind,
		startedAt:    t.clock.Now(),
	}
	t.mu.Unlock()

	return id
}

// Complete closes a session. Sessions shorter than the minimum duration
// are dropped without a trace; unknown or already completed ids are a
// no-op. The boolean reports whether the session was recorded.
func (t *Tracker) Complete(id string) (bool, error) {
	t.mu.Lock()
	sess, ok := t.active[id]
	if ok {
		delete(t.active, id)
	}
	t.mu.Unlock()

	if !ok {
		return false, nil
	}

	now := t.clock.Now()
	duration := now.Sub(sess.startedAt)
	if duration < t.minDuration {
		t.logger.Debug("dropping short session", "session_id", id, "duration", duration)
		return false, nil
	}

	rec := storage.StudySession{
		ID:              id,
		DocumentID:      sess.documentID,
		ActivityKind:    sess.activityKind,
		StartedAt:       sess.startedAt,
		CompletedAt:     now,
		DurationSeconds: int(duration.Seconds()),
	}
	if err := t.store.SaveStudySession(rec); err != nil {
		return false, fmt.Errorf("saving session: %w", err)
	}
	return true, nil
}

// DropAbandoned discards sessions that have been open longer than maxAge.
// A client that never unmounted cleanly leaves one behind; abandoned
// sessions are dropped, not recorded, since their end time is unknown.
func (t *Tracker) DropAbandoned(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.clock.Now().Add(-maxAge)
	n := 0
	for id, sess := range t.active {
		if sess.startedAt.Before(cutoff) {
			delete(t.active, id)
			n++
		}
	}
	if n > 0 {
		t.logger.Info("dropped abandoned sessions", "count", n)
	}
	return n
}

// ActiveCount returns the number of in-flight sessions.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active)
}
