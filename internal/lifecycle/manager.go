package lifecycle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/synaptic/internal/storage"
)

// ErrDraftNotFound is returned by Commit and Discard when the referenced
// draft does not exist: never created, already discarded, or replaced by a
// later generation.
var ErrDraftNotFound = errors.New("draft not found")

// Draft is an uncommitted generation result. It has no stable artifact id;
// Ref is only valid until the draft is committed, discarded, replaced or
// expired.
type Draft struct {
	Ref        string
	DocumentID string
	Kind       string
	Content    Content
	CreatedAt  time.Time
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// ArtifactStore is the durable side of a commit.
type ArtifactStore interface {
	SaveArtifact(a storage.Artifact) error
}

// Manager holds drafts in memory and performs the commit and discard
// transitions. One draft is current per (documentID, kind) pair; putting a
// new draft for a pair silently replaces the previous one.
type Manager struct {
	store ArtifactStore
	clock Clock

	mu        sync.Mutex
	drafts    map[string]*Draft           // ref -> draft
	slots     map[string]string           // documentID+"/"+kind -> current ref
	committed map[string]storage.Artifact // ref -> persisted artifact
}

// NewManager creates a Manager writing committed artifacts to store.
func NewManager(store ArtifactStore) *Manager {
	return &Manager{
		store:     store,
		clock:     realClock{},
		drafts:    make(map[string]*Draft),
		slots:     make(map[string]string),
		committed: make(map[string]storage.Artifact),
	}
}

// SetClock replaces the time source. Intended for tests.
func (m *Manager) SetClock(c Clock) { m.clock = c }

func slotKey(documentID, kind string) string {
	return documentID + "/" + kind
}

// Put stores a finished generation as the current draft for its
// (documentID, kind) pair and returns its reference. Any previous draft
// for the pair is discarded.
func (m *Manager) Put(documentID, kind string, content Content) (Draft, error) {
	if err := content.Validate(); err != nil {
		return Draft{}, err
	}
	if content.Kind != kind {
		return Draft{}, fmt.Errorf("content kind %q does not match slot kind %q", content.Kind, kind)
	}

	d := Draft{
		Ref:        uuid.New().String(),
		DocumentID: documentID,
		Kind:       kind,
		Content:    content,
		CreatedAt:  m.clock.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := slotKey(documentID, kind)
	if prev, ok := m.slots[key]; ok {
		delete(m.drafts, prev)
	}
	m.drafts[d.Ref] = &d
	m.slots[key] = d.Ref

	return d, nil
}

// Get returns the draft for ref.
func (m *Manager) Get(ref string) (Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[ref]
	if !ok {
		return Draft{}, ErrDraftNotFound
	}
	return *d, nil
}

// Current returns the current draft for a (documentID, kind) pair, if any.
func (m *Manager) Current(documentID, kind string) (Draft, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ref, ok := m.slots[slotKey(documentID, kind)]
	if !ok {
		return Draft{}, false
	}
	d, ok := m.drafts[ref]
	if !ok {
		return Draft{}, false
	}
	return *d, true
}

// Commit persists the draft as an artifact and returns it. Commit is
// idempotent by ref: a second commit of the same ref returns the already
// persisted artifact instead of writing a second record. A failed write
// keeps the draft, so the caller can retry or discard.
func (m *Manager) Commit(ref string) (storage.Artifact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.committed[ref]; ok {
		return a, nil
	}

	d, ok := m.drafts[ref]
	if !ok {
		return storage.Artifact{}, ErrDraftNotFound
	}

	contentJSON, err := d.Content.Encode()
	if err != nil {
		return storage.Artifact{}, err
	}

	a := storage.Artifact{
		ID:          uuid.New().String(),
		DocumentID:  d.DocumentID,
		Kind:        d.Kind,
		ContentJSON: contentJSON,
		CreatedAt:   m.clock.Now(),
	}
	if err := m.store.SaveArtifact(a); err != nil {
		return storage.Artifact{}, fmt.Errorf("saving artifact: %w", err)
	}

	m.committed[ref] = a
	delete(m.drafts, ref)
	if m.slots[slotKey(d.DocumentID, d.Kind)] == ref {
		delete(m.slots, slotKey(d.DocumentID, d.Kind))
	}

	return a, nil
}

// Discard drops the draft with no trace.
func (m *Manager) Discard(ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.drafts[ref]
	if !ok {
		return ErrDraftNotFound
	}
	delete(m.drafts, ref)
	if m.slots[slotKey(d.DocumentID, d.Kind)] == ref {
		delete(m.slots, slotKey(d.DocumentID, d.Kind))
	}
	return nil
}

// ExpireDrafts drops drafts older than ttl and returns how many were
// removed. Commit records older than ttl are pruned on the same sweep.
// Run periodically.
func (m *Manager) ExpireDrafts(ttl time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock.Now().Add(-ttl)
	n := 0
	for ref, d := range m.drafts {
		if d.CreatedAt.Before(cutoff) {
			delete(m.drafts, ref)
			if m.slots[slotKey(d.DocumentID, d.Kind)] == ref {
				delete(m.slots, slotKey(d.DocumentID, d.Kind))
			}
			n++
		}
	}

	// The commit-idempotence memory ages out on the same horizon; a repeat
	// commit of such a ref fails as unknown instead of replaying forever.
	for ref, a := range m.committed {
		if a.CreatedAt.Before(cutoff) {
			delete(m.committed, ref)
		}
	}

	return n
}
