package lifecycle

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/synaptic/internal/storage"
)

type fakeArtifactStore struct {
	mu     sync.Mutex
	saved  []storage.Artifact
	calls  int
	failOn int // fail the Nth save (1-based), 0 = never
}

func (f *fakeArtifactStore) SaveArtifact(a storage.Artifact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return errors.New("disk full")
	}
	f.saved = append(f.saved, a)
	return nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func summaryContent(text string) Content {
	return Content{Kind: KindSummary, Summary: &SummaryBody{Text: text}}
}

func TestCommitPersistsDraft(t *testing.T) {
	store := &fakeArtifactStore{}
	m := NewManager(store)

	d, err := m.Put("doc-1", KindSummary, summaryContent("the summary"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	a, err := m.Commit(d.Ref)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if a.ID == "" {
		t.Error("committed artifact has no id")
	}
	if a.DocumentID != "doc-1" || a.Kind != KindSummary {
		t.Errorf("artifact = %+v, want doc-1/%s", a, KindSummary)
	}

	got, err := DecodeContent(a.ContentJSON)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	if got.Summary == nil || got.Summary.Text != "the summary" {
		t.Errorf("content = %+v, want committed draft content", got)
	}

	if len(store.saved) != 1 {
		t.Errorf("saved %d artifacts, want 1", len(store.saved))
	}
	if _, err := m.Get(d.Ref); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("Get after commit = %v, want ErrDraftNotFound", err)
	}
}

func TestCommitIdempotentByRef(t *testing.T) {
	store := &fakeArtifactStore{}
	m := NewManager(store)

	d, _ := m.Put("doc-1", KindSummary, summaryContent("once"))

	first, err := m.Commit(d.Ref)
	if err != nil {
		t.Fatalf("first Commit: %v", err)
	}
	second, err := m.Commit(d.Ref)
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("second commit id = %s, want %s", second.ID, first.ID)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d artifacts, want exactly 1", len(store.saved))
	}
}

func TestCommitUnknownRef(t *testing.T) {
	m := NewManager(&fakeArtifactStore{})

	if _, err := m.Commit("no-such-ref"); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("Commit unknown ref = %v, want ErrDraftNotFound", err)
	}
}

func TestFailedCommitKeepsDraft(t *testing.T) {
	store := &fakeArtifactStore{failOn: 1}
	m := NewManager(store)

	d, _ := m.Put("doc-1", KindSummary, summaryContent("keep me"))

	if _, err := m.Commit(d.Ref); err == nil {
		t.Fatal("Commit succeeded, want store failure")
	}

	// The draft survives, so a retry can succeed.
	if _, err := m.Get(d.Ref); err != nil {
		t.Fatalf("draft lost after failed commit: %v", err)
	}
	if _, err := m.Commit(d.Ref); err != nil {
		t.Fatalf("retry Commit: %v", err)
	}
}

func TestDiscardIsTraceless(t *testing.T) {
	store := &fakeArtifactStore{}
	m := NewManager(store)

	d, _ := m.Put("doc-1", KindSummary, summaryContent("scrap"))

	if err := m.Discard(d.Ref); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved %d artifacts after discard, want 0", len(store.saved))
	}
	if _, err := m.Commit(d.Ref); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("Commit after discard = %v, want ErrDraftNotFound", err)
	}
	if err := m.Discard(d.Ref); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("second Discard = %v, want ErrDraftNotFound", err)
	}
}

func TestPutReplacesSlotDraft(t *testing.T) {
	m := NewManager(&fakeArtifactStore{})

	old, _ := m.Put("doc-1", KindSummary, summaryContent("old"))
	newer, _ := m.Put("doc-1", KindSummary, summaryContent("new"))

	if _, err := m.Get(old.Ref); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("old draft still reachable: %v", err)
	}

	cur, ok := m.Current("doc-1", KindSummary)
	if !ok {
		t.Fatal("no current draft")
	}
	if cur.Ref != newer.Ref {
		t.Errorf("current ref = %s, want %s", cur.Ref, newer.Ref)
	}
}

func TestPutDifferentKindsCoexist(t *testing.T) {
	m := NewManager(&fakeArtifactStore{})

	s, _ := m.Put("doc-1", KindSummary, summaryContent("summary"))
	mm, _ := m.Put("doc-1", KindMindMap, Content{
		Kind: KindMindMap,
		MindMap: &MindMapBody{
			Nodes: []MindMapNode{{ID: "root", Label: "Topic", Depth: 0}},
		},
	})

	if _, err := m.Get(s.Ref); err != nil {
		t.Errorf("summary draft gone: %v", err)
	}
	if _, err := m.Get(mm.Ref); err != nil {
		t.Errorf("mind map draft gone: %v", err)
	}
}

func TestPutRejectsMismatchedContent(t *testing.T) {
	m := NewManager(&fakeArtifactStore{})

	if _, err := m.Put("doc-1", KindPodcast, summaryContent("wrong body")); err == nil {
		t.Error("Put accepted summary content in a podcast slot")
	}
	if _, err := m.Put("doc-1", KindSummary, Content{Kind: "poster"}); err == nil {
		t.Error("Put accepted unknown kind")
	}
}

func TestExpireDrafts(t *testing.T) {
	m := NewManager(&fakeArtifactStore{})
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(clock)

	stale, _ := m.Put("doc-1", KindSummary, summaryContent("stale"))
	clock.Advance(25 * time.Hour)
	fresh, _ := m.Put("doc-2", KindSummary, summaryContent("fresh"))

	if n := m.ExpireDrafts(24 * time.Hour); n != 1 {
		t.Errorf("expired %d drafts, want 1", n)
	}
	if _, err := m.Get(stale.Ref); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("stale draft survived: %v", err)
	}
	if _, err := m.Get(fresh.Ref); err != nil {
		t.Errorf("fresh draft expired: %v", err)
	}
}

func TestExpireDraftsPrunesCommitRecords(t *testing.T) {
	store := &fakeArtifactStore{}
	m := NewManager(store)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	m.SetClock(clock)

	d, _ := m.Put("doc-1", KindSummary, summaryContent("done"))
	first, err := m.Commit(d.Ref)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Inside the TTL a repeat commit still replays the same artifact.
	clock.Advance(time.Hour)
	m.ExpireDrafts(24 * time.Hour)
	again, err := m.Commit(d.Ref)
	if err != nil {
		t.Fatalf("Commit inside ttl: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("repeat commit id = %s, want %s", again.ID, first.ID)
	}

	// Past the TTL the record is gone and the ref is unknown again.
	clock.Advance(25 * time.Hour)
	m.ExpireDrafts(24 * time.Hour)
	if _, err := m.Commit(d.Ref); !errors.Is(err, ErrDraftNotFound) {
		t.Errorf("Commit past ttl = %v, want ErrDraftNotFound", err)
	}
	if len(store.saved) != 1 {
		t.Errorf("saved %d artifacts, want exactly 1", len(store.saved))
	}
}

func TestContentEncodeDecodeRoundTrip(t *testing.T) {
	in := Content{
		Kind: KindPodcast,
		Podcast: &PodcastBody{
			Transcript: []PodcastLine{
				{Speaker: "host", Text: "Welcome back."},
				{Speaker: "guest", Text: "Glad to be here."},
			},
			AudioPath: "podcast-abc.mp3",
		},
	}

	encoded, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	out, err := DecodeContent(encoded)
	if err != nil {
		t.Fatalf("DecodeContent: %v", err)
	}
	if out.Podcast == nil || len(out.Podcast.Transcript) != 2 {
		t.Fatalf("decoded = %+v", out)
	}
	if out.Podcast.AudioPath != "podcast-abc.mp3" {
		t.Errorf("AudioPath = %q", out.Podcast.AudioPath)
	}
}

func TestContentValidateRejectsDoubleBody(t *testing.T) {
	c := Content{
		Kind:    KindSummary,
		Summary: &SummaryBody{Text: "s"},
		MindMap: &MindMapBody{},
	}
	if err := c.Validate(); err == nil {
		t.Error("Validate accepted two bodies")
	}
}
