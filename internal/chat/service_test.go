package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/synaptic/internal/retrieval"
	"github.com/kalambet/synaptic/internal/router"
	"github.com/kalambet/synaptic/internal/storage"
)

type fakeDocs map[string]storage.Document

func (f fakeDocs) GetDocument(id string) (storage.Document, error) {
	doc, ok := f[id]
	if !ok {
		return storage.Document{}, storage.ErrNotFound
	}
	return doc, nil
}

type fakeCompleter struct {
	answer   string
	err      error
	lastUser string
}

func (f *fakeCompleter) Complete(_ context.Context, _, user string, _ bool) (string, error) {
	f.lastUser = user
	return f.answer, f.err
}

type fakeRetriever struct {
	chunks []retrieval.Chunk
	err    error
	called bool
}

func (f *fakeRetriever) Retrieve(_ context.Context, documentID, _ string, _ int) ([]retrieval.Chunk, error) {
	f.called = true
	return f.chunks, f.err
}

const threshold = 1000

func newTestService(docs fakeDocs, llm *fakeCompleter, ret *fakeRetriever) *Service {
	return NewService(docs, router.New(threshold), ret, llm, 3)
}

func TestAskDirectForSmallDocument(t *testing.T) {
	docs := fakeDocs{"doc-1": {ID: "doc-1", ExtractedText: "Short document text."}}
	llm := &fakeCompleter{answer: "The answer."}
	ret := &fakeRetriever{}
	s := newTestService(docs, llm, ret)

	conv := NewConversation("doc-1")
	got, err := s.Ask(context.Background(), conv, "What is this about?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got.Text != "The answer." {
		t.Errorf("Text = %q", got.Text)
	}
	if got.Decision.Strategy != router.StrategyDirect {
		t.Errorf("strategy = %s, want direct", got.Decision.Strategy)
	}
	if got.Decision.Reason != router.ReasonWithinDirectThreshold {
		t.Errorf("reason = %s", got.Decision.Reason)
	}
	if ret.called {
		t.Error("retriever called on direct path")
	}
	if !strings.Contains(llm.lastUser, "Short document text.") {
		t.Error("prompt does not include the document text")
	}
}

func TestAskRetrievalForLargeIndexedDocument(t *testing.T) {
	docs := fakeDocs{"doc-1": {
		ID:            "doc-1",
		ExtractedText: strings.Repeat("x", threshold+1),
		Indexed:       true,
		ChunkCount:    4,
	}}
	llm := &fakeCompleter{answer: "From chunks."}
	ret := &fakeRetriever{chunks: []retrieval.Chunk{
		{ID: "c1", Text: "relevant excerpt one"},
		{ID: "c2", Text: "relevant excerpt two"},
	}}
	s := newTestService(docs, llm, ret)

	got, err := s.Ask(context.Background(), NewConversation("doc-1"), "Explain.")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if got.Decision.Strategy != router.StrategyRetrieval {
		t.Errorf("strategy = %s, want retrieval", got.Decision.Strategy)
	}
	if !ret.called {
		t.Error("retriever not called on retrieval path")
	}
	if !strings.Contains(llm.lastUser, "relevant excerpt one") {
		t.Error("prompt does not include retrieved chunks")
	}
	if strings.Contains(llm.lastUser, strings.Repeat("x", threshold+1)) {
		t.Error("prompt includes the full document on the retrieval path")
	}
}

func TestAskIndexMissing(t *testing.T) {
	// Large but never indexed: routed to retrieval, no index to serve it.
	docs := fakeDocs{"doc-1": {
		ID:            "doc-1",
		ExtractedText: strings.Repeat("x", threshold+1),
	}}
	s := newTestService(docs, &fakeCompleter{}, &fakeRetriever{})

	_, err := s.Ask(context.Background(), NewConversation("doc-1"), "Explain.")
	if !errors.Is(err, ErrIndexMissing) {
		t.Errorf("err = %v, want ErrIndexMissing", err)
	}
}

func TestAskEmptyRetrievalIsIndexMissing(t *testing.T) {
	docs := fakeDocs{"doc-1": {
		ID:            "doc-1",
		ExtractedText: strings.Repeat("x", threshold+1),
		Indexed:       true,
		ChunkCount:    3,
	}}
	s := newTestService(docs, &fakeCompleter{}, &fakeRetriever{chunks: nil})

	_, err := s.Ask(context.Background(), NewConversation("doc-1"), "Explain.")
	if !errors.Is(err, ErrIndexMissing) {
		t.Errorf("err = %v, want ErrIndexMissing", err)
	}
}

func TestAskRecordsConversationTurns(t *testing.T) {
	docs := fakeDocs{"doc-1": {ID: "doc-1", ExtractedText: "Text."}}
	llm := &fakeCompleter{answer: "First answer."}
	s := newTestService(docs, llm, &fakeRetriever{})

	conv := NewConversation("doc-1")
	if _, err := s.Ask(context.Background(), conv, "First question?"); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	turns := conv.Turns()
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}
	if turns[0].Role != RoleUser || turns[1].Role != RoleAssistant {
		t.Errorf("turn roles = %s, %s", turns[0].Role, turns[1].Role)
	}

	// The second question's prompt carries the history.
	if _, err := s.Ask(context.Background(), conv, "Second question?"); err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if !strings.Contains(llm.lastUser, "First question?") {
		t.Error("prompt does not include prior turns")
	}

	conv.Reset()
	if len(conv.Turns()) != 0 {
		t.Error("Reset did not clear turns")
	}
	if conv.DocumentID != "doc-1" {
		t.Error("Reset cleared the document binding")
	}
}

func TestConversationHistoryBounded(t *testing.T) {
	conv := NewConversation("doc-1")
	for i := 0; i < 40; i++ {
		conv.Append(RoleUser, "q")
		conv.Append(RoleAssistant, "a")
	}
	if got := len(conv.Turns()); got != maxHistoryTurns {
		t.Errorf("turns = %d, want %d", got, maxHistoryTurns)
	}
}

func TestRouteDoesNotAnswer(t *testing.T) {
	docs := fakeDocs{"doc-1": {ID: "doc-1", ExtractedText: "tiny"}}
	s := newTestService(docs, &fakeCompleter{}, &fakeRetriever{})

	d, err := s.Route("doc-1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if d.Strategy != router.StrategyDirect {
		t.Errorf("strategy = %s", d.Strategy)
	}

	if _, err := s.Route("missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Route missing = %v, want ErrNotFound", err)
	}
}
