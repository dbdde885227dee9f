package retrieval

import (
	"fmt"
	"testing"

	"github.com/kalambet/synaptic/internal/storage"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewSQLiteStore(s.DB())
}

func insertChunks(t *testing.T, vs *SQLiteStore, documentID string, embeddings [][]float32) {
	t.Helper()
	records := make([]Record, len(embeddings))
	for i, emb := range embeddings {
		records[i] = Record{
			ID:         fmt.Sprintf("%s-chunk-%d", documentID, i),
			DocumentID: documentID,
			ChunkIndex: i,
			TextChunk:  fmt.Sprintf("chunk %d of %s", i, documentID),
			Embedding:  emb,
		}
	}
	if err := vs.Insert(records); err != nil {
		t.Fatalf("Insert: %v", err)
	}
}

func TestSearchReturnsTopKByCosineSimilarity(t *testing.T) {
	vs := openTestStore(t)
	insertChunks(t, vs, "doc-1", [][]float32{
		{1, 0, 0},      // identical direction to query
		{0.9, 0.1, 0},  // close
		{0, 1, 0},      // orthogonal
		{-1, 0, 0},     // opposite
	})

	got, err := vs.Search("doc-1", []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "doc-1-chunk-0" {
		t.Errorf("best match = %s, want doc-1-chunk-0", got[0].ID)
	}
	if got[1].ID != "doc-1-chunk-1" {
		t.Errorf("second match = %s, want doc-1-chunk-1", got[1].ID)
	}
	if got[0].Score < got[1].Score {
		t.Errorf("results not sorted by score: %f < %f", got[0].Score, got[1].Score)
	}
}

func TestSearchScopedToDocument(t *testing.T) {
	vs := openTestStore(t)
	insertChunks(t, vs, "doc-1", [][]float32{{1, 0, 0}})
	insertChunks(t, vs, "doc-2", [][]float32{{1, 0, 0}, {0.9, 0, 0.1}})

	got, err := vs.Search("doc-2", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (doc-1 chunks excluded)", len(got))
	}
	for _, r := range got {
		if r.DocumentID != "doc-2" {
			t.Errorf("got chunk of document %q, want doc-2 only", r.DocumentID)
		}
	}
}

func TestSearchEmptyDocument(t *testing.T) {
	vs := openTestStore(t)

	got, err := vs.Search("missing", []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != nil {
		t.Errorf("Search on empty document = %v, want nil", got)
	}
}

func TestSearchZeroQueryVector(t *testing.T) {
	vs := openTestStore(t)
	insertChunks(t, vs, "doc-1", [][]float32{{1, 0}})

	got, err := vs.Search("doc-1", []float32{0, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got != nil {
		t.Errorf("Search with zero vector = %v, want nil", got)
	}
}

func TestCountAndDeleteByDocument(t *testing.T) {
	vs := openTestStore(t)
	insertChunks(t, vs, "doc-1", [][]float32{{1, 0}, {0, 1}, {1, 1}})

	n, err := vs.Count("doc-1")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 3 {
		t.Errorf("Count = %d, want 3", n)
	}

	if err := vs.DeleteByDocument("doc-1"); err != nil {
		t.Fatalf("DeleteByDocument: %v", err)
	}
	n, err = vs.Count("doc-1")
	if err != nil {
		t.Fatalf("Count after delete: %v", err)
	}
	if n != 0 {
		t.Errorf("Count after delete = %d, want 0", n)
	}
}

func TestFloat32CodecRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3.75, 0}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decodeFloat32s: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %f, want %f", i, out[i], in[i])
		}
	}
}

func TestDecodeFloat32sRejectsCorruptBlob(t *testing.T) {
	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("decodeFloat32s accepted a blob of length 3")
	}
}
