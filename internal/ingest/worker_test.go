package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/synaptic/internal/retrieval"
	"github.com/kalambet/synaptic/internal/storage"
)

type mockEmbedder struct {
	embedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if m.embedFn != nil {
		return m.embedFn(ctx, texts)
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = []float32{0.1, 0.2, 0.3}
	}
	return vecs, nil
}

type mockChunkStore struct {
	mu       sync.Mutex
	inserted []retrieval.Record
	deleted  []string
}

func (m *mockChunkStore) Insert(records []retrieval.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted = append(m.inserted, records...)
	return nil
}

func (m *mockChunkStore) DeleteByDocument(documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, documentID)
	return nil
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveTestDocument(t *testing.T, store *storage.Store, docID, text string) {
	t.Helper()
	doc := storage.Document{
		ID:            docID,
		Title:         "Test Doc",
		Source:        "test",
		ContentType:   "text",
		ExtractedText: text,
		CreatedAt:     time.Now().UTC(),
	}
	if err := store.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
}

func enqueueTestJob(t *testing.T, store *storage.Store, docID string) {
	t.Helper()
	payload, _ := json.Marshal(IndexPayload{DocumentID: docID})
	job := storage.Job{
		ID:          "job-" + docID,
		Type:        JobTypeIndexDocument,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
}

// resetRunAfter sets run_after to now so the job is immediately claimable after FailJob backoff.
func resetRunAfter(t *testing.T, store *storage.Store, jobID string) {
	t.Helper()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := store.DB().Exec(`UPDATE jobs SET run_after = ? WHERE id = ?`, now, jobID)
	if err != nil {
		t.Fatalf("resetRunAfter: %v", err)
	}
}

func TestWorker_BuildsChunkIndex(t *testing.T) {
	store := openTestStore(t)
	saveTestDocument(t, store, "doc-1", strings.Repeat("Learning theory paragraph. ", 200))
	enqueueTestJob(t, store, "doc-1")

	chunks := &mockChunkStore{}
	w := NewWorker(store, &mockEmbedder{}, chunks, ChunkConfig{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}

	chunks.mu.Lock()
	inserted := len(chunks.inserted)
	for i, rec := range chunks.inserted {
		if rec.DocumentID != "doc-1" {
			t.Errorf("record %d DocumentID = %q, want doc-1", i, rec.DocumentID)
		}
		if rec.ChunkIndex != i {
			t.Errorf("record %d ChunkIndex = %d", i, rec.ChunkIndex)
		}
	}
	deleted := len(chunks.deleted)
	chunks.mu.Unlock()

	if inserted < 2 {
		t.Fatalf("inserted %d chunks, want several for a long document", inserted)
	}
	if deleted != 1 {
		t.Errorf("DeleteByDocument called %d times, want 1 (re-index clears old chunks)", deleted)
	}

	doc, err := store.GetDocument("doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if !doc.Indexed {
		t.Error("document not marked indexed")
	}
	if doc.ChunkCount != inserted {
		t.Errorf("ChunkCount = %d, want %d", doc.ChunkCount, inserted)
	}
}

func TestWorker_NoJobReturnsFalse(t *testing.T) {
	store := openTestStore(t)
	w := NewWorker(store, &mockEmbedder{}, &mockChunkStore{}, ChunkConfig{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if didWork {
		t.Error("RunOnce returned true with an empty queue")
	}
}

func TestWorker_EmptyDocumentFailsJob(t *testing.T) {
	store := openTestStore(t)
	saveTestDocument(t, store, "doc-e", "")
	enqueueTestJob(t, store, "doc-e")

	w := NewWorker(store, &mockEmbedder{}, &mockChunkStore{}, ChunkConfig{}, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false")
	}

	var status string
	var attempts int
	if err := store.DB().QueryRow(`SELECT status, attempts FROM jobs WHERE id = 'job-doc-e'`).Scan(&status, &attempts); err != nil {
		t.Fatalf("query job: %v", err)
	}
	if status != "pending" || attempts != 1 {
		t.Errorf("status=%q attempts=%d, want pending/1", status, attempts)
	}
}

func TestWorker_RetryThenSucceed(t *testing.T) {
	store := openTestStore(t)
	saveTestDocument(t, store, "doc-r", "retry content")
	enqueueTestJob(t, store, "doc-r")

	calls := 0
	w := NewWorker(store, &mockEmbedder{
		embedFn: func(_ context.Context, texts []string) ([][]float32, error) {
			calls++
			if calls <= 2 {
				return nil, fmt.Errorf("transient error %d", calls)
			}
			vecs := make([][]float32, len(texts))
			for i := range texts {
				vecs[i] = []float32{0.1}
			}
			return vecs, nil
		},
	}, &mockChunkStore{}, ChunkConfig{}, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, "job-doc-r")
		}
	}

	var status string
	if err := store.DB().QueryRow(`SELECT status FROM jobs WHERE id = 'job-doc-r'`).Scan(&status); err != nil {
		t.Fatalf("query final status: %v", err)
	}
	if status != "completed" {
		t.Errorf("final status = %q, want completed", status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	saveTestDocument(t, store, "doc-m", "max retry content")
	enqueueTestJob(t, store, "doc-m")

	w := NewWorker(store, &mockEmbedder{
		embedFn: func(_ context.Context, _ []string) ([][]float32, error) {
			return nil, fmt.Errorf("permanent error")
		},
	}, &mockChunkStore{}, ChunkConfig{}, 0)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		if i < 3 {
			resetRunAfter(t, store, "job-doc-m")
		}
	}

	var status string
	if err := store.DB().QueryRow(`SELECT status FROM jobs WHERE id = 'job-doc-m'`).Scan(&status); err != nil {
		t.Fatalf("query final status: %v", err)
	}
	if status != "failed" {
		t.Errorf("final status = %q, want %q", status, "failed")
	}
}

func TestEnqueueIndexJob(t *testing.T) {
	store := openTestStore(t)
	saveTestDocument(t, store, "doc-q", "queue me")

	if err := EnqueueIndexJob(store, "doc-q"); err != nil {
		t.Fatalf("EnqueueIndexJob: %v", err)
	}

	job, err := store.ClaimNextJob([]string{JobTypeIndexDocument})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no job claimed after EnqueueIndexJob")
	}

	var payload IndexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.DocumentID != "doc-q" {
		t.Errorf("payload document = %q, want doc-q", payload.DocumentID)
	}
}
