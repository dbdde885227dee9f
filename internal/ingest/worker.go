package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/synaptic/internal/retrieval"
	"github.com/kalambet/synaptic/internal/storage"
)

// JobTypeIndexDocument is the queue type for chunk index build jobs.
const JobTypeIndexDocument = "index_document"

// IndexPayload is the JSON body of an index_document job.
type IndexPayload struct {
	DocumentID string `json:"document_id"`
}

// EnqueueIndexJob queues a chunk index build for the given document.
func EnqueueIndexJob(store JobStore, documentID string) error {
	payload, err := json.Marshal(IndexPayload{DocumentID: documentID})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	job := storage.Job{
		ID:          uuid.New().String(),
		Type:        JobTypeIndexDocument,
		PayloadJSON: string(payload),
	}
	if err := store.EnqueueJob(job); err != nil {
		return fmt.Errorf("enqueueing index job: %w", err)
	}
	return nil
}

// JobStore abstracts the job queue and document operations the worker needs.
type JobStore interface {
	EnqueueJob(job storage.Job) error
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	SetDocumentIndexed(id string, chunkCount int) error
}

// BatchEmbedder generates embeddings for multiple texts.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkStore holds document chunk vectors.
type ChunkStore interface {
	Insert(records []retrieval.Record) error
	DeleteByDocument(documentID string) error
}

// Worker processes index_document jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder BatchEmbedder
	chunks   ChunkStore
	config   ChunkConfig
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder BatchEmbedder, chunks ChunkStore, config ChunkConfig, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if config.Target <= 0 {
		config = DefaultChunkConfig()
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		chunks:   chunks,
		config:   config,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single index_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIndexDocument})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload IndexPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	doc, err := w.store.GetDocument(payload.DocumentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", payload.DocumentID, err)
	}
	if doc.ExtractedText == "" {
		return fmt.Errorf("document %s has no extracted text", doc.ID)
	}

	texts := Chunk(doc.ExtractedText, w.config)
	if len(texts) == 0 {
		return fmt.Errorf("document %s produced no chunks", doc.ID)
	}

	vectors, err := w.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	records := make([]retrieval.Record, len(texts))
	now := time.Now().UTC()
	for i, text := range texts {
		records[i] = retrieval.Record{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			ChunkIndex: i,
			TextChunk:  text,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	// Re-indexing replaces the old chunk set wholesale.
	if err := w.chunks.DeleteByDocument(doc.ID); err != nil {
		return fmt.Errorf("clearing old chunks: %w", err)
	}
	if err := w.chunks.Insert(records); err != nil {
		return fmt.Errorf("inserting chunks: %w", err)
	}

	if err := w.store.SetDocumentIndexed(doc.ID, len(records)); err != nil {
		return fmt.Errorf("marking document indexed: %w", err)
	}

	return nil
}
