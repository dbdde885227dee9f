package retrieval

import "time"

// VectorStore is the interface for chunk storage and similarity search
// backends. The default implementation uses SQLite with brute-force cosine
// similarity, which is fine for per-document chunk counts in the hundreds.
type VectorStore interface {
	// Insert adds chunk records.
	Insert(records []Record) error

	// Search returns the top-K records of one document most similar to the
	// query vector.
	Search(documentID string, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of stored chunks for a document.
	Count(documentID string) (int, error)

	// DeleteByDocument removes all chunks of a document (re-index path).
	DeleteByDocument(documentID string) error
}

// Record is one stored document chunk with its embedding.
type Record struct {
	ID         string
	DocumentID string
	ChunkIndex int
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
