package retrieval

import (
	"context"
	"fmt"
)

// Chunk is a retrieved context fragment with its similarity score.
type Chunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Text       string
	Score      float32
}

// Retriever combines embedding and vector search to find relevant chunks of
// a single document.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the document's top-K most similar chunks.
func (r *Retriever) Retrieve(ctx context.Context, documentID, query string, topK int) ([]Chunk, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(documentID, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	chunks := make([]Chunk, len(scored))
	for i, s := range scored {
		chunks[i] = Chunk{
			ID:         s.ID,
			DocumentID: s.DocumentID,
			ChunkIndex: s.ChunkIndex,
			Text:       s.TextChunk,
			Score:      s.Score,
		}
	}
	return chunks, nil
}
