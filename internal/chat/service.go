// Package chat answers questions about a document, routing each query to
// either direct full-text prompting or retrieval over the chunk index.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/synaptic/internal/retrieval"
	"github.com/kalambet/synaptic/internal/router"
	"github.com/kalambet/synaptic/internal/storage"
)

// ErrIndexMissing is returned when a query routes to retrieval but the
// document has no chunk index. The remedy is re-indexing the document.
var ErrIndexMissing = errors.New("chunk index missing")

// directTextBudget caps the document text included in a direct prompt.
// Documents longer than this are routed to retrieval anyway; the cap only
// guards against misconfigured thresholds.
const directTextBudget = 120_000

// Completer is the question-answering capability.
type Completer interface {
	Complete(ctx context.Context, system, user string, jsonMode bool) (string, error)
}

// DocumentStore loads documents for routing and direct answering.
type DocumentStore interface {
	GetDocument(id string) (storage.Document, error)
}

// Retriever finds the document chunks most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, documentID, query string, topK int) ([]retrieval.Chunk, error)
}

// Answer is a chat reply together with the routing decision that produced
// it.
type Answer struct {
	Text     string          `json:"text"`
	Decision router.Decision `json:"decision"`
}

// Service routes and answers chat queries.
type Service struct {
	docs      DocumentStore
	router    *router.Router
	retriever Retriever
	llm       Completer
	topK      int
}

// NewService creates a chat Service. topK <= 0 defaults to 5.
func NewService(docs DocumentStore, r *router.Router, retriever Retriever, llm Completer, topK int) *Service {
	if topK <= 0 {
		topK = 5
	}
	return &Service{docs: docs, router: r, retriever: retriever, llm: llm, topK: topK}
}

// Route returns the retrieval decision for a query against a document
// without answering it.
func (s *Service) Route(documentID string) (router.Decision, error) {
	doc, err := s.docs.GetDocument(documentID)
	if err != nil {
		return router.Decision{}, fmt.Errorf("loading document %s: %w", documentID, err)
	}
	return s.router.Route(doc), nil
}

// Ask answers a question about a document within a conversation. The
// conversation must belong to the document being asked about.
func (s *Service) Ask(ctx context.Context, conv *Conversation, message string) (Answer, error) {
	if strings.TrimSpace(message) == "" {
		return Answer{}, fmt.Errorf("empty message")
	}

	doc, err := s.docs.GetDocument(conv.DocumentID)
	if err != nil {
		return Answer{}, fmt.Errorf("loading document %s: %w", conv.DocumentID, err)
	}

	decision := s.router.Route(doc)

	var text string
	switch decision.Strategy {
	case router.StrategyDirect:
		text, err = s.answerDirect(ctx, doc, conv, message)
	case router.StrategyRetrieval:
		text, err = s.answerWithRetrieval(ctx, doc, conv, message)
	default:
		err = fmt.Errorf("unknown strategy %q", decision.Strategy)
	}
	if err != nil {
		return Answer{}, err
	}

	conv.Append(RoleUser, message)
	conv.Append(RoleAssistant, text)

	return Answer{Text: text, Decision: decision}, nil
}

const answerSystem = `You answer questions about a study document. Ground every answer in the provided material; when the material does not cover the question, say so instead of guessing.`

func (s *Service) answerDirect(ctx context.Context, doc storage.Document, conv *Conversation, message string) (string, error) {
	text := doc.ExtractedText
	if len(text) > directTextBudget {
		text = text[:directTextBudget]
	}

	user := fmt.Sprintf("Document:\n\n%s\n\n%sQuestion: %s", text, conv.PromptHistory(), message)
	answer, err := s.llm.Complete(ctx, answerSystem, user, false)
	if err != nil {
		return "", fmt.Errorf("answering directly: %w", err)
	}
	return strings.TrimSpace(answer), nil
}

func (s *Service) answerWithRetrieval(ctx context.Context, doc storage.Document, conv *Conversation, message string) (string, error) {
	if !doc.Indexed || doc.ChunkCount == 0 {
		return "", fmt.Errorf("document %s: %w", doc.ID, ErrIndexMissing)
	}

	chunks, err := s.retriever.Retrieve(ctx, doc.ID, message, s.topK)
	if err != nil {
		return "", fmt.Errorf("retrieving context: %w", err)
	}
	if len(chunks) == 0 {
		return "", fmt.Errorf("document %s: %w", doc.ID, ErrIndexMissing)
	}

	var sb strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, c.Text)
	}

	user := fmt.Sprintf("Excerpts from the document:\n\n%s%sQuestion: %s", sb.String(), conv.PromptHistory(), message)
	answer, err := s.llm.Complete(ctx, answerSystem, user, false)
	if err != nil {
		return "", fmt.Errorf("answering with retrieval: %w", err)
	}
	return strings.TrimSpace(answer), nil
}
