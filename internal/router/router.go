// Package router decides, per chat query, whether to answer from the full
// document text or from the pre-indexed chunk store. The wrong answer either
// overflows the model context window or silently degrades answer quality, so
// the decision rules are fixed and ordered, and every decision names the
// rule that fired.
package router

import (
	"unicode/utf8"

	"github.com/kalambet/synaptic/internal/storage"
)

// Strategy selects the answering path for a query.
type Strategy string

const (
	StrategyDirect    Strategy = "direct"
	StrategyRetrieval Strategy = "retrieval"
)

// Reason values name the first rule that matched.
const (
	ReasonNoExtractedText        = "no_extracted_text"
	ReasonExceedsDirectThreshold = "exceeds_direct_threshold"
	ReasonAlreadyIndexed         = "already_indexed"
	ReasonWithinDirectThreshold  = "within_direct_threshold"
)

// Decision is recomputed per query and never persisted.
type Decision struct {
	Strategy Strategy `json:"strategy"`
	Reason   string   `json:"reason"`
}

// Router holds the configured direct-context size threshold.
type Router struct {
	threshold int
}

// New creates a Router with the given direct-context threshold in characters.
func New(threshold int) *Router {
	return &Router{threshold: threshold}
}

// Route evaluates the decision rules in order, first match wins:
//
//  1. no extracted text available (still processing, or extraction failed)
//     -> retrieval
//  2. extracted text longer than the threshold -> retrieval
//  3. already indexed with a non-zero chunk count -> retrieval, so an
//     indexed document never oscillates back to direct
//  4. otherwise -> direct
//
// The message text does not influence the decision.
func (r *Router) Route(doc storage.Document) Decision {
	if doc.ExtractedText == "" {
		return Decision{Strategy: StrategyRetrieval, Reason: ReasonNoExtractedText}
	}
	// The threshold is in characters, not bytes, so multibyte text is not
	// pushed to retrieval early.
	if utf8.RuneCountInString(doc.ExtractedText) > r.threshold {
		return Decision{Strategy: StrategyRetrieval, Reason: ReasonExceedsDirectThreshold}
	}
	if doc.Indexed && doc.ChunkCount > 0 {
		return Decision{Strategy: StrategyRetrieval, Reason: ReasonAlreadyIndexed}
	}
	return Decision{Strategy: StrategyDirect, Reason: ReasonWithinDirectThreshold}
}
