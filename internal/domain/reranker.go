package domain

import "context"

// RerankCandidate is one passage offered to the cross-encoder for scoring.
type RerankCandidate struct {
	// ID is the passage identifier (used to map scores back).
	ID string
	// Content is the text scored against the query.
	Content string
	// Score is the pre-rerank score, carried for logging only.
	Score float32
}

// RerankResult is a cross-encoder relevance score for one candidate.
type RerankResult struct {
	// ID matches the candidate ID.
	ID string
	// Score is the cross-encoder relevance, higher is more relevant.
	Score float32
}

// Reranker scores candidates against a query with a cross-encoder model.
//
// Implementations are expensive to construct (model load onto an accelerator)
// and cheap to call, so the process holds exactly one instance behind a lazy
// handle. Scoring must be stateless: concurrent Rerank calls on one instance
// are safe and take no locks.
type Reranker interface {
	// Rerank issues a single batched scoring call for all candidates and
	// returns results sorted by score descending. On error callers keep the
	// pre-rerank order.
	Rerank(ctx context.Context, query string, candidates []RerankCandidate) ([]RerankResult, error)

	// ModelName returns the model identifier for logging.
	ModelName() string

	// Close releases the model and any accelerator memory it pinned. Called
	// once at process teardown, never per request.
	Close() error
}
