package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra/logger"
)

// BaseRetriever turns one query text into a ranked candidate list by
// embedding it and searching the vector index. It is the only stage that
// touches the corpus.
type BaseRetriever struct {
	encoder domain.VectorEncoder
	index   domain.VectorIndex
	timeout time.Duration
	clog    *logger.ContextLogger
}

// NewBaseRetriever builds a retriever over the given encoder and index.
// The timeout bounds the combined embed plus search round trip per call.
func NewBaseRetriever(encoder domain.VectorEncoder, index domain.VectorIndex, timeout time.Duration, log *slog.Logger) *BaseRetriever {
	return &BaseRetriever{encoder: encoder, index: index, timeout: timeout, clog: logger.NewContextLoggerWith(log, "base_retriever")}
}

// Retrieve returns up to k candidates for the query, ordered by similarity
// descending with contiguous 1-based ranks and ties broken by passage ID.
// k of zero short-circuits to an empty list without touching the encoder or
// the index; negative k is a validation error. Encoder and index failures
// wrap domain.ErrRetrievalUnavailable so the orchestrator can retry once and
// then exclude the variant.
func (r *BaseRetriever) Retrieve(ctx context.Context, query string, k int, filters domain.Filters) (domain.RankedList, error) {
	if k < 0 {
		return domain.RankedList{}, fmt.Errorf("%w: k must not be negative, got %d", domain.ErrInvalidRequest, k)
	}
	if k == 0 {
		return domain.RankedList{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	started := time.Now()

	vectors, err := r.encoder.Encode(ctx, []string{query})
	if err != nil {
		return domain.RankedList{}, fmt.Errorf("%w: encode query: %v", domain.ErrRetrievalUnavailable, err)
	}
	if len(vectors) != 1 {
		return domain.RankedList{}, fmt.Errorf("%w: expected 1 embedding, got %d", domain.ErrRetrievalUnavailable, len(vectors))
	}

	hits, err := r.index.Search(ctx, vectors[0], k, filters)
	if err != nil {
		return domain.RankedList{}, fmt.Errorf("%w: index search: %v", domain.ErrRetrievalUnavailable, err)
	}

	candidates := make([]domain.Candidate, len(hits))
	for i, hit := range hits {
		candidates[i] = domain.Candidate{
			Passage:     hit.Passage,
			Similarity:  hit.Similarity,
			SourceQuery: query,
		}
	}

	list := domain.NewRankedList(candidates).Truncate(k)

	r.clog.WithContext(ctx).Debug("base_retrieval_completed",
		slog.Int("k", k),
		slog.Int("hits", list.Len()),
		slog.Duration("elapsed", time.Since(started)))

	return list, nil
}
