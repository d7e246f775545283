package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"retrieval-orchestrator/internal/domain"
)

// RerankConfig bounds the rerank stage.
type RerankConfig struct {
	// CandidateCeiling caps how many candidates are sent to the cross
	// encoder. The pool is cut to this size before the scoring call, never
	// after, so inference cost stays bounded no matter how wide retrieval
	// fanned out.
	CandidateCeiling int
	// Timeout bounds the scoring call including lazy model construction.
	Timeout time.Duration
}

// DefaultRerankConfig returns the production defaults.
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		CandidateCeiling: 50,
		Timeout:          10 * time.Second,
	}
}

// Validate checks the configuration bounds.
func (c RerankConfig) Validate() error {
	if c.CandidateCeiling <= 0 {
		return fmt.Errorf("rerank: candidate ceiling must be positive, got %d", c.CandidateCeiling)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("rerank: timeout must be positive")
	}
	return nil
}

// RerankerSource hands out the process-wide reranker instance, constructing
// it lazily on first use.
type RerankerSource interface {
	Acquire(ctx context.Context) (domain.Reranker, error)
}

// Rerank rescores the candidate pool against the query with one batched
// cross-encoder call and returns the top k by relevance. The pool must arrive
// in its upstream ranking order: the ceiling cut keeps the best-ranked
// candidates and the fallback path keeps that order too.
//
// Any failure (acquisition, timeout, scoring, unknown result IDs) degrades
// instead of failing: the pre-rerank order is returned with distinct
// placeholder scores descending, and the second return value reports the
// fallback so callers can mark the response metadata.
func Rerank(ctx context.Context, source RerankerSource, query string, pool []domain.Candidate, topK int, cfg RerankConfig, logger *slog.Logger) ([]domain.RerankedResult, bool) {
	if topK <= 0 || len(pool) == 0 {
		return nil, false
	}
	if len(pool) > cfg.CandidateCeiling {
		pool = pool[:cfg.CandidateCeiling]
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	scorer, err := source.Acquire(ctx)
	if err != nil {
		logger.Warn("reranker_unavailable_using_original_order",
			slog.String("error", err.Error()),
			slog.Int("pool", len(pool)))
		return fallbackResults(pool, topK), true
	}

	candidates := make([]domain.RerankCandidate, len(pool))
	byID := make(map[string]domain.Passage, len(pool))
	for i, c := range pool {
		candidates[i] = domain.RerankCandidate{
			ID:      c.Passage.ID,
			Content: c.Passage.Text,
			Score:   c.Similarity,
		}
		byID[c.Passage.ID] = c.Passage
	}

	started := time.Now()
	scored, err := scorer.Rerank(ctx, query, candidates)
	if err != nil {
		logger.Warn("rerank_failed_using_original_order",
			slog.String("error", err.Error()),
			slog.String("model", scorer.ModelName()),
			slog.Int("candidate_count", len(candidates)),
			slog.Int64("duration_ms", time.Since(started).Milliseconds()))
		return fallbackResults(pool, topK), true
	}

	results := make([]domain.RerankedResult, 0, len(scored))
	for _, s := range scored {
		passage, ok := byID[s.ID]
		if !ok {
			logger.Warn("rerank_returned_unknown_candidate_using_original_order",
				slog.String("id", s.ID))
			return fallbackResults(pool, topK), true
		}
		results = append(results, domain.RerankedResult{Passage: passage, Score: float64(s.Score)})
	}

	// The scorer contract is descending order; enforce it locally and break
	// ties by passage ID.
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Passage.ID < results[j].Passage.ID
	})

	if len(results) > topK {
		results = results[:topK]
	}

	logger.Info("rerank_completed",
		slog.String("model", scorer.ModelName()),
		slog.Int("candidate_count", len(candidates)),
		slog.Int("reranked_count", len(results)),
		slog.Int64("duration_ms", time.Since(started).Milliseconds()))

	return results, false
}

// fallbackResults keeps the pre-rerank order with distinct descending
// placeholder scores so downstream consumers still see a total order.
func fallbackResults(pool []domain.Candidate, topK int) []domain.RerankedResult {
	n := min(topK, len(pool))
	out := make([]domain.RerankedResult, n)
	for i := 0; i < n; i++ {
		out[i] = domain.RerankedResult{
			Passage:  pool[i].Passage,
			Score:    1.0 - float64(i)*0.01,
			Fallback: true,
		}
	}
	return out
}
