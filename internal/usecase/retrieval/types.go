// Package retrieval holds the pipeline stages: query enhancement, complexity
// classification, per-variant retrieval, deduplication, rank fusion and
// cross-encoder reranking. Stages are plain functions, or small structs over
// their collaborators, so the orchestrator can compose them per mode plan.
package retrieval

import (
	"retrieval-orchestrator/internal/domain"
)

// VariantResult pairs a query variant with the ranked list it retrieved.
type VariantResult struct {
	Variant domain.QueryVariant
	List    domain.RankedList
}

// Concat flattens variant lists into one candidate stream, keeping variant
// order and within-list rank order. The stream feeds cross-variant
// deduplication in plans that skip fusion.
func Concat(results []VariantResult) []domain.RankedCandidate {
	total := 0
	for _, r := range results {
		total += r.List.Len()
	}
	out := make([]domain.RankedCandidate, 0, total)
	for _, r := range results {
		out = append(out, r.List.Items...)
	}
	return out
}

// Candidates strips ranks from a candidate stream.
func Candidates(items []domain.RankedCandidate) []domain.Candidate {
	out := make([]domain.Candidate, len(items))
	for i, it := range items {
		out[i] = it.Candidate
	}
	return out
}
