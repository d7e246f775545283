package retrieval

import (
	"retrieval-orchestrator/internal/domain"
)

// DedupeConfig selects the duplicate identity.
type DedupeConfig struct {
	// ByContent switches identity from passage ID to the normalized content
	// hash, collapsing near-identical passages that carry different IDs
	// (typically overlap artifacts of chunked documents).
	ByContent bool
}

// Dedupe collapses duplicate passages in a candidate stream. The occurrence
// with the best (lowest) rank survives; equal ranks keep the higher
// similarity. The output preserves the stable relative order of surviving
// first occurrences, so running Dedupe on its own output is a no-op.
func Dedupe(items []domain.RankedCandidate, cfg DedupeConfig) []domain.RankedCandidate {
	if len(items) == 0 {
		return nil
	}

	out := make([]domain.RankedCandidate, 0, len(items))
	index := make(map[string]int, len(items))

	for _, item := range items {
		key := item.Passage.ID
		if cfg.ByContent {
			key = domain.NormalizedContentHash(item.Passage.Text)
		}

		at, seen := index[key]
		if !seen {
			index[key] = len(out)
			out = append(out, item)
			continue
		}

		kept := out[at]
		if item.Rank < kept.Rank ||
			(item.Rank == kept.Rank && item.Similarity > kept.Similarity) {
			// Better occurrence: take its data, keep the original position.
			out[at] = item
		}
	}

	return out
}

// DedupeLists applies Dedupe to each variant list independently, leaving
// cross-list duplicates alone. Fusion needs per-list ranks intact and scores
// cross-list duplicates itself.
func DedupeLists(results []VariantResult, cfg DedupeConfig) []VariantResult {
	out := make([]VariantResult, len(results))
	for i, r := range results {
		out[i] = VariantResult{
			Variant: r.Variant,
			List:    domain.RankedList{Items: Dedupe(r.List.Items, cfg)},
		}
	}
	return out
}
