package retrieval

import (
	"sort"

	"retrieval-orchestrator/internal/domain"
)

// DefaultRRFK is the standard reciprocal-rank-fusion constant. It dampens
// the gap between neighbouring ranks so no single list dominates the fusion.
const DefaultRRFK = 60.0

// FuseRRF merges variant ranked lists with reciprocal rank fusion. Every
// distinct passage scores the sum of 1/(rrfK+rank) over the lists containing
// it; missing from a list contributes nothing. The output is ordered by fused
// score descending with exact ties broken by ascending passage ID, so the
// result is identical across runs regardless of how the input lists were
// collected.
//
// A single input list comes back in its own order, which makes fusion a
// no-op passthrough for single-variant plans.
func FuseRRF(results []VariantResult, rrfK float64) []domain.FusedResult {
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}

	byID := make(map[string]*domain.FusedResult)
	order := make([]string, 0)

	for _, vr := range results {
		for _, item := range vr.List.Items {
			id := item.Passage.ID
			fused, ok := byID[id]
			if !ok {
				fused = &domain.FusedResult{Passage: item.Passage}
				byID[id] = fused
				order = append(order, id)
			}
			fused.FusedScore += 1.0 / (rrfK + float64(item.Rank))
			fused.Contributions = append(fused.Contributions, domain.RankContribution{
				SourceQuery: vr.Variant.Text,
				Rank:        item.Rank,
				Similarity:  item.Similarity,
			})
		}
	}

	out := make([]domain.FusedResult, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].FusedScore != out[j].FusedScore {
			return out[i].FusedScore > out[j].FusedScore
		}
		return out[i].Passage.ID < out[j].Passage.ID
	})

	return out
}
