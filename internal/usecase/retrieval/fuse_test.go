package retrieval_test

import (
	"testing"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/usecase/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func variantList(query string, ids ...string) retrieval.VariantResult {
	candidates := make([]domain.RankedCandidate, len(ids))
	for i, id := range ids {
		candidates[i] = domain.RankedCandidate{
			Candidate: domain.Candidate{
				Passage:     domain.Passage{ID: id, Text: "text " + id},
				Similarity:  float32(1.0) - float32(i)*0.1,
				SourceQuery: query,
			},
			Rank: i + 1,
		}
	}
	return retrieval.VariantResult{
		Variant: domain.QueryVariant{Text: query, Strategy: domain.StrategyMultiQuery},
		List:    domain.RankedList{Items: candidates},
	}
}

func TestFuseRRF(t *testing.T) {
	t.Run("canonical two list scenario", func(t *testing.T) {
		list1 := variantList("q1", "P1", "P2", "P3")
		list2 := variantList("q2", "P3", "P1", "P4")

		fused := retrieval.FuseRRF([]retrieval.VariantResult{list1, list2}, 60)
		require.Len(t, fused, 4)

		assert.Equal(t, "P1", fused[0].Passage.ID)
		assert.Equal(t, "P3", fused[1].Passage.ID)
		assert.Equal(t, "P2", fused[2].Passage.ID)
		assert.Equal(t, "P4", fused[3].Passage.ID)

		assert.InDelta(t, 1.0/61+1.0/62, fused[0].FusedScore, 1e-9)
		assert.InDelta(t, 1.0/63+1.0/61, fused[1].FusedScore, 1e-9)
		assert.InDelta(t, 1.0/62, fused[2].FusedScore, 1e-9)
		assert.InDelta(t, 1.0/63, fused[3].FusedScore, 1e-9)

		require.Len(t, fused[0].Contributions, 2)
		assert.Equal(t, 1, fused[0].Contributions[0].Rank)
		assert.Equal(t, 2, fused[0].Contributions[1].Rank)
	})

	t.Run("deterministic regardless of list arrival order", func(t *testing.T) {
		list1 := variantList("q1", "P1", "P2", "P3")
		list2 := variantList("q2", "P3", "P1", "P4")

		a := retrieval.FuseRRF([]retrieval.VariantResult{list1, list2}, 60)
		b := retrieval.FuseRRF([]retrieval.VariantResult{list2, list1}, 60)

		require.Equal(t, len(a), len(b))
		for i := range a {
			assert.Equal(t, a[i].Passage.ID, b[i].Passage.ID)
			assert.InDelta(t, a[i].FusedScore, b[i].FusedScore, 1e-12)
		}
	})

	t.Run("repeated fusion of identical input is identical", func(t *testing.T) {
		input := []retrieval.VariantResult{
			variantList("q1", "a", "b", "c"),
			variantList("q2", "c", "d"),
			variantList("q3", "b", "a"),
		}
		first := retrieval.FuseRRF(input, 60)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, retrieval.FuseRRF(input, 60))
		}
	})

	t.Run("single list preserves input order", func(t *testing.T) {
		only := variantList("q", "x3", "x1", "x2")
		fused := retrieval.FuseRRF([]retrieval.VariantResult{only}, 60)
		require.Len(t, fused, 3)
		assert.Equal(t, "x3", fused[0].Passage.ID)
		assert.Equal(t, "x1", fused[1].Passage.ID)
		assert.Equal(t, "x2", fused[2].Passage.ID)
	})

	t.Run("exact score ties break by ascending passage id", func(t *testing.T) {
		fused := retrieval.FuseRRF([]retrieval.VariantResult{
			variantList("q1", "zeta"),
			variantList("q2", "alpha"),
		}, 60)
		require.Len(t, fused, 2)
		assert.InDelta(t, fused[0].FusedScore, fused[1].FusedScore, 1e-12)
		assert.Equal(t, "alpha", fused[0].Passage.ID)
		assert.Equal(t, "zeta", fused[1].Passage.ID)
	})

	t.Run("better rank in more lists always scores higher", func(t *testing.T) {
		// P appears at rank 1 in two lists, Q at rank 2 in the same two lists.
		fused := retrieval.FuseRRF([]retrieval.VariantResult{
			variantList("q1", "P", "Q"),
			variantList("q2", "P", "Q"),
		}, 60)
		require.Equal(t, "P", fused[0].Passage.ID)
		assert.Greater(t, fused[0].FusedScore, fused[1].FusedScore)
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		assert.Empty(t, retrieval.FuseRRF(nil, 60))
	})

	t.Run("non positive constant falls back to default", func(t *testing.T) {
		only := variantList("q", "a")
		fused := retrieval.FuseRRF([]retrieval.VariantResult{only}, 0)
		require.Len(t, fused, 1)
		assert.InDelta(t, 1.0/(retrieval.DefaultRRFK+1), fused[0].FusedScore, 1e-9)
	})
}
