package retrieval_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/usecase/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScorer struct {
	mu            sync.Mutex
	gotQuery      string
	gotCandidates []domain.RerankCandidate
	results       []domain.RerankResult
	err           error
}

func (s *stubScorer) Rerank(_ context.Context, query string, candidates []domain.RerankCandidate) ([]domain.RerankResult, error) {
	s.mu.Lock()
	s.gotQuery = query
	s.gotCandidates = candidates
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

func (s *stubScorer) ModelName() string { return "stub-cross-encoder" }
func (s *stubScorer) Close() error      { return nil }

func (s *stubScorer) received() []domain.RerankCandidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gotCandidates
}

type stubSource struct {
	scorer domain.Reranker
	err    error
}

func (s *stubSource) Acquire(context.Context) (domain.Reranker, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.scorer, nil
}

func pool(n int) []domain.Candidate {
	out := make([]domain.Candidate, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Candidate{
			Passage:    domain.Passage{ID: fmt.Sprintf("p%03d", i), Text: fmt.Sprintf("passage %d", i)},
			Similarity: 1.0 - float32(i)*0.001,
		}
	}
	return out
}

func rerankCfg() retrieval.RerankConfig {
	return retrieval.RerankConfig{CandidateCeiling: 50, Timeout: 2 * time.Second}
}

func TestRerank(t *testing.T) {
	t.Run("applies scores and truncates to top k", func(t *testing.T) {
		scorer := &stubScorer{results: []domain.RerankResult{
			{ID: "p002", Score: 0.99},
			{ID: "p000", Score: 0.80},
			{ID: "p001", Score: 0.10},
		}}
		out, fallback := retrieval.Rerank(context.Background(), &stubSource{scorer: scorer},
			"the query", pool(3), 2, rerankCfg(), testLogger())

		assert.False(t, fallback)
		require.Len(t, out, 2)
		assert.Equal(t, "p002", out[0].Passage.ID)
		assert.Equal(t, "p000", out[1].Passage.ID)
		assert.InDelta(t, 0.99, out[0].Score, 1e-6)
		assert.False(t, out[0].Fallback)
		assert.Equal(t, "the query", scorer.gotQuery)
	})

	t.Run("cuts the pool to the ceiling before the scoring call", func(t *testing.T) {
		scorer := &stubScorer{results: []domain.RerankResult{{ID: "p000", Score: 1}}}
		_, fallback := retrieval.Rerank(context.Background(), &stubSource{scorer: scorer},
			"q", pool(80), 10, rerankCfg(), testLogger())

		assert.False(t, fallback)
		received := scorer.received()
		require.Len(t, received, 50, "scorer must see exactly the ceiling")
		assert.Equal(t, "p000", received[0].ID, "ceiling keeps the best-ranked prefix")
		assert.Equal(t, "p049", received[49].ID)
	})

	t.Run("scoring failure falls back to input order with placeholder scores", func(t *testing.T) {
		scorer := &stubScorer{err: errors.New("inference timeout")}
		out, fallback := retrieval.Rerank(context.Background(), &stubSource{scorer: scorer},
			"q", pool(5), 3, rerankCfg(), testLogger())

		assert.True(t, fallback)
		require.Len(t, out, 3)
		for i, r := range out {
			assert.Equal(t, fmt.Sprintf("p%03d", i), r.Passage.ID)
			assert.InDelta(t, 1.0-0.01*float64(i), r.Score, 1e-9)
			assert.True(t, r.Fallback)
		}
		assert.Greater(t, out[0].Score, out[1].Score)
		assert.Greater(t, out[1].Score, out[2].Score)
	})

	t.Run("acquisition failure falls back the same way", func(t *testing.T) {
		out, fallback := retrieval.Rerank(context.Background(), &stubSource{err: domain.ErrRerankUnavailable},
			"q", pool(4), 10, rerankCfg(), testLogger())

		assert.True(t, fallback)
		require.Len(t, out, 4, "top k larger than pool returns the whole pool")
		assert.Equal(t, "p000", out[0].Passage.ID)
	})

	t.Run("unknown candidate id in the response falls back", func(t *testing.T) {
		scorer := &stubScorer{results: []domain.RerankResult{{ID: "ghost", Score: 0.5}}}
		out, fallback := retrieval.Rerank(context.Background(), &stubSource{scorer: scorer},
			"q", pool(2), 2, rerankCfg(), testLogger())

		assert.True(t, fallback)
		assert.Len(t, out, 2)
	})

	t.Run("score ties break by passage id", func(t *testing.T) {
		scorer := &stubScorer{results: []domain.RerankResult{
			{ID: "p001", Score: 0.5},
			{ID: "p000", Score: 0.5},
		}}
		out, fallback := retrieval.Rerank(context.Background(), &stubSource{scorer: scorer},
			"q", pool(2), 2, rerankCfg(), testLogger())

		assert.False(t, fallback)
		require.Len(t, out, 2)
		assert.Equal(t, "p000", out[0].Passage.ID)
	})

	t.Run("zero top k or empty pool is a no-op", func(t *testing.T) {
		out, fallback := retrieval.Rerank(context.Background(), &stubSource{},
			"q", pool(3), 0, rerankCfg(), testLogger())
		assert.Nil(t, out)
		assert.False(t, fallback)

		out, fallback = retrieval.Rerank(context.Background(), &stubSource{},
			"q", nil, 5, rerankCfg(), testLogger())
		assert.Nil(t, out)
		assert.False(t, fallback)
	})
}

func TestRerankConfigValidate(t *testing.T) {
	assert.NoError(t, retrieval.DefaultRerankConfig().Validate())

	bad := retrieval.RerankConfig{CandidateCeiling: 0, Timeout: time.Second}
	assert.Error(t, bad.Validate())

	bad = retrieval.RerankConfig{CandidateCeiling: 10}
	assert.Error(t, bad.Validate())
}
