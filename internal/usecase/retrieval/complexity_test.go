package retrieval_test

import (
	"testing"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/usecase/retrieval"

	"github.com/stretchr/testify/assert"
)

func TestClassifyComplexity(t *testing.T) {
	cases := []struct {
		name     string
		question string
		want     domain.Complexity
	}{
		{
			name:     "short lookup is simple",
			question: "maximum liability amount",
			want:     domain.ComplexitySimple,
		},
		{
			name:     "empty string is simple",
			question: "   ",
			want:     domain.ComplexitySimple,
		},
		{
			name:     "single causal cue is moderate",
			question: "why does the liability cap apply to carriers",
			want:     domain.ComplexityModerate,
		},
		{
			name:     "comparison is moderate",
			question: "difference between chapter 2 and chapter 3 obligations",
			want:     domain.ComplexityModerate,
		},
		{
			name:     "comparison plus aggregation is complex",
			question: "compare all notification duties and list the exceptions",
			want:     domain.ComplexityComplex,
		},
		{
			name:     "multi question is complex",
			question: "who approves the transfer? and how is the approval documented?",
			want:     domain.ComplexityComplex,
		},
		{
			name:     "long causal question is complex",
			question: "explain how the revised reporting thresholds in the annex affect small operators that were previously exempt under the transitional rules and why the exemption was narrowed",
			want:     domain.ComplexityComplex,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, retrieval.ClassifyComplexity(tc.question))
		})
	}
}

func TestClassifyComplexityDeterministic(t *testing.T) {
	q := "compare the safety and reporting chapters; which one applies to subcontractors?"
	first := retrieval.ClassifyComplexity(q)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, retrieval.ClassifyComplexity(q))
	}
}

func TestClassifyComplexityTokenBoundaries(t *testing.T) {
	// Cue words embedded inside larger tokens must not count.
	assert.Equal(t, domain.ComplexitySimple,
		retrieval.ClassifyComplexity("comparator datasheet"))
}
