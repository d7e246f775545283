package retrieval

import (
	"strings"

	"retrieval-orchestrator/internal/domain"
)

// Lexical cue lists for the complexity classifier. Matching is case
// insensitive on whole tokens, so "compare" matches but "comparemetrics"
// does not.
var (
	causalCues = []string{
		"why", "how", "explain", "cause", "because", "reason", "impact",
		"effect", "consequence", "implication", "mechanism",
	}
	comparativeCues = []string{
		"compare", "comparison", "versus", "vs", "difference", "differences",
		"differ", "better", "worse", "tradeoff", "trade-off",
	}
	aggregationCues = []string{
		"all", "every", "list", "enumerate", "summarize", "overview",
		"total", "average", "most", "least", "count", "how many",
	}
)

// ClassifyComplexity assigns a difficulty class to a question from lexical
// signals alone. It is a pure function: no model calls, no I/O, and the same
// input always yields the same class. The class drives only retrieval breadth
// and strategy selection in adaptive mode.
func ClassifyComplexity(question string) domain.Complexity {
	trimmed := strings.TrimSpace(question)
	if trimmed == "" {
		return domain.ComplexitySimple
	}

	lower := strings.ToLower(trimmed)
	tokens := strings.Fields(lower)
	score := 0.0

	switch {
	case len(tokens) > 24:
		score += 0.5
	case len(tokens) > 12:
		score += 0.25
	}

	tokenSet := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		tokenSet[strings.Trim(tok, ".,;:!?()\"'")] = struct{}{}
	}
	contains := func(cues []string) bool {
		for _, cue := range cues {
			if strings.Contains(cue, " ") {
				if strings.Contains(lower, cue) {
					return true
				}
				continue
			}
			if _, ok := tokenSet[cue]; ok {
				return true
			}
		}
		return false
	}

	if contains(causalCues) {
		score += 0.3
	}
	if contains(comparativeCues) {
		score += 0.4
	}
	if contains(aggregationCues) {
		score += 0.3
	}

	// Compound questions: several question marks or clauses glued with
	// semicolons usually need decomposition.
	if strings.Count(trimmed, "?") > 1 || strings.Contains(trimmed, ";") {
		score += 0.4
	}
	if conjoinedClauses(tokens) {
		score += 0.2
	}

	switch {
	case score >= 0.6:
		return domain.ComplexityComplex
	case score >= 0.3:
		return domain.ComplexityModerate
	default:
		return domain.ComplexitySimple
	}
}

// conjoinedClauses reports whether "and"/"or" joins what looks like two
// clauses rather than a two-item noun pair. Both sides need enough tokens to
// form a clause.
func conjoinedClauses(tokens []string) bool {
	for i, tok := range tokens {
		if tok != "and" && tok != "or" {
			continue
		}
		if i >= 4 && len(tokens)-i-1 >= 4 {
			return true
		}
	}
	return false
}
