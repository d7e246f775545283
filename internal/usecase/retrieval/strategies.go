package retrieval

import (
	"context"
	"fmt"
	"strings"

	"retrieval-orchestrator/internal/domain"
)

// Per-strategy line caps. Together with the original question they stay
// inside the five-variant ceiling even when every strategy succeeds.
const (
	multiQueryLines = 3
	decomposeLines  = 3
)

// runStrategy executes one enhancement strategy with a single generation
// call and returns the cleaned variant texts.
func runStrategy(ctx context.Context, llm domain.LLMClient, tag domain.StrategyTag, question string, maxTokens int) ([]string, error) {
	switch tag {
	case domain.StrategyMultiQuery:
		prompt := fmt.Sprintf(`You rewrite search queries for a passage retrieval system.
Generate %d alternative phrasings of the question below. Keep the meaning, vary the terminology and sentence shape.
Output ONLY the rewritten questions, one per line. No numbering, no explanations.

Question: %s`, multiQueryLines, question)
		resp, err := llm.Generate(ctx, prompt, maxTokens)
		if err != nil {
			return nil, err
		}
		return splitVariantLines(resp.Text, multiQueryLines), nil

	case domain.StrategyHyDE:
		prompt := fmt.Sprintf(`Write one short passage of two to four sentences that would plausibly answer the question below, phrased like the indexed reference documents.
Output ONLY the passage text. No preamble.

Question: %s`, question)
		resp, err := llm.Generate(ctx, prompt, maxTokens)
		if err != nil {
			return nil, err
		}
		// The hypothetical passage is retrieved as one variant; collapse
		// line breaks so it embeds as a single text.
		passage := strings.Join(strings.Fields(resp.Text), " ")
		if passage == "" {
			return nil, nil
		}
		return []string{passage}, nil

	case domain.StrategyStepBack:
		prompt := fmt.Sprintf(`Rewrite the question below as one broader, more general question whose answer would also cover the original.
Output ONLY the rewritten question on a single line.

Question: %s`, question)
		resp, err := llm.Generate(ctx, prompt, maxTokens)
		if err != nil {
			return nil, err
		}
		return splitVariantLines(resp.Text, 1), nil

	case domain.StrategyDecompose:
		prompt := fmt.Sprintf(`Break the question below into two or three self-contained sub-questions, each answerable on its own.
Output ONLY the sub-questions, one per line. No numbering, no explanations.

Question: %s`, question)
		resp, err := llm.Generate(ctx, prompt, maxTokens)
		if err != nil {
			return nil, err
		}
		return splitVariantLines(resp.Text, decomposeLines), nil

	default:
		return nil, fmt.Errorf("unknown enhancement strategy %q", tag)
	}
}

// splitVariantLines cleans raw generation output into at most max variant
// texts: one per line, stripped of list markers, blanks dropped.
func splitVariantLines(raw string, max int) []string {
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, max)
	for _, line := range lines {
		line = stripListMarker(strings.TrimSpace(line))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == max {
			break
		}
	}
	return out
}

// stripListMarker removes leading "-", "*" or "1." style markers that models
// add despite the prompt.
func stripListMarker(line string) string {
	trimmed := strings.TrimLeft(line, "-*• \t")
	if trimmed != line {
		return strings.TrimSpace(trimmed)
	}
	for i, r := range line {
		if r >= '0' && r <= '9' {
			continue
		}
		if (r == '.' || r == ')') && i > 0 && i < len(line)-1 {
			return strings.TrimSpace(line[i+1:])
		}
		break
	}
	return line
}
