package domain

import "context"

// LLMClient sends a prompt to a text-generation model and returns its output.
// Enhancement strategies issue at most one Generate call each.
type LLMClient interface {
	Generate(ctx context.Context, prompt string, maxTokens int) (*LLMResponse, error)
	Version() string
}

// LLMResponse carries the model output and whether generation finished.
type LLMResponse struct {
	Text string
	Done bool
}
