package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra/logger"
)

// EnhanceConfig bounds query enhancement.
type EnhanceConfig struct {
	// MaxVariants caps the total variant count including the original
	// question. The pipeline never retrieves more than this many variants.
	MaxVariants int
	// PerStrategyTimeout bounds each generation call.
	PerStrategyTimeout time.Duration
	// MaxTokens caps generation length per strategy call.
	MaxTokens int
}

// DefaultEnhanceConfig returns the production defaults.
func DefaultEnhanceConfig() EnhanceConfig {
	return EnhanceConfig{
		MaxVariants:        5,
		PerStrategyTimeout: 8 * time.Second,
		MaxTokens:          220,
	}
}

// Validate checks the configuration bounds.
func (c EnhanceConfig) Validate() error {
	if c.MaxVariants < 1 || c.MaxVariants > 5 {
		return fmt.Errorf("enhance: max variants must be in [1,5], got %d", c.MaxVariants)
	}
	if c.PerStrategyTimeout <= 0 {
		return fmt.Errorf("enhance: per-strategy timeout must be positive")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("enhance: max tokens must be positive")
	}
	return nil
}

// Enhancer rewrites one question into retrieval variants using a text
// generation model. Strategies run concurrently; a failing strategy is
// skipped with a warning and never fails the call.
type Enhancer struct {
	llm  domain.LLMClient
	cfg  EnhanceConfig
	clog *logger.ContextLogger
}

// NewEnhancer builds an Enhancer over the given generation client.
func NewEnhancer(llm domain.LLMClient, cfg EnhanceConfig, log *slog.Logger) *Enhancer {
	return &Enhancer{llm: llm, cfg: cfg, clog: logger.NewContextLoggerWith(log, "enhancer")}
}

// Enhance produces between 1 and MaxVariants query variants. The original
// question is always variant zero; strategy outputs follow in the order the
// strategies were requested, so the surviving subset under the cap is
// deterministic. The returned tags list the strategies that errored.
func (e *Enhancer) Enhance(ctx context.Context, question string, strategies []domain.StrategyTag) ([]domain.QueryVariant, []domain.StrategyTag, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, nil, fmt.Errorf("%w: question is empty", domain.ErrInvalidRequest)
	}

	elog := e.clog.WithContext(ctx)
	outputs := make([][]string, len(strategies))
	failures := make([]error, len(strategies))

	g, gctx := errgroup.WithContext(ctx)
	for i, tag := range strategies {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, e.cfg.PerStrategyTimeout)
			defer cancel()

			started := time.Now()
			lines, err := runStrategy(sctx, e.llm, tag, question, e.cfg.MaxTokens)
			if err != nil {
				failures[i] = fmt.Errorf("%w (%s): %v", domain.ErrEnhancementFailure, tag, err)
				elog.Warn("enhancement_strategy_failed",
					slog.String("strategy", string(tag)),
					slog.String("error", err.Error()),
					slog.Duration("elapsed", time.Since(started)))
				return nil // non-fatal, remaining strategies continue
			}
			outputs[i] = lines
			elog.Debug("enhancement_strategy_completed",
				slog.String("strategy", string(tag)),
				slog.Int("variants", len(lines)),
				slog.Duration("elapsed", time.Since(started)))
			return nil
		})
	}
	_ = g.Wait()

	variants := []domain.QueryVariant{{Text: question, Strategy: domain.StrategyOriginal}}
	seen := map[string]struct{}{strings.ToLower(question): {}}

	for i, tag := range strategies {
		for _, line := range outputs[i] {
			if len(variants) >= e.cfg.MaxVariants {
				break
			}
			key := strings.ToLower(line)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			variants = append(variants, domain.QueryVariant{Text: line, Strategy: tag})
		}
	}

	var failed []domain.StrategyTag
	for i, err := range failures {
		if err != nil {
			failed = append(failed, strategies[i])
		}
	}

	elog.Info("query_enhancement_completed",
		slog.Int("requested_strategies", len(strategies)),
		slog.Int("failed_strategies", len(failed)),
		slog.Int("variant_count", len(variants)))

	return variants, failed, nil
}
