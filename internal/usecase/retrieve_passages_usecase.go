package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra/logger"
	"retrieval-orchestrator/internal/infra/metrics"
	"retrieval-orchestrator/internal/usecase/retrieval"
)

// RetrieveOptions holds the stage parameters shared by every request.
type RetrieveOptions struct {
	// RRFK is the reciprocal rank fusion constant.
	RRFK float64
	// Rerank bounds the scoring stage (candidate ceiling, timeout).
	Rerank retrieval.RerankConfig
	// MaxK caps the per-request result size.
	MaxK int
	// RetryBackoff is the initial delay before a variant retrieval retry.
	RetryBackoff time.Duration
}

// DefaultRetrieveOptions returns production defaults.
func DefaultRetrieveOptions() RetrieveOptions {
	return RetrieveOptions{
		RRFK:         retrieval.DefaultRRFK,
		Rerank:       retrieval.DefaultRerankConfig(),
		MaxK:         50,
		RetryBackoff: 150 * time.Millisecond,
	}
}

// RetrievePassagesUsecase runs the retrieval pipeline end to end:
// enhance, retrieve per variant, dedupe, fuse, rerank, cut to k.
type RetrievePassagesUsecase interface {
	Execute(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

type retrievePassagesUsecase struct {
	enhancer     *retrieval.Enhancer
	retriever    *retrieval.BaseRetriever
	rerankSource retrieval.RerankerSource
	plans        *Plans
	cache        domain.ResultCache
	sink         domain.AnalyticsSink
	opts         RetrieveOptions
	logger       *slog.Logger
}

// NewRetrievePassagesUsecase wires the pipeline stages together.
// A nil enhancer skips enhancement; a nil rerankSource skips reranking.
// Neither counts as degradation, they are deployment choices.
func NewRetrievePassagesUsecase(
	enhancer *retrieval.Enhancer,
	retriever *retrieval.BaseRetriever,
	rerankSource retrieval.RerankerSource,
	plans *Plans,
	cache domain.ResultCache,
	sink domain.AnalyticsSink,
	opts RetrieveOptions,
	log *slog.Logger,
) RetrievePassagesUsecase {
	return &retrievePassagesUsecase{
		enhancer:     enhancer,
		retriever:    retriever,
		rerankSource: rerankSource,
		plans:        plans,
		cache:        cache,
		sink:         sink,
		opts:         opts,
		logger:       log,
	}
}

func (u *retrievePassagesUsecase) Execute(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	if u.opts.MaxK > 0 && req.K > u.opts.MaxK {
		return nil, fmt.Errorf("%w: k %d exceeds maximum %d", domain.ErrInvalidRequest, req.K, u.opts.MaxK)
	}

	retrievalID := uuid.NewString()
	ctx = logger.WithRetrievalID(ctx, retrievalID)
	ctx = logger.WithMode(ctx, req.Mode.String())

	// k=0 is a valid "no passages" request and touches no collaborator.
	if req.K == 0 {
		result := &domain.RetrievalResult{
			Passages: []domain.RerankedResult{},
			Metadata: domain.RetrievalMetadata{
				RetrievalID: retrievalID,
				Mode:        req.Mode.String(),
				ElapsedMS:   time.Since(start).Milliseconds(),
			},
		}
		u.finish(ctx, req, result, "")
		return result, nil
	}

	fingerprint := domain.Fingerprint(req)
	if cached, ok := u.cache.Get(ctx, fingerprint); ok {
		metrics.RecordCacheEvent("hit")
		cached.Metadata.RetrievalID = retrievalID
		cached.Metadata.CacheHit = true
		cached.Metadata.ElapsedMS = time.Since(start).Milliseconds()
		u.logger.Info("retrieval_cache_hit",
			slog.String("retrieval_id", retrievalID),
			slog.String("fingerprint", fingerprint))
		u.finish(ctx, req, cached, fingerprint)
		return cached, nil
	}
	metrics.RecordCacheEvent("miss")

	var complexityLabel string
	complexity := domain.ComplexityModerate
	if req.Mode == domain.ModeAdaptive {
		complexity = retrieval.ClassifyComplexity(req.Question)
		complexityLabel = complexity.String()
		u.logger.Info("complexity_classified",
			slog.String("retrieval_id", retrievalID),
			slog.String("complexity", complexityLabel))
	}
	plan := u.plans.Resolve(req.Mode, complexity)

	var degraded []string

	variants := []domain.QueryVariant{{Text: req.Question, Strategy: domain.StrategyOriginal}}
	if len(plan.Strategies) > 0 && u.enhancer != nil {
		enhanced, failed, err := u.enhancer.Enhance(ctx, req.Question, plan.Strategies)
		if err == nil {
			variants = enhanced
			for _, tag := range failed {
				degraded = append(degraded, "enhance:"+string(tag))
				metrics.RecordDegradation("enhance")
			}
		} else {
			degraded = append(degraded, "enhance")
			metrics.RecordDegradation("enhance")
			u.logger.Warn("enhancement_failed_using_original_only",
				slog.String("retrieval_id", retrievalID),
				slog.String("error", err.Error()))
		}
		if len(variants) > plan.MaxVariants {
			variants = variants[:plan.MaxVariants]
		}
	}
	metrics.RecordVariants(len(variants))

	pool := plan.PoolSize(req.K)
	lists := make([]retrieval.VariantResult, len(variants))
	failures := make([]error, len(variants))

	var g errgroup.Group
	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			list, err := u.retrieveWithRetry(ctx, v.Text, pool, req.Filters)
			if err != nil {
				failures[i] = err
				u.logger.Warn("variant_retrieval_failed",
					slog.String("retrieval_id", retrievalID),
					slog.Int("variant", i),
					slog.String("strategy", string(v.Strategy)),
					slog.String("error", err.Error()))
				return nil // non-fatal while any sibling variant can still succeed
			}
			lists[i] = retrieval.VariantResult{Variant: v, List: list}
			return nil
		})
	}
	_ = g.Wait()

	succeeded := make([]retrieval.VariantResult, 0, len(variants))
	var variantErrs []error
	for i := range variants {
		if failures[i] != nil {
			variantErrs = append(variantErrs, failures[i])
			degraded = append(degraded, fmt.Sprintf("variant:%d", i))
			metrics.RecordDegradation("retrieve")
			continue
		}
		succeeded = append(succeeded, lists[i])
	}

	if len(succeeded) == 0 {
		metrics.RecordRequest(req.Mode.String(), "error", time.Since(start).Seconds(), 0)
		joined := errors.Join(variantErrs...)
		u.logger.Error("retrieval_failed_all_variants",
			slog.String("retrieval_id", retrievalID),
			slog.Int("variant_count", len(variants)))
		return nil, fmt.Errorf("%w: all %d query variants failed: %w",
			domain.ErrTotalRetrievalFailure, len(variants), joined)
	}

	dedupeCfg := retrieval.DedupeConfig{ByContent: plan.DedupeByContent}

	var poolCands []domain.Candidate
	fusionApplied := false
	if plan.UseFusion {
		deduped := retrieval.DedupeLists(succeeded, dedupeCfg)
		fused := retrieval.FuseRRF(deduped, u.opts.RRFK)
		poolCands = make([]domain.Candidate, len(fused))
		for i, f := range fused {
			poolCands[i] = domain.Candidate{Passage: f.Passage, Similarity: float32(f.FusedScore)}
		}
		fusionApplied = true
	} else {
		merged := retrieval.Dedupe(retrieval.Concat(succeeded), dedupeCfg)
		poolCands = retrieval.Candidates(merged)
	}

	var passages []domain.RerankedResult
	rerankApplied := false
	if plan.UseRerank && u.rerankSource != nil {
		reranked, fallback := retrieval.Rerank(ctx, u.rerankSource, req.Question, poolCands, req.K, u.opts.Rerank, u.logger)
		passages = reranked
		if fallback {
			degraded = append(degraded, "rerank")
			metrics.RecordDegradation("rerank")
		} else {
			rerankApplied = true
		}
	} else {
		cut := poolCands
		if len(cut) > req.K {
			cut = cut[:req.K]
		}
		passages = make([]domain.RerankedResult, len(cut))
		for i, c := range cut {
			passages[i] = domain.RerankedResult{Passage: c.Passage, Score: float64(c.Similarity)}
		}
	}

	if passages == nil {
		passages = []domain.RerankedResult{}
	}

	result := &domain.RetrievalResult{
		Passages: passages,
		Metadata: domain.RetrievalMetadata{
			RetrievalID:   retrievalID,
			Mode:          req.Mode.String(),
			Complexity:    complexityLabel,
			Strategies:    strategyLabels(plan.Strategies),
			VariantCount:  len(variants),
			FusionApplied: fusionApplied,
			RerankApplied: rerankApplied,
			Degraded:      degraded,
			ElapsedMS:     time.Since(start).Milliseconds(),
		},
	}

	// Only clean results persist; a degraded result would otherwise be
	// served from cache after its upstreams recovered.
	if len(degraded) == 0 {
		u.cache.Set(ctx, fingerprint, result)
		metrics.RecordCacheEvent("store")
	}

	u.finish(ctx, req, result, fingerprint)
	return result, nil
}

// finish emits the terminal log line, metrics and the analytics event.
func (u *retrievePassagesUsecase) finish(ctx context.Context, req domain.RetrievalRequest, result *domain.RetrievalResult, fingerprint string) {
	meta := result.Metadata

	status := "ok"
	if meta.IsDegraded() {
		status = "degraded"
	}
	metrics.RecordRequest(meta.Mode, status, float64(meta.ElapsedMS)/1000.0, len(result.Passages))

	u.logger.Info("retrieval_completed",
		slog.String("retrieval_id", meta.RetrievalID),
		slog.String("mode", meta.Mode),
		slog.Int("k", req.K),
		slog.Int("variant_count", meta.VariantCount),
		slog.Int("passage_count", len(result.Passages)),
		slog.Bool("cache_hit", meta.CacheHit),
		slog.Any("degraded", meta.Degraded),
		slog.Int64("elapsed_ms", meta.ElapsedMS))

	u.sink.Record(ctx, domain.QueryEvent{
		RetrievalID:  meta.RetrievalID,
		Fingerprint:  fingerprint,
		Mode:         req.Mode,
		Complexity:   meta.Complexity,
		K:            req.K,
		VariantCount: meta.VariantCount,
		PassageCount: len(result.Passages),
		Degraded:     meta.Degraded,
		CacheHit:     meta.CacheHit,
		Elapsed:      time.Duration(meta.ElapsedMS) * time.Millisecond,
	})
}

// retrieveWithRetry retries one variant once on a transient index or
// encoder failure. Invalid input is never retried.
func (u *retrievePassagesUsecase) retrieveWithRetry(ctx context.Context, query string, k int, filters domain.Filters) (domain.RankedList, error) {
	var list domain.RankedList
	err := retry.Do(
		func() error {
			var err error
			list, err = u.retriever.Retrieve(ctx, query, k, filters)
			return err
		},
		retry.Attempts(2),
		retry.Delay(u.opts.RetryBackoff),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrRetrievalUnavailable)
		}),
	)
	return list, err
}

func strategyLabels(tags []domain.StrategyTag) []string {
	if len(tags) == 0 {
		return nil
	}
	labels := make([]string, len(tags))
	for i, t := range tags {
		labels[i] = string(t)
	}
	return labels
}
