package di

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"retrieval-orchestrator/internal/adapter/httpapi"
	"retrieval-orchestrator/internal/adapter/ollama"
	"retrieval-orchestrator/internal/adapter/qdrant"
	"retrieval-orchestrator/internal/adapter/repository"
	"retrieval-orchestrator/internal/adapter/rerankd"
	"retrieval-orchestrator/internal/analytics"
	"retrieval-orchestrator/internal/cache"
	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra"
	"retrieval-orchestrator/internal/infra/config"
	"retrieval-orchestrator/internal/infra/httpclient"
	"retrieval-orchestrator/internal/infra/metrics"
	"retrieval-orchestrator/internal/reranker"
	"retrieval-orchestrator/internal/usecase"
	"retrieval-orchestrator/internal/usecase/retrieval"
	"retrieval-orchestrator/internal/worker"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	// Pipeline
	Plans    *usecase.Plans
	Retrieve usecase.RetrievePassagesUsecase

	// HTTP surface
	Handler *httpapi.Handler
	Pool    *worker.Pool

	// Index exposed for readiness checks
	Index domain.VectorIndex

	// Owned resources released by Shutdown
	rerankerHandle *reranker.Handle
	resultCache    domain.ResultCache
	pgPool         *pgxpool.Pool
	qdrantIndex    *qdrant.PassageIndex
}

// NewApplicationComponents wires the full dependency graph from config. It
// fails fast on anything that must be reachable at startup (the vector index
// backend, the mode plan file); soft dependencies such as Redis only warn.
func NewApplicationComponents(ctx context.Context, cfg *config.Config, log *slog.Logger) (*ApplicationComponents, error) {
	c := &ApplicationComponents{}

	// Vector index backend
	switch cfg.Index.Backend {
	case "qdrant":
		idx, err := qdrant.NewPassageIndex(qdrant.Options{
			Addr:       cfg.Index.Qdrant.Addr,
			Collection: cfg.Index.Qdrant.Collection,
			APIKey:     cfg.Index.Qdrant.APIKey,
			UseTLS:     cfg.Index.Qdrant.UseTLS,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
		}
		c.qdrantIndex = idx
		c.Index = idx
		log.Info("vector_index_ready",
			slog.String("backend", "qdrant"),
			slog.String("addr", cfg.Index.Qdrant.Addr),
			slog.String("collection", cfg.Index.Qdrant.Collection))
	default:
		pool, err := infra.NewPostgresDB(ctx, cfg.Database.DSN(), infra.PoolConfig{
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		c.pgPool = pool
		c.Index = repository.NewPassageRepository(pool)
		log.Info("vector_index_ready", slog.String("backend", "postgres"))
	}

	// Model clients with pooled HTTP transports
	encoder := ollama.NewEmbedder(
		cfg.Embedder.BaseURL,
		cfg.Embedder.Model,
		httpclient.NewPooledClient(cfg.Embedder.Timeout),
		ollama.EmbedderOptions{
			RequestsPerSecond: cfg.Embedder.RequestsPerSecond,
			RetryAttempts:     cfg.Embedder.RetryAttempts,
		},
		log,
	)
	generator := ollama.NewGenerator(
		cfg.Generator.BaseURL,
		cfg.Generator.Model,
		cfg.Generator.Temperature,
		httpclient.NewPooledClient(cfg.Generator.Timeout),
	)

	// Pipeline stages
	enhancer := retrieval.NewEnhancer(generator, retrieval.EnhanceConfig{
		MaxVariants:        cfg.Enhance.MaxVariants,
		PerStrategyTimeout: cfg.Enhance.PerStrategyTimeout,
		MaxTokens:          cfg.Enhance.MaxTokens,
	}, log)
	retriever := retrieval.NewBaseRetriever(encoder, c.Index, cfg.Index.RetrieveTimeout, log)

	// Optional reranker. A nil source means rerank stages are skipped
	// without marking results degraded.
	var rerankSource retrieval.RerankerSource
	if cfg.Rerank.Enabled {
		rerankHTTP := httpclient.NewPooledClient(cfg.Rerank.Timeout)
		c.rerankerHandle = reranker.NewHandle(func(ctx context.Context) (domain.Reranker, error) {
			client, err := rerankd.NewClient(ctx,
				cfg.Rerank.BaseURL,
				cfg.Rerank.Model,
				cfg.Rerank.Device,
				cfg.Rerank.Timeout,
				log,
				rerankHTTP,
			)
			if err != nil {
				return nil, err
			}
			metrics.IncRerankerConstructions()
			return client, nil
		}, log)
		rerankSource = c.rerankerHandle
		log.Info("reranker_enabled",
			slog.String("base_url", cfg.Rerank.BaseURL),
			slog.String("model", cfg.Rerank.Model))
	}

	// Result cache
	switch cfg.Cache.Backend {
	case "redis":
		rc := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisDB, cfg.Cache.TTL, log)
		// Redis being down must not block startup; lookups degrade to
		// misses and the client reconnects on its own.
		if err := rc.Ping(ctx); err != nil {
			log.Warn("redis_unreachable_at_startup",
				slog.String("addr", cfg.Cache.RedisAddr),
				slog.String("error", err.Error()))
		}
		c.resultCache = rc
	case "none":
		c.resultCache = cache.NopCache{}
	default:
		c.resultCache = cache.NewMemoryCache(cfg.Cache.Size, cfg.Cache.TTL)
	}
	log.Info("result_cache_ready", slog.String("backend", cfg.Cache.Backend))

	// Analytics
	var sink domain.AnalyticsSink = analytics.NopSink{}
	if cfg.Analytics.Enabled {
		sink = analytics.NewSlogSink(log)
	}

	// Mode plans
	plans, err := usecase.LoadPlans(cfg.PlansFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load mode plans: %w", err)
	}
	c.Plans = plans
	if cfg.PlansFile != "" {
		log.Info("mode_plans_loaded", slog.String("path", cfg.PlansFile))
	}

	// Orchestrator
	opts := usecase.DefaultRetrieveOptions()
	opts.RRFK = cfg.Fusion.RRFK
	opts.Rerank = retrieval.RerankConfig{
		CandidateCeiling: cfg.Rerank.CandidateCeiling,
		Timeout:          cfg.Rerank.Timeout,
	}
	opts.MaxK = cfg.Server.MaxK
	c.Retrieve = usecase.NewRetrievePassagesUsecase(
		enhancer, retriever, rerankSource, plans,
		c.resultCache, sink, opts, log,
	)

	// HTTP surface
	c.Pool = worker.NewPool(cfg.Worker.PoolSize, cfg.Worker.QueueDepth, cfg.Worker.JobTimeout, log)
	c.Handler = httpapi.NewHandler(c.Retrieve, c.Pool, c.Index, plans, cfg.Server.MaxBatch, log)

	return c, nil
}

// Shutdown releases everything the container owns. Callers stop the worker
// pool first so in-flight jobs still see live backends.
func (c *ApplicationComponents) Shutdown() error {
	var errs []error
	if c.rerankerHandle != nil {
		if err := c.rerankerHandle.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("reranker handle: %w", err))
		}
	}
	if c.resultCache != nil {
		if err := c.resultCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("result cache: %w", err))
		}
	}
	if c.qdrantIndex != nil {
		if err := c.qdrantIndex.Close(); err != nil {
			errs = append(errs, fmt.Errorf("qdrant index: %w", err))
		}
	}
	if c.pgPool != nil {
		c.pgPool.Close()
	}
	return errors.Join(errs...)
}
