// Package reranker owns the lifecycle of the process-wide cross-encoder
// instance. Construction is expensive (model load onto an accelerator), so
// exactly one instance exists per process, built lazily on first use and
// released only at teardown.
package reranker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"retrieval-orchestrator/internal/domain"
)

// Factory constructs the scorer. It runs at most once per process under
// normal operation; after a failure the next Acquire invokes it again.
type Factory func(ctx context.Context) (domain.Reranker, error)

// Handle is the lazy singleton holder. The fast path is a lock-free pointer
// load; only the first acquisition (and re-acquisition after Reset or a
// failed construction) takes the mutex.
type Handle struct {
	factory Factory
	logger  *slog.Logger

	mu            sync.Mutex
	current       atomic.Pointer[domain.Reranker]
	constructions atomic.Int64
}

// NewHandle wraps a factory. Nothing is constructed until the first Acquire,
// so requests that never rerank never pay for the model.
func NewHandle(factory Factory, logger *slog.Logger) *Handle {
	return &Handle{factory: factory, logger: logger}
}

// Acquire returns the process scorer, constructing it on first use.
// Concurrent first acquisitions trigger exactly one construction: losers of
// the race block on the mutex, re-check and receive the winner's instance.
// A failed construction leaves the handle empty so a later call can retry.
func (h *Handle) Acquire(ctx context.Context) (domain.Reranker, error) {
	if r := h.current.Load(); r != nil {
		return *r, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if r := h.current.Load(); r != nil {
		return *r, nil
	}

	scorer, err := h.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: construct scorer: %v", domain.ErrRerankUnavailable, err)
	}

	h.constructions.Add(1)
	h.current.Store(&scorer)
	h.logger.Info("reranker_constructed",
		slog.String("model", scorer.ModelName()),
		slog.Int64("constructions", h.constructions.Load()))

	return scorer, nil
}

// Constructions reports how many times a scorer was successfully built.
// Steady state is 1; anything higher means Reset was used or a construction
// raced a teardown.
func (h *Handle) Constructions() int64 {
	return h.constructions.Load()
}

// Reset tears down the current instance so the next Acquire constructs a
// fresh one. Test isolation hook; production code has no reason to call it.
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closeCurrent("reranker_reset")
}

// Shutdown releases the scorer and whatever accelerator memory it pinned.
// Called once at process teardown, after the request workers have drained.
func (h *Handle) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closeCurrent("reranker_shutdown")
}

func (h *Handle) closeCurrent(event string) error {
	r := h.current.Swap(nil)
	if r == nil {
		return nil
	}
	if err := (*r).Close(); err != nil {
		h.logger.Warn(event,
			slog.String("model", (*r).ModelName()),
			slog.String("error", err.Error()))
		return err
	}
	h.logger.Info(event, slog.String("model", (*r).ModelName()))
	return nil
}
