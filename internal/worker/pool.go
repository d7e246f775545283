package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"retrieval-orchestrator/internal/domain"
	"retrieval-orchestrator/internal/infra/metrics"
)

const (
	defaultPoolSize   = 8
	defaultQueueDepth = 64
	defaultJobTimeout = 60 * time.Second
)

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("worker pool stopped")

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context)
	done chan struct{}
}

// Pool funnels retrieval execution through a fixed set of goroutines so a
// request burst cannot fan out into unbounded embedder and index load.
// Single requests and batch items share one pool; when the queue is full
// Submit fails fast with domain.ErrRateLimited instead of queueing further.
type Pool struct {
	queue      chan job
	poolSize   int
	jobTimeout time.Duration
	logger     *slog.Logger

	stopChan chan struct{}
	stopped  atomic.Bool
	wg       sync.WaitGroup
}

// NewPool builds a pool with poolSize workers and a queueDepth-slot queue.
// Non-positive arguments fall back to defaults.
func NewPool(poolSize, queueDepth int, jobTimeout time.Duration, logger *slog.Logger) *Pool {
	if poolSize <= 0 {
		poolSize = defaultPoolSize
	}
	if queueDepth <= 0 {
		queueDepth = defaultQueueDepth
	}
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	return &Pool{
		queue:      make(chan job, queueDepth),
		poolSize:   poolSize,
		jobTimeout: jobTimeout,
		logger:     logger,
		stopChan:   make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.logger.Info("worker_pool_started",
		slog.Int("pool_size", p.poolSize),
		slog.Int("queue_depth", cap(p.queue)),
		slog.Duration("job_timeout", p.jobTimeout))
	for i := 0; i < p.poolSize; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Stop rejects new submissions, lets running jobs finish and drains the
// queue before returning. Safe to call more than once.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	close(p.stopChan)
	p.wg.Wait()
	p.logger.Info("worker_pool_stopped")
}

// Submit enqueues fn and blocks until it has run or the caller context ends.
// A full queue fails fast with domain.ErrRateLimited so the transport can
// answer 429 instead of stacking latency.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context)) error {
	if p.stopped.Load() {
		return ErrStopped
	}

	j := job{ctx: ctx, fn: fn, done: make(chan struct{})}
	select {
	case p.queue <- j:
		metrics.SetQueueDepth(len(p.queue))
	default:
		return fmt.Errorf("%w: worker queue full", domain.ErrRateLimited)
	}

	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopChan:
			// Drain whatever was accepted before the stop.
			for {
				select {
				case j := <-p.queue:
					p.runJob(j)
				default:
					return
				}
			}
		case j := <-p.queue:
			p.runJob(j)
		}
	}
}

func (p *Pool) runJob(j job) {
	defer close(j.done)
	// A panicking job must not take down the pool.
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker_job_panicked", slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(j.ctx, p.jobTimeout)
	defer cancel()

	started := time.Now()
	j.fn(ctx)

	metrics.SetQueueDepth(len(p.queue))
	p.logger.Debug("worker_job_completed",
		slog.Duration("elapsed", time.Since(started)))
}
