package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"retrieval-orchestrator/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestPool_ExecutesSubmittedJobs(t *testing.T) {
	p := NewPool(2, 8, time.Second, testLogger())
	p.Start()
	defer p.Stop()

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Submit(context.Background(), func(context.Context) {
				ran.Add(1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(8), ran.Load())
}

func TestPool_JobContextHasTimeout(t *testing.T) {
	p := NewPool(1, 4, 30*time.Second, testLogger())
	p.Start()
	defer p.Stop()

	var deadline time.Time
	var hasDeadline bool
	err := p.Submit(context.Background(), func(ctx context.Context) {
		deadline, hasDeadline = ctx.Deadline()
	})
	require.NoError(t, err)

	assert.True(t, hasDeadline, "job context must carry a deadline")
	assert.WithinDuration(t, time.Now().Add(30*time.Second), deadline, 5*time.Second)
}

func TestPool_SaturationReturnsRateLimited(t *testing.T) {
	p := NewPool(1, 1, time.Second, testLogger())
	p.Start()
	defer p.Stop()

	gate := make(chan struct{})
	running := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Submit(context.Background(), func(context.Context) {
			close(running)
			<-gate
		})
	}()
	<-running // the single worker is now busy

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Submit(context.Background(), func(context.Context) {})
	}()
	require.Eventually(t, func() bool { return len(p.queue) == 1 }, time.Second, time.Millisecond,
		"second job should occupy the only queue slot")

	err := p.Submit(context.Background(), func(context.Context) {})
	assert.True(t, errors.Is(err, domain.ErrRateLimited))

	close(gate)
	wg.Wait()
}

func TestPool_StopDrainsAcceptedJobs(t *testing.T) {
	p := NewPool(1, 8, time.Second, testLogger())
	p.Start()

	gate := make(chan struct{})
	running := make(chan struct{})

	var ran atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Submit(context.Background(), func(context.Context) {
			close(running)
			<-gate
			ran.Add(1)
		})
	}()
	<-running

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Submit(context.Background(), func(context.Context) {
				ran.Add(1)
			})
		}()
	}
	require.Eventually(t, func() bool { return len(p.queue) == 3 }, time.Second, time.Millisecond)

	close(gate)
	p.Stop()
	wg.Wait()

	assert.Equal(t, int32(4), ran.Load(), "queued jobs must run before Stop returns")
}

func TestPool_SubmitAfterStopFails(t *testing.T) {
	p := NewPool(1, 1, time.Second, testLogger())
	p.Start()
	p.Stop()

	err := p.Submit(context.Background(), func(context.Context) {})
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestPool_StopIsIdempotent(t *testing.T) {
	p := NewPool(1, 1, time.Second, testLogger())
	p.Start()
	p.Stop()
	p.Stop()
}

func TestPool_SubmitHonorsCallerCancel(t *testing.T) {
	p := NewPool(1, 2, time.Second, testLogger())
	p.Start()
	defer p.Stop()

	gate := make(chan struct{})
	running := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = p.Submit(context.Background(), func(context.Context) {
			close(running)
			<-gate
		})
	}()
	<-running

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- p.Submit(ctx, func(context.Context) {})
	}()
	require.Eventually(t, func() bool { return len(p.queue) == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(time.Second):
		t.Fatal("Submit did not return after caller cancellation")
	}

	close(gate)
	wg.Wait()
}

func TestPool_RecoversPanickedJob(t *testing.T) {
	p := NewPool(1, 2, time.Second, testLogger())
	p.Start()
	defer p.Stop()

	err := p.Submit(context.Background(), func(context.Context) {
		panic("scorer blew up")
	})
	require.NoError(t, err)

	var ran atomic.Bool
	err = p.Submit(context.Background(), func(context.Context) {
		ran.Store(true)
	})
	require.NoError(t, err)
	assert.True(t, ran.Load(), "pool must keep serving after a panicked job")
}
