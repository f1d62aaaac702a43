package worker

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ntscope/errors"
	"github.com/c360/ntscope/metric"
)

type testJob struct {
	id    int
	delay time.Duration
	fail  bool
}

func TestNewPool_Defaults(t *testing.T) {
	noop := func(context.Context, testJob) error { return nil }

	pool := NewPool(5, 100, noop)
	assert.Equal(t, 5, pool.workers)
	assert.Equal(t, 100, pool.queueSize)

	pool = NewPool(0, 0, noop)
	assert.Equal(t, 4, pool.workers)
	assert.Equal(t, 64, pool.queueSize)

	assert.PanicsWithValue(t, ErrNilProcessor, func() {
		NewPool[testJob](1, 1, nil)
	})
}

func TestPool_Lifecycle(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(2, 10, func(context.Context, testJob) error {
		processed.Add(1)
		return nil
	})

	assert.ErrorIs(t, pool.Submit(testJob{}), ErrPoolNotStarted)

	ctx := context.Background()
	require.NoError(t, pool.Start(ctx))
	assert.ErrorIs(t, pool.Start(ctx), ErrPoolAlreadyStarted)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testJob{id: i}))
	}
	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(5), processed.Load())

	assert.ErrorIs(t, pool.Submit(testJob{}), ErrPoolStopped)
	assert.NoError(t, pool.Stop(time.Second))
}

func TestPool_QueueFull(t *testing.T) {
	release := make(chan struct{})
	pool := NewPool(1, 2, func(context.Context, testJob) error {
		<-release
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))
	defer func() {
		close(release)
		_ = pool.Stop(5 * time.Second)
	}()

	var rejected error
	for i := 0; i < 10 && rejected == nil; i++ {
		rejected = pool.Submit(testJob{id: i})
	}
	require.Error(t, rejected)
	assert.ErrorIs(t, rejected, ErrQueueFull)
	assert.True(t, errors.IsTransient(rejected))
	assert.Positive(t, pool.Stats().Dropped)
}

func TestPool_ProcessingErrors(t *testing.T) {
	pool := NewPool(2, 10, func(_ context.Context, job testJob) error {
		if job.fail {
			return stderrors.New("simulated")
		}
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(testJob{id: i, fail: i%2 == 0}))
	}
	require.NoError(t, pool.Stop(5*time.Second))

	stats := pool.Stats()
	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Processed)
	assert.Equal(t, int64(5), stats.Failed)
}

func TestPool_ContextCancellation(t *testing.T) {
	pool := NewPool(2, 10, func(ctx context.Context, job testJob) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(job.delay):
			return nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Start(ctx))
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(testJob{id: i, delay: time.Second}))
	}
	cancel()

	assert.NoError(t, pool.Stop(5*time.Second))
}

func TestPool_ConcurrentSubmissions(t *testing.T) {
	var processed atomic.Int64
	pool := NewPool(4, 100, func(context.Context, testJob) error {
		processed.Add(1)
		return nil
	})
	require.NoError(t, pool.Start(context.Background()))

	var wg sync.WaitGroup
	for s := 0; s < 10; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, pool.Submit(testJob{id: s*10 + j}))
			}
		}(s)
	}
	wg.Wait()

	require.NoError(t, pool.Stop(5*time.Second))
	assert.Equal(t, int64(100), processed.Load())
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	pool := NewPool(1, 4, func(_ context.Context, job testJob) error {
		if job.fail {
			return stderrors.New("simulated")
		}
		return nil
	}, WithMetrics[testJob](registry, "import"))
	require.NotNil(t, pool.metrics)

	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Submit(testJob{id: 1}))
	require.NoError(t, pool.Submit(testJob{id: 2, fail: true}))

	require.Eventually(t, func() bool {
		return pool.Stats().Processed == 2
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(pool.metrics.submitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(pool.metrics.failed))

	require.NoError(t, pool.Stop(5*time.Second))
	// a pool of the same name can register again after Stop
	again := NewPool(1, 1, func(context.Context, testJob) error { return nil },
		WithMetrics[testJob](registry, "import"))
	assert.NotNil(t, again.metrics)
	assert.False(t, registry.Unregister("worker.import", "missing"))
}
