package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_BasicExecution(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown(context.Background())

	var ran atomic.Int64
	require.NoError(t, pool.Dispatch(context.Background(), func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}))
	pool.Wait()

	assert.Equal(t, int64(1), ran.Load())
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	const size = 3
	pool := NewWorkerPool(size)
	defer pool.Shutdown(context.Background())

	var current, peak atomic.Int64
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), func(ctx context.Context) error {
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(size))
	assert.Positive(t, peak.Load())
	assert.Equal(t, int64(10), pool.Metrics().Completed)
}

func TestWorkerPool_DispatchDoesNotBlock(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown(context.Background())

	block := make(chan struct{})
	require.NoError(t, pool.Dispatch(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	done := make(chan struct{})
	go func() {
		_ = pool.Dispatch(context.Background(), func(ctx context.Context) error { return nil })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch blocked on a full pool")
	}

	require.Eventually(t, func() bool { return pool.Metrics().Queued == 1 }, time.Second, 5*time.Millisecond)
	close(block)
	pool.Wait()
	assert.Equal(t, int64(2), pool.Metrics().Completed)
}

func TestWorkerPool_PanicRecovery(t *testing.T) {
	pool := NewWorkerPool(1)
	var recovered atomic.Value
	pool.onPanic = func(r any) { recovered.Store(r) }
	defer pool.Shutdown(context.Background())

	require.NoError(t, pool.Dispatch(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, pool.Dispatch(context.Background(), func(ctx context.Context) error {
		return errors.New("plain failure")
	}))
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(2), m.Failed)
	assert.Equal(t, "boom", recovered.Load())
}

func TestWorkerPool_ContextCancelledWhileQueued(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown(context.Background())

	block := make(chan struct{})
	require.NoError(t, pool.Dispatch(context.Background(), func(ctx context.Context) error {
		<-block
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	require.NoError(t, pool.Dispatch(ctx, func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))
	cancel()

	require.Eventually(t, func() bool { return pool.Metrics().Failed == 1 }, time.Second, 5*time.Millisecond)
	close(block)
	pool.Wait()
	assert.False(t, ran.Load())
}

func TestWorkerPool_Shutdown(t *testing.T) {
	pool := NewWorkerPool(2)

	var finished atomic.Int64
	for i := 0; i < 2; i++ {
		require.NoError(t, pool.Dispatch(context.Background(), func(ctx context.Context) error {
			time.Sleep(20 * time.Millisecond)
			finished.Add(1)
			return nil
		}))
	}
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int64(2), finished.Load())

	err := pool.Dispatch(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)

	// Second shutdown is a no-op.
	require.NoError(t, pool.Shutdown(context.Background()))
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	pool := NewWorkerPool(1)
	block := make(chan struct{})
	defer close(block)

	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, pool.Dispatch(context.Background(), func(ctx context.Context) error {
		wg.Done()
		<-block
		return nil
	}))
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, pool.Shutdown(ctx), context.DeadlineExceeded)
}
