package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	var ran atomic.Int64
	err := pool.Submit(context.Background(), func(_ context.Context) error {
		ran.Add(1)
		return nil
	})
	require.NoError(t, err)

	pool.Wait()

	assert.Equal(t, int64(1), ran.Load())
	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Completed)
	assert.Equal(t, int64(0), m.Active)
}

func TestWorkerPool_ConcurrencyStaysBounded(t *testing.T) {
	const size = 3
	pool := NewWorkerPool(size)
	defer pool.Shutdown()

	var current, peak atomic.Int64
	for i := 0; i < 10; i++ {
		err := pool.Submit(context.Background(), func(_ context.Context) error {
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}

	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int64(size))
	assert.Greater(t, peak.Load(), int64(0))
}

func TestWorkerPool_SubmitBlocksWhenFull(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	started := make(chan struct{})
	block := make(chan struct{})
	err := pool.Submit(context.Background(), func(_ context.Context) error {
		close(started)
		<-block
		return nil
	})
	require.NoError(t, err)
	<-started

	submitted := make(chan struct{})
	go func() {
		_ = pool.Submit(context.Background(), func(_ context.Context) error { return nil })
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("submit returned while the pool was full")
	case <-time.After(30 * time.Millisecond):
	}

	close(block)
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("submit never unblocked")
	}
	pool.Wait()
}

func TestWorkerPool_ContextEndsWaitForSlot(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	err := pool.Submit(context.Background(), func(_ context.Context) error {
		close(started)
		<-block
		return nil
	})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = pool.Submit(ctx, func(_ context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWorkerPool_ShutdownRefusesNewWork(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Shutdown()
	pool.Shutdown() // idempotent

	err := pool.Submit(context.Background(), func(_ context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	err := pool.Submit(context.Background(), func(_ context.Context) error {
		panic("job exploded")
	})
	require.NoError(t, err)
	pool.Wait()

	m := pool.Metrics()
	assert.Equal(t, int64(1), m.Panics)
	assert.Equal(t, int64(1), m.Failed)

	// The slot was released; the pool still works.
	err = pool.Submit(context.Background(), func(_ context.Context) error { return nil })
	require.NoError(t, err)
	pool.Wait()
	assert.Equal(t, int64(1), pool.Metrics().Completed)
}

func TestWorkerPool_CountsFailures(t *testing.T) {
	pool := NewWorkerPool(2)
	defer pool.Shutdown()

	for i := 0; i < 3; i++ {
		err := pool.Submit(context.Background(), func(_ context.Context) error {
			return errors.New("nope")
		})
		require.NoError(t, err)
	}
	pool.Wait()

	assert.Equal(t, int64(3), pool.Metrics().Failed)
}
