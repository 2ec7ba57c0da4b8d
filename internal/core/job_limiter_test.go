package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJobLimiterSlots(t *testing.T) {
	l := NewJobLimiter(2, 50*time.Millisecond)
	ctx := context.Background()

	require.Equal(t, JobLimiterStatus{Active: 0, Available: 2, MaxConcurrent: 2}, l.Status())
	require.NoError(t, l.Acquire(ctx))
	require.True(t, l.TryAcquire())
	require.False(t, l.TryAcquire())
	require.Equal(t, JobLimiterStatus{Active: 2, Available: 0, MaxConcurrent: 2}, l.Status())

	start := time.Now()
	require.ErrorIs(t, l.Acquire(ctx), ErrTooManyJobs)
	require.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	l.Release()
	l.Release()
	require.Zero(t, l.Status().Active)
}

func TestJobLimiterDefaults(t *testing.T) {
	l := NewJobLimiter(0, 0)
	require.Equal(t, DefaultMaxConcurrentJobs, l.Status().MaxConcurrent)
	require.Equal(t, DefaultMaxWaitTime, l.maxWait)
}

func TestJobLimiterContextEndsWait(t *testing.T) {
	l := NewJobLimiter(1, time.Minute)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	require.ErrorIs(t, l.Acquire(ctx), context.Canceled)
}

func TestJobLimiterReleaseWakesWaiter(t *testing.T) {
	l := NewJobLimiter(1, time.Second)
	require.True(t, l.TryAcquire())

	got := make(chan error, 1)
	go func() { got <- l.Acquire(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	l.Release()
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by Release")
	}
	l.Release()
}

func TestJobLimiterNeverExceedsCapacity(t *testing.T) {
	const limit = 3
	l := NewJobLimiter(limit, 5*time.Second)

	var running, peak atomic.Int32
	var wg sync.WaitGroup
	for range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Acquire(context.Background()); err != nil {
				t.Error(err)
				return
			}
			defer l.Release()
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
		}()
	}
	wg.Wait()

	require.LessOrEqual(t, peak.Load(), int32(limit))
	require.Zero(t, l.Status().Active)
}

func TestJobLimiterWaitForDrain(t *testing.T) {
	l := NewJobLimiter(2, time.Second)
	require.NoError(t, l.WaitForDrain(context.Background()), "idle limiter drains at once")

	require.True(t, l.TryAcquire())
	go func() {
		time.Sleep(30 * time.Millisecond)
		l.Release()
	}()
	require.NoError(t, l.WaitForDrain(context.Background()))

	require.True(t, l.TryAcquire())
	defer l.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.WaitForDrain(ctx), context.DeadlineExceeded)
}
