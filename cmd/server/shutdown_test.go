package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

type fakeRuns struct {
	active  atomic.Int32
	drains  atomic.Int32
	aborted atomic.Int32
	// stopOnAbort makes AbortAll release every slot.
	stopOnAbort bool
}

func (f *fakeRuns) Status() core.JobLimiterStatus {
	return core.JobLimiterStatus{Active: int(f.active.Load())}
}

func (f *fakeRuns) Drain(ctx context.Context) error {
	f.drains.Add(1)
	for f.active.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

func (f *fakeRuns) AbortAll() int {
	n := f.active.Load()
	f.aborted.Add(n)
	if f.stopOnAbort {
		f.active.Store(0)
	}
	return int(n)
}

func TestDrainRunsIdle(t *testing.T) {
	runs := &fakeRuns{}
	drainRuns(context.Background(), runs)
	require.Zero(t, runs.drains.Load())
}

func TestDrainRunsWaitsForActiveRuns(t *testing.T) {
	runs := &fakeRuns{}
	runs.active.Store(2)
	go func() {
		time.Sleep(20 * time.Millisecond)
		runs.active.Store(0)
	}()

	drainRuns(context.Background(), runs)
	require.Zero(t, runs.active.Load())
	require.Zero(t, runs.aborted.Load(), "finished runs are not aborted")
}

func TestDrainRunsAbortsAfterDeadline(t *testing.T) {
	runs := &fakeRuns{stopOnAbort: true}
	runs.active.Store(3)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	drainRuns(ctx, runs)
	require.EqualValues(t, 3, runs.aborted.Load())
	require.EqualValues(t, 2, runs.drains.Load(), "waits again after aborting")
	require.Zero(t, runs.active.Load())
}

func TestDrainRunsStopsRealRunner(t *testing.T) {
	limiter := core.NewJobLimiter(1, time.Second)
	runner := core.NewRunner(nil, limiter, nil)
	require.True(t, limiter.TryAcquire())
	go func() {
		time.Sleep(20 * time.Millisecond)
		limiter.Release()
	}()

	drainRuns(context.Background(), runner)
	require.Zero(t, runner.Status().Active)
}
