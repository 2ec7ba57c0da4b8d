package core

import (
	"context"
	"errors"
	"time"
)

// ErrTooManyJobs is returned when no slot frees up within the wait time.
var ErrTooManyJobs = errors.New("too many concurrent import jobs, please try again later")

const (
	DefaultMaxConcurrentJobs = 5
	DefaultMaxWaitTime       = 30 * time.Second
)

// JobLimiter bounds how many jobs validate or process at once. Each slot is
// a token in a buffered channel, so occupancy is the channel length.
type JobLimiter struct {
	slots   chan struct{}
	maxWait time.Duration
}

// NewJobLimiter creates a limiter with maxConcurrent slots. Non-positive
// arguments use the defaults.
func NewJobLimiter(maxConcurrent int, maxWait time.Duration) *JobLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentJobs
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWaitTime
	}
	return &JobLimiter{slots: make(chan struct{}, maxConcurrent), maxWait: maxWait}
}

// Acquire waits up to the limiter's wait time for a slot. It returns
// ctx.Err() if ctx ends first and ErrTooManyJobs on timeout. The caller
// must Release after a nil return.
func (l *JobLimiter) Acquire(ctx context.Context) error {
	timer := time.NewTimer(l.maxWait)
	defer timer.Stop()

	select {
	case l.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTooManyJobs
	}
}

// TryAcquire takes a slot without blocking.
func (l *JobLimiter) TryAcquire() bool {
	select {
	case l.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *JobLimiter) Release() {
	<-l.slots
}

// WaitForDrain blocks until every slot is free or ctx ends.
func (l *JobLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for len(l.slots) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// JobLimiterStatus is a point-in-time view of the limiter.
type JobLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

func (l *JobLimiter) Status() JobLimiterStatus {
	active := len(l.slots)
	return JobLimiterStatus{
		Active:        active,
		Available:     cap(l.slots) - active,
		MaxConcurrent: cap(l.slots),
	}
}
