package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// abortGrace bounds the wait for aborted runs to release their slots.
const abortGrace = 5 * time.Second

// runDrainer is the part of core.Runner used during shutdown.
type runDrainer interface {
	Status() core.JobLimiterStatus
	Drain(ctx context.Context) error
	AbortAll() int
}

// drainRuns waits for active import runs until ctx ends, then aborts the
// rest and waits for them to stop. Aborted jobs stay in processing and
// resume on the next process call.
func drainRuns(ctx context.Context, runs runDrainer) {
	status := runs.Status()
	if status.Active == 0 {
		return
	}

	slog.Info("waiting for import runs to complete", "active", status.Active)
	if err := runs.Drain(ctx); err == nil {
		slog.Info("all import runs completed")
		return
	}

	n := runs.AbortAll()
	slog.Warn("import runs did not complete in time; aborting", "aborted", n)

	graceCtx, cancel := context.WithTimeout(context.Background(), abortGrace)
	defer cancel()
	if err := runs.Drain(graceCtx); err != nil {
		slog.Error("aborted import runs still holding slots", "error", err)
	}
}
