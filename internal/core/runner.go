package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RunTimeout bounds one background validate or process run.
var RunTimeout = 30 * time.Minute

// Phase names the pipeline step a background run performs.
type Phase string

const (
	PhaseValidate Phase = "validate"
	PhaseProcess  Phase = "process"
)

// RunResult is the outcome of a background run.
type RunResult struct {
	JobID      uuid.UUID          `json:"job_id"`
	Phase      Phase              `json:"phase"`
	Validation *ValidationSummary `json:"validation,omitempty"`
	Processing *ProcessingSummary `json:"processing,omitempty"`
	Err        error              `json:"-"`
}

// Runner executes pipeline phases in the background, bounded by a
// JobLimiter, and fans out progress to subscribers.
type Runner struct {
	orch    *Orchestrator
	limiter *JobLimiter
	logger  *slog.Logger

	mu   sync.RWMutex
	runs map[uuid.UUID]*activeRun
}

type activeRun struct {
	jobID    uuid.UUID
	phase    Phase
	cancel   context.CancelFunc
	progress JobStatusView
	result   *RunResult
	done     chan struct{}

	listenerMu sync.Mutex
	listeners  []chan JobStatusView
}

// NewRunner creates a runner. A nil limiter uses the defaults.
func NewRunner(orch *Orchestrator, limiter *JobLimiter, logger *slog.Logger) *Runner {
	if limiter == nil {
		limiter = NewJobLimiter(DefaultMaxConcurrentJobs, DefaultMaxWaitTime)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		orch:    orch,
		limiter: limiter,
		logger:  logger,
		runs:    make(map[uuid.UUID]*activeRun),
	}
}

// Start runs phase for the job in the background and returns at once.
// It waits for a free slot first and returns TOO_MANY_JOBS if none frees up.
func (r *Runner) Start(ctx context.Context, actor Actor, jobID uuid.UUID, phase Phase, data []byte) error {
	if phase != PhaseValidate && phase != PhaseProcess {
		return newError(CodeInvalidOptions, fmt.Sprintf("unknown phase %q", phase)).field("phase")
	}

	// Detach from the request but keep its audit metadata.
	runCtx := ContextWithUserAgent(ContextWithIPAddress(context.Background(), GetIPAddressFromContext(ctx)), GetUserAgentFromContext(ctx))
	runCtx, cancel := context.WithTimeout(runCtx, RunTimeout)

	run := &activeRun{
		jobID:    jobID,
		phase:    phase,
		cancel:   cancel,
		progress: JobStatusView{JobID: jobID, Status: StatusPending},
		done:     make(chan struct{}),
	}

	// The run is registered before waiting for a slot so a concurrent Start
	// for the same job sees it.
	r.mu.Lock()
	if prev, ok := r.runs[jobID]; ok && !prev.finished() {
		r.mu.Unlock()
		cancel()
		return newError(CodeJobInFlight, fmt.Sprintf("import job %s is already running", jobID)).retryable()
	}
	r.runs[jobID] = run
	r.mu.Unlock()

	if err := r.limiter.Acquire(ctx); err != nil {
		err = newError(CodeTooManyJobs, "too many imports are running").wrap(err).retryable()
		cancel()
		run.result = &RunResult{JobID: jobID, Phase: phase, Err: err}
		close(run.done)
		run.closeListeners()
		r.mu.Lock()
		if r.runs[jobID] == run {
			delete(r.runs, jobID)
		}
		r.mu.Unlock()
		return err
	}

	go r.execute(runCtx, actor, run, data)
	return nil
}

func (r *Runner) execute(ctx context.Context, actor Actor, run *activeRun, data []byte) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("import run panicked", "job_id", run.jobID.String(), "panic", p)
			run.result = &RunResult{JobID: run.jobID, Phase: run.phase, Err: fmt.Errorf("panic: %v", p)}
		}
		run.cancel()
		r.limiter.Release()
		if v, err := r.orch.GetStatus(context.Background(), actor, run.jobID); err == nil {
			run.setProgress(*v)
		}
		close(run.done)
		run.closeListeners()
		r.cleanup(run, 5*time.Minute)
	}()

	start := time.Now()
	res := &RunResult{JobID: run.jobID, Phase: run.phase}
	switch run.phase {
	case PhaseValidate:
		res.Validation, res.Err = r.orch.ValidateJob(ctx, actor, run.jobID, data)
	case PhaseProcess:
		now := r.orch.now
		res.Processing, res.Err = r.orch.process(ctx, actor, run.jobID, data, func(j *ImportJob) {
			run.setProgress(*statusView(j, now()))
		})
	}
	run.result = res

	attrs := []any{"job_id", run.jobID.String(), "phase", string(run.phase), "duration", time.Since(start)}
	if res.Err != nil {
		r.logger.Warn("import run failed", append(attrs, "error", res.Err)...)
		return
	}
	r.logger.Info("import run finished", attrs...)
}

// Subscribe returns a channel of progress updates, closed when the run ends.
func (r *Runner) Subscribe(jobID uuid.UUID) (<-chan JobStatusView, error) {
	run, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan JobStatusView, 10)
	run.listenerMu.Lock()
	defer run.listenerMu.Unlock()
	if run.finished() {
		ch <- run.progress
		close(ch)
		return ch, nil
	}
	run.listeners = append(run.listeners, ch)
	select {
	case ch <- run.progress:
	default:
	}
	return ch, nil
}

// Wait blocks until the run finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context, jobID uuid.UUID) (*RunResult, error) {
	run, err := r.lookup(jobID)
	if err != nil {
		return nil, err
	}
	select {
	case <-run.done:
		return run.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Abort cancels the run's context. The job stays resumable; use
// Orchestrator.CancelJob to cancel the job itself.
func (r *Runner) Abort(jobID uuid.UUID) error {
	run, err := r.lookup(jobID)
	if err != nil {
		return err
	}
	run.cancel()
	return nil
}

// Drain waits for running jobs to finish.
func (r *Runner) Drain(ctx context.Context) error {
	return r.limiter.WaitForDrain(ctx)
}

// AbortAll cancels every unfinished run. The jobs stay resumable.
func (r *Runner) AbortAll() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, run := range r.runs {
		if !run.finished() {
			run.cancel()
			n++
		}
	}
	return n
}

// Status reports limiter occupancy.
func (r *Runner) Status() JobLimiterStatus {
	return r.limiter.Status()
}

func (r *Runner) lookup(jobID uuid.UUID) (*activeRun, error) {
	r.mu.RLock()
	run, ok := r.runs[jobID]
	r.mu.RUnlock()
	if !ok {
		return nil, newError(CodeJobNotFound, fmt.Sprintf("no run for import job %s", jobID))
	}
	return run, nil
}

// cleanup forgets a finished run after a delay.
func (r *Runner) cleanup(run *activeRun, delay time.Duration) {
	time.AfterFunc(delay, func() {
		r.mu.Lock()
		if r.runs[run.jobID] == run {
			delete(r.runs, run.jobID)
		}
		r.mu.Unlock()
	})
}

func (run *activeRun) finished() bool {
	select {
	case <-run.done:
		return true
	default:
		return false
	}
}

// setProgress records the latest view and sends it to every listener.
func (run *activeRun) setProgress(v JobStatusView) {
	run.listenerMu.Lock()
	defer run.listenerMu.Unlock()

	run.progress = v
	for _, ch := range run.listeners {
		select {
		case ch <- v:
		default:
			// Listener is slow, skip this update
		}
	}
}

func (run *activeRun) closeListeners() {
	run.listenerMu.Lock()
	defer run.listenerMu.Unlock()

	for _, ch := range run.listeners {
		close(ch)
	}
	run.listeners = nil
}
