// Package worker runs queued pipeline phases against uploads held in blob
// storage.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zakakatz/embrTimeOff-sub000/internal/blobstore"
	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
	"github.com/zakakatz/embrTimeOff-sub000/internal/queue"
)

// Pipeline is the subset of the orchestrator a worker drives.
type Pipeline interface {
	ValidateJob(ctx context.Context, actor core.Actor, jobID uuid.UUID, data []byte) (*core.ValidationSummary, error)
	ProcessJob(ctx context.Context, actor core.Actor, jobID uuid.UUID, data []byte) (*core.ProcessingSummary, error)
}

// Worker turns queue messages into validate and process runs.
type Worker struct {
	pipeline Pipeline
	blobs    blobstore.Storage
	limiter  *core.JobLimiter
	logger   *slog.Logger
}

func New(pipeline Pipeline, blobs blobstore.Storage, limiter *core.JobLimiter, logger *slog.Logger) *Worker {
	if limiter == nil {
		limiter = core.NewJobLimiter(core.DefaultMaxConcurrentJobs, core.DefaultMaxWaitTime)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{pipeline: pipeline, blobs: blobs, limiter: limiter, logger: logger}
}

// Start consumes messages until ctx is cancelled.
func (w *Worker) Start(ctx context.Context, c *queue.Consumer) error {
	return c.Consume(ctx, w.Handle)
}

// Handle runs one message. Errors that a retry cannot fix, such as a
// rejected transition, are logged and swallowed so the message is not
// dead-lettered; infrastructure errors are returned.
func (w *Worker) Handle(ctx context.Context, data []byte) error {
	msg, err := queue.Decode(data)
	if err != nil {
		return err
	}
	log := w.logger.With("job_id", msg.JobID.String(), "phase", string(msg.Phase), "tenant_id", msg.TenantID)

	if err := w.limiter.Acquire(ctx); err != nil {
		return fmt.Errorf("wait for slot: %w", err)
	}
	defer w.limiter.Release()

	upload, err := w.blobs.Get(ctx, msg.BlobKey)
	if err != nil {
		return fmt.Errorf("fetch upload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, core.RunTimeout)
	defer cancel()

	switch msg.Phase {
	case core.PhaseValidate:
		var sum *core.ValidationSummary
		sum, err = w.pipeline.ValidateJob(ctx, msg.Actor, msg.JobID, upload)
		if err == nil {
			log.Info("queued validation finished", "status", string(sum.Status), "invalid", sum.InvalidRows)
		}
	case core.PhaseProcess:
		var sum *core.ProcessingSummary
		sum, err = w.pipeline.ProcessJob(ctx, msg.Actor, msg.JobID, upload)
		if err == nil {
			log.Info("queued processing finished", "status", string(sum.Status), "successful", sum.SuccessfulRows, "errors", sum.ErrorRows)
		}
	default:
		log.Warn("dropping message with unknown phase")
		return nil
	}

	if err == nil {
		return nil
	}
	if core.IsRetryable(err) || core.ErrorCode(err) == "" {
		return err
	}
	log.Warn("queued run rejected", "code", core.ErrorCode(err), "error", err)
	return nil
}
