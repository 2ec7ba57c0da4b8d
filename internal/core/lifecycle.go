package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// transitions lists every allowed status change and the audit action it
// records. Anything not listed is rejected.
var transitions = map[JobStatus]map[JobStatus]AuditAction{
	StatusPending: {
		StatusValidating: AuditUploaded,
		StatusFailed:     AuditFailed,
		StatusCancelled:  AuditCancelled,
		StatusRolledBack: AuditRollbackCompleted,
	},
	StatusValidating: {
		StatusMapping:   AuditValidated,
		StatusFailed:    AuditFailed,
		StatusCancelled: AuditCancelled,
	},
	StatusMapping: {
		StatusValidating: AuditUploaded,
		StatusProcessing: AuditProcessingStarted,
		StatusFailed:     AuditFailed,
		StatusCancelled:  AuditCancelled,
		StatusRolledBack: AuditRollbackCompleted,
	},
	StatusProcessing: {
		StatusCompleted: AuditProcessingCompleted,
		StatusFailed:    AuditFailed,
		StatusCancelled: AuditCancelled,
	},
	StatusCompleted: {StatusRolledBack: AuditRollbackCompleted},
	StatusFailed:    {StatusRolledBack: AuditRollbackCompleted},
	StatusCancelled: {StatusRolledBack: AuditRollbackCompleted},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	_, ok := transitions[from][to]
	return ok
}

// lifecycle applies status transitions. It is shared by the orchestrator
// and the rollback manager so both stamp jobs the same way.
type lifecycle struct {
	store   Store
	audit   *AuditLogger
	logger  *slog.Logger
	now     func() time.Time
	window  time.Duration
	metrics *Metrics
}

// transition moves job to status `to` inside tx and records the audit entry
// in the same transaction. job is updated in place.
func (l *lifecycle) transition(ctx context.Context, tx Tx, job *ImportJob, to JobStatus, actor Actor, details map[string]any) error {
	action, ok := transitions[job.Status][to]
	if !ok {
		return newError(CodeInvalidTransition,
			fmt.Sprintf("job %s cannot move from %s to %s", job.ReferenceCode, job.Status, to)).wrap(ErrInvalidTransition)
	}

	now := l.now().UTC()
	from := job.Status
	job.Status = to
	job.UpdatedAt = now

	switch to {
	case StatusProcessing:
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
	case StatusCompleted, StatusFailed, StatusCancelled:
		job.CompletedAt = &now
		expires := now.Add(l.window)
		job.RollbackExpires = &expires
	}

	if err := tx.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	if details == nil {
		details = make(map[string]any, 2)
	}
	details["from"] = string(from)
	details["to"] = string(to)
	if err := l.audit.Record(ctx, tx, AuditParams{
		JobID:    &job.ID,
		TenantID: job.TenantID,
		Actor:    actor,
		Action:   action,
		Details:  details,
	}); err != nil {
		return fmt.Errorf("audit %s: %w", action, err)
	}

	l.logger.Debug("job transition",
		"job_id", job.ID.String(),
		"ref", job.ReferenceCode,
		"from", from,
		"to", to,
	)
	return nil
}

// finish moves a job to a terminal status in its own transaction.
func (l *lifecycle) finish(ctx context.Context, actor Actor, jobID uuid.UUID, to JobStatus, reason string, details map[string]any) (*ImportJob, error) {
	var job *ImportJob
	err := l.store.InTx(ctx, func(tx Tx) error {
		j, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if reason != "" {
			j.FailureReason = reason
		}
		if err := l.transition(ctx, tx, j, to, actor, details); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, err
	}

	var elapsed time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		elapsed = job.CompletedAt.Sub(*job.StartedAt)
	}
	l.metrics.jobFinished(to, elapsed)
	return job, nil
}

// failJob marks a job failed and never returns an error. When the failure
// cannot be written the audit entry goes to the fallback log.
func (l *lifecycle) failJob(ctx context.Context, actor Actor, jobID uuid.UUID, cause error, reason string, jobErrs []ImportValidationError) {
	err := l.store.InTx(ctx, func(tx Tx) error {
		j, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if j.Status.Terminal() {
			return nil
		}
		if len(jobErrs) > 0 {
			if err := tx.InsertValidationErrors(ctx, jobErrs); err != nil {
				return err
			}
		}
		j.FailureReason = reason
		return l.transition(ctx, tx, j, StatusFailed, actor, map[string]any{
			"reason": reason,
			"cause":  errString(cause),
		})
	})
	if err == nil {
		l.metrics.jobFinished(StatusFailed, 0)
		l.logger.Warn("job failed", "job_id", jobID.String(), "reason", reason, "error", errString(cause))
		return
	}

	id := jobID
	entry := l.audit.entry(ctx, AuditParams{
		JobID:   &id,
		Actor:   actor,
		Action:  AuditFailed,
		Details: map[string]any{"reason": reason},
	})
	l.audit.Fallback(entry, cause, err)
}

// loadJob fetches a job visible to actor. Jobs of other tenants look the
// same as missing ones.
func loadJob(ctx context.Context, tx Tx, actor Actor, id uuid.UUID) (*ImportJob, error) {
	job, err := tx.GetJob(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, jobNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	if actor.TenantID != "" && job.TenantID != actor.TenantID {
		return nil, jobNotFound(id)
	}
	return job, nil
}

func jobNotFound(id uuid.UUID) error {
	return newError(CodeJobNotFound, fmt.Sprintf("import job %s not found", id)).wrap(ErrNotFound)
}

// checkChecksum verifies data is the file the job was created from.
func checkChecksum(job *ImportJob, data []byte) error {
	if Checksum(data) != job.Checksum {
		return newError(CodeChecksumMismatch, "file does not match the bytes uploaded for this job")
	}
	return nil
}

// referenceCode builds the human-facing job code, e.g. IMP-20240315-4F2A9C.
func referenceCode(id uuid.UUID, at time.Time) string {
	hex := strings.ReplaceAll(id.String(), "-", "")
	return fmt.Sprintf("IMP-%s-%s", at.UTC().Format("20060102"), strings.ToUpper(hex[:6]))
}
