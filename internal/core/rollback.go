package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// RollbackManager reverses the mutations recorded for a job's rollback token.
type RollbackManager struct {
	*lifecycle
}

// Rollback reverses every applied snapshot of the job, newest first, then
// marks the job rolled_back. Each snapshot is reversed in its own
// transaction; when one fails the rest are marked partial and the call
// returns ROLLBACK_PARTIAL so a retry resumes where this one stopped.
func (m *RollbackManager) Rollback(ctx context.Context, actor Actor, jobID uuid.UUID, token string) (*RollbackSummary, error) {
	if !actor.Can(CapImportRollback) {
		m.metrics.rollback("forbidden")
		return nil, newError(CodeForbidden, "actor may not roll back imports")
	}

	var job *ImportJob
	err := m.store.InTx(ctx, func(tx Tx) error {
		j, err := loadJob(ctx, tx, actor, jobID)
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(j.RollbackToken)) != 1 {
			return newError(CodeTokenMismatch, "rollback token does not belong to this job")
		}
		if j.Status.InFlight() {
			return newError(CodeJobInFlight,
				fmt.Sprintf("job %s is %s; cancel it or wait for it to finish", j.ReferenceCode, j.Status)).retryable()
		}
		if !CanTransition(j.Status, StatusRolledBack) {
			return newError(CodeInvalidTransition,
				fmt.Sprintf("job %s is already %s", j.ReferenceCode, j.Status))
		}
		if j.RollbackExpires != nil && !m.now().Before(*j.RollbackExpires) {
			return newError(CodeRollbackExpired,
				fmt.Sprintf("rollback window for %s closed at %s", j.ReferenceCode, j.RollbackExpires.UTC().Format("2006-01-02 15:04 MST")))
		}
		job = j
		return m.audit.Record(ctx, tx, AuditParams{
			JobID:    &j.ID,
			TenantID: j.TenantID,
			Actor:    actor,
			Action:   AuditRollbackRequested,
			Details:  map[string]any{"status": string(j.Status)},
		})
	})
	if err != nil {
		m.metrics.rollback("rejected")
		m.logger.Warn("rollback rejected", "job_id", jobID.String(), "code", ErrorCode(err), "error", err)
		return nil, infraError("request rollback", err)
	}

	summary := &RollbackSummary{JobID: job.ID, Status: job.Status}
	reversed, skipped, remaining, err := m.reverse(ctx, job.ID, job.RollbackToken)
	summary.Reversed, summary.Skipped, summary.Remaining = reversed, skipped, remaining
	if err != nil {
		m.metrics.rollback("partial")
		summary.Error = err.Error()
		m.logger.Error("rollback stopped part way",
			"job_id", job.ID.String(),
			"reversed", reversed,
			"remaining", remaining,
			"error", err,
		)
		return summary, newError(CodeRollbackPartial,
			fmt.Sprintf("rolled back %d changes; %d remain", reversed, remaining)).wrap(err).retryable()
	}

	done, err := m.finish(ctx, actor, job.ID, StatusRolledBack, "", map[string]any{
		"reversed": reversed,
		"skipped":  skipped,
	})
	if err != nil {
		m.metrics.rollback("partial")
		return summary, newError(CodeRollbackPartial, "changes reversed but job status could not be saved").wrap(err).retryable()
	}

	m.metrics.rollback("success")
	m.logger.Info("rollback completed", "job_id", job.ID.String(), "ref", job.ReferenceCode, "reversed", reversed)
	summary.Status = done.Status
	summary.Success = true
	return summary, nil
}

// reverse undoes the job's outstanding snapshots newest first. It ignores
// status and expiry, which callers check.
func (m *RollbackManager) reverse(ctx context.Context, jobID uuid.UUID, token string) (reversed, skipped, remaining int, err error) {
	var snaps []ImportRollbackEntity
	err = m.store.InTx(ctx, func(tx Tx) error {
		var err error
		snaps, err = tx.ListSnapshots(ctx, token)
		return err
	})
	if err != nil {
		return 0, 0, 0, fmt.Errorf("list snapshots: %w", err)
	}

	for i := range snaps {
		s := &snaps[i]
		if s.JobID != jobID {
			continue
		}
		if s.Status == SnapshotRolledBack || s.Status == SnapshotExpired {
			skipped++
			continue
		}

		err := m.store.InTx(ctx, func(tx Tx) error {
			if err := reverseSnapshot(ctx, tx, s); err != nil {
				return err
			}
			return tx.UpdateSnapshotStatus(ctx, s.ID, SnapshotRolledBack)
		})
		if err != nil {
			remaining = m.markPartial(ctx, jobID, snaps[i:])
			return reversed, skipped, remaining, fmt.Errorf("reverse %s %s: %w", s.Action, s.EntityID, err)
		}
		reversed++
	}
	return reversed, skipped, 0, nil
}

// markPartial flags snapshots still outstanding. It is best effort: a
// failure here only loses the flag, not the ability to resume.
func (m *RollbackManager) markPartial(ctx context.Context, jobID uuid.UUID, snaps []ImportRollbackEntity) int {
	var n int
	err := m.store.InTx(ctx, func(tx Tx) error {
		n = 0
		for _, s := range snaps {
			if s.JobID != jobID || s.Status == SnapshotRolledBack || s.Status == SnapshotExpired {
				continue
			}
			n++
			if err := tx.UpdateSnapshotStatus(ctx, s.ID, SnapshotPartial); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.logger.Warn("mark snapshots partial", "job_id", jobID.String(), "error", err)
	}
	return n
}

// reverseSnapshot restores the entity to its pre-import state.
func reverseSnapshot(ctx context.Context, tx Tx, s *ImportRollbackEntity) error {
	switch s.Action {
	case ActionCreated:
		err := tx.DeleteEmployee(ctx, s.EntityID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	case ActionUpdated:
		if s.OriginalState == nil {
			return fmt.Errorf("snapshot %s has no original state", s.ID)
		}
		err := tx.UpdateEmployee(ctx, s.OriginalState.Clone())
		if errors.Is(err, ErrNotFound) {
			return tx.InsertEmployee(ctx, s.OriginalState.Clone())
		}
		return err
	case ActionDeleted:
		if s.OriginalState == nil {
			return fmt.Errorf("snapshot %s has no original state", s.ID)
		}
		return tx.InsertEmployee(ctx, s.OriginalState.Clone())
	default:
		return fmt.Errorf("unknown snapshot action %q", s.Action)
	}
}
