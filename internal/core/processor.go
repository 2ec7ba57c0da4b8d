package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/wI2L/jsondiff"
)

// EntityEmployee is the entity type recorded on snapshots.
const EntityEmployee = "employee"

// errRowRejected unwinds a row's savepoint after a row-level failure.
var errRowRejected = errors.New("row rejected")

// Processor applies validated rows to the employee store, one transaction
// per row, recording a rollback snapshot for every mutation.
type Processor struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewProcessor creates a processor.
func NewProcessor(store Store, logger *slog.Logger, metrics *Metrics, now func() time.Time) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Processor{store: store, logger: logger, metrics: metrics, now: now}
}

// runOutcome summarizes one processing pass.
type runOutcome struct {
	Created   int
	Updated   int
	Cancelled bool
	// AbortRow is the row number whose mutation failed in all-or-nothing
	// mode; zero when the pass ran to the end.
	AbortRow   int
	AbortIssue *RowIssue
}

// rowResult is the outcome of one row mutation attempt.
type rowResult struct {
	action   RollbackAction
	entityID uuid.UUID
	issue    *RowIssue
	outcome  string
}

// Run processes every row not yet marked processed. Each row commits its
// mutation, snapshot, row flag and job counters together, so a crash leaves
// the job resumable from the first unprocessed row. progress is called
// after each committed row with the job as stored.
func (p *Processor) Run(ctx context.Context, job *ImportJob, progress func(*ImportJob)) (runOutcome, error) {
	var (
		out  runOutcome
		rows []ImportRow
	)
	err := p.store.InTx(ctx, func(tx Tx) error {
		var err error
		rows, err = tx.ListRows(ctx, job.ID)
		return err
	})
	if err != nil {
		return out, fmt.Errorf("list rows: %w", err)
	}

	// Managers may be introduced by the same file.
	fileKeys := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.Status.Importable() {
			if key := naturalKey(r.Mapped); key != "" {
				fileKeys[key] = true
			}
		}
	}

	for i := range rows {
		row := &rows[i]
		if row.IsProcessed {
			continue
		}
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var (
			res       rowResult
			cancelled bool
		)
		err := p.store.InTx(ctx, func(tx Tx) error {
			j, err := tx.GetJob(ctx, job.ID)
			if err != nil {
				return err
			}
			if j.CancelRequested {
				cancelled = true
				return nil
			}

			res, err = p.applyRow(ctx, tx, j, row, fileKeys)
			if err != nil {
				return fmt.Errorf("row %d: %w", row.RowNumber, err)
			}

			row.IsProcessed = true
			if res.issue != nil {
				row.Status = RowInvalid
				row.Errors = append(row.Errors, *res.issue)
				ve := newValidationError(j.ID, row, *res.issue, p.now().UTC())
				if err := tx.InsertValidationErrors(ctx, []ImportValidationError{ve}); err != nil {
					return err
				}
			}
			if res.action != "" {
				id := res.entityID
				row.EntityID = &id
			}
			if err := tx.UpdateRow(ctx, row); err != nil {
				return err
			}

			j.ProcessedRows++
			if res.action != "" {
				j.SuccessfulRows++
			} else {
				j.ErrorRows++
			}
			j.UpdatedAt = p.now().UTC()
			if err := tx.UpdateJob(ctx, j); err != nil {
				return err
			}
			*job = *j
			return nil
		})
		if err != nil {
			return out, err
		}
		if cancelled {
			out.Cancelled = true
			return out, nil
		}

		p.metrics.rowOutcome(res.outcome)
		switch res.action {
		case ActionCreated:
			out.Created++
		case ActionUpdated:
			out.Updated++
		}
		if progress != nil {
			progress(job)
		}

		// Invalid rows never abort; only a failed mutation does.
		if res.issue != nil && !job.Options.AllowPartialImport {
			out.AbortRow = row.RowNumber
			out.AbortIssue = res.issue
			return out, nil
		}
	}
	return out, nil
}

// applyRow attempts the row's mutation inside a savepoint. A row-level
// failure is returned as rowResult.issue with the savepoint undone; only
// infrastructure failures are returned as errors.
func (p *Processor) applyRow(ctx context.Context, tx Tx, job *ImportJob, row *ImportRow, fileKeys map[string]bool) (rowResult, error) {
	if !row.Status.Importable() {
		return rowResult{outcome: "invalid"}, nil
	}

	var res rowResult
	err := tx.Savepoint(ctx, func(sp Tx) error {
		r, err := p.mutate(ctx, sp, job, row, fileKeys)
		res = r
		if err != nil {
			return err
		}
		if r.issue != nil {
			return errRowRejected
		}
		return nil
	})
	switch {
	case errors.Is(err, errRowRejected):
		return res, nil
	case errors.Is(err, ErrConflict):
		return rejected("duplicate", CategoryDuplicate, "duplicate_record",
			fmt.Sprintf("%s %q collides with an existing record", NaturalKeyField, row.Mapped.Str(NaturalKeyField)),
			NaturalKeyField, row.Mapped.Str(NaturalKeyField)), nil
	case errors.Is(err, ErrConstraint):
		return rejected("constraint", CategoryConstraintViolation, "constraint_violation",
			fmt.Sprintf("row violates a store constraint: %v", err), "", ""), nil
	case err != nil:
		return rowResult{}, err
	}
	return res, nil
}

func (p *Processor) mutate(ctx context.Context, tx Tx, job *ImportJob, row *ImportRow, fileKeys map[string]bool) (rowResult, error) {
	key := row.Mapped.Str(NaturalKeyField)
	existing, err := tx.GetEmployeeByKey(ctx, job.TenantID, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return rowResult{}, err
	}

	if mgr := row.Mapped.Str(TargetManagerID); mgr != "" && mgr != key && !fileKeys[mgr] {
		_, err := tx.GetEmployeeByKey(ctx, job.TenantID, mgr)
		if errors.Is(err, ErrNotFound) {
			return rejected("reference", CategoryReference, "unknown_manager",
				fmt.Sprintf("manager %q is not an existing employee or a row in this file", mgr),
				TargetManagerID, mgr), nil
		}
		if err != nil {
			return rowResult{}, err
		}
	}

	now := p.now().UTC()
	if existing != nil {
		if !job.Options.UpdateExisting {
			r := rejected("duplicate", CategoryDuplicate, "duplicate_record",
				fmt.Sprintf("%s %q already exists", NaturalKeyField, key), NaturalKeyField, key)
			r.issue.Suggestion = "enable update_existing to overwrite existing employees"
			return r, nil
		}

		updated := existing.Clone()
		applyMapped(updated, row.Mapped)
		updated.UpdatedAt = now
		if err := tx.UpdateEmployee(ctx, updated); err != nil {
			return rowResult{}, err
		}
		patch, err := diffEmployees(existing, updated)
		if err != nil {
			return rowResult{}, err
		}
		snap := p.snapshot(job, row, ActionUpdated, existing, updated, now)
		snap.Patch = patch
		if err := tx.InsertSnapshot(ctx, snap); err != nil {
			return rowResult{}, err
		}
		return rowResult{action: ActionUpdated, entityID: updated.ID, outcome: "updated"}, nil
	}

	emp := &Employee{
		ID:        uuid.New(),
		TenantID:  job.TenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	applyMapped(emp, row.Mapped)
	if err := tx.InsertEmployee(ctx, emp); err != nil {
		return rowResult{}, err
	}
	if err := tx.InsertSnapshot(ctx, p.snapshot(job, row, ActionCreated, nil, emp, now)); err != nil {
		return rowResult{}, err
	}
	return rowResult{action: ActionCreated, entityID: emp.ID, outcome: "created"}, nil
}

func (p *Processor) snapshot(job *ImportJob, row *ImportRow, action RollbackAction, before, after *Employee, at time.Time) *ImportRollbackEntity {
	return &ImportRollbackEntity{
		ID:            uuid.New(),
		JobID:         job.ID,
		RollbackToken: job.RollbackToken,
		EntityType:    EntityEmployee,
		EntityID:      after.ID,
		Action:        action,
		OriginalState: before.Clone(),
		ImportedState: after.Clone(),
		Status:        SnapshotApplied,
		Sequence:      int64(row.RowNumber),
		CreatedAt:     at,
	}
}

func rejected(outcome string, cat ErrorCategory, code, msg, field, raw string) rowResult {
	return rowResult{
		outcome: outcome,
		issue: &RowIssue{
			Category: cat,
			Severity: SeverityError,
			Code:     code,
			Message:  msg,
			Field:    field,
			RawValue: raw,
		},
	}
}

// applyMapped copies mapped fields onto e. Fields absent from the row keep
// their current value.
func applyMapped(e *Employee, m MappedFields) {
	set := func(field string, dst *string) {
		if v := m.Ptr(field); v != nil {
			*dst = *v
		}
	}
	set(TargetEmployeeID, &e.EmployeeID)
	set(TargetEmail, &e.Email)
	set(TargetFirstName, &e.FirstName)
	set(TargetLastName, &e.LastName)

	opt := func(field string, dst **string) {
		if v := m.Ptr(field); v != nil {
			*dst = v
		}
	}
	opt(TargetHireDate, &e.HireDate)
	opt(TargetPhone, &e.Phone)
	opt(TargetDepartment, &e.Department)
	opt(TargetJobTitle, &e.JobTitle)
	opt(TargetLocation, &e.Location)
	opt(TargetManagerID, &e.ManagerID)
	opt(TargetSalary, &e.Salary)

	if v, ok := m[TargetWeeklyHours].(IntegerValue); ok {
		h := int64(v)
		e.WeeklyHours = &h
	}
}

// diffEmployees returns the JSON Patch that turns before into after.
func diffEmployees(before, after *Employee) (json.RawMessage, error) {
	patch, err := jsondiff.Compare(before, after)
	if err != nil {
		return nil, fmt.Errorf("diff employee: %w", err)
	}
	if len(patch) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	return b, nil
}
