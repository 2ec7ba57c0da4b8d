package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Defaults for OrchestratorConfig.
const (
	DefaultMaxFileSize    int64 = 100 << 20
	DefaultRollbackWindow       = 72 * time.Hour
)

// OrchestratorConfig tunes the pipeline.
type OrchestratorConfig struct {
	MaxFileSize    int64
	RollbackWindow time.Duration
	Logger         *slog.Logger
	Metrics        *Metrics
	Now            func() time.Time
}

// Orchestrator owns the job state machine and exposes the pipeline entry
// points. Every status change it makes is audited in the same transaction.
type Orchestrator struct {
	*lifecycle
	processor *Processor
	rollback  *RollbackManager
	validate  *validator.Validate
	maxSize   int64

	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store Store, audit *AuditLogger, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if cfg.RollbackWindow <= 0 {
		cfg.RollbackWindow = DefaultRollbackWindow
	}
	if audit == nil {
		audit = NewAuditLogger(cfg.Logger, cfg.Now)
	}

	lc := &lifecycle{
		store:   store,
		audit:   audit,
		logger:  cfg.Logger,
		now:     cfg.Now,
		window:  cfg.RollbackWindow,
		metrics: cfg.Metrics,
	}
	return &Orchestrator{
		lifecycle: lc,
		processor: NewProcessor(store, cfg.Logger, cfg.Metrics, cfg.Now),
		rollback:  &RollbackManager{lifecycle: lc},
		validate:  newStructValidator(),
		maxSize:   cfg.MaxFileSize,
		running:   make(map[uuid.UUID]struct{}),
	}
}

// claim marks a job as being worked on by this process.
func (o *Orchestrator) claim(id uuid.UUID) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[id]; busy {
		return nil, newError(CodeJobInFlight, fmt.Sprintf("import job %s is already running", id)).retryable()
	}
	o.running[id] = struct{}{}
	return func() {
		o.mu.Lock()
		delete(o.running, id)
		o.mu.Unlock()
	}, nil
}

func (o *Orchestrator) checkOptions(opts JobOptions) error {
	if err := o.validate.Struct(opts); err != nil {
		return invalidOptions(err)
	}
	for _, target := range opts.Mapping {
		if target != "" && !isTargetField(target) {
			return newError(CodeInvalidOptions, fmt.Sprintf("%q is not an employee field", target)).field("mapping")
		}
	}
	return nil
}

func (o *Orchestrator) tenantRules(ctx context.Context, tenantID string) ([]FieldMappingRule, error) {
	var rules []FieldMappingRule
	err := o.store.InTx(ctx, func(tx Tx) error {
		var err error
		rules, err = tx.ListRules(ctx, tenantID, true)
		return err
	})
	return rules, err
}

// CreateJob registers an upload and suggests a column mapping. It does not
// validate rows. Identical bytes already imported by an active job are
// rejected with DUPLICATE_UPLOAD unless opts.AllowDuplicateUpload is set.
func (o *Orchestrator) CreateJob(ctx context.Context, actor Actor, data []byte, filename, tenantID string, opts JobOptions) (*JobHandle, error) {
	if !actor.Can(CapImportWrite) {
		return nil, newError(CodeForbidden, "actor may not create imports")
	}
	if tenantID == "" {
		return nil, newError(CodeInvalidOptions, "tenant is required").field("tenant_id")
	}
	if actor.TenantID != "" && actor.TenantID != tenantID {
		return nil, newError(CodeForbidden, "actor may not import into another tenant")
	}
	if len(data) == 0 {
		return nil, newError(CodeFileEmpty, "uploaded file is empty")
	}
	if int64(len(data)) > o.maxSize {
		return nil, newError(CodeFileTooLarge,
			fmt.Sprintf("file is %d bytes; the limit is %d", len(data), o.maxSize))
	}
	if err := o.checkOptions(opts); err != nil {
		return nil, err
	}

	rules, err := o.tenantRules(ctx, tenantID)
	if err != nil {
		return nil, infraError("load mapping rules", err)
	}
	sugg := NewColumnMapper(rules).Analyze(data, filename, opts.delimiterRune(), opts.Mapping)

	now := o.now().UTC()
	job := &ImportJob{
		ID:            uuid.New(),
		TenantID:      tenantID,
		ActorID:       actor.ID,
		Filename:      filename,
		FileSize:      int64(len(data)),
		Checksum:      sugg.Checksum,
		Status:        StatusPending,
		Lifecycle:     LifecycleActive,
		Options:       opts,
		Mapping:       sugg.Mapping,
		Headers:       sugg.Headers,
		RollbackToken: uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	job.ReferenceCode = referenceCode(job.ID, now)

	err = o.store.InTx(ctx, func(tx Tx) error {
		if !opts.AllowDuplicateUpload {
			prev, err := tx.FindJobByChecksum(ctx, tenantID, job.Checksum)
			switch {
			case err == nil && blocksDuplicate(prev):
				return newError(CodeDuplicateUpload,
					fmt.Sprintf("this file was already uploaded as %s (%s)", prev.ReferenceCode, prev.Status))
			case err != nil && !errors.Is(err, ErrNotFound):
				return err
			}
		}
		if err := tx.CreateJob(ctx, job); err != nil {
			return err
		}
		return o.audit.Record(ctx, tx, AuditParams{
			JobID:    &job.ID,
			TenantID: tenantID,
			Actor:    actor,
			Action:   AuditCreated,
			Details: map[string]any{
				"filename":       filename,
				"file_size":      job.FileSize,
				"checksum":       job.Checksum,
				"reference_code": job.ReferenceCode,
				"mapped_columns": len(job.Mapping),
			},
		})
	})
	if err != nil {
		return nil, infraError("create job", err)
	}

	o.logger.Info("import job created",
		"job_id", job.ID.String(),
		"ref", job.ReferenceCode,
		"tenant_id", tenantID,
		"filename", filename,
		"size", job.FileSize,
	)
	return &JobHandle{
		JobID:         job.ID,
		ReferenceCode: job.ReferenceCode,
		Checksum:      job.Checksum,
		Status:        job.Status,
		Suggestion:    &sugg,
	}, nil
}

// blocksDuplicate reports whether an earlier job with the same bytes should
// stop a new upload. Jobs that imported nothing do not.
func blocksDuplicate(prev *ImportJob) bool {
	if prev.Lifecycle == LifecycleSoftDeleted {
		return false
	}
	switch prev.Status {
	case StatusFailed, StatusCancelled, StatusRolledBack:
		return false
	}
	return true
}

// ValidateJob parses the file, maps and validates every row, and persists
// rows and errors. Re-validating the same bytes replaces the previous result
// with an identical one. A structural failure fails the job and is reported
// in the summary rather than as an error.
func (o *Orchestrator) ValidateJob(ctx context.Context, actor Actor, jobID uuid.UUID, data []byte) (*ValidationSummary, error) {
	if !actor.Can(CapImportWrite) {
		return nil, newError(CodeForbidden, "actor may not validate imports")
	}
	release, err := o.claim(jobID)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.validateJob(ctx, actor, jobID, data)
}

func (o *Orchestrator) validateJob(ctx context.Context, actor Actor, jobID uuid.UUID, data []byte) (*ValidationSummary, error) {
	var job *ImportJob
	err := o.store.InTx(ctx, func(tx Tx) error {
		j, err := loadJob(ctx, tx, actor, jobID)
		if err != nil {
			return err
		}
		if err := checkChecksum(j, data); err != nil {
			return err
		}
		if j.Status != StatusPending && j.Status != StatusMapping {
			return newError(CodeInvalidTransition,
				fmt.Sprintf("job %s is %s and cannot be validated", j.ReferenceCode, j.Status))
		}
		if err := o.transition(ctx, tx, j, StatusValidating, actor, map[string]any{"bytes": len(data)}); err != nil {
			return err
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, infraError("start validation", err)
	}
	return o.runValidation(ctx, actor, job, data)
}

func (o *Orchestrator) runValidation(ctx context.Context, actor Actor, job *ImportJob, data []byte) (*ValidationSummary, error) {
	now := o.now().UTC()
	summary := &ValidationSummary{JobID: job.ID, Mapping: job.Mapping}

	table, err := ReadTable(data, job.Filename, job.Options.delimiterRune())
	if err != nil {
		var se *Error
		issue := RowIssue{Category: CategoryStructural, Severity: SeverityCritical, Code: "file_unreadable", Message: err.Error()}
		if errors.As(err, &se) {
			issue.Code = se.Code
			issue.Message = se.Message
		}
		jobErr := newValidationError(job.ID, nil, issue, now)
		o.failJob(ctx, actor, job.ID, err, issue.Message, []ImportValidationError{jobErr})
		summary.Status = StatusFailed
		summary.Errors = []ImportValidationError{jobErr}
		return summary, nil
	}

	rules, err := o.tenantRules(ctx, job.TenantID)
	if err != nil {
		o.failJob(ctx, actor, job.ID, err, "mapping rules could not be loaded", nil)
		return nil, infraError("load mapping rules", err)
	}
	fv, err := NewFieldValidator(SpecsForTenant(rules))
	if err != nil {
		o.failJob(ctx, actor, job.ID, err, "tenant mapping rules are invalid", nil)
		return nil, newError(CodeInvalidOptions, err.Error()).field("mapping_rules")
	}

	mapping := job.Mapping
	if mapping == nil {
		mapping = map[string]string{}
	}

	var verrs []ImportValidationError
	for _, target := range fv.MissingRequired(mapping) {
		verrs = append(verrs, newValidationError(job.ID, nil, RowIssue{
			Category:   CategoryConstraintViolation,
			Severity:   SeverityError,
			Code:       "missing_required_column",
			Message:    fmt.Sprintf("no column is mapped to required field %s", target),
			Field:      target,
			Suggestion: "map a column to this field or add a default in the tenant's mapping rules",
		}, now))
	}

	results := fv.ValidateTable(table, mapping)
	rows := make([]ImportRow, 0, len(results))
	for _, r := range results {
		row := ImportRow{
			ID:        uuid.New(),
			JobID:     job.ID,
			RowNumber: r.RowNumber,
			Raw:       r.Raw,
			Mapped:    r.Mapped,
			Status:    r.Status,
			Errors:    r.Issues,
		}
		for _, is := range r.Issues {
			verrs = append(verrs, newValidationError(job.ID, &row, is, now))
			if is.Category == CategoryDuplicate {
				summary.DuplicateRows++
			}
		}
		switch r.Status {
		case RowValid:
			summary.ValidRows++
		case RowWarning:
			summary.WarningRows++
		case RowInvalid:
			summary.InvalidRows++
		}
		rows = append(rows, row)
	}

	var final *ImportJob
	err = o.store.InTx(ctx, func(tx Tx) error {
		j, err := tx.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if j.Status != StatusValidating {
			return newError(CodeInvalidTransition,
				fmt.Sprintf("job %s moved to %s during validation", j.ReferenceCode, j.Status))
		}
		if err := tx.DeleteValidationErrors(ctx, j.ID); err != nil {
			return err
		}
		if err := tx.ReplaceRows(ctx, j.ID, rows); err != nil {
			return err
		}
		if len(verrs) > 0 {
			if err := tx.InsertValidationErrors(ctx, verrs); err != nil {
				return err
			}
		}
		j.Headers = table.Headers
		j.Mapping = mapping
		j.TotalRows = len(rows)

		if j.CancelRequested {
			if err := o.transition(ctx, tx, j, StatusCancelled, actor, map[string]any{"phase": "validation"}); err != nil {
				return err
			}
		} else if err := o.transition(ctx, tx, j, StatusMapping, actor, map[string]any{
			"total_rows":   len(rows),
			"valid_rows":   summary.ValidRows,
			"warning_rows": summary.WarningRows,
			"invalid_rows": summary.InvalidRows,
		}); err != nil {
			return err
		}
		final = j
		return nil
	})
	if err != nil {
		if ErrorCode(err) != CodeInvalidTransition {
			o.failJob(ctx, actor, job.ID, err, "validation results could not be saved", nil)
		}
		return nil, infraError("save validation", err)
	}
	if final.Status == StatusCancelled {
		o.metrics.jobFinished(StatusCancelled, 0)
	}

	o.logger.Info("import job validated",
		"job_id", final.ID.String(),
		"ref", final.ReferenceCode,
		"rows", len(rows),
		"invalid", summary.InvalidRows,
		"errors", len(verrs),
	)
	summary.Status = final.Status
	summary.Headers = table.Headers
	summary.TotalRows = len(rows)
	summary.Errors = verrs
	return summary, nil
}

// ProcessJob imports the job's valid rows. A pending job is validated
// first; a job left in processing by a crash resumes from its first
// unprocessed row. In all-or-nothing mode a failed mutation reverses every
// change the job made and fails it.
func (o *Orchestrator) ProcessJob(ctx context.Context, actor Actor, jobID uuid.UUID, data []byte) (*ProcessingSummary, error) {
	return o.process(ctx, actor, jobID, data, nil)
}

func (o *Orchestrator) process(ctx context.Context, actor Actor, jobID uuid.UUID, data []byte, progress func(*ImportJob)) (*ProcessingSummary, error) {
	if !actor.Can(CapImportWrite) {
		return nil, newError(CodeForbidden, "actor may not process imports")
	}
	release, err := o.claim(jobID)
	if err != nil {
		return nil, err
	}
	defer release()

	var status JobStatus
	err = o.store.InTx(ctx, func(tx Tx) error {
		j, err := loadJob(ctx, tx, actor, jobID)
		if err != nil {
			return err
		}
		if err := checkChecksum(j, data); err != nil {
			return err
		}
		status = j.Status
		return nil
	})
	if err != nil {
		return nil, infraError("load job", err)
	}

	switch status {
	case StatusPending:
		vs, err := o.validateJob(ctx, actor, jobID, data)
		if err != nil {
			return nil, err
		}
		if vs.Status != StatusMapping {
			return o.processingSummary(ctx, jobID, runOutcome{})
		}
	case StatusMapping, StatusProcessing:
	default:
		return nil, newError(CodeInvalidTransition, fmt.Sprintf("job is %s and cannot be processed", status))
	}

	var job *ImportJob
	err = o.store.InTx(ctx, func(tx Tx) error {
		j, err := tx.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		switch j.Status {
		case StatusMapping:
			to := StatusProcessing
			if j.CancelRequested {
				to = StatusCancelled
			}
			if err := o.transition(ctx, tx, j, to, actor, map[string]any{
				"total_rows":           j.TotalRows,
				"allow_partial_import": j.Options.AllowPartialImport,
				"update_existing":      j.Options.UpdateExisting,
			}); err != nil {
				return err
			}
		case StatusProcessing:
			if err := o.reconcileCounters(ctx, tx, j); err != nil {
				return err
			}
			o.logger.Info("resuming import job", "job_id", j.ID.String(), "processed", j.ProcessedRows, "total", j.TotalRows)
		default:
			return newError(CodeInvalidTransition, fmt.Sprintf("job %s is %s and cannot be processed", j.ReferenceCode, j.Status))
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, infraError("start processing", err)
	}
	if job.Status == StatusCancelled {
		return o.processingSummary(ctx, jobID, runOutcome{})
	}

	out, runErr := o.processor.Run(ctx, job, progress)
	return o.finalize(ctx, actor, job, out, runErr)
}

// reconcileCounters derives counters from persisted rows after a crash.
// Counters never move backwards.
func (o *Orchestrator) reconcileCounters(ctx context.Context, tx Tx, j *ImportJob) error {
	rows, err := tx.ListRows(ctx, j.ID)
	if err != nil {
		return err
	}
	var processed, ok, bad int
	for _, r := range rows {
		if !r.IsProcessed {
			continue
		}
		processed++
		if r.EntityID != nil {
			ok++
		} else {
			bad++
		}
	}
	if processed <= j.ProcessedRows {
		return nil
	}
	j.ProcessedRows = processed
	j.SuccessfulRows = max(j.SuccessfulRows, ok)
	j.ErrorRows = max(j.ErrorRows, bad)
	j.UpdatedAt = o.now().UTC()
	return tx.UpdateJob(ctx, j)
}

func (o *Orchestrator) finalize(ctx context.Context, actor Actor, job *ImportJob, out runOutcome, runErr error) (*ProcessingSummary, error) {
	switch {
	case runErr != nil && ctx.Err() != nil:
		// Shutdown: leave the job in processing so it can resume.
		o.logger.Warn("processing interrupted", "job_id", job.ID.String(), "processed", job.ProcessedRows, "error", runErr)
		return nil, infraError("process job", runErr)

	case runErr != nil:
		reason := "processing stopped by an infrastructure error"
		if !job.Options.AllowPartialImport {
			reason = o.autoRollback(ctx, job, reason)
		}
		o.failJob(ctx, actor, job.ID, runErr, reason, nil)
		return nil, infraError("process job", runErr)

	case out.Cancelled:
		if _, err := o.finish(ctx, actor, job.ID, StatusCancelled, "", map[string]any{"processed_rows": job.ProcessedRows}); err != nil {
			return nil, infraError("cancel job", err)
		}

	case out.AbortRow > 0:
		reason := fmt.Sprintf("row %d: %s", out.AbortRow, out.AbortIssue.Message)
		reason = o.autoRollback(ctx, job, reason)
		if _, err := o.finish(ctx, actor, job.ID, StatusFailed, reason, map[string]any{"abort_row": out.AbortRow}); err != nil {
			o.failJob(ctx, actor, job.ID, err, reason, nil)
			return nil, infraError("fail job", err)
		}

	default:
		to, reason := StatusCompleted, ""
		if job.SuccessfulRows == 0 {
			to, reason = StatusFailed, "no rows were imported"
		}
		if _, err := o.finish(ctx, actor, job.ID, to, reason, map[string]any{
			"successful_rows": job.SuccessfulRows,
			"error_rows":      job.ErrorRows,
			"created":         out.Created,
			"updated":         out.Updated,
		}); err != nil {
			return nil, infraError("complete job", err)
		}
	}
	return o.processingSummary(ctx, job.ID, out)
}

// autoRollback reverses an all-or-nothing job's changes and returns the
// failure reason extended with the outcome.
func (o *Orchestrator) autoRollback(ctx context.Context, job *ImportJob, reason string) string {
	reversed, _, remaining, err := o.rollback.reverse(ctx, job.ID, job.RollbackToken)
	if err != nil {
		o.logger.Error("automatic rollback incomplete", "job_id", job.ID.String(), "reversed", reversed, "remaining", remaining, "error", err)
		return fmt.Sprintf("%s; %d changes reversed, %d remain (request a rollback to finish)", reason, reversed, remaining)
	}
	o.logger.Info("automatic rollback", "job_id", job.ID.String(), "reversed", reversed)
	return fmt.Sprintf("%s; import aborted and %d changes reversed", reason, reversed)
}

func (o *Orchestrator) processingSummary(ctx context.Context, jobID uuid.UUID, out runOutcome) (*ProcessingSummary, error) {
	var job *ImportJob
	err := o.store.InTx(ctx, func(tx Tx) error {
		var err error
		job, err = tx.GetJob(ctx, jobID)
		return err
	})
	if err != nil {
		return nil, infraError("load job", err)
	}
	s := &ProcessingSummary{
		JobID:          job.ID,
		Status:         job.Status,
		TotalRows:      job.TotalRows,
		ProcessedRows:  job.ProcessedRows,
		SuccessfulRows: job.SuccessfulRows,
		ErrorRows:      job.ErrorRows,
		Created:        out.Created,
		Updated:        out.Updated,
		FailureReason:  job.FailureReason,
	}
	if job.StartedAt != nil && job.CompletedAt != nil {
		s.Duration = job.CompletedAt.Sub(*job.StartedAt)
	}
	if job.Status.Terminal() && job.Status != StatusRolledBack {
		s.RollbackToken = job.RollbackToken
		s.RollbackExpires = job.RollbackExpires
	}
	return s, nil
}

// GetStatus returns the job's progress. It never mutates.
func (o *Orchestrator) GetStatus(ctx context.Context, actor Actor, jobID uuid.UUID) (*JobStatusView, error) {
	var job *ImportJob
	err := o.store.InTx(ctx, func(tx Tx) error {
		var err error
		job, err = loadJob(ctx, tx, actor, jobID)
		return err
	})
	if err != nil {
		return nil, infraError("get job", err)
	}
	return statusView(job, o.now()), nil
}

func statusView(job *ImportJob, now time.Time) *JobStatusView {
	v := &JobStatusView{
		JobID:           job.ID,
		ReferenceCode:   job.ReferenceCode,
		TenantID:        job.TenantID,
		Filename:        job.Filename,
		Checksum:        job.Checksum,
		Status:          job.Status,
		Lifecycle:       job.Lifecycle,
		TotalRows:       job.TotalRows,
		ProcessedRows:   job.ProcessedRows,
		SuccessfulRows:  job.SuccessfulRows,
		ErrorRows:       job.ErrorRows,
		StartedAt:       job.StartedAt,
		RollbackExpires: job.RollbackExpires,
		CancelRequested: job.CancelRequested,
		FailureReason:   job.FailureReason,
	}
	if job.TotalRows > 0 {
		v.Percent = float64(job.ProcessedRows) / float64(job.TotalRows) * 100
	}
	if job.Status == StatusProcessing && job.StartedAt != nil && job.ProcessedRows > 0 {
		elapsed := now.Sub(*job.StartedAt)
		perRow := elapsed / time.Duration(job.ProcessedRows)
		eta := now.Add(perRow * time.Duration(job.TotalRows-job.ProcessedRows)).UTC()
		v.EstimatedCompletion = &eta
	}
	return v
}

// RequestRollback reverses a finished job's changes. See RollbackManager.
func (o *Orchestrator) RequestRollback(ctx context.Context, actor Actor, jobID uuid.UUID, token string) (*RollbackSummary, error) {
	release, err := o.claim(jobID)
	if err != nil {
		return nil, err
	}
	defer release()
	return o.rollback.Rollback(ctx, actor, jobID, token)
}

// CancelJob stops a job. Idle jobs are cancelled at once; a running job is
// flagged and stops at its next row boundary.
func (o *Orchestrator) CancelJob(ctx context.Context, actor Actor, jobID uuid.UUID) (*JobStatusView, error) {
	if !actor.Can(CapImportWrite) {
		return nil, newError(CodeForbidden, "actor may not cancel imports")
	}
	var job *ImportJob
	var cancelled bool
	err := o.store.InTx(ctx, func(tx Tx) error {
		j, err := loadJob(ctx, tx, actor, jobID)
		if err != nil {
			return err
		}
		switch {
		case j.Status == StatusPending || j.Status == StatusMapping:
			if err := o.transition(ctx, tx, j, StatusCancelled, actor, nil); err != nil {
				return err
			}
			cancelled = true
		case j.Status.InFlight():
			if j.CancelRequested {
				break
			}
			j.CancelRequested = true
			j.UpdatedAt = o.now().UTC()
			if err := tx.UpdateJob(ctx, j); err != nil {
				return err
			}
			if err := o.audit.Record(ctx, tx, AuditParams{
				JobID:    &j.ID,
				TenantID: j.TenantID,
				Actor:    actor,
				Action:   AuditCancelled,
				Details:  map[string]any{"requested": true, "status": string(j.Status)},
			}); err != nil {
				return err
			}
		default:
			return newError(CodeInvalidTransition, fmt.Sprintf("job %s is already %s", j.ReferenceCode, j.Status))
		}
		job = j
		return nil
	})
	if err != nil {
		return nil, infraError("cancel job", err)
	}
	if cancelled {
		o.metrics.jobFinished(StatusCancelled, 0)
	}
	return statusView(job, o.now()), nil
}

// RetryJob creates a fresh pending job from a failed one. The failed job is
// left as it is.
func (o *Orchestrator) RetryJob(ctx context.Context, actor Actor, jobID uuid.UUID) (*JobHandle, error) {
	if !actor.Can(CapImportWrite) {
		return nil, newError(CodeForbidden, "actor may not retry imports")
	}
	var retry *ImportJob
	err := o.store.InTx(ctx, func(tx Tx) error {
		prev, err := loadJob(ctx, tx, actor, jobID)
		if err != nil {
			return err
		}
		if prev.Status != StatusFailed {
			return newError(CodeInvalidTransition, fmt.Sprintf("only failed jobs can be retried; %s is %s", prev.ReferenceCode, prev.Status))
		}
		now := o.now().UTC()
		prevID := prev.ID
		retry = &ImportJob{
			ID:            uuid.New(),
			TenantID:      prev.TenantID,
			ActorID:       actor.ID,
			Filename:      prev.Filename,
			FileSize:      prev.FileSize,
			Checksum:      prev.Checksum,
			Status:        StatusPending,
			Lifecycle:     LifecycleActive,
			Options:       prev.Options,
			Mapping:       prev.Mapping,
			Headers:       prev.Headers,
			RollbackToken: uuid.NewString(),
			RetryOf:       &prevID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		retry.ReferenceCode = referenceCode(retry.ID, now)
		if err := tx.CreateJob(ctx, retry); err != nil {
			return err
		}
		return o.audit.Record(ctx, tx, AuditParams{
			JobID:    &retry.ID,
			TenantID: retry.TenantID,
			Actor:    actor,
			Action:   AuditCreated,
			Details:  map[string]any{"retry_of": prevID.String(), "reference_code": retry.ReferenceCode},
		})
	})
	if err != nil {
		return nil, infraError("retry job", err)
	}
	return &JobHandle{
		JobID:         retry.ID,
		ReferenceCode: retry.ReferenceCode,
		Checksum:      retry.Checksum,
		Status:        retry.Status,
	}, nil
}

// DeleteJob soft-deletes a finished job. Its rows, errors, snapshots and
// audit history are kept.
func (o *Orchestrator) DeleteJob(ctx context.Context, actor Actor, jobID uuid.UUID) error {
	if !actor.Can(CapImportWrite) {
		return newError(CodeForbidden, "actor may not delete imports")
	}
	err := o.store.InTx(ctx, func(tx Tx) error {
		j, err := loadJob(ctx, tx, actor, jobID)
		if err != nil {
			return err
		}
		if !j.Status.Terminal() {
			return newError(CodeJobInFlight, fmt.Sprintf("job %s is %s; cancel it first", j.ReferenceCode, j.Status))
		}
		if j.Lifecycle == LifecycleSoftDeleted {
			return nil
		}
		j.Lifecycle = LifecycleSoftDeleted
		j.UpdatedAt = o.now().UTC()
		if err := tx.UpdateJob(ctx, j); err != nil {
			return err
		}
		return o.audit.Record(ctx, tx, AuditParams{
			JobID:    &j.ID,
			TenantID: j.TenantID,
			Actor:    actor,
			Action:   AuditSoftDeleted,
			Details:  map[string]any{"status": string(j.Status)},
		})
	})
	if err != nil {
		return infraError("delete job", err)
	}
	return nil
}

// ListValidationErrors returns every recorded error of a job, job-level
// errors first.
func (o *Orchestrator) ListValidationErrors(ctx context.Context, actor Actor, jobID uuid.UUID) ([]ImportValidationError, error) {
	var errs []ImportValidationError
	err := o.store.InTx(ctx, func(tx Tx) error {
		if _, err := loadJob(ctx, tx, actor, jobID); err != nil {
			return err
		}
		var err error
		errs, err = tx.ListValidationErrors(ctx, jobID)
		return err
	})
	if err != nil {
		return nil, infraError("list validation errors", err)
	}
	return errs, nil
}

// ResolveValidationError records what a reviewer did about an error.
func (o *Orchestrator) ResolveValidationError(ctx context.Context, actor Actor, errorID uuid.UUID, r Resolution) error {
	if !actor.Can(CapImportWrite) {
		return newError(CodeForbidden, "actor may not resolve validation errors")
	}
	switch r {
	case ResolutionResolved, ResolutionIgnored, ResolutionAutoCorrected:
	default:
		return newError(CodeInvalidOptions, fmt.Sprintf("unknown resolution %q", r)).field("resolution")
	}
	err := o.store.InTx(ctx, func(tx Tx) error {
		ve, err := tx.GetValidationError(ctx, errorID)
		if errors.Is(err, ErrNotFound) {
			return newError(CodeInvalidOptions, "validation error not found").field("error_id")
		}
		if err != nil {
			return err
		}
		job, err := loadJob(ctx, tx, actor, ve.JobID)
		if err != nil {
			return err
		}
		if err := tx.SetResolution(ctx, errorID, r); err != nil {
			return err
		}
		return o.audit.Record(ctx, tx, AuditParams{
			JobID:    &job.ID,
			TenantID: job.TenantID,
			Actor:    actor,
			Action:   AuditErrorResolved,
			Details: map[string]any{
				"error_id":   errorID.String(),
				"row_number": ve.RowNumber,
				"code":       ve.Code,
				"resolution": string(r),
			},
		})
	})
	if err != nil {
		return infraError("resolve validation error", err)
	}
	return nil
}

// QueryAudit returns audit entries matching f. Actors bound to a tenant
// only see their own tenant's entries.
func (o *Orchestrator) QueryAudit(ctx context.Context, actor Actor, f AuditFilter) ([]AuditEntry, error) {
	if !actor.Can(CapImportAudit) {
		return nil, newError(CodeForbidden, "actor may not read the audit log")
	}
	if actor.TenantID != "" {
		f.TenantID = actor.TenantID
	}
	f = f.withDefaults(o.now().UTC())

	var entries []AuditEntry
	err := o.store.InTx(ctx, func(tx Tx) error {
		var err error
		entries, err = tx.QueryAudit(ctx, f)
		return err
	})
	if err != nil {
		return nil, infraError("query audit log", err)
	}
	return entries, nil
}

// ExpireRollbacks marks snapshots whose rollback window has closed.
func (o *Orchestrator) ExpireRollbacks(ctx context.Context) (int64, error) {
	var n int64
	err := o.store.InTx(ctx, func(tx Tx) error {
		var err error
		n, err = tx.ExpireSnapshots(ctx, o.now().UTC())
		return err
	})
	return n, err
}
