package core

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an import job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusValidating JobStatus = "validating"
	StatusMapping    JobStatus = "mapping"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
	StatusRolledBack JobStatus = "rolled_back"
)

// Terminal reports whether no further import work can happen for the job.
// Only a rollback may move a completed, failed or cancelled job.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusRolledBack:
		return true
	}
	return false
}

// InFlight reports whether a runner may currently be mutating the job.
func (s JobStatus) InFlight() bool {
	return s == StatusValidating || s == StatusProcessing
}

// Lifecycle tags whether a job is visible in listings.
// Jobs are never physically deleted.
type Lifecycle string

const (
	LifecycleActive      Lifecycle = "active"
	LifecycleSoftDeleted Lifecycle = "soft_deleted"
)

// JobOptions are caller-supplied settings fixed at job creation.
type JobOptions struct {
	Delimiter            string            `json:"delimiter,omitempty" validate:"omitempty,delimiter"`
	Mapping              map[string]string `json:"mapping,omitempty"`
	AllowPartialImport   bool              `json:"allow_partial_import"`
	UpdateExisting       bool              `json:"update_existing"`
	AllowDuplicateUpload bool              `json:"allow_duplicate_upload"`
}

// DefaultJobOptions returns options with partial import enabled.
func DefaultJobOptions() JobOptions {
	return JobOptions{AllowPartialImport: true}
}

// delimiterRune resolves the option value to a rune; zero means detect.
func (o JobOptions) delimiterRune() rune {
	switch o.Delimiter {
	case "":
		return 0
	case "tab", "\t":
		return '\t'
	default:
		return []rune(o.Delimiter)[0]
	}
}

// ImportJob is one invocation of the pipeline against one uploaded file.
type ImportJob struct {
	ID              uuid.UUID         `json:"id"`
	ReferenceCode   string            `json:"reference_code"`
	TenantID        string            `json:"tenant_id"`
	ActorID         string            `json:"actor_id"`
	Filename        string            `json:"filename"`
	FileSize        int64             `json:"file_size"`
	Checksum        string            `json:"checksum"`
	Status          JobStatus         `json:"status"`
	Lifecycle       Lifecycle         `json:"lifecycle"`
	Options         JobOptions        `json:"options"`
	Mapping         map[string]string `json:"mapping"`
	Headers         []string          `json:"headers"`
	TotalRows       int               `json:"total_rows"`
	ProcessedRows   int               `json:"processed_rows"`
	SuccessfulRows  int               `json:"successful_rows"`
	ErrorRows       int               `json:"error_rows"`
	RollbackToken   string            `json:"-"`
	RollbackExpires *time.Time        `json:"rollback_expires_at,omitempty"`
	CancelRequested bool              `json:"cancel_requested"`
	RetryOf         *uuid.UUID        `json:"retry_of,omitempty"`
	FailureReason   string            `json:"failure_reason,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// CounterInvariantHolds reports processed <= total and, once terminal,
// successful + error == processed.
func (j *ImportJob) CounterInvariantHolds() bool {
	if j.ProcessedRows > j.TotalRows {
		return false
	}
	if j.Status == StatusCompleted || j.Status == StatusFailed {
		return j.SuccessfulRows+j.ErrorRows == j.ProcessedRows
	}
	return j.SuccessfulRows+j.ErrorRows <= j.ProcessedRows
}

// RowStatus is the validation verdict of one source row.
type RowStatus string

const (
	RowPending RowStatus = "pending"
	RowValid   RowStatus = "valid"
	RowInvalid RowStatus = "invalid"
	RowWarning RowStatus = "warning"
)

// Importable reports whether the processor may attempt a mutation for the row.
func (s RowStatus) Importable() bool {
	return s == RowValid || s == RowWarning
}

// ImportRow is one data record of a job's source file.
type ImportRow struct {
	ID          uuid.UUID         `json:"id"`
	JobID       uuid.UUID         `json:"job_id"`
	RowNumber   int               `json:"row_number"`
	Raw         map[string]string `json:"raw"`
	Mapped      MappedFields      `json:"mapped"`
	Status      RowStatus         `json:"status"`
	Errors      []RowIssue        `json:"errors"`
	IsProcessed bool              `json:"is_processed"`
	EntityID    *uuid.UUID        `json:"entity_id,omitempty"`
}

// ErrorCategory classifies a validation or processing error.
type ErrorCategory string

const (
	CategoryStructural          ErrorCategory = "structural"
	CategoryTypeMismatch        ErrorCategory = "type_mismatch"
	CategoryConstraintViolation ErrorCategory = "constraint_violation"
	CategoryBusinessRule        ErrorCategory = "business_rule"
	CategoryDuplicate           ErrorCategory = "duplicate"
	CategoryReference           ErrorCategory = "reference"
)

// Severity of an issue. Only error and critical make a row invalid.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Blocking reports whether the severity prevents the row from being imported.
func (s Severity) Blocking() bool {
	return s == SeverityCritical || s == SeverityError
}

// Resolution tracks what a human did about an error.
type Resolution string

const (
	ResolutionUnresolved    Resolution = "unresolved"
	ResolutionResolved      Resolution = "resolved"
	ResolutionIgnored       Resolution = "ignored"
	ResolutionAutoCorrected Resolution = "auto_corrected"
)

// RowIssue is a field-level finding produced by the validator or processor.
// It is persisted both inline on the row and as an ImportValidationError.
type RowIssue struct {
	Category   ErrorCategory `json:"category"`
	Severity   Severity      `json:"severity"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Field      string        `json:"field,omitempty"`
	RawValue   string        `json:"raw_value,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	RelatedRow int           `json:"related_row,omitempty"`
}

// ImportValidationError is the durable record of one issue.
// RowID is nil for job-level errors such as a missing header row.
type ImportValidationError struct {
	ID         uuid.UUID     `json:"id"`
	JobID      uuid.UUID     `json:"job_id"`
	RowID      *uuid.UUID    `json:"row_id,omitempty"`
	RowNumber  int           `json:"row_number,omitempty"`
	Category   ErrorCategory `json:"category"`
	Severity   Severity      `json:"severity"`
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	Field      string        `json:"field,omitempty"`
	RawValue   string        `json:"raw_value,omitempty"`
	Suggestion string        `json:"suggestion,omitempty"`
	RelatedRow int           `json:"related_row,omitempty"`
	Resolution Resolution    `json:"resolution"`
	CreatedAt  time.Time     `json:"created_at"`
}

func newValidationError(jobID uuid.UUID, row *ImportRow, issue RowIssue, at time.Time) ImportValidationError {
	ve := ImportValidationError{
		ID:         uuid.New(),
		JobID:      jobID,
		Category:   issue.Category,
		Severity:   issue.Severity,
		Code:       issue.Code,
		Message:    issue.Message,
		Field:      issue.Field,
		RawValue:   issue.RawValue,
		Suggestion: issue.Suggestion,
		RelatedRow: issue.RelatedRow,
		Resolution: ResolutionUnresolved,
		CreatedAt:  at,
	}
	if row != nil {
		id := row.ID
		ve.RowID = &id
		ve.RowNumber = row.RowNumber
	}
	return ve
}

// RollbackAction is the mutation a snapshot reverses.
type RollbackAction string

const (
	ActionCreated RollbackAction = "created"
	ActionUpdated RollbackAction = "updated"
	ActionDeleted RollbackAction = "deleted"
)

// SnapshotStatus is the rollback processing state of one snapshot.
type SnapshotStatus string

const (
	SnapshotApplied    SnapshotStatus = "applied"
	SnapshotRolledBack SnapshotStatus = "rolled_back"
	SnapshotPartial    SnapshotStatus = "partial"
	SnapshotExpired    SnapshotStatus = "expired"
)

// ImportRollbackEntity captures one entity mutation so it can be reversed.
// RollbackToken is copied from the job when the mutation happens.
type ImportRollbackEntity struct {
	ID            uuid.UUID       `json:"id"`
	JobID         uuid.UUID       `json:"job_id"`
	RollbackToken string          `json:"-"`
	EntityType    string          `json:"entity_type"`
	EntityID      uuid.UUID       `json:"entity_id"`
	Action        RollbackAction  `json:"action"`
	OriginalState *Employee       `json:"original_state,omitempty"`
	ImportedState *Employee       `json:"imported_state,omitempty"`
	Patch         json.RawMessage `json:"patch,omitempty"`
	Status        SnapshotStatus  `json:"status"`
	Sequence      int64           `json:"sequence"`
	CreatedAt     time.Time       `json:"created_at"`
}

// FieldMappingRule configures how a tenant's source column maps to a target field.
// At most one active rule may exist per (TenantID, TargetField).
type FieldMappingRule struct {
	ID                uuid.UUID `json:"id"`
	TenantID          string    `json:"tenant_id" mapstructure:"tenant_id" validate:"required"`
	SourceColumn      string    `json:"source_column" mapstructure:"source_column" validate:"required"`
	TargetField       string    `json:"target_field" mapstructure:"target_field" validate:"required,employee_field"`
	DataType          FieldType `json:"data_type,omitempty" mapstructure:"data_type" validate:"omitempty,oneof=string email phone date decimal integer"`
	Required          bool      `json:"required" mapstructure:"required"`
	ValidationRules   []string  `json:"validation_rules,omitempty" mapstructure:"validation_rules"`
	TransformRules    []string  `json:"transform_rules,omitempty" mapstructure:"transform_rules" validate:"dive,oneof=trim lower upper title"`
	DetectionPatterns []string  `json:"detection_patterns,omitempty" mapstructure:"detection_patterns"`
	DefaultValue      string    `json:"default_value,omitempty" mapstructure:"default_value"`
	IsActive          bool      `json:"is_active" mapstructure:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Employee is the target entity the pipeline creates and updates.
// EmployeeID is the natural key, unique per tenant.
type Employee struct {
	ID          uuid.UUID `json:"id"`
	TenantID    string    `json:"tenant_id"`
	EmployeeID  string    `json:"employee_id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name"`
	LastName    string    `json:"last_name"`
	HireDate    *string   `json:"hire_date,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Department  *string   `json:"department,omitempty"`
	JobTitle    *string   `json:"job_title,omitempty"`
	Location    *string   `json:"location,omitempty"`
	ManagerID   *string   `json:"manager_id,omitempty"`
	Salary      *string   `json:"salary,omitempty"`
	WeeklyHours *int64    `json:"weekly_hours,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Clone returns a deep copy so snapshots never alias live records.
func (e *Employee) Clone() *Employee {
	if e == nil {
		return nil
	}
	c := *e
	c.HireDate = cloneStr(e.HireDate)
	c.Phone = cloneStr(e.Phone)
	c.Department = cloneStr(e.Department)
	c.JobTitle = cloneStr(e.JobTitle)
	c.Location = cloneStr(e.Location)
	c.ManagerID = cloneStr(e.ManagerID)
	c.Salary = cloneStr(e.Salary)
	if e.WeeklyHours != nil {
		h := *e.WeeklyHours
		c.WeeklyHours = &h
	}
	return &c
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Actor is an already-authenticated caller.
type Actor struct {
	ID           string       `json:"id"`
	Role         string       `json:"role"`
	TenantID     string       `json:"tenant_id"`
	Capabilities []Capability `json:"capabilities"`
}

// Capability is a role-derived permission checked by the entry points.
type Capability string

const (
	CapImportWrite    Capability = "import:write"
	CapImportRollback Capability = "import:rollback"
	CapImportAudit    Capability = "import:audit"
	CapRulesManage    Capability = "rules:manage"
)

var roleCapabilities = map[string][]Capability{
	"admin":      {CapImportWrite, CapImportRollback, CapImportAudit, CapRulesManage},
	"hr_manager": {CapImportWrite, CapImportRollback, CapImportAudit},
	"hr":         {CapImportWrite},
	"auditor":    {CapImportAudit},
}

// RoleCapabilities returns the default capabilities of a role. Unknown
// roles get none.
func RoleCapabilities(role string) []Capability {
	caps := roleCapabilities[strings.ToLower(role)]
	return append([]Capability(nil), caps...)
}

// Can reports whether the actor holds the capability.
func (a Actor) Can(c Capability) bool {
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// JobHandle is returned immediately by CreateJob.
type JobHandle struct {
	JobID         uuid.UUID   `json:"job_id"`
	ReferenceCode string      `json:"reference_code"`
	Checksum      string      `json:"checksum"`
	Status        JobStatus   `json:"status"`
	Suggestion    *Suggestion `json:"suggestion,omitempty"`
}

// ValidationSummary reports the outcome of ValidateJob.
type ValidationSummary struct {
	JobID         uuid.UUID               `json:"job_id"`
	Status        JobStatus               `json:"status"`
	Headers       []string                `json:"headers"`
	Mapping       map[string]string       `json:"mapping"`
	TotalRows     int                     `json:"total_rows"`
	ValidRows     int                     `json:"valid_rows"`
	WarningRows   int                     `json:"warning_rows"`
	InvalidRows   int                     `json:"invalid_rows"`
	DuplicateRows int                     `json:"duplicate_rows"`
	Errors        []ImportValidationError `json:"errors"`
}

// ProcessingSummary reports the outcome of ProcessJob.
type ProcessingSummary struct {
	JobID           uuid.UUID     `json:"job_id"`
	Status          JobStatus     `json:"status"`
	TotalRows       int           `json:"total_rows"`
	ProcessedRows   int           `json:"processed_rows"`
	SuccessfulRows  int           `json:"successful_rows"`
	ErrorRows       int           `json:"error_rows"`
	Created         int           `json:"created"`
	Updated         int           `json:"updated"`
	RollbackToken   string        `json:"rollback_token,omitempty"`
	RollbackExpires *time.Time    `json:"rollback_expires_at,omitempty"`
	Duration        time.Duration `json:"duration"`
	FailureReason   string        `json:"failure_reason,omitempty"`
}

// JobStatusView is the read-only status projection returned by GetStatus.
type JobStatusView struct {
	JobID               uuid.UUID  `json:"job_id"`
	ReferenceCode       string     `json:"reference_code"`
	TenantID            string     `json:"tenant_id"`
	Filename            string     `json:"filename"`
	Checksum            string     `json:"checksum"`
	Status              JobStatus  `json:"status"`
	Lifecycle           Lifecycle  `json:"lifecycle"`
	TotalRows           int        `json:"total_rows"`
	ProcessedRows       int        `json:"processed_rows"`
	SuccessfulRows      int        `json:"successful_rows"`
	ErrorRows           int        `json:"error_rows"`
	Percent             float64    `json:"percent"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	RollbackExpires     *time.Time `json:"rollback_expires_at,omitempty"`
	CancelRequested     bool       `json:"cancel_requested"`
	FailureReason       string     `json:"failure_reason,omitempty"`
}

// RollbackSummary reports the outcome of RequestRollback.
type RollbackSummary struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    JobStatus `json:"status"`
	Reversed  int       `json:"reversed"`
	Skipped   int       `json:"skipped"`
	Remaining int       `json:"remaining"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}
