package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the transactional persistence boundary of the pipeline.
// Implementations must serialize conflicting writes with their own isolation.
type Store interface {
	// InTx runs fn in one transaction, committing if fn returns nil.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of record operations available inside a transaction.
// Lookups return ErrNotFound; uniqueness violations return ErrConflict and
// other integrity violations return ErrConstraint.
type Tx interface {
	// Savepoint runs fn in a nested unit. An error from fn undoes only the
	// writes made inside it and is returned unchanged.
	Savepoint(ctx context.Context, fn func(tx Tx) error) error

	CreateJob(ctx context.Context, job *ImportJob) error
	GetJob(ctx context.Context, id uuid.UUID) (*ImportJob, error)
	UpdateJob(ctx context.Context, job *ImportJob) error
	FindJobByChecksum(ctx context.Context, tenantID, checksum string) (*ImportJob, error)

	// ReplaceRows deletes the job's rows, then inserts rows.
	ReplaceRows(ctx context.Context, jobID uuid.UUID, rows []ImportRow) error
	ListRows(ctx context.Context, jobID uuid.UUID) ([]ImportRow, error)
	UpdateRow(ctx context.Context, row *ImportRow) error

	InsertValidationErrors(ctx context.Context, errs []ImportValidationError) error
	ListValidationErrors(ctx context.Context, jobID uuid.UUID) ([]ImportValidationError, error)
	DeleteValidationErrors(ctx context.Context, jobID uuid.UUID) error
	GetValidationError(ctx context.Context, id uuid.UUID) (*ImportValidationError, error)
	SetResolution(ctx context.Context, id uuid.UUID, r Resolution) error

	GetEmployee(ctx context.Context, id uuid.UUID) (*Employee, error)
	GetEmployeeByKey(ctx context.Context, tenantID, employeeID string) (*Employee, error)
	ListEmployees(ctx context.Context, tenantID string) ([]Employee, error)
	InsertEmployee(ctx context.Context, e *Employee) error
	UpdateEmployee(ctx context.Context, e *Employee) error
	DeleteEmployee(ctx context.Context, id uuid.UUID) error

	InsertSnapshot(ctx context.Context, s *ImportRollbackEntity) error
	// ListSnapshots returns a token's snapshots newest first.
	ListSnapshots(ctx context.Context, token string) ([]ImportRollbackEntity, error)
	UpdateSnapshotStatus(ctx context.Context, id uuid.UUID, status SnapshotStatus) error
	// ExpireSnapshots marks applied snapshots of jobs whose window closed before t.
	ExpireSnapshots(ctx context.Context, before time.Time) (int64, error)

	InsertAudit(ctx context.Context, e *AuditEntry) error
	QueryAudit(ctx context.Context, f AuditFilter) ([]AuditEntry, error)

	InsertRule(ctx context.Context, r *FieldMappingRule) error
	UpdateRule(ctx context.Context, r *FieldMappingRule) error
	GetRule(ctx context.Context, id uuid.UUID) (*FieldMappingRule, error)
	ListRules(ctx context.Context, tenantID string, activeOnly bool) ([]FieldMappingRule, error)
}
