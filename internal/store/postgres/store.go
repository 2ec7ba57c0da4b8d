// Package postgres is the PostgreSQL core.Store built on pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// Store implements core.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// InTx implements core.Store. Transactions run at READ COMMITTED; job rows
// are locked with SELECT ... FOR UPDATE so concurrent writers serialize.
func (s *Store) InTx(ctx context.Context, fn func(core.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			if err := tx.Rollback(ctx); err != nil {
				slog.Error("rollback after panic", "error", err)
			}
			panic(p)
		}
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapErr(err))
	}
	return nil
}

type pgTx struct {
	tx         pgx.Tx
	savepoints int
}

// mapErr translates driver errors into core sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return core.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, core.ErrConflict)
		case strings.HasPrefix(pgErr.Code, "23"):
			return fmt.Errorf("%s (%s): %w", pgErr.Message, pgErr.ConstraintName, core.ErrConstraint)
		}
	}
	return err
}

func (t *pgTx) exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tag, err := t.tx.Exec(ctx, sql, args...)
	return tag, mapErr(err)
}

// Savepoint implements core.Tx with SAVEPOINT / ROLLBACK TO / RELEASE.
func (t *pgTx) Savepoint(ctx context.Context, fn func(core.Tx) error) error {
	t.savepoints++
	name := fmt.Sprintf("sp_%d", t.savepoints)

	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("create savepoint: %w", err)
	}
	if err := fn(t); err != nil {
		if _, rbErr := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("rollback to savepoint: %w (after %v)", rbErr, err)
		}
		return err
	}
	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

// Jobs

const jobColumns = `id, reference_code, tenant_id, actor_id, filename, file_size, checksum,
	status, lifecycle, options, mapping, headers, total_rows, processed_rows,
	successful_rows, error_rows, rollback_token, rollback_expires_at, cancel_requested,
	retry_of, failure_reason, created_at, updated_at, started_at, completed_at`

func scanJob(row pgx.Row) (*core.ImportJob, error) {
	var j core.ImportJob
	err := row.Scan(
		&j.ID, &j.ReferenceCode, &j.TenantID, &j.ActorID, &j.Filename, &j.FileSize, &j.Checksum,
		&j.Status, &j.Lifecycle, &j.Options, &j.Mapping, &j.Headers, &j.TotalRows, &j.ProcessedRows,
		&j.SuccessfulRows, &j.ErrorRows, &j.RollbackToken, &j.RollbackExpires, &j.CancelRequested,
		&j.RetryOf, &j.FailureReason, &j.CreatedAt, &j.UpdatedAt, &j.StartedAt, &j.CompletedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &j, nil
}

func (t *pgTx) CreateJob(ctx context.Context, j *core.ImportJob) error {
	_, err := t.exec(ctx, `INSERT INTO import_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		        $20, $21, $22, $23, $24, $25)`,
		j.ID, j.ReferenceCode, j.TenantID, j.ActorID, j.Filename, j.FileSize, j.Checksum,
		j.Status, j.Lifecycle, j.Options, nonNilMap(j.Mapping), nonNilSlice(j.Headers), j.TotalRows, j.ProcessedRows,
		j.SuccessfulRows, j.ErrorRows, j.RollbackToken, j.RollbackExpires, j.CancelRequested,
		j.RetryOf, j.FailureReason, j.CreatedAt, j.UpdatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (t *pgTx) GetJob(ctx context.Context, id uuid.UUID) (*core.ImportJob, error) {
	j, err := scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (t *pgTx) UpdateJob(ctx context.Context, j *core.ImportJob) error {
	tag, err := t.exec(ctx, `UPDATE import_jobs SET
		status = $2, lifecycle = $3, mapping = $4, headers = $5, total_rows = $6,
		processed_rows = $7, successful_rows = $8, error_rows = $9, rollback_expires_at = $10,
		cancel_requested = $11, failure_reason = $12, updated_at = $13, started_at = $14,
		completed_at = $15
		WHERE id = $1`,
		j.ID, j.Status, j.Lifecycle, nonNilMap(j.Mapping), nonNilSlice(j.Headers), j.TotalRows,
		j.ProcessedRows, j.SuccessfulRows, j.ErrorRows, j.RollbackExpires,
		j.CancelRequested, j.FailureReason, j.UpdatedAt, j.StartedAt,
		j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update job %s: %w", j.ID, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) FindJobByChecksum(ctx context.Context, tenantID, checksum string) (*core.ImportJob, error) {
	j, err := scanJob(t.tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM import_jobs
		WHERE tenant_id = $1 AND checksum = $2 AND lifecycle = 'active'
		ORDER BY created_at DESC LIMIT 1`, tenantID, checksum))
	if err != nil {
		return nil, fmt.Errorf("find job by checksum: %w", err)
	}
	return j, nil
}

// Rows

func (t *pgTx) ReplaceRows(ctx context.Context, jobID uuid.UUID, rows []core.ImportRow) error {
	if _, err := t.exec(ctx, `DELETE FROM import_rows WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete rows: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"import_rows"},
		[]string{"id", "job_id", "row_number", "raw", "mapped", "status", "errors", "is_processed", "entity_id"},
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			r := rows[i]
			return []any{r.ID, r.JobID, r.RowNumber, nonNilMap(r.Raw), r.Mapped, string(r.Status), nonNilSlice(r.Errors), r.IsProcessed, r.EntityID}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy rows: %w", mapErr(err))
	}
	return nil
}

func (t *pgTx) ListRows(ctx context.Context, jobID uuid.UUID) ([]core.ImportRow, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, job_id, row_number, raw, mapped, status, errors, is_processed, entity_id
		FROM import_rows WHERE job_id = $1 ORDER BY row_number`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list rows: %w", err)
	}
	defer rows.Close()

	var out []core.ImportRow
	for rows.Next() {
		var r core.ImportRow
		if err := rows.Scan(&r.ID, &r.JobID, &r.RowNumber, &r.Raw, &r.Mapped, &r.Status, &r.Errors, &r.IsProcessed, &r.EntityID); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateRow(ctx context.Context, r *core.ImportRow) error {
	tag, err := t.exec(ctx, `UPDATE import_rows SET status = $2, errors = $3, is_processed = $4, entity_id = $5
		WHERE id = $1`, r.ID, r.Status, nonNilSlice(r.Errors), r.IsProcessed, r.EntityID)
	if err != nil {
		return fmt.Errorf("update row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update row %s: %w", r.ID, core.ErrNotFound)
	}
	return nil
}

// Validation errors

const validationErrorColumns = `id, job_id, row_id, row_number, category, severity, code, message,
	field, raw_value, suggestion, related_row, resolution, created_at`

func (t *pgTx) InsertValidationErrors(ctx context.Context, errs []core.ImportValidationError) error {
	if len(errs) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"import_validation_errors"},
		[]string{"id", "job_id", "row_id", "row_number", "category", "severity", "code", "message",
			"field", "raw_value", "suggestion", "related_row", "resolution", "created_at"},
		pgx.CopyFromSlice(len(errs), func(i int) ([]any, error) {
			e := errs[i]
			return []any{e.ID, e.JobID, e.RowID, e.RowNumber, string(e.Category), string(e.Severity), e.Code, e.Message,
				e.Field, e.RawValue, e.Suggestion, e.RelatedRow, string(e.Resolution), e.CreatedAt}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy validation errors: %w", mapErr(err))
	}
	return nil
}

func scanValidationError(row pgx.Row) (core.ImportValidationError, error) {
	var e core.ImportValidationError
	err := row.Scan(&e.ID, &e.JobID, &e.RowID, &e.RowNumber, &e.Category, &e.Severity, &e.Code, &e.Message,
		&e.Field, &e.RawValue, &e.Suggestion, &e.RelatedRow, &e.Resolution, &e.CreatedAt)
	return e, mapErr(err)
}

func (t *pgTx) ListValidationErrors(ctx context.Context, jobID uuid.UUID) ([]core.ImportValidationError, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+validationErrorColumns+` FROM import_validation_errors
		WHERE job_id = $1 ORDER BY row_number, created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list validation errors: %w", err)
	}
	defer rows.Close()

	var out []core.ImportValidationError
	for rows.Next() {
		e, err := scanValidationError(rows)
		if err != nil {
			return nil, fmt.Errorf("scan validation error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *pgTx) DeleteValidationErrors(ctx context.Context, jobID uuid.UUID) error {
	if _, err := t.exec(ctx, `DELETE FROM import_validation_errors WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete validation errors: %w", err)
	}
	return nil
}

func (t *pgTx) GetValidationError(ctx context.Context, id uuid.UUID) (*core.ImportValidationError, error) {
	e, err := scanValidationError(t.tx.QueryRow(ctx,
		`SELECT `+validationErrorColumns+` FROM import_validation_errors WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get validation error %s: %w", id, err)
	}
	return &e, nil
}

func (t *pgTx) SetResolution(ctx context.Context, id uuid.UUID, r core.Resolution) error {
	tag, err := t.exec(ctx, `UPDATE import_validation_errors SET resolution = $2 WHERE id = $1`, id, string(r))
	if err != nil {
		return fmt.Errorf("set resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("validation error %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Employees

const employeeSelect = `SELECT id, tenant_id, employee_id, email, first_name, last_name,
	to_char(hire_date, 'YYYY-MM-DD'), phone, department, job_title, location, manager_id,
	salary::text, weekly_hours, created_at, updated_at FROM employees`

func scanEmployee(row pgx.Row) (*core.Employee, error) {
	var e core.Employee
	err := row.Scan(&e.ID, &e.TenantID, &e.EmployeeID, &e.Email, &e.FirstName, &e.LastName,
		&e.HireDate, &e.Phone, &e.Department, &e.JobTitle, &e.Location, &e.ManagerID,
		&e.Salary, &e.WeeklyHours, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &e, nil
}

func (t *pgTx) GetEmployee(ctx context.Context, id uuid.UUID) (*core.Employee, error) {
	e, err := scanEmployee(t.tx.QueryRow(ctx, employeeSelect+` WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get employee %s: %w", id, err)
	}
	return e, nil
}

func (t *pgTx) GetEmployeeByKey(ctx context.Context, tenantID, employeeID string) (*core.Employee, error) {
	e, err := scanEmployee(t.tx.QueryRow(ctx, employeeSelect+` WHERE tenant_id = $1 AND employee_id = $2 FOR UPDATE`,
		tenantID, employeeID))
	if err != nil {
		return nil, fmt.Errorf("get employee %s/%s: %w", tenantID, employeeID, err)
	}
	return e, nil
}

func (t *pgTx) ListEmployees(ctx context.Context, tenantID string) ([]core.Employee, error) {
	rows, err := t.tx.Query(ctx, employeeSelect+` WHERE tenant_id = $1 ORDER BY employee_id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var out []core.Employee
	for rows.Next() {
		e, err := scanEmployee(rows)
		if err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertEmployee(ctx context.Context, e *core.Employee) error {
	_, err := t.exec(ctx, `INSERT INTO employees (id, tenant_id, employee_id, email, first_name, last_name,
		hire_date, phone, department, job_title, location, manager_id, salary, weekly_hours, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::text::date, $8, $9, $10, $11, $12, $13::text::numeric, $14, $15, $16)`,
		e.ID, e.TenantID, e.EmployeeID, e.Email, e.FirstName, e.LastName,
		e.HireDate, e.Phone, e.Department, e.JobTitle, e.Location, e.ManagerID, e.Salary, e.WeeklyHours,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert employee %s: %w", e.EmployeeID, err)
	}
	return nil
}

func (t *pgTx) UpdateEmployee(ctx context.Context, e *core.Employee) error {
	tag, err := t.exec(ctx, `UPDATE employees SET employee_id = $2, email = $3, first_name = $4, last_name = $5,
		hire_date = $6::text::date, phone = $7, department = $8, job_title = $9, location = $10, manager_id = $11,
		salary = $12::text::numeric, weekly_hours = $13, created_at = $14, updated_at = $15
		WHERE id = $1`,
		e.ID, e.EmployeeID, e.Email, e.FirstName, e.LastName,
		e.HireDate, e.Phone, e.Department, e.JobTitle, e.Location, e.ManagerID,
		e.Salary, e.WeeklyHours, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update employee %s: %w", e.EmployeeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update employee %s: %w", e.ID, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) DeleteEmployee(ctx context.Context, id uuid.UUID) error {
	tag, err := t.exec(ctx, `DELETE FROM employees WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete employee %s: %w", id, core.ErrNotFound)
	}
	return nil
}

// Snapshots

func (t *pgTx) InsertSnapshot(ctx context.Context, s *core.ImportRollbackEntity) error {
	_, err := t.exec(ctx, `INSERT INTO import_rollback_entities (id, job_id, rollback_token, entity_type,
		entity_id, action, original_state, imported_state, patch, status, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.JobID, s.RollbackToken, s.EntityType, s.EntityID, string(s.Action),
		s.OriginalState, s.ImportedState, s.Patch, string(s.Status), s.Sequence, s.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (t *pgTx) ListSnapshots(ctx context.Context, token string) ([]core.ImportRollbackEntity, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, job_id, rollback_token, entity_type, entity_id, action,
		original_state, imported_state, patch, status, sequence, created_at
		FROM import_rollback_entities WHERE rollback_token = $1
		ORDER BY sequence DESC, created_at DESC`, token)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []core.ImportRollbackEntity
	for rows.Next() {
		var s core.ImportRollbackEntity
		if err := rows.Scan(&s.ID, &s.JobID, &s.RollbackToken, &s.EntityType, &s.EntityID, &s.Action,
			&s.OriginalState, &s.ImportedState, &s.Patch, &s.Status, &s.Sequence, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *pgTx) UpdateSnapshotStatus(ctx context.Context, id uuid.UUID, status core.SnapshotStatus) error {
	tag, err := t.exec(ctx, `UPDATE import_rollback_entities SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update snapshot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("snapshot %s: %w", id, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) ExpireSnapshots(ctx context.Context, before time.Time) (int64, error) {
	tag, err := t.exec(ctx, `UPDATE import_rollback_entities s SET status = 'expired'
		FROM import_jobs j
		WHERE s.job_id = j.id
		  AND s.status IN ('applied', 'partial')
		  AND j.rollback_expires_at IS NOT NULL
		  AND j.rollback_expires_at <= $1`, before)
	if err != nil {
		return 0, fmt.Errorf("expire snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Audit

func (t *pgTx) InsertAudit(ctx context.Context, e *core.AuditEntry) error {
	_, err := t.exec(ctx, `INSERT INTO import_audit_log (id, job_id, tenant_id, actor_id, actor_role, action,
		severity, details, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.JobID, e.TenantID, e.ActorID, e.ActorRole, string(e.Action),
		string(e.Severity), nonNilDetails(e.Details), e.IPAddress, e.UserAgent, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (t *pgTx) QueryAudit(ctx context.Context, f core.AuditFilter) ([]core.AuditEntry, error) {
	var (
		conds = []string{"created_at >= $1", "created_at < $2"}
		args  = []any{f.StartTime, f.EndTime}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if f.JobID != nil {
		add("job_id = $%d", *f.JobID)
	}
	if f.ActorID != "" {
		add("actor_id = $%d", f.ActorID)
	}
	if f.Action != "" {
		add("action = $%d", string(f.Action))
	}
	args = append(args, f.Limit, f.Offset)

	sql := fmt.Sprintf(`SELECT id, job_id, tenant_id, actor_id, actor_role, action, severity, details,
		ip_address, user_agent, created_at FROM import_audit_log
		WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var e core.AuditEntry
		if err := rows.Scan(&e.ID, &e.JobID, &e.TenantID, &e.ActorID, &e.ActorRole, &e.Action, &e.Severity,
			&e.Details, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Rules

const ruleColumns = `id, tenant_id, source_column, target_field, data_type, required, validation_rules,
	transform_rules, detection_patterns, default_value, is_active, created_at, updated_at`

func scanRule(row pgx.Row) (*core.FieldMappingRule, error) {
	var r core.FieldMappingRule
	err := row.Scan(&r.ID, &r.TenantID, &r.SourceColumn, &r.TargetField, &r.DataType, &r.Required,
		&r.ValidationRules, &r.TransformRules, &r.DetectionPatterns, &r.DefaultValue, &r.IsActive,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func (t *pgTx) InsertRule(ctx context.Context, r *core.FieldMappingRule) error {
	_, err := t.exec(ctx, `INSERT INTO field_mapping_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.TenantID, r.SourceColumn, r.TargetField, string(r.DataType), r.Required,
		nonNilSlice(r.ValidationRules), nonNilSlice(r.TransformRules), nonNilSlice(r.DetectionPatterns),
		r.DefaultValue, r.IsActive, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert mapping rule: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateRule(ctx context.Context, r *core.FieldMappingRule) error {
	tag, err := t.exec(ctx, `UPDATE field_mapping_rules SET source_column = $2, data_type = $3, required = $4,
		validation_rules = $5, transform_rules = $6, detection_patterns = $7, default_value = $8,
		is_active = $9, updated_at = $10 WHERE id = $1`,
		r.ID, r.SourceColumn, string(r.DataType), r.Required,
		nonNilSlice(r.ValidationRules), nonNilSlice(r.TransformRules), nonNilSlice(r.DetectionPatterns),
		r.DefaultValue, r.IsActive, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update mapping rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mapping rule %s: %w", r.ID, core.ErrNotFound)
	}
	return nil
}

func (t *pgTx) GetRule(ctx context.Context, id uuid.UUID) (*core.FieldMappingRule, error) {
	r, err := scanRule(t.tx.QueryRow(ctx, `SELECT `+ruleColumns+` FROM field_mapping_rules WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get mapping rule %s: %w", id, err)
	}
	return r, nil
}

func (t *pgTx) ListRules(ctx context.Context, tenantID string, activeOnly bool) ([]core.FieldMappingRule, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+ruleColumns+` FROM field_mapping_rules
		WHERE tenant_id = $1 AND (is_active OR NOT $2) ORDER BY created_at, id`, tenantID, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list mapping rules: %w", err)
	}
	defer rows.Close()

	var out []core.FieldMappingRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping rule: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilDetails(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
