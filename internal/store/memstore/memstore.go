// Package memstore is an in-memory core.Store. Transactions are serialized
// and work on a copy of the data that replaces the committed state only
// when the transaction succeeds.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zakakatz/embrTimeOff-sub000/internal/core"
)

// FaultFunc may fail an operation. op is the method name and key the
// natural key or ID it touches. A nil return lets the operation proceed.
type FaultFunc func(op, key string) error

// Store implements core.Store in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	fault FaultFunc
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// InjectFault installs f for subsequent transactions. Pass nil to clear.
func (s *Store) InjectFault(f FaultFunc) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// InTx implements core.Store.
func (s *Store) InTx(ctx context.Context, fn func(tx core.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&tx{st: work, fault: s.fault}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// Employees returns a tenant's employees sorted by employee ID. It reads
// committed state and is meant for tests and tooling.
func (s *Store) Employees(tenantID string) []core.Employee {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.employeesOf(tenantID)
}

type state struct {
	jobs      map[uuid.UUID]*core.ImportJob
	rows      map[uuid.UUID][]core.ImportRow
	verrs     []core.ImportValidationError
	employees map[uuid.UUID]*core.Employee
	snaps     []core.ImportRollbackEntity
	audit     []core.AuditEntry
	rules     map[uuid.UUID]*core.FieldMappingRule
}

func newState() *state {
	return &state{
		jobs:      make(map[uuid.UUID]*core.ImportJob),
		rows:      make(map[uuid.UUID][]core.ImportRow),
		employees: make(map[uuid.UUID]*core.Employee),
		rules:     make(map[uuid.UUID]*core.FieldMappingRule),
	}
}

// clone copies the containers. Stored values are never mutated in place;
// every write stores a fresh copy, so sharing them is safe.
func (st *state) clone() *state {
	c := &state{
		jobs:      make(map[uuid.UUID]*core.ImportJob, len(st.jobs)),
		rows:      make(map[uuid.UUID][]core.ImportRow, len(st.rows)),
		verrs:     append([]core.ImportValidationError(nil), st.verrs...),
		employees: make(map[uuid.UUID]*core.Employee, len(st.employees)),
		snaps:     append([]core.ImportRollbackEntity(nil), st.snaps...),
		audit:     append([]core.AuditEntry(nil), st.audit...),
		rules:     make(map[uuid.UUID]*core.FieldMappingRule, len(st.rules)),
	}
	for k, v := range st.jobs {
		c.jobs[k] = v
	}
	for k, v := range st.rows {
		c.rows[k] = append([]core.ImportRow(nil), v...)
	}
	for k, v := range st.employees {
		c.employees[k] = v
	}
	for k, v := range st.rules {
		c.rules[k] = v
	}
	return c
}

func (st *state) employeesOf(tenantID string) []core.Employee {
	var out []core.Employee
	for _, e := range st.employees {
		if e.TenantID == tenantID {
			out = append(out, *e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	return out
}

type tx struct {
	st    *state
	fault FaultFunc
}

func (t *tx) check(op, key string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op, key)
}

// Savepoint implements core.Tx.
func (t *tx) Savepoint(ctx context.Context, fn func(core.Tx) error) error {
	backup := t.st.clone()
	if err := fn(t); err != nil {
		*t.st = *backup
		return err
	}
	return nil
}

// Jobs

func cloneJob(j *core.ImportJob) *core.ImportJob {
	c := *j
	c.Mapping = cloneMap(j.Mapping)
	c.Options.Mapping = cloneMap(j.Options.Mapping)
	c.Headers = append([]string(nil), j.Headers...)
	c.RollbackExpires = cloneTime(j.RollbackExpires)
	c.StartedAt = cloneTime(j.StartedAt)
	c.CompletedAt = cloneTime(j.CompletedAt)
	if j.RetryOf != nil {
		id := *j.RetryOf
		c.RetryOf = &id
	}
	return &c
}

func (t *tx) CreateJob(ctx context.Context, job *core.ImportJob) error {
	if err := t.check("CreateJob", job.ID.String()); err != nil {
		return err
	}
	if _, ok := t.st.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, core.ErrConflict)
	}
	t.st.jobs[job.ID] = cloneJob(job)
	return nil
}

func (t *tx) GetJob(ctx context.Context, id uuid.UUID) (*core.ImportJob, error) {
	j, ok := t.st.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, core.ErrNotFound)
	}
	return cloneJob(j), nil
}

func (t *tx) UpdateJob(ctx context.Context, job *core.ImportJob) error {
	if err := t.check("UpdateJob", job.ID.String()); err != nil {
		return err
	}
	if _, ok := t.st.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, core.ErrNotFound)
	}
	t.st.jobs[job.ID] = cloneJob(job)
	return nil
}

func (t *tx) FindJobByChecksum(ctx context.Context, tenantID, checksum string) (*core.ImportJob, error) {
	var found *core.ImportJob
	for _, j := range t.st.jobs {
		if j.TenantID != tenantID || j.Checksum != checksum || j.Lifecycle != core.LifecycleActive {
			continue
		}
		if found == nil || j.CreatedAt.After(found.CreatedAt) {
			found = j
		}
	}
	if found == nil {
		return nil, core.ErrNotFound
	}
	return cloneJob(found), nil
}

// Rows

func cloneRow(r core.ImportRow) core.ImportRow {
	r.Raw = cloneMap(r.Raw)
	if r.Mapped != nil {
		m := make(core.MappedFields, len(r.Mapped))
		for k, v := range r.Mapped {
			m[k] = v
		}
		r.Mapped = m
	}
	r.Errors = append([]core.RowIssue(nil), r.Errors...)
	if r.EntityID != nil {
		id := *r.EntityID
		r.EntityID = &id
	}
	return r
}

func (t *tx) ReplaceRows(ctx context.Context, jobID uuid.UUID, rows []core.ImportRow) error {
	if err := t.check("ReplaceRows", jobID.String()); err != nil {
		return err
	}
	out := make([]core.ImportRow, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RowNumber < out[j].RowNumber })
	for i := 1; i < len(out); i++ {
		if out[i].RowNumber == out[i-1].RowNumber {
			return fmt.Errorf("row %d of job %s: %w", out[i].RowNumber, jobID, core.ErrConflict)
		}
	}
	t.st.rows[jobID] = out
	return nil
}

func (t *tx) ListRows(ctx context.Context, jobID uuid.UUID) ([]core.ImportRow, error) {
	rows := t.st.rows[jobID]
	out := make([]core.ImportRow, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out, nil
}

func (t *tx) UpdateRow(ctx context.Context, row *core.ImportRow) error {
	if err := t.check("UpdateRow", row.ID.String()); err != nil {
		return err
	}
	rows := t.st.rows[row.JobID]
	for i := range rows {
		if rows[i].ID == row.ID {
			rows[i] = cloneRow(*row)
			return nil
		}
	}
	return fmt.Errorf("row %s: %w", row.ID, core.ErrNotFound)
}

// Validation errors

func (t *tx) InsertValidationErrors(ctx context.Context, errs []core.ImportValidationError) error {
	if err := t.check("InsertValidationErrors", ""); err != nil {
		return err
	}
	t.st.verrs = append(t.st.verrs, errs...)
	return nil
}

func (t *tx) ListValidationErrors(ctx context.Context, jobID uuid.UUID) ([]core.ImportValidationError, error) {
	var out []core.ImportValidationError
	for _, e := range t.st.verrs {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].RowNumber < out[j].RowNumber
	})
	return out, nil
}

func (t *tx) DeleteValidationErrors(ctx context.Context, jobID uuid.UUID) error {
	kept := t.st.verrs[:0:0]
	for _, e := range t.st.verrs {
		if e.JobID != jobID {
			kept = append(kept, e)
		}
	}
	t.st.verrs = kept
	return nil
}

func (t *tx) GetValidationError(ctx context.Context, id uuid.UUID) (*core.ImportValidationError, error) {
	for _, e := range t.st.verrs {
		if e.ID == id {
			c := e
			return &c, nil
		}
	}
	return nil, fmt.Errorf("validation error %s: %w", id, core.ErrNotFound)
}

func (t *tx) SetResolution(ctx context.Context, id uuid.UUID, r core.Resolution) error {
	for i := range t.st.verrs {
		if t.st.verrs[i].ID == id {
			t.st.verrs[i].Resolution = r
			return nil
		}
	}
	return fmt.Errorf("validation error %s: %w", id, core.ErrNotFound)
}

// Employees

func (t *tx) GetEmployee(ctx context.Context, id uuid.UUID) (*core.Employee, error) {
	e, ok := t.st.employees[id]
	if !ok {
		return nil, fmt.Errorf("employee %s: %w", id, core.ErrNotFound)
	}
	return e.Clone(), nil
}

func (t *tx) GetEmployeeByKey(ctx context.Context, tenantID, employeeID string) (*core.Employee, error) {
	for _, e := range t.st.employees {
		if e.TenantID == tenantID && e.EmployeeID == employeeID {
			return e.Clone(), nil
		}
	}
	return nil, fmt.Errorf("employee %s/%s: %w", tenantID, employeeID, core.ErrNotFound)
}

func (t *tx) ListEmployees(ctx context.Context, tenantID string) ([]core.Employee, error) {
	return t.st.employeesOf(tenantID), nil
}

func (t *tx) keyTaken(e *core.Employee) bool {
	for id, other := range t.st.employees {
		if id != e.ID && other.TenantID == e.TenantID && other.EmployeeID == e.EmployeeID {
			return true
		}
	}
	return false
}

func (t *tx) InsertEmployee(ctx context.Context, e *core.Employee) error {
	if err := t.check("InsertEmployee", e.EmployeeID); err != nil {
		return err
	}
	if _, ok := t.st.employees[e.ID]; ok || t.keyTaken(e) {
		return fmt.Errorf("employee %s/%s: %w", e.TenantID, e.EmployeeID, core.ErrConflict)
	}
	t.st.employees[e.ID] = e.Clone()
	return nil
}

func (t *tx) UpdateEmployee(ctx context.Context, e *core.Employee) error {
	if err := t.check("UpdateEmployee", e.EmployeeID); err != nil {
		return err
	}
	if _, ok := t.st.employees[e.ID]; !ok {
		return fmt.Errorf("employee %s: %w", e.ID, core.ErrNotFound)
	}
	if t.keyTaken(e) {
		return fmt.Errorf("employee %s/%s: %w", e.TenantID, e.EmployeeID, core.ErrConflict)
	}
	t.st.employees[e.ID] = e.Clone()
	return nil
}

func (t *tx) DeleteEmployee(ctx context.Context, id uuid.UUID) error {
	e, ok := t.st.employees[id]
	if !ok {
		return fmt.Errorf("employee %s: %w", id, core.ErrNotFound)
	}
	if err := t.check("DeleteEmployee", e.EmployeeID); err != nil {
		return err
	}
	delete(t.st.employees, id)
	return nil
}

// Snapshots

func cloneSnapshot(s core.ImportRollbackEntity) core.ImportRollbackEntity {
	s.OriginalState = s.OriginalState.Clone()
	s.ImportedState = s.ImportedState.Clone()
	s.Patch = append(json.RawMessage(nil), s.Patch...)
	return s
}

func (t *tx) InsertSnapshot(ctx context.Context, s *core.ImportRollbackEntity) error {
	if err := t.check("InsertSnapshot", s.EntityID.String()); err != nil {
		return err
	}
	t.st.snaps = append(t.st.snaps, cloneSnapshot(*s))
	return nil
}

func (t *tx) ListSnapshots(ctx context.Context, token string) ([]core.ImportRollbackEntity, error) {
	var out []core.ImportRollbackEntity
	for _, s := range t.st.snaps {
		if s.RollbackToken == token {
			out = append(out, cloneSnapshot(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence > out[j].Sequence
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (t *tx) UpdateSnapshotStatus(ctx context.Context, id uuid.UUID, status core.SnapshotStatus) error {
	if err := t.check("UpdateSnapshotStatus", id.String()); err != nil {
		return err
	}
	for i := range t.st.snaps {
		if t.st.snaps[i].ID == id {
			t.st.snaps[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("snapshot %s: %w", id, core.ErrNotFound)
}

func (t *tx) ExpireSnapshots(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	for i := range t.st.snaps {
		s := &t.st.snaps[i]
		if s.Status != core.SnapshotApplied && s.Status != core.SnapshotPartial {
			continue
		}
		j, ok := t.st.jobs[s.JobID]
		if !ok || j.RollbackExpires == nil || j.RollbackExpires.After(before) {
			continue
		}
		s.Status = core.SnapshotExpired
		n++
	}
	return n, nil
}

// Audit

func (t *tx) InsertAudit(ctx context.Context, e *core.AuditEntry) error {
	if err := t.check("InsertAudit", string(e.Action)); err != nil {
		return err
	}
	c := *e
	if e.JobID != nil {
		id := *e.JobID
		c.JobID = &id
	}
	t.st.audit = append(t.st.audit, c)
	return nil
}

func (t *tx) QueryAudit(ctx context.Context, f core.AuditFilter) ([]core.AuditEntry, error) {
	var matched []core.AuditEntry
	for i := len(t.st.audit) - 1; i >= 0; i-- {
		if f.Matches(&t.st.audit[i]) {
			matched = append(matched, t.st.audit[i])
		}
	}
	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Rules

func cloneRule(r *core.FieldMappingRule) *core.FieldMappingRule {
	c := *r
	c.ValidationRules = append([]string(nil), r.ValidationRules...)
	c.TransformRules = append([]string(nil), r.TransformRules...)
	c.DetectionPatterns = append([]string(nil), r.DetectionPatterns...)
	return &c
}

func (t *tx) activeRuleTaken(r *core.FieldMappingRule) bool {
	if !r.IsActive {
		return false
	}
	for id, other := range t.st.rules {
		if id != r.ID && other.IsActive && other.TenantID == r.TenantID && other.TargetField == r.TargetField {
			return true
		}
	}
	return false
}

func (t *tx) InsertRule(ctx context.Context, r *core.FieldMappingRule) error {
	if _, ok := t.st.rules[r.ID]; ok || t.activeRuleTaken(r) {
		return fmt.Errorf("rule %s/%s: %w", r.TenantID, r.TargetField, core.ErrConflict)
	}
	t.st.rules[r.ID] = cloneRule(r)
	return nil
}

func (t *tx) UpdateRule(ctx context.Context, r *core.FieldMappingRule) error {
	if _, ok := t.st.rules[r.ID]; !ok {
		return fmt.Errorf("rule %s: %w", r.ID, core.ErrNotFound)
	}
	if t.activeRuleTaken(r) {
		return fmt.Errorf("rule %s/%s: %w", r.TenantID, r.TargetField, core.ErrConflict)
	}
	t.st.rules[r.ID] = cloneRule(r)
	return nil
}

func (t *tx) GetRule(ctx context.Context, id uuid.UUID) (*core.FieldMappingRule, error) {
	r, ok := t.st.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule %s: %w", id, core.ErrNotFound)
	}
	return cloneRule(r), nil
}

func (t *tx) ListRules(ctx context.Context, tenantID string, activeOnly bool) ([]core.FieldMappingRule, error) {
	var out []core.FieldMappingRule
	for _, r := range t.st.rules {
		if r.TenantID != tenantID || (activeOnly && !r.IsActive) {
			continue
		}
		out = append(out, *cloneRule(r))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
