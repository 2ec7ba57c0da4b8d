package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited.
type AuditAction string

const (
	AuditCreated             AuditAction = "created"
	AuditUploaded            AuditAction = "uploaded"
	AuditValidated           AuditAction = "validated"
	AuditProcessingStarted   AuditAction = "processing_started"
	AuditProcessingCompleted AuditAction = "processing_completed"
	AuditFailed              AuditAction = "failed"
	AuditCancelled           AuditAction = "cancelled"
	AuditRollbackRequested   AuditAction = "rollback_requested"
	AuditRollbackCompleted   AuditAction = "rollback_completed"
	AuditSoftDeleted         AuditAction = "soft_deleted"
	AuditErrorResolved       AuditAction = "error_resolved"
	AuditRuleCreated         AuditAction = "rule_created"
	AuditRuleDeactivated     AuditAction = "rule_deactivated"
)

// AuditSeverity represents the severity level of an audit entry.
type AuditSeverity string

const (
	AuditSeverityLow      AuditSeverity = "low"
	AuditSeverityMedium   AuditSeverity = "medium"
	AuditSeverityHigh     AuditSeverity = "high"
	AuditSeverityCritical AuditSeverity = "critical"
)

// determineSeverity returns the appropriate severity for an action.
func determineSeverity(action AuditAction) AuditSeverity {
	switch action {
	case AuditRollbackRequested, AuditRollbackCompleted:
		return AuditSeverityCritical
	case AuditFailed, AuditProcessingCompleted, AuditSoftDeleted:
		return AuditSeverityHigh
	case AuditCancelled, AuditRuleCreated, AuditRuleDeactivated:
		return AuditSeverityMedium
	default:
		return AuditSeverityLow
	}
}

// AuditEntry is one append-only audit record. JobID is nullable so the
// record outlives its job.
type AuditEntry struct {
	ID        uuid.UUID      `json:"id"`
	JobID     *uuid.UUID     `json:"job_id,omitempty"`
	TenantID  string         `json:"tenant_id"`
	ActorID   string         `json:"actor_id"`
	ActorRole string         `json:"actor_role"`
	Action    AuditAction    `json:"action"`
	Severity  AuditSeverity  `json:"severity"`
	Details   map[string]any `json:"details,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter contains filter options for querying audit logs.
// Zero values mean "any".
type AuditFilter struct {
	TenantID  string
	JobID     *uuid.UUID
	ActorID   string
	Action    AuditAction
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// withDefaults fills the open time bounds and page size.
func (f AuditFilter) withDefaults(now time.Time) AuditFilter {
	if f.StartTime.IsZero() {
		f.StartTime = time.Unix(0, 0).UTC()
	}
	if f.EndTime.IsZero() {
		f.EndTime = now.Add(24 * time.Hour)
	}
	if f.Limit <= 0 || f.Limit > 1000 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether e satisfies the filter. Store implementations
// without a query language use it directly.
func (f AuditFilter) Matches(e *AuditEntry) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.JobID != nil && (e.JobID == nil || *e.JobID != *f.JobID) {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.StartTime.IsZero() && e.CreatedAt.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !e.CreatedAt.Before(f.EndTime) {
		return false
	}
	return true
}

// AuditParams describes one audit event.
type AuditParams struct {
	JobID    *uuid.UUID
	TenantID string
	Actor    Actor
	Action   AuditAction
	Details  map[string]any
}

// AuditLogger writes audit records inside the caller's transaction so a
// state change and its record commit together.
type AuditLogger struct {
	fallback *slog.Logger
	now      func() time.Time
}

// NewAuditLogger creates an audit logger. fallback receives records that
// could not be written to the store.
func NewAuditLogger(fallback *slog.Logger, now func() time.Time) *AuditLogger {
	if fallback == nil {
		fallback = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &AuditLogger{fallback: fallback, now: now}
}

func (a *AuditLogger) entry(ctx context.Context, p AuditParams) *AuditEntry {
	actor := p.Actor
	if actor.ID == "" {
		actor, _ = ActorFromContext(ctx)
	}
	return &AuditEntry{
		ID:        uuid.New(),
		JobID:     p.JobID,
		TenantID:  p.TenantID,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    p.Action,
		Severity:  determineSeverity(p.Action),
		Details:   p.Details,
		IPAddress: GetIPAddressFromContext(ctx),
		UserAgent: GetUserAgentFromContext(ctx),
		CreatedAt: a.now().UTC(),
	}
}

// Record appends an audit entry in tx. Its error must abort the transaction.
func (a *AuditLogger) Record(ctx context.Context, tx Tx, p AuditParams) error {
	return tx.InsertAudit(ctx, a.entry(ctx, p))
}

// RecordBestEffort appends an entry in its own transaction and never fails.
// A write error goes to the fallback log together with the entry and cause.
func (a *AuditLogger) RecordBestEffort(ctx context.Context, store Store, p AuditParams, cause error) {
	e := a.entry(ctx, p)
	err := store.InTx(ctx, func(tx Tx) error {
		return tx.InsertAudit(ctx, e)
	})
	if err != nil {
		a.Fallback(e, cause, err)
	}
}

// Fallback writes an entry that could not be stored to the local log.
func (a *AuditLogger) Fallback(e *AuditEntry, cause, writeErr error) {
	attrs := []any{
		"audit_id", e.ID.String(),
		"action", string(e.Action),
		"tenant_id", e.TenantID,
		"actor_id", e.ActorID,
		"details", e.Details,
		"write_error", errString(writeErr),
	}
	if e.JobID != nil {
		attrs = append(attrs, "job_id", e.JobID.String())
	}
	if cause != nil {
		attrs = append(attrs, "cause", cause.Error())
	}
	a.fallback.Error("audit write failed", attrs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
