// Package core implements the employee bulk-import pipeline.
//
// The package holds all domain logic independent of any transport or storage
// engine. Web handlers, the CLI and tests drive it through [Orchestrator];
// persistence goes through the [Store] interface.
//
// # Pipeline
//
// A job moves through a fixed set of statuses:
//
//	pending -> validating -> mapping -> processing -> completed | failed | cancelled
//	completed | failed | cancelled -> rolled_back
//
// [Orchestrator.CreateJob] stores the upload's checksum and a suggested column
// mapping from [ColumnMapper]. [Orchestrator.ValidateJob] coerces every row
// with [FieldValidator] and records each finding as an
// [ImportValidationError]. [Orchestrator.ProcessJob] applies rows one
// transaction at a time and records an [ImportRollbackEntity] per mutation,
// so [Orchestrator.RequestRollback] can restore the prior state within the
// rollback window.
//
// # Partial Import
//
// With JobOptions.AllowPartialImport a failing row is recorded and skipped.
// Without it the first failed mutation reverses every change the job made
// and fails the job. Rows that failed validation are never mutated in either
// mode.
//
// # Audit Logging
//
// Every status change is recorded by [AuditLogger] in the transaction that
// makes it. Severity follows the action:
//
//   - Low: creation, upload and validation
//   - Medium: cancellation and mapping rule changes
//   - High: completion, failure and soft delete
//   - Critical: rollback
//
// # Error Handling
//
// Entry points return *[Error] with a stable code. [MapError] turns any
// error into a user-facing message with a suggested action.
package core
