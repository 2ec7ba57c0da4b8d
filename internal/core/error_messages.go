package core

// # Error Codes Reference
//
// Every error returned by a pipeline entry point is an *Error carrying a
// stable machine code. Callers render it with MapError, which also handles
// raw infrastructure errors by pattern.
//
// # Pipeline Codes
//
//	FILE_EMPTY          - Upload has zero bytes
//	FILE_TOO_LARGE      - Upload exceeds the configured maximum (100MB)
//	FILE_UNREADABLE     - Bytes could not be decoded or parsed
//	NO_HEADER           - No non-empty row found
//	NO_ROWS             - Header row present but no data rows
//	CHECKSUM_MISMATCH   - Bytes passed to validate/process differ from the upload
//	DUPLICATE_UPLOAD    - Identical bytes already imported by an active job
//	JOB_NOT_FOUND       - No job with that ID for the tenant
//	INVALID_TRANSITION  - Operation not allowed in the job's current status
//	JOB_IN_FLIGHT       - Job is validating or processing
//	ROLLBACK_EXPIRED    - Rollback window has closed (not retryable)
//	ROLLBACK_TOKEN_MISMATCH - Token does not belong to the job
//	ROLLBACK_PARTIAL    - Rollback stopped part way; retry resumes (retryable)
//	RULE_CONFLICT       - Another active rule exists for the tenant and target
//	FORBIDDEN           - Actor lacks the required capability
//	TOO_MANY_JOBS       - No job slot became free in time (retryable)
//	INVALID_OPTIONS     - Options or rule failed struct validation
//	INFRASTRUCTURE      - Store or transaction failure (retryable)
//
// # Infrastructure Patterns (DB001-DB099, UPL001-UPL099)
//
// Errors that are not *Error are matched case-insensitively by substring.
// The first matching pattern wins, so specific patterns come first.
//
// # Default Error (ERR000)
//
// Fallback when no specific pattern matches. Support staff should check
// application logs for the original technical error.

import (
	"errors"
	"fmt"
	"strings"
)

const (
	CodeFileEmpty         = "FILE_EMPTY"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeFileUnreadable    = "FILE_UNREADABLE"
	CodeNoHeader          = "NO_HEADER"
	CodeNoRows            = "NO_ROWS"
	CodeChecksumMismatch  = "CHECKSUM_MISMATCH"
	CodeDuplicateUpload   = "DUPLICATE_UPLOAD"
	CodeJobNotFound       = "JOB_NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeJobInFlight       = "JOB_IN_FLIGHT"
	CodeRollbackExpired   = "ROLLBACK_EXPIRED"
	CodeTokenMismatch     = "ROLLBACK_TOKEN_MISMATCH"
	CodeRollbackPartial   = "ROLLBACK_PARTIAL"
	CodeRuleConflict      = "RULE_CONFLICT"
	CodeForbidden         = "FORBIDDEN"
	CodeTooManyJobs       = "TOO_MANY_JOBS"
	CodeInvalidOptions    = "INVALID_OPTIONS"
	CodeInfrastructure    = "INFRASTRUCTURE"
)

// Sentinel causes returned by Store implementations.
var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrConstraint        = errors.New("constraint violation")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Error is the structured error surfaced to callers.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Row       int    `json:"row,omitempty"`
	Retryable bool   `json:"retryable"`
	Err       error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %s)", e.Field)
	}
	if e.Row > 0 {
		fmt.Fprintf(&b, " (row %d)", e.Row)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) retryable() *Error {
	e.Retryable = true
	return e
}

func (e *Error) field(name string) *Error {
	e.Field = name
	return e
}

// infraError wraps a store failure. Structured errors pass through unchanged.
func infraError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(CodeInfrastructure, op+" failed").wrap(err).retryable()
}

// ErrorCode returns the structured code of err, or "" if it has none.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable reports whether the caller may retry the same request.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// codeActions gives the suggested next step for each structured code.
var codeActions = map[string]string{
	CodeFileEmpty:         "Upload a file with a header row and data rows",
	CodeFileTooLarge:      "Split the file into smaller chunks",
	CodeFileUnreadable:    "Save the file as UTF-8 CSV or XLSX and upload again",
	CodeNoHeader:          "Add a header row naming each column",
	CodeNoRows:            "Add at least one data row below the header",
	CodeChecksumMismatch:  "Send the same file that was uploaded for this job",
	CodeDuplicateUpload:   "This file was already imported; enable duplicate uploads to import it again",
	CodeJobNotFound:       "Check the job ID",
	CodeInvalidTransition: "Refresh the job status and try the next allowed step",
	CodeJobInFlight:       "Wait for the job to finish or cancel it first",
	CodeRollbackExpired:   "The rollback window has closed; correct the data with a new import",
	CodeTokenMismatch:     "Use the rollback token issued for this job",
	CodeRollbackPartial:   "Request the rollback again to resume",
	CodeRuleConflict:      "Deactivate the existing rule for this field first",
	CodeForbidden:         "Ask an administrator for the required permission",
	CodeTooManyJobs:       "Please wait a moment and try again",
	CodeInvalidOptions:    "Correct the highlighted option and try again",
	CodeInfrastructure:    "Please try again in a few moments",
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	{pattern: "duplicate key", msg: UserMessage{Message: "A record with this ID already exists", Action: "Review the duplicate rows", Code: "DB001"}},
	{pattern: "unique constraint", msg: UserMessage{Message: "This value must be unique but already exists", Action: "Check for duplicate entries in your file", Code: "DB002"}},
	{pattern: "violates unique", msg: UserMessage{Message: "This value must be unique but already exists", Action: "Check for duplicate entries in your file", Code: "DB002"}},
	{pattern: "foreign key", msg: UserMessage{Message: "Referenced record does not exist", Action: "Ensure referenced records exist first", Code: "DB003"}},
	{pattern: "connection refused", msg: UserMessage{Message: "Unable to connect to database", Action: "Please try again in a few moments", Code: "DB004"}},
	{pattern: "connection reset", msg: UserMessage{Message: "Database connection was interrupted", Action: "Please try again", Code: "DB005"}},
	{pattern: "deadlock", msg: UserMessage{Message: "Database was busy with conflicting operations", Action: "Please try again", Code: "DB007"}},
	{pattern: "context canceled", msg: UserMessage{Message: "Request was cancelled", Action: "Please try again", Code: "UPL004"}},
	{pattern: "context deadline exceeded", msg: UserMessage{Message: "Request timed out", Action: "Try a smaller file or try again later", Code: "UPL005"}},
	{pattern: "timeout", msg: UserMessage{Message: "Operation timed out", Action: "Try a smaller file or try again later", Code: "DB006"}},
	{pattern: "rate limit", msg: UserMessage{Message: "Too many requests", Action: "Please wait a moment before trying again", Code: "RATE001"}},
}

// defaultMessage is returned when no pattern matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message. Structured errors
// keep their own code and message; other errors are matched by pattern.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var e *Error
	if errors.As(err, &e) && e.Code != CodeInfrastructure {
		return UserMessage{Message: e.Message, Action: codeActions[e.Code], Code: e.Code}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	if e != nil {
		return UserMessage{Message: e.Message, Action: codeActions[e.Code], Code: e.Code}
	}
	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
