package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		msg  string
	}{
		{"nil", nil, "", ""},
		{"structured", newError(CodeRollbackExpired, "window closed"), CodeRollbackExpired, "window closed"},
		{"wrapped structured", fmt.Errorf("handler: %w", newError(CodeForbidden, "no")), CodeForbidden, "no"},
		{"infrastructure with known cause", infraError("load job", errors.New("dial tcp: connection refused")), "DB004", "Unable to connect to database"},
		{"infrastructure with unknown cause", infraError("create job", errors.New("pool exhausted")), CodeInfrastructure, "create job failed"},
		{"duplicate key", errors.New(`duplicate key value violates unique constraint "employees_pkey"`), "DB001", "A record with this ID already exists"},
		{"unique constraint", errors.New("ERROR: unique constraint violated"), "DB002", "This value must be unique but already exists"},
		{"foreign key", errors.New("insert violates foreign key constraint"), "DB003", "Referenced record does not exist"},
		{"deadline beats timeout", context.DeadlineExceeded, "UPL005", "Request timed out"},
		{"plain timeout", errors.New("read: i/o timeout"), "DB006", "Operation timed out"},
		{"rate limit", errors.New("rate limit exceeded"), "RATE001", "Too many requests"},
		{"unknown", errors.New("something odd happened"), "ERR000", "An unexpected error occurred"},
		{"case insensitive", errors.New("DUPLICATE KEY value"), "DB001", "A record with this ID already exists"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			require.Equal(t, tt.code, got.Code)
			require.Equal(t, tt.msg, got.Message)
		})
	}
}

func TestFormatUserError(t *testing.T) {
	require.Equal(t,
		"uploaded file is empty (Code: FILE_EMPTY). Upload a file with a header row and data rows",
		FormatUserError(newError(CodeFileEmpty, "uploaded file is empty")))
	require.Empty(t, FormatUserError(nil))
}

func TestIsUserFacing(t *testing.T) {
	require.False(t, IsUserFacing(nil))
	require.True(t, IsUserFacing(errors.New("duplicate key")))
	require.True(t, IsUserFacing(newError(CodeForbidden, "no")))
	require.False(t, IsUserFacing(errors.New("random internal error xyz")))
}

func TestErrorAccessors(t *testing.T) {
	cause := errors.New("pool closed")
	err := fmt.Errorf("outer: %w", infraError("list rows", cause))

	require.Equal(t, CodeInfrastructure, ErrorCode(err))
	require.True(t, IsRetryable(err))
	require.ErrorIs(t, err, cause)

	structured := newError(CodeRollbackExpired, "closed")
	require.Same(t, structured, infraError("rollback", structured).(*Error), "structured errors pass through")
	require.False(t, IsRetryable(structured))
	require.Empty(t, ErrorCode(errors.New("plain")))

	e := newError(CodeInvalidOptions, "bad delimiter").field("delimiter")
	e.Row = 3
	require.Equal(t, "INVALID_OPTIONS: bad delimiter (field delimiter) (row 3)", e.Error())
}

func TestEveryCodeHasAnAction(t *testing.T) {
	codes := []string{
		CodeFileEmpty, CodeFileTooLarge, CodeFileUnreadable, CodeNoHeader, CodeNoRows,
		CodeChecksumMismatch, CodeDuplicateUpload, CodeJobNotFound, CodeInvalidTransition,
		CodeJobInFlight, CodeRollbackExpired, CodeTokenMismatch, CodeRollbackPartial,
		CodeRuleConflict, CodeForbidden, CodeTooManyJobs, CodeInvalidOptions, CodeInfrastructure,
	}
	for _, c := range codes {
		require.NotEmpty(t, codeActions[c], "code %s has no suggested action", c)
	}
}
