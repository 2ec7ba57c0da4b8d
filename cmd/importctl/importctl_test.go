package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(t.TempDir(), "missing.env")}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestRunDryRun(t *testing.T) {
	path := writeFile(t, "staff.csv", "employee_id,email,first_name,last_name\n"+
		"E1,one@example.com,Ann,One\n"+
		"E2,not-an-email,Bob,Two\n"+
		"E3,three@example.com,Cat,Three\n")

	out, err := execute(t, "--dry-run", "--tenant", "acme", "run", path)
	require.NoError(t, err)

	var got struct {
		Job struct {
			ReferenceCode string `json:"reference_code"`
		} `json:"job"`
		Validation struct {
			TotalRows   int `json:"total_rows"`
			InvalidRows int `json:"invalid_rows"`
		} `json:"validation"`
		Processing struct {
			Status         string `json:"status"`
			SuccessfulRows int    `json:"successful_rows"`
			RollbackToken  string `json:"rollback_token"`
		} `json:"processing"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Regexp(t, `^IMP-\d{8}-[0-9A-F]{6}$`, got.Job.ReferenceCode)
	require.Equal(t, 3, got.Validation.TotalRows)
	require.Equal(t, 1, got.Validation.InvalidRows)
	require.Equal(t, "completed", got.Processing.Status)
	require.Equal(t, 2, got.Processing.SuccessfulRows)
	require.NotEmpty(t, got.Processing.RollbackToken)
}

func TestValidateDryRun(t *testing.T) {
	path := writeFile(t, "staff.csv", "Staff No;E-Mail;Given Name;Surname\nE1;one@example.com;Ann;One\n")

	out, err := execute(t, "--dry-run", "--tenant", "acme", "validate", "--map", "Staff No=employee_id", path)
	require.NoError(t, err)
	require.Contains(t, out, `"valid_rows": 1`)
	require.Contains(t, out, `"status": "mapping"`)
}

func TestCommandErrors(t *testing.T) {
	path := writeFile(t, "staff.csv", "employee_id,email,first_name,last_name\nE1,one@example.com,Ann,One\n")

	tests := []struct {
		name string
		args []string
	}{
		{"missing tenant", []string{"--dry-run", "run", path}},
		{"missing file", []string{"--dry-run", "--tenant", "acme", "run", filepath.Join(t.TempDir(), "nope.csv")}},
		{"bad job id", []string{"--dry-run", "--tenant", "acme", "status", "not-a-uuid"}},
		{"rollback without token", []string{"--dry-run", "--tenant", "acme", "rollback", "7b0f6a3e-2f4c-4d8e-9a51-0c7e3f2b1a90"}},
		{"migrate dry run", []string{"--dry-run", "migrate", "version"}},
		{"auditor cannot import", []string{"--dry-run", "--tenant", "acme", "--role", "auditor", "run", path}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
		})
	}
}

func TestRulesLoadCheck(t *testing.T) {
	path := writeFile(t, "rules.yaml", `rules:
  - source_column: Staff Number
    target_field: employee_id
  - source_column: Work Mail
    target_field: email
`)
	out, err := execute(t, "rules", "load", "--check", path)
	require.NoError(t, err)
	require.Contains(t, out, "2 rules parsed")
}
