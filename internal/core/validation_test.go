package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func mustValidator(t *testing.T, rules ...FieldMappingRule) *FieldValidator {
	t.Helper()
	v, err := NewFieldValidator(SpecsForTenant(rules))
	require.NoError(t, err)
	return v
}

var identityMapping = map[string]string{
	"employee_id": TargetEmployeeID,
	"email":       TargetEmail,
	"first_name":  TargetFirstName,
	"last_name":   TargetLastName,
	"hire_date":   TargetHireDate,
	"salary":      TargetSalary,
	"manager_id":  TargetManagerID,
}

func codes(issues []RowIssue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Code)
	}
	return out
}

func TestNewFieldValidatorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		spec FieldSpec
	}{
		{"unknown type", FieldSpec{Name: "x", Type: "blob"}},
		{"bad length", FieldSpec{Name: "x", Type: FieldString, Rules: []string{"min_length:abc"}}},
		{"bad pattern", FieldSpec{Name: "x", Type: FieldString, Rules: []string{"pattern:[a-"}}},
		{"unknown rule", FieldSpec{Name: "x", Type: FieldString, Rules: []string{"sparkle"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFieldValidator([]FieldSpec{tt.spec})
			require.Error(t, err)
		})
	}
}

func TestValidateRow(t *testing.T) {
	v := mustValidator(t)

	tests := []struct {
		name       string
		raw        map[string]string
		wantStatus RowStatus
		wantCodes  []string
	}{
		{
			name:       "valid row",
			raw:        map[string]string{"employee_id": "E1", "email": "ann@example.com", "first_name": "Ann", "last_name": "Lee", "hire_date": "2024-01-15", "salary": "$52,000"},
			wantStatus: RowValid,
			wantCodes:  []string{},
		},
		{
			name:       "ambiguous date is a warning",
			raw:        map[string]string{"employee_id": "E1", "email": "ann@example.com", "first_name": "Ann", "last_name": "Lee", "hire_date": "3/4/2024"},
			wantStatus: RowWarning,
			wantCodes:  []string{"ambiguous_date"},
		},
		{
			name:       "bad email and missing last name",
			raw:        map[string]string{"employee_id": "E1", "email": "ann.example.com", "first_name": "Ann", "last_name": "  "},
			wantStatus: RowInvalid,
			wantCodes:  []string{"invalid_email", "required_field"},
		},
		{
			name:       "empty optional cells are null",
			raw:        map[string]string{"employee_id": "E1", "email": "ann@example.com", "first_name": "Ann", "last_name": "Lee", "salary": "", "manager_id": ""},
			wantStatus: RowValid,
			wantCodes:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mapped, issues := v.ValidateRow(tt.raw, identityMapping)
			require.Equal(t, tt.wantStatus, StatusForIssues(issues))
			require.ElementsMatch(t, tt.wantCodes, codes(issues))
			if tt.wantStatus == RowValid {
				require.Equal(t, "E1", mapped.Str(TargetEmployeeID))
				_, hasSalary := mapped[TargetSalary]
				require.Equal(t, tt.raw["salary"] != "", hasSalary)
			}
		})
	}
}

func TestValidateRowIsDeterministic(t *testing.T) {
	v := mustValidator(t)
	raw := map[string]string{"employee_id": "", "email": "bad", "first_name": "", "last_name": "", "hire_date": "soon", "salary": "lots"}

	_, first := v.ValidateRow(raw, identityMapping)
	for i := 0; i < 20; i++ {
		_, again := v.ValidateRow(raw, identityMapping)
		require.Equal(t, first, again)
	}
}

func TestTenantRulesApply(t *testing.T) {
	v := mustValidator(t,
		FieldMappingRule{TargetField: TargetDepartment, IsActive: true, Required: true, DefaultValue: "general", TransformRules: []string{"trim", "title"}},
		FieldMappingRule{TargetField: TargetEmployeeID, IsActive: true, ValidationRules: []string{"pattern:^E[0-9]+$", "max_length:5"}},
		FieldMappingRule{TargetField: TargetLocation, IsActive: true, ValidationRules: []string{"one_of:HQ|Remote"}},
		FieldMappingRule{TargetField: TargetJobTitle, IsActive: false, Required: true},
	)
	mapping := map[string]string{
		"id":    TargetEmployeeID,
		"email": TargetEmail,
		"first": TargetFirstName,
		"last":  TargetLastName,
		"dept":  TargetDepartment,
		"loc":   TargetLocation,
	}

	t.Run("default and transforms", func(t *testing.T) {
		mapped, issues := v.ValidateRow(map[string]string{"id": "E1", "email": "a@example.com", "first": "A", "last": "B", "dept": "", "loc": "remote"}, mapping)
		require.Empty(t, issues)
		require.Equal(t, "general", mapped.Str(TargetDepartment))

		mapped, _ = v.ValidateRow(map[string]string{"id": "E1", "email": "a@example.com", "first": "A", "last": "B", "dept": "  human   resources ", "loc": "HQ"}, mapping)
		require.Equal(t, "Human Resources", mapped.Str(TargetDepartment))
	})

	t.Run("rule violations", func(t *testing.T) {
		_, issues := v.ValidateRow(map[string]string{"id": "X123456", "email": "a@example.com", "first": "A", "last": "B", "loc": "Mars"}, mapping)
		require.ElementsMatch(t, []string{"pattern_mismatch", "max_length", "not_allowed"}, codes(issues))
		for _, is := range issues {
			require.Equal(t, CategoryBusinessRule, is.Category)
		}
	})

	t.Run("inactive rule ignored", func(t *testing.T) {
		require.NotContains(t, v.MissingRequired(mapping), TargetJobTitle)
	})
}

func TestMissingRequired(t *testing.T) {
	v := mustValidator(t)
	missing := v.MissingRequired(map[string]string{"id": TargetEmployeeID, "mail": TargetEmail})
	require.Equal(t, []string{TargetFirstName, TargetLastName}, missing)
}

func TestValidateTableDuplicates(t *testing.T) {
	v := mustValidator(t)
	tbl := &Table{
		Headers: []string{"employee_id", "email", "first_name", "last_name"},
		Records: [][]string{
			{"E1", "a@example.com", "Ann", "One"},
			{"E2", "b@example.com", "Bo", "Two"},
			{"E3", "c@example.com", "Cy", "Three"},
			{"E4", "d@example.com", "Di", "Four"},
			{"E2", "b2@example.com", "Bo", "Again"},
		},
	}

	results := v.ValidateTable(tbl, identityMapping)
	require.Len(t, results, 5)
	for i, r := range results {
		require.Equal(t, i+1, r.RowNumber)
	}
	require.Equal(t, RowValid, results[1].Status, "first occurrence wins")
	dup := results[4]
	require.Equal(t, RowInvalid, dup.Status)
	require.Len(t, dup.Issues, 1)
	require.Equal(t, CategoryDuplicate, dup.Issues[0].Category)
	require.Equal(t, 2, dup.Issues[0].RelatedRow)
	require.Equal(t, "E2", dup.Issues[0].RawValue)
}

func TestStatusForIssues(t *testing.T) {
	require.Equal(t, RowValid, StatusForIssues(nil))
	require.Equal(t, RowWarning, StatusForIssues([]RowIssue{{Severity: SeverityInfo}}))
	require.Equal(t, RowWarning, StatusForIssues([]RowIssue{{Severity: SeverityWarning}}))
	require.Equal(t, RowInvalid, StatusForIssues([]RowIssue{{Severity: SeverityWarning}, {Severity: SeverityError}}))
	require.Equal(t, RowInvalid, StatusForIssues([]RowIssue{{Severity: SeverityCritical}}))
}
