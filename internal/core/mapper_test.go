package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeHeader(t *testing.T) {
	tests := map[string]string{
		"Employee ID":     "employee_id",
		"  E-Mail  ":      "e_mail",
		"first__name":     "first_name",
		"Hire Date (UTC)": "hire_date_utc",
		"***":             "",
	}
	for in, want := range tests {
		require.Equal(t, want, NormalizeHeader(in), "NormalizeHeader(%q)", in)
	}
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		input string
		want  rune
	}{
		{"a,b,c\n1,2,3", ','},
		{"a;b;c\n1;2;3", ';'},
		{"a\tb\tc", '\t'},
		{"a|b|c", '|'},
		{"single", ','},
		{"a,b;c", ','}, // tie goes to comma
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, DetectDelimiter([]byte(tt.input)), "DetectDelimiter(%q)", tt.input)
	}
}

func TestChecksumStable(t *testing.T) {
	a := Checksum([]byte("employee_id\nE1\n"))
	require.Len(t, a, 64)
	require.Equal(t, a, Checksum([]byte("employee_id\nE1\n")))
	require.NotEqual(t, a, Checksum([]byte("employee_id\nE1\r\n")))
}

func TestSuggest(t *testing.T) {
	m := NewColumnMapper(nil)
	mapping, unmatched := m.Suggest([]string{"Emp ID", "E-mail", "Given Name", "Surname", "Email Address", "Favourite Colour"})

	require.Equal(t, map[string]string{
		"Emp ID":     TargetEmployeeID,
		"E-mail":     TargetEmail,
		"Given Name": TargetFirstName,
		"Surname":    TargetLastName,
	}, mapping)
	// The second email column loses to the first; unknown columns are never mapped.
	require.Equal(t, []string{"Email Address", "Favourite Colour"}, unmatched)
}

func TestSuggestTenantRules(t *testing.T) {
	rules := []FieldMappingRule{
		{TenantID: "t1", SourceColumn: "Staff Number", TargetField: TargetEmployeeID, IsActive: true},
		{TenantID: "t1", SourceColumn: "Mail", TargetField: TargetPhone, IsActive: false},
		{TenantID: "t1", SourceColumn: "ignored", TargetField: TargetDepartment, IsActive: true, DetectionPatterns: []string{"^org_unit"}},
	}
	m := NewColumnMapper(rules)
	mapping, _ := m.Suggest([]string{"Staff Number", "Mail", "Org Unit Name"})

	require.Equal(t, TargetEmployeeID, mapping["Staff Number"])
	require.Equal(t, TargetEmail, mapping["Mail"], "inactive rule must not override the built-in alias")
	require.Equal(t, TargetDepartment, mapping["Org Unit Name"])
}

func TestCandidates(t *testing.T) {
	m := NewColumnMapper(nil)
	got := m.Candidates("emp")
	require.NotEmpty(t, got)
	require.LessOrEqual(t, len(got), 3)
	require.Contains(t, got, TargetEmployeeID)
	require.Nil(t, m.Candidates("   "))
}

func TestAnalyze(t *testing.T) {
	data := []byte("Staff No;Work Email;First;Last;Shoe Size\nE1;a@example.com;Ann;Lee;9\n")
	m := NewColumnMapper(nil)

	s := m.Analyze(data, "staff.csv", 0, map[string]string{"staff no": TargetEmployeeID})
	require.Equal(t, FormatDelimited, s.Format)
	require.Equal(t, ";", s.Delimiter)
	require.Equal(t, Checksum(data), s.Checksum)
	require.Equal(t, map[string]string{
		"Staff No":   TargetEmployeeID,
		"Work Email": TargetEmail,
		"First":      TargetFirstName,
		"Last":       TargetLastName,
	}, s.Mapping)
	require.Equal(t, []string{"Shoe Size"}, s.Unmatched)
}

func TestAnalyzeHeaderOnlyFile(t *testing.T) {
	data := []byte("Emp ID,Work Email,Start Date\n")
	s := NewColumnMapper(nil).Analyze(data, "staff.csv", 0, nil)
	require.Equal(t, []string{"Emp ID", "Work Email", "Start Date"}, s.Headers)
	require.Equal(t, ",", s.Delimiter)
	require.Equal(t, map[string]string{
		"Emp ID":     TargetEmployeeID,
		"Work Email": TargetEmail,
		"Start Date": TargetHireDate,
	}, s.Mapping)

	_, err := ReadTable(data, "staff.csv", 0)
	require.Equal(t, CodeNoRows, ErrorCode(err), "validation still needs data rows")
}

func TestAnalyzeUnreadableFile(t *testing.T) {
	s := NewColumnMapper(nil).Analyze([]byte("\n\n"), "empty.csv", 0, nil)
	require.Empty(t, s.Headers)
	require.Empty(t, s.Mapping)
	require.NotEmpty(t, s.Checksum)
}

func TestApplyOverride(t *testing.T) {
	headers := []string{"ID", "Mail", "Alt Mail"}
	suggested := map[string]string{"ID": TargetEmployeeID, "Mail": TargetEmail}

	t.Run("moves a target to another column", func(t *testing.T) {
		got := ApplyOverride(suggested, headers, map[string]string{"alt_mail": TargetEmail})
		require.Equal(t, map[string]string{"ID": TargetEmployeeID, "Alt Mail": TargetEmail}, got)
	})
	t.Run("empty target drops a column", func(t *testing.T) {
		got := ApplyOverride(suggested, headers, map[string]string{"Mail": ""})
		require.Equal(t, map[string]string{"ID": TargetEmployeeID}, got)
	})
	t.Run("unknown header ignored", func(t *testing.T) {
		got := ApplyOverride(suggested, headers, map[string]string{"Nope": TargetPhone})
		require.Equal(t, suggested, got)
	})
	t.Run("input not mutated", func(t *testing.T) {
		_ = ApplyOverride(suggested, headers, map[string]string{"Mail": ""})
		require.Len(t, suggested, 2)
	})
}
