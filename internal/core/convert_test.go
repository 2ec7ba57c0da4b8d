package core

import (
	"strings"
	"testing"
	"time"
)

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		// Basic cleaning
		{name: "simple string unchanged", input: "hello", want: "hello"},
		{name: "empty string", input: "", want: ""},

		// Whitespace trimming
		{name: "leading whitespace", input: "  hello", want: "hello"},
		{name: "trailing whitespace", input: "hello  ", want: "hello"},
		{name: "tabs and newlines", input: "\thello\n", want: "hello"},

		// Excel formula prefix handling
		{name: "Excel formula with quotes", input: `="E-1001"`, want: "E-1001"},
		{name: "Excel formula number as text", input: `="00123"`, want: "00123"},
		{name: "bare equals sign", input: "=SUM(A1)", want: "SUM(A1)"},

		// Quote handling
		{name: "double quotes removed", input: `"hello"`, want: "hello"},
		{name: "single quotes removed", input: "'hello'", want: "hello"},
		{name: "leading single quote (Excel text prefix)", input: "'00123", want: "00123"},

		// Combined cleaning
		{name: "whitespace and quotes", input: `  "hello"  `, want: "hello"},
		{name: "excel formula with whitespace", input: `  ="test"  `, want: "test"},

		// Edge cases
		{name: "only quotes", input: `""`, want: ""},
		{name: "equals with quoted zero", input: `="0"`, want: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanCell(tt.input)
			if got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input  string
		want   string
		wantOK bool
	}{
		{"123", "123", true},
		{"-456.78", "-456.78", true},
		{"$1,234.56", "1234.56", true},
		{"€ 52 000", "52000", true},
		{"(1,000.00)", "-1000", true},
		{"USD 75000", "75000", true},
		{"1_000", "1000", true},
		{"", "", false},
		{"abc", "", false},
		{"12abc", "", false},
		{"1.2.3", "", false},
		{"--5", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseNumber(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("parseNumber(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got.String() != tt.want {
				t.Errorf("parseNumber(%q) = %s, want %s", tt.input, got.String(), tt.want)
			}
		})
	}
}

func TestCoerceDate(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        string
		wantCode    string
		wantNoValue bool
	}{
		{name: "ISO", input: "2024-03-15", want: "2024-03-15"},
		{name: "US unambiguous", input: "3/25/2024", want: "2024-03-25"},
		{name: "EU unambiguous", input: "25/3/2024", want: "2024-03-25"},
		{name: "US ambiguous warns", input: "3/4/2024", want: "2024-03-04", wantCode: "ambiguous_date"},
		{name: "same day and month is not ambiguous", input: "4/4/2024", want: "2024-04-04"},
		{name: "slash year first", input: "2024/3/15", want: "2024-03-15"},
		{name: "compact", input: "20240315", want: "2024-03-15"},
		{name: "long month", input: "March 15, 2024", want: "2024-03-15"},
		{name: "short month", input: "Mar 15 2024", want: "2024-03-15"},
		{name: "day first month name", input: "15 March 2024", want: "2024-03-15"},
		{name: "garbage", input: "next tuesday", wantCode: "invalid_date", wantNoValue: true},
		{name: "impossible date", input: "2024-02-30", wantCode: "invalid_date", wantNoValue: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			val, issues := coerceDate(TargetHireDate, tt.input)
			if tt.wantNoValue {
				if val != nil {
					t.Fatalf("coerceDate(%q) = %v, want nil", tt.input, val)
				}
			} else {
				if val == nil {
					t.Fatalf("coerceDate(%q) = nil, issues %v", tt.input, issues)
				}
				if got := val.String(); got != tt.want {
					t.Errorf("coerceDate(%q) = %s, want %s", tt.input, got, tt.want)
				}
			}

			if tt.wantCode == "" {
				if len(issues) != 0 {
					t.Errorf("unexpected issues: %v", issues)
				}
				return
			}
			if len(issues) != 1 || issues[0].Code != tt.wantCode {
				t.Fatalf("issues = %v, want one %s", issues, tt.wantCode)
			}
			if issues[0].Field != TargetHireDate || issues[0].RawValue != tt.input {
				t.Errorf("issue field/raw = %s/%q", issues[0].Field, issues[0].RawValue)
			}
		})
	}
}

func TestAmbiguousDateIsWarningOnly(t *testing.T) {
	_, issues := coerceDate(TargetHireDate, "3/4/2024")
	if len(issues) != 1 {
		t.Fatalf("issues = %v", issues)
	}
	if issues[0].Severity.Blocking() {
		t.Error("ambiguous date must not block the row")
	}
	if !strings.Contains(issues[0].Message, "2024-04-03") {
		t.Errorf("message should name the alternative reading: %s", issues[0].Message)
	}
}

func TestCoerceEmail(t *testing.T) {
	tests := []struct {
		input          string
		valid          bool
		wantSuggestion string
	}{
		{input: "ann@example.com", valid: true},
		{input: "first.last+tag@sub.example.co.uk", valid: true},
		{input: "ann example.com", wantSuggestion: "add the @"},
		{input: "ann @example.com", wantSuggestion: "remove spaces: ann@example.com"},
		{input: "ann@gmial", wantSuggestion: "ann@gmial.com"},
		{input: "ann@localhost", wantSuggestion: "ann@localhost.com"},
		{input: "ann@@example.com", wantSuggestion: "name@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			val, issues := coerceEmail(TargetEmail, tt.input)
			if tt.valid {
				if val == nil || len(issues) != 0 {
					t.Fatalf("coerceEmail(%q) = %v, %v; want valid", tt.input, val, issues)
				}
				return
			}
			if val != nil {
				t.Fatalf("coerceEmail(%q) = %v, want nil", tt.input, val)
			}
			if len(issues) != 1 || issues[0].Code != "invalid_email" {
				t.Fatalf("issues = %v", issues)
			}
			if !strings.Contains(issues[0].Suggestion, tt.wantSuggestion) {
				t.Errorf("suggestion = %q, want it to contain %q", issues[0].Suggestion, tt.wantSuggestion)
			}
		})
	}
}

func TestCoerceEmailDomainTypoIsWarning(t *testing.T) {
	val, issues := coerceEmail(TargetEmail, "Ann@GMIAL.com")
	if val != EmailValue("Ann@GMIAL.com") {
		t.Fatalf("value = %v, want the address unchanged", val)
	}
	if len(issues) != 1 || issues[0].Code != "possible_email_typo" {
		t.Fatalf("issues = %v", issues)
	}
	if issues[0].Severity.Blocking() {
		t.Error("a likely typo must not block the row")
	}
	if issues[0].Suggestion != "did you mean Ann@gmail.com?" {
		t.Errorf("suggestion = %q", issues[0].Suggestion)
	}
}

func TestCoercePhone(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"+1 (555) 555-0100", "+15555550100"},
		{"555.555.0100", "5555550100"},
		{"0044 20 7946 0958", "00442079460958"},
		{"12345", ""},
		{"call me", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			val, issues := coercePhone(TargetPhone, tt.input)
			if tt.want == "" {
				if val != nil || len(issues) != 1 || issues[0].Code != "invalid_phone" {
					t.Fatalf("coercePhone(%q) = %v, %v; want invalid_phone", tt.input, val, issues)
				}
				return
			}
			if val == nil || val.String() != tt.want {
				t.Errorf("coercePhone(%q) = %v, want %s", tt.input, val, tt.want)
			}
		})
	}
}

func TestCoerceNumericFields(t *testing.T) {
	salary := FieldSpec{Name: TargetSalary, Type: FieldDecimal}
	hours := FieldSpec{Name: TargetWeeklyHours, Type: FieldInteger}

	if v, issues := coerce(salary, "$52,000.50"); v == nil || v.String() != "52000.5" || len(issues) != 0 {
		t.Errorf("salary = %v, %v", v, issues)
	}
	if v, issues := coerce(salary, "lots"); v != nil || len(issues) != 1 || issues[0].Code != "invalid_decimal" {
		t.Errorf("bad salary = %v, %v", v, issues)
	}
	if v, issues := coerce(hours, "40"); v == nil || v.String() != "40" || len(issues) != 0 {
		t.Errorf("hours = %v, %v", v, issues)
	}
	if v, issues := coerce(hours, "37.5"); v != nil || len(issues) != 1 || issues[0].Code != "invalid_integer" {
		t.Errorf("fractional hours = %v, %v", v, issues)
	}
	if v, _ := coerce(hours, "40.0"); v == nil || v.String() != "40" {
		t.Errorf("integral decimal hours = %v", v)
	}
}

func TestCoerceUnknownType(t *testing.T) {
	v, issues := coerce(FieldSpec{Name: "x", Type: FieldType("blob")}, "abc")
	if v != nil {
		t.Fatalf("value = %v, want nil", v)
	}
	if len(issues) != 1 || issues[0].Severity != SeverityCritical {
		t.Fatalf("issues = %v, want one critical", issues)
	}
}

func TestDateValueRoundTrip(t *testing.T) {
	v, _ := coerceDate(TargetHireDate, "March 15, 2024")
	got, err := decodeValue(FieldDate, v.String())
	if err != nil {
		t.Fatalf("decodeValue: %v", err)
	}
	if !time.Time(got.(DateValue)).Equal(time.Time(v.(DateValue))) {
		t.Errorf("round trip = %v, want %v", got, v)
	}
}
