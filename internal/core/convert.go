package core

// convert.go turns raw cell text into typed values.
//
// These functions handle the messy reality of user-provided data:
//   - Multiple date formats (ISO, US, EU, compact, long month names)
//   - Currency symbols, thousand separators and accounting negatives in numbers
//   - Phone numbers with punctuation
//   - Excel formula prefixes (="value")
//
// Coercers never fail for user data. They return a nil Value plus an issue.

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const isoDate = "2006-01-02"

var (
	emailRegex   = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}$`)
	phoneRegex   = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
	numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)

	phoneSeparators = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", ".", "")
	currencySymbols = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "", "₹", "", "USD", "", "EUR", "", "GBP", "")
)

// dateLayout is one accepted format. twin names the layout that reads the
// same text with day and month swapped.
type dateLayout struct {
	layout string
	twin   string
}

// dateLayouts are tried in order; the first match wins.
var dateLayouts = []dateLayout{
	{layout: isoDate},
	{layout: "1/2/2006", twin: "2/1/2006"},
	{layout: "2/1/2006"},
	{layout: "2006/1/2"},
	{layout: "1-2-2006", twin: "2-1-2006"},
	{layout: "2-1-2006"},
	{layout: "20060102"},
	{layout: "January 2, 2006"},
	{layout: "January 2 2006"},
	{layout: "2 January 2006"},
	{layout: "Jan 2, 2006"},
	{layout: "Jan 2 2006"},
	{layout: "2 Jan 2006"},
}

// commonDomainTypos maps frequent misspellings to the intended domain.
var commonDomainTypos = map[string]string{
	"gmial.com":   "gmail.com",
	"gmal.com":    "gmail.com",
	"gmail.co":    "gmail.com",
	"gamil.com":   "gmail.com",
	"hotmal.com":  "hotmail.com",
	"hotmial.com": "hotmail.com",
	"yaho.com":    "yahoo.com",
	"outlok.com":  "outlook.com",
}

// CleanCell removes common spreadsheet artifacts from a cell value:
// surrounding whitespace, the Excel formula prefix (="...") and stray quotes.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}
	return strings.TrimSpace(strings.Trim(s, `"'`))
}

// coerce converts one cleaned, non-empty cell to the field's type.
func coerce(spec FieldSpec, raw string) (Value, []RowIssue) {
	switch spec.Type {
	case FieldString:
		return StringValue(raw), nil
	case FieldEmail:
		return coerceEmail(spec.Name, raw)
	case FieldPhone:
		return coercePhone(spec.Name, raw)
	case FieldDate:
		return coerceDate(spec.Name, raw)
	case FieldDecimal:
		d, ok := parseNumber(raw)
		if !ok {
			return nil, []RowIssue{typeIssue(spec.Name, raw, "invalid_decimal",
				"is not a valid number", "use digits with an optional decimal point, e.g. 52000.00")}
		}
		return DecimalValue(d), nil
	case FieldInteger:
		d, ok := parseNumber(raw)
		if !ok || !d.IsInteger() {
			return nil, []RowIssue{typeIssue(spec.Name, raw, "invalid_integer",
				"is not a whole number", "use digits only, e.g. 40")}
		}
		return IntegerValue(d.IntPart()), nil
	}
	return nil, []RowIssue{{
		Category: CategoryStructural,
		Severity: SeverityCritical,
		Code:     "unknown_field_type",
		Message:  fmt.Sprintf("field %s has unknown type %q", spec.Name, spec.Type),
		Field:    spec.Name,
	}}
}

func typeIssue(field, raw, code, msg, suggestion string) RowIssue {
	return RowIssue{
		Category:   CategoryTypeMismatch,
		Severity:   SeverityError,
		Code:       code,
		Message:    fmt.Sprintf("%s %q %s", field, raw, msg),
		Field:      field,
		RawValue:   raw,
		Suggestion: suggestion,
	}
}

// coerceEmail accepts well-formed addresses. A domain listed in
// commonDomainTypos is still imported but flagged with a warning.
func coerceEmail(field, raw string) (Value, []RowIssue) {
	if emailRegex.MatchString(raw) {
		at := strings.LastIndex(raw, "@")
		fix, ok := commonDomainTypos[strings.ToLower(raw[at+1:])]
		if !ok {
			return EmailValue(raw), nil
		}
		return EmailValue(raw), []RowIssue{{
			Category:   CategoryTypeMismatch,
			Severity:   SeverityWarning,
			Code:       "possible_email_typo",
			Message:    fmt.Sprintf("%s %q may have a misspelled domain", field, raw),
			Field:      field,
			RawValue:   raw,
			Suggestion: "did you mean " + raw[:at] + "@" + fix + "?",
		}}
	}
	return nil, []RowIssue{typeIssue(field, raw, "invalid_email", "is not a valid email address", suggestEmail(raw))}
}

// suggestEmail proposes a correction for a malformed address.
func suggestEmail(raw string) string {
	trimmed := strings.Join(strings.Fields(raw), "")
	if trimmed != raw && emailRegex.MatchString(trimmed) {
		return "remove spaces: " + trimmed
	}
	at := strings.LastIndex(trimmed, "@")
	if at < 0 {
		return "add the @ and domain, e.g. name@example.com"
	}
	local, domain := trimmed[:at], strings.ToLower(trimmed[at+1:])
	if fix, ok := commonDomainTypos[domain]; ok {
		return "did you mean " + local + "@" + fix + "?"
	}
	if !strings.Contains(domain, ".") {
		return "add a top-level domain, e.g. " + local + "@" + domain + ".com"
	}
	return "use the form name@example.com"
}

func coercePhone(field, raw string) (Value, []RowIssue) {
	stripped := phoneSeparators.Replace(raw)
	if phoneRegex.MatchString(stripped) {
		return PhoneValue(stripped), nil
	}
	return nil, []RowIssue{typeIssue(field, raw, "invalid_phone",
		"must contain 7 to 15 digits", "digits with an optional leading +, e.g. +15555550100")}
}

func coerceDate(field, raw string) (Value, []RowIssue) {
	t, layout, ok := parseDate(raw)
	if !ok {
		return nil, []RowIssue{typeIssue(field, raw, "invalid_date",
			"is not a recognised date", "use YYYY-MM-DD, e.g. 2024-01-15")}
	}
	v := DateValue(t)
	if layout.twin == "" {
		return v, nil
	}
	alt, err := time.Parse(layout.twin, raw)
	if err != nil || alt.Equal(t) {
		return v, nil
	}
	return v, []RowIssue{{
		Category:   CategoryTypeMismatch,
		Severity:   SeverityWarning,
		Code:       "ambiguous_date",
		Message:    fmt.Sprintf("%s %q read as %s; could also be %s", field, raw, t.Format(isoDate), alt.Format(isoDate)),
		Field:      field,
		RawValue:   raw,
		Suggestion: "use YYYY-MM-DD to avoid month/day ambiguity",
	}}
}

// parseDate tries each layout in order and returns the first match.
func parseDate(s string) (time.Time, dateLayout, bool) {
	for _, dl := range dateLayouts {
		if t, err := time.Parse(dl.layout, s); err == nil {
			return t, dl, true
		}
	}
	return time.Time{}, dateLayout{}, false
}

// parseNumber strips currency symbols, thousands separators and the
// accounting "(123.45)" negative form, then parses a decimal.
func parseNumber(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = currencySymbols.Replace(s)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.ReplaceAll(s, " ", "")
	if negative {
		s = "-" + s
	}
	if !numericRegex.MatchString(s) {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
