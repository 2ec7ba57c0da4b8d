package core

// validation.go converts raw rows into typed, annotated rows.
//
// Validation happens at three levels:
//  1. Cell: coerce to the target type (convert.go) and apply tenant rules
//  2. Row: required-field presence, aggregate verdict
//  3. Table: natural-key duplicates within the file (first occurrence wins)
//
// The validator never returns an error for user data. Every finding is a
// RowIssue and the same input always yields the same issues.

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FieldValidator validates rows against a set of target field specs.
type FieldValidator struct {
	specs    []FieldSpec
	bySource map[string]FieldSpec
	patterns map[string]*regexp.Regexp
}

// RowResult is the validator's verdict for one data row.
type RowResult struct {
	RowNumber int
	Raw       map[string]string
	Mapped    MappedFields
	Issues    []RowIssue
	Status    RowStatus
}

// NewFieldValidator builds a validator. An unknown field type or a bad rule
// is a configuration error and is returned here, never during validation.
func NewFieldValidator(specs []FieldSpec) (*FieldValidator, error) {
	v := &FieldValidator{
		specs:    specs,
		bySource: make(map[string]FieldSpec, len(specs)),
		patterns: make(map[string]*regexp.Regexp),
	}
	for _, s := range specs {
		if !s.Type.Known() {
			return nil, fmt.Errorf("field %s: unknown field type %q", s.Name, s.Type)
		}
		for _, r := range s.Rules {
			name, arg, _ := strings.Cut(r, ":")
			switch name {
			case "min_length", "max_length":
				if _, err := strconv.Atoi(arg); err != nil {
					return nil, fmt.Errorf("field %s: rule %q: %w", s.Name, r, err)
				}
			case "pattern":
				re, err := regexp.Compile(arg)
				if err != nil {
					return nil, fmt.Errorf("field %s: rule %q: %w", s.Name, r, err)
				}
				v.patterns[s.Name+"|"+arg] = re
			case "one_of":
			default:
				return nil, fmt.Errorf("field %s: unknown validation rule %q", s.Name, name)
			}
		}
		v.bySource[s.Name] = s
	}
	return v, nil
}

// Spec returns the spec for a target field.
func (v *FieldValidator) Spec(target string) (FieldSpec, bool) {
	s, ok := v.bySource[target]
	return s, ok
}

// ValidateCell coerces one raw value for a target field.
// An empty value yields a nil Value (null) unless the spec has a default.
func (v *FieldValidator) ValidateCell(spec FieldSpec, raw string) (Value, []RowIssue) {
	raw = applyTransforms(CleanCell(raw), spec.Transforms)
	if raw == "" {
		raw = spec.Default
	}
	if raw == "" {
		return nil, nil
	}
	val, issues := coerce(spec, raw)
	if val == nil {
		return nil, issues
	}
	return val, append(issues, v.checkRules(spec, val)...)
}

// ValidateRow maps and coerces one row. mapping is source header to target field.
func (v *FieldValidator) ValidateRow(raw map[string]string, mapping map[string]string) (MappedFields, []RowIssue) {
	mapped := make(MappedFields, len(v.specs))
	var issues []RowIssue

	for _, source := range sortedKeys(mapping) {
		spec, ok := v.bySource[mapping[source]]
		if !ok {
			continue
		}
		val, cellIssues := v.ValidateCell(spec, raw[source])
		issues = append(issues, cellIssues...)
		if val != nil {
			mapped[spec.Name] = val
		}
	}

	for _, spec := range v.specs {
		if _, ok := mapped[spec.Name]; ok {
			continue
		}
		if spec.Default != "" {
			if val, cellIssues := v.ValidateCell(spec, ""); val != nil {
				mapped[spec.Name] = val
				issues = append(issues, cellIssues...)
				continue
			}
		}
		if spec.Required && !hasIssueFor(issues, spec.Name) {
			issues = append(issues, RowIssue{
				Category:   CategoryConstraintViolation,
				Severity:   SeverityError,
				Code:       "required_field",
				Message:    fmt.Sprintf("required field %s is empty", spec.Name),
				Field:      spec.Name,
				Suggestion: "provide a value for " + spec.Name,
			})
		}
	}
	return mapped, issues
}

// ValidateTable validates every data row and flags natural-key duplicates.
// Row numbers are 1-based over data rows.
func (v *FieldValidator) ValidateTable(t *Table, mapping map[string]string) []RowResult {
	results := make([]RowResult, 0, len(t.Records))
	firstSeen := make(map[string]int)

	for i, rec := range t.Records {
		raw := t.RawRow(rec)
		mapped, issues := v.ValidateRow(raw, mapping)
		rowNum := i + 1

		if key := naturalKey(mapped); key != "" {
			if first, dup := firstSeen[key]; dup {
				issues = append(issues, RowIssue{
					Category:   CategoryDuplicate,
					Severity:   SeverityError,
					Code:       "duplicate_record",
					Message:    fmt.Sprintf("%s %q duplicates row %d", NaturalKeyField, mapped.Str(NaturalKeyField), first),
					Field:      NaturalKeyField,
					RawValue:   mapped.Str(NaturalKeyField),
					Suggestion: fmt.Sprintf("remove this row or merge it into row %d", first),
					RelatedRow: first,
				})
			} else {
				firstSeen[key] = rowNum
			}
		}

		results = append(results, RowResult{
			RowNumber: rowNum,
			Raw:       raw,
			Mapped:    mapped,
			Issues:    issues,
			Status:    StatusForIssues(issues),
		})
	}
	return results
}

// MissingRequired returns required targets that no source column maps to
// and that have no default.
func (v *FieldValidator) MissingRequired(mapping map[string]string) []string {
	mappedTargets := make(map[string]bool, len(mapping))
	for _, t := range mapping {
		mappedTargets[t] = true
	}
	var missing []string
	for _, s := range v.specs {
		if s.Required && s.Default == "" && !mappedTargets[s.Name] {
			missing = append(missing, s.Name)
		}
	}
	return missing
}

// StatusForIssues derives the row verdict. A row is valid iff it has no
// blocking issue; non-blocking issues make it a warning.
func StatusForIssues(issues []RowIssue) RowStatus {
	status := RowValid
	for _, is := range issues {
		if is.Severity.Blocking() {
			return RowInvalid
		}
		status = RowWarning
	}
	return status
}

func (v *FieldValidator) checkRules(spec FieldSpec, val Value) []RowIssue {
	var issues []RowIssue
	s := val.String()
	fail := func(code, msg, suggestion string) {
		issues = append(issues, RowIssue{
			Category:   CategoryBusinessRule,
			Severity:   SeverityError,
			Code:       code,
			Message:    fmt.Sprintf("%s %q %s", spec.Name, s, msg),
			Field:      spec.Name,
			RawValue:   s,
			Suggestion: suggestion,
		})
	}
	for _, r := range spec.Rules {
		name, arg, _ := strings.Cut(r, ":")
		switch name {
		case "min_length":
			n, _ := strconv.Atoi(arg)
			if utf8.RuneCountInString(s) < n {
				fail("min_length", fmt.Sprintf("is shorter than %d characters", n), "")
			}
		case "max_length":
			n, _ := strconv.Atoi(arg)
			if utf8.RuneCountInString(s) > n {
				fail("max_length", fmt.Sprintf("is longer than %d characters", n), "")
			}
		case "pattern":
			if re := v.patterns[spec.Name+"|"+arg]; re != nil && !re.MatchString(s) {
				fail("pattern_mismatch", "does not match the required format", "expected format "+arg)
			}
		case "one_of":
			allowed := strings.Split(arg, "|")
			ok := false
			for _, a := range allowed {
				if strings.EqualFold(a, s) {
					ok = true
					break
				}
			}
			if !ok {
				fail("not_allowed", "is not an allowed value", "one of: "+strings.Join(allowed, ", "))
			}
		}
	}
	return issues
}

func applyTransforms(s string, transforms []string) string {
	for _, t := range transforms {
		switch t {
		case "trim":
			s = strings.Join(strings.Fields(s), " ")
		case "lower":
			s = strings.ToLower(s)
		case "upper":
			s = strings.ToUpper(s)
		case "title":
			s = cases.Title(language.Und).String(strings.ToLower(s))
		}
	}
	return s
}

func naturalKey(m MappedFields) string {
	return m.Str(NaturalKeyField)
}

func hasIssueFor(issues []RowIssue, field string) bool {
	for _, is := range issues {
		if is.Field == field {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
