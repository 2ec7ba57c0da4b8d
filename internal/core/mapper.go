package core

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// DelimiterSampleSize is how many leading bytes DetectDelimiter inspects.
const DelimiterSampleSize = 1024

// candidateDelimiters in tie-break order.
var candidateDelimiters = []rune{',', ';', '\t', '|'}

var headerSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// defaultAliases lists known source spellings per target field.
var defaultAliases = map[string][]string{
	TargetEmployeeID:  {"employee_id", "emp_id", "employee number", "employee_no", "emp_no", "emp_num", "employee_code", "staff_id", "worker_id", "badge_number"},
	TargetEmail:       {"email", "e-mail", "email_address", "work_email", "business_email", "corporate_email", "mail"},
	TargetFirstName:   {"first_name", "first", "firstname", "given_name", "fname", "forename"},
	TargetLastName:    {"last_name", "last", "lastname", "surname", "family_name", "lname"},
	TargetHireDate:    {"hire_date", "start_date", "date_of_hire", "hired_on", "joining_date", "date_joined", "employment_start"},
	TargetPhone:       {"phone", "phone_number", "mobile", "mobile_number", "cell", "telephone", "work_phone", "contact_number"},
	TargetDepartment:  {"department", "dept", "division", "team"},
	TargetJobTitle:    {"job_title", "title", "position", "designation"},
	TargetLocation:    {"location", "office", "site", "work_location"},
	TargetManagerID:   {"manager_id", "manager", "supervisor_id", "reports_to", "manager_employee_id"},
	TargetSalary:      {"salary", "base_salary", "annual_salary", "compensation"},
	TargetWeeklyHours: {"weekly_hours", "hours_per_week", "hours"},
}

// Suggestion is the Column Mapper's output. Mapping is source header to
// target field; unmatched headers are listed but never mapped.
type Suggestion struct {
	Headers    []string            `json:"headers"`
	Mapping    map[string]string   `json:"mapping"`
	Unmatched  []string            `json:"unmatched,omitempty"`
	Candidates map[string][]string `json:"candidates,omitempty"`
	Delimiter  string              `json:"delimiter,omitempty"`
	Format     string              `json:"format"`
	Checksum   string              `json:"checksum"`
}

// ColumnMapper suggests source-to-target mappings from header text.
type ColumnMapper struct {
	aliases  map[string]string // normalized alias -> target
	patterns []targetPattern
	order    []string
}

type targetPattern struct {
	re     *regexp.Regexp
	target string
}

// NewColumnMapper builds a mapper from the built-in alias table plus any
// active tenant rules. Rule source columns take precedence over built-ins.
func NewColumnMapper(rules []FieldMappingRule) *ColumnMapper {
	m := &ColumnMapper{aliases: make(map[string]string)}
	for _, spec := range EmployeeFields() {
		m.order = append(m.order, spec.Name)
		for _, a := range defaultAliases[spec.Name] {
			m.aliases[NormalizeHeader(a)] = spec.Name
		}
	}
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		m.aliases[NormalizeHeader(r.SourceColumn)] = r.TargetField
		for _, p := range r.DetectionPatterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				continue
			}
			m.patterns = append(m.patterns, targetPattern{re: re, target: r.TargetField})
		}
	}
	return m
}

// NormalizeHeader lowercases, trims and collapses separator runs to "_".
func NormalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.Trim(headerSeparators.ReplaceAllString(h, "_"), "_")
}

// DetectDelimiter picks the most frequent candidate in the leading sample.
// Ties go to the earlier candidate, so comma wins by default.
func DetectDelimiter(data []byte) rune {
	sample := data
	if len(sample) > DelimiterSampleSize {
		sample = sample[:DelimiterSampleSize]
	}
	best, bestCount := ',', 0
	for _, d := range candidateDelimiters {
		if n := strings.Count(string(sample), string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// Checksum is the content address of an upload: hex SHA-256 of the bytes.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Suggest maps each header to a target. Each target is claimed by the
// first header that matches it.
func (m *ColumnMapper) Suggest(headers []string) (map[string]string, []string) {
	mapping := make(map[string]string)
	claimed := make(map[string]bool)
	var unmatched []string

	for _, h := range headers {
		target, ok := m.match(h)
		if !ok || claimed[target] {
			unmatched = append(unmatched, h)
			continue
		}
		mapping[h] = target
		claimed[target] = true
	}
	return mapping, unmatched
}

func (m *ColumnMapper) match(header string) (string, bool) {
	norm := NormalizeHeader(header)
	if norm == "" {
		return "", false
	}
	if t, ok := m.aliases[norm]; ok {
		return t, true
	}
	for _, p := range m.patterns {
		if p.re.MatchString(norm) {
			return p.target, true
		}
	}
	return "", false
}

// Candidates ranks up to three plausible targets for an unmatched header.
func (m *ColumnMapper) Candidates(header string) []string {
	norm := NormalizeHeader(header)
	if norm == "" {
		return nil
	}
	aliases := make([]string, 0, len(m.aliases))
	for a := range m.aliases {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)

	ranks := fuzzy.RankFindNormalizedFold(norm, aliases)
	sort.Stable(ranks)
	var out []string
	seen := make(map[string]bool)
	for _, r := range ranks {
		t := m.aliases[r.Target]
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// Analyze reads the header row and returns the suggestion. It never fails:
// an unreadable file or one without a header yields no headers and an
// empty mapping. A header with no data rows is still mapped.
// override entries replace suggestions; an empty target drops the column.
func (m *ColumnMapper) Analyze(data []byte, filename string, delimiter rune, override map[string]string) Suggestion {
	s := Suggestion{
		Mapping:  map[string]string{},
		Checksum: Checksum(data),
		Format:   FormatDelimited,
	}
	t, err := readHeaderAndRows(data, filename, delimiter)
	if err != nil {
		if delimiter == 0 {
			delimiter = DetectDelimiter(data)
		}
		s.Delimiter = string(delimiter)
		return s
	}
	s.Format = t.Format
	if t.Delimiter != 0 {
		s.Delimiter = string(t.Delimiter)
	}
	s.Headers = t.Headers

	mapping, unmatched := m.Suggest(t.Headers)
	s.Mapping = ApplyOverride(mapping, t.Headers, override)

	for _, h := range unmatched {
		if _, mapped := s.Mapping[h]; mapped {
			continue
		}
		s.Unmatched = append(s.Unmatched, h)
		if c := m.Candidates(h); len(c) > 0 {
			if s.Candidates == nil {
				s.Candidates = make(map[string][]string)
			}
			s.Candidates[h] = c
		}
	}
	return s
}

// ApplyOverride merges a caller mapping over suggestions. Caller keys may
// name a header exactly or by its normalized form. A target claimed by the
// caller is removed from any suggested column.
func ApplyOverride(suggested map[string]string, headers []string, override map[string]string) map[string]string {
	out := make(map[string]string, len(suggested))
	for k, v := range suggested {
		out[k] = v
	}
	if len(override) == 0 {
		return out
	}

	byNorm := make(map[string]string, len(headers))
	for _, h := range headers {
		byNorm[NormalizeHeader(h)] = h
	}

	for _, key := range sortedKeys(override) {
		target := override[key]
		header, ok := byNorm[NormalizeHeader(key)]
		if !ok {
			continue
		}
		if target == "" {
			delete(out, header)
			continue
		}
		for src, t := range out {
			if t == target && src != header {
				delete(out, src)
			}
		}
		out[header] = target
	}
	return out
}
