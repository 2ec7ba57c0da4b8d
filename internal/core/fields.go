package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType is the coercion applied to a mapped cell.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldEmail   FieldType = "email"
	FieldPhone   FieldType = "phone"
	FieldDate    FieldType = "date"
	FieldDecimal FieldType = "decimal"
	FieldInteger FieldType = "integer"
)

// Known reports whether the type has a coercion rule.
func (t FieldType) Known() bool {
	switch t {
	case FieldString, FieldEmail, FieldPhone, FieldDate, FieldDecimal, FieldInteger:
		return true
	}
	return false
}

// Target field names on the employee entity.
const (
	TargetEmployeeID  = "employee_id"
	TargetEmail       = "email"
	TargetFirstName   = "first_name"
	TargetLastName    = "last_name"
	TargetHireDate    = "hire_date"
	TargetPhone       = "phone"
	TargetDepartment  = "department"
	TargetJobTitle    = "job_title"
	TargetLocation    = "location"
	TargetManagerID   = "manager_id"
	TargetSalary      = "salary"
	TargetWeeklyHours = "weekly_hours"
)

// NaturalKeyField identifies an employee across files and the store.
const NaturalKeyField = TargetEmployeeID

// FieldSpec defines coercion and presence rules for one target field.
type FieldSpec struct {
	Name       string
	Type       FieldType
	Required   bool
	Default    string
	Rules      []string // min_length:N, max_length:N, pattern:RE, one_of:a|b
	Transforms []string // trim, lower, upper, title
}

// EmployeeFields is the built-in target catalogue in column order.
func EmployeeFields() []FieldSpec {
	return []FieldSpec{
		{Name: TargetEmployeeID, Type: FieldString, Required: true},
		{Name: TargetEmail, Type: FieldEmail, Required: true},
		{Name: TargetFirstName, Type: FieldString, Required: true},
		{Name: TargetLastName, Type: FieldString, Required: true},
		{Name: TargetHireDate, Type: FieldDate},
		{Name: TargetPhone, Type: FieldPhone},
		{Name: TargetDepartment, Type: FieldString},
		{Name: TargetJobTitle, Type: FieldString},
		{Name: TargetLocation, Type: FieldString},
		{Name: TargetManagerID, Type: FieldString},
		{Name: TargetSalary, Type: FieldDecimal},
		{Name: TargetWeeklyHours, Type: FieldInteger},
	}
}

// Value is a typed cell. A nil Value is null.
type Value interface {
	Type() FieldType
	String() string
}

type (
	StringValue  string
	EmailValue   string
	PhoneValue   string
	DateValue    time.Time
	DecimalValue decimal.Decimal
	IntegerValue int64
)

func (StringValue) Type() FieldType  { return FieldString }
func (EmailValue) Type() FieldType   { return FieldEmail }
func (PhoneValue) Type() FieldType   { return FieldPhone }
func (DateValue) Type() FieldType    { return FieldDate }
func (DecimalValue) Type() FieldType { return FieldDecimal }
func (IntegerValue) Type() FieldType { return FieldInteger }

func (v StringValue) String() string  { return string(v) }
func (v EmailValue) String() string   { return string(v) }
func (v PhoneValue) String() string   { return string(v) }
func (v DateValue) String() string    { return time.Time(v).Format(isoDate) }
func (v DecimalValue) String() string { return decimal.Decimal(v).String() }
func (v IntegerValue) String() string { return strconv.FormatInt(int64(v), 10) }

// MappedFields holds the typed output of validation keyed by target field.
type MappedFields map[string]Value

// Str returns the string form of a field, or "" when null.
func (m MappedFields) Str(field string) string {
	if v, ok := m[field]; ok && v != nil {
		return v.String()
	}
	return ""
}

// Ptr returns the string form of a field, or nil when null.
func (m MappedFields) Ptr(field string) *string {
	if v, ok := m[field]; ok && v != nil {
		s := v.String()
		return &s
	}
	return nil
}

type encodedValue struct {
	Type  FieldType `json:"type"`
	Value string    `json:"value"`
}

// MarshalJSON encodes each value with its type tag so decoding restores the variant.
func (m MappedFields) MarshalJSON() ([]byte, error) {
	out := make(map[string]*encodedValue, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = nil
			continue
		}
		out[k] = &encodedValue{Type: v.Type(), Value: v.String()}
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores typed values written by MarshalJSON.
func (m *MappedFields) UnmarshalJSON(data []byte) error {
	var in map[string]*encodedValue
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	res := make(MappedFields, len(in))
	for k, ev := range in {
		if ev == nil {
			res[k] = nil
			continue
		}
		v, err := decodeValue(ev.Type, ev.Value)
		if err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		res[k] = v
	}
	*m = res
	return nil
}

func decodeValue(t FieldType, s string) (Value, error) {
	switch t {
	case FieldString:
		return StringValue(s), nil
	case FieldEmail:
		return EmailValue(s), nil
	case FieldPhone:
		return PhoneValue(s), nil
	case FieldDate:
		d, err := time.Parse(isoDate, s)
		if err != nil {
			return nil, err
		}
		return DateValue(d), nil
	case FieldDecimal:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, err
		}
		return DecimalValue(d), nil
	case FieldInteger:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return IntegerValue(i), nil
	default:
		return nil, fmt.Errorf("unknown field type %q", t)
	}
}
