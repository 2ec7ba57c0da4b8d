package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// newStructValidator returns a validator with the pipeline's custom tags.
func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("employee_field", func(fl validator.FieldLevel) bool {
		return isTargetField(fl.Field().String())
	})
	_ = v.RegisterValidation("delimiter", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case ",", ";", "|", "\t", "tab":
			return true
		}
		return false
	})
	return v
}

// invalidOptions converts a validator failure to a structured error.
func invalidOptions(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return newError(CodeInvalidOptions, fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag())).field(fe.Field())
	}
	return newError(CodeInvalidOptions, err.Error())
}

func isTargetField(name string) bool {
	for _, s := range EmployeeFields() {
		if s.Name == name {
			return true
		}
	}
	return false
}

// SpecsForTenant overlays active tenant rules onto the built-in catalogue.
func SpecsForTenant(rules []FieldMappingRule) []FieldSpec {
	specs := EmployeeFields()
	idx := make(map[string]int, len(specs))
	for i, s := range specs {
		idx[s.Name] = i
	}
	for _, r := range rules {
		i, ok := idx[r.TargetField]
		if !ok || !r.IsActive {
			continue
		}
		s := &specs[i]
		if r.DataType != "" {
			s.Type = r.DataType
		}
		s.Required = s.Required || r.Required
		s.Default = r.DefaultValue
		s.Rules = append([]string(nil), r.ValidationRules...)
		s.Transforms = append([]string(nil), r.TransformRules...)
	}
	return specs
}

// RuleManager maintains tenant field mapping rules.
type RuleManager struct {
	store    Store
	audit    *AuditLogger
	validate *validator.Validate
	now      func() time.Time
}

// NewRuleManager creates a rule manager.
func NewRuleManager(store Store, audit *AuditLogger, now func() time.Time) *RuleManager {
	if now == nil {
		now = time.Now
	}
	return &RuleManager{store: store, audit: audit, validate: newStructValidator(), now: now}
}

// Create stores a rule. Creating an active rule while another is active for
// the same tenant and target returns RULE_CONFLICT; the existing rule is
// left untouched.
func (m *RuleManager) Create(ctx context.Context, actor Actor, rule FieldMappingRule) (*FieldMappingRule, error) {
	if !actor.Can(CapRulesManage) {
		return nil, newError(CodeForbidden, "actor may not manage mapping rules")
	}
	if err := m.validate.Struct(rule); err != nil {
		return nil, invalidOptions(err)
	}
	if _, err := NewFieldValidator(SpecsForTenant([]FieldMappingRule{rule})); err != nil {
		return nil, newError(CodeInvalidOptions, err.Error()).field("validation_rules")
	}

	now := m.now().UTC()
	rule.ID = uuid.New()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	err := m.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertRule(ctx, &rule); err != nil {
			return err
		}
		return m.audit.Record(ctx, tx, AuditParams{
			TenantID: rule.TenantID,
			Actor:    actor,
			Action:   AuditRuleCreated,
			Details: map[string]any{
				"rule_id":       rule.ID.String(),
				"source_column": rule.SourceColumn,
				"target_field":  rule.TargetField,
				"is_active":     rule.IsActive,
			},
		})
	})
	if errors.Is(err, ErrConflict) {
		return nil, newError(CodeRuleConflict,
			fmt.Sprintf("an active rule for %s already exists for this tenant", rule.TargetField)).field("target_field")
	}
	if err != nil {
		return nil, infraError("create mapping rule", err)
	}
	return &rule, nil
}

// Deactivate marks a rule inactive, freeing its target for another rule.
func (m *RuleManager) Deactivate(ctx context.Context, actor Actor, tenantID string, id uuid.UUID) error {
	if !actor.Can(CapRulesManage) {
		return newError(CodeForbidden, "actor may not manage mapping rules")
	}
	err := m.store.InTx(ctx, func(tx Tx) error {
		r, err := tx.GetRule(ctx, id)
		if err != nil {
			return err
		}
		if r.TenantID != tenantID {
			return ErrNotFound
		}
		if !r.IsActive {
			return nil
		}
		r.IsActive = false
		r.UpdatedAt = m.now().UTC()
		if err := tx.UpdateRule(ctx, r); err != nil {
			return err
		}
		return m.audit.Record(ctx, tx, AuditParams{
			TenantID: tenantID,
			Actor:    actor,
			Action:   AuditRuleDeactivated,
			Details:  map[string]any{"rule_id": id.String(), "target_field": r.TargetField},
		})
	})
	if errors.Is(err, ErrNotFound) {
		return newError(CodeInvalidOptions, "mapping rule not found").field("rule_id")
	}
	if err != nil {
		return infraError("deactivate mapping rule", err)
	}
	return nil
}

// List returns a tenant's rules.
func (m *RuleManager) List(ctx context.Context, tenantID string, activeOnly bool) ([]FieldMappingRule, error) {
	var rules []FieldMappingRule
	err := m.store.InTx(ctx, func(tx Tx) error {
		var err error
		rules, err = tx.ListRules(ctx, tenantID, activeOnly)
		return err
	})
	if err != nil {
		return nil, infraError("list mapping rules", err)
	}
	return rules, nil
}

// ImportFile loads rules from a file and creates each one. Rules without a
// tenant belong to the actor's tenant. Rules that conflict with an existing active rule are reported, not replaced.
func (m *RuleManager) ImportFile(ctx context.Context, actor Actor, path string) (created int, conflicts []string, err error) {
	rules, err := LoadRuleFile(path)
	if err != nil {
		return 0, nil, err
	}
	for _, r := range rules {
		if r.TenantID == "" {
			r.TenantID = actor.TenantID
		}
		if _, err := m.Create(ctx, actor, r); err != nil {
			if ErrorCode(err) == CodeRuleConflict {
				conflicts = append(conflicts, r.TenantID+"/"+r.TargetField)
				continue
			}
			return created, conflicts, err
		}
		created++
	}
	return created, conflicts, nil
}

// ruleFile is the on-disk layout of a rule seed file.
type ruleFile struct {
	Rules []FieldMappingRule `mapstructure:"rules"`
}

// LoadRuleFile reads rules from a YAML, JSON or TOML file. Rules without an
// explicit is_active are active.
func LoadRuleFile(path string) ([]FieldMappingRule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rule file %s: %w", path, err)
	}

	var f ruleFile
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("decode rule file %s: %w", path, err)
	}

	raw, _ := v.Get("rules").([]any)
	for i := range f.Rules {
		if i < len(raw) {
			if m, ok := raw[i].(map[string]any); ok {
				if _, set := m["is_active"]; !set {
					f.Rules[i].IsActive = true
				}
			}
		}
	}
	return f.Rules, nil
}
