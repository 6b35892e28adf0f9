package safety

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed defaultrules.yaml
var defaultRulesYAML []byte

type ruleFile struct {
	Version  string                `yaml:"version"`
	Services map[string][]ruleSpec `yaml:"services"`
}

type ruleSpec struct {
	ID          string          `yaml:"id"`
	Version     int             `yaml:"version"`
	Description string          `yaml:"description"`
	Outcome     string          `yaml:"outcome"`
	RiskTier    string          `yaml:"risk_tier"`
	Conditions  []conditionSpec `yaml:"conditions"`
	FollowUp    []string        `yaml:"follow_up"`
}

type conditionSpec struct {
	Field    string      `yaml:"field"`
	Operator string      `yaml:"operator"`
	Value    interface{} `yaml:"value"`
}

// DefaultRuleSet returns the built-in rules shipped with the binary.
func DefaultRuleSet() (*RuleSet, error) {
	return ParseRuleSet(defaultRulesYAML)
}

// LoadRuleSet reads and validates a YAML rule file.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: "read rule file " + path, Err: err}
	}
	return ParseRuleSet(data)
}

// ParseRuleSet decodes a YAML rule document. Unknown keys are rejected.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f ruleFile
	if err := dec.Decode(&f); err != nil {
		return nil, &ConfigurationError{Reason: "decode rule file", Err: err}
	}

	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	services := make(map[ServiceType][]Rule, len(f.Services))
	for _, name := range names {
		st := ServiceType(name)
		rules := make([]Rule, 0, len(f.Services[name]))
		for _, spec := range f.Services[name] {
			r, err := spec.toRule(st)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			rules = append(rules, r)
		}
		services[st] = rules
	}
	if len(errs) > 0 {
		return nil, &ConfigurationError{Reason: "invalid rules", Err: errors.Join(errs...)}
	}
	return NewRuleSet(f.Version, services)
}

func (s ruleSpec) toRule(st ServiceType) (Rule, error) {
	r := Rule{
		ID:                s.ID,
		Version:           s.Version,
		Description:       s.Description,
		Outcome:           Outcome(s.Outcome),
		RiskTier:          RiskTier(s.RiskTier),
		FollowUpQuestions: s.FollowUp,
	}
	if r.Version == 0 {
		r.Version = 1
	}
	var errs []error
	for i, cs := range s.Conditions {
		v, err := ParseValue(cs.Value)
		if err != nil {
			errs = append(errs, &MalformedConditionError{
				ServiceType: st, RuleID: s.ID, Index: i,
				Field: cs.Field, Operator: Operator(cs.Operator),
				Reason: fmt.Sprintf("value: %v", err),
			})
			continue
		}
		r.Conditions = append(r.Conditions, Condition{
			Field:    cs.Field,
			Operator: Operator(cs.Operator),
			Value:    v,
		})
	}
	if len(errs) > 0 {
		return Rule{}, errors.Join(errs...)
	}
	return r, nil
}

// Reload loads rules from path, or the built-in rules when path is empty,
// and publishes them. On failure the current rule set stays in force.
func (r *Registry) Reload(path string) (*RuleSet, error) {
	var (
		rs  *RuleSet
		err error
	)
	if path == "" {
		rs, err = DefaultRuleSet()
	} else {
		rs, err = LoadRuleSet(path)
	}
	if err != nil {
		return nil, err
	}
	if _, err := r.Swap(rs); err != nil {
		return nil, err
	}
	return rs, nil
}
