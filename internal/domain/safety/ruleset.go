package safety

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
)

// RuleSet is an immutable mapping from service type to its ordered rules.
type RuleSet struct {
	version  string
	services map[ServiceType][]Rule
}

// NewRuleSet validates and copies the given rules. Every malformed rule is
// reported in one ConfigurationError.
func NewRuleSet(version string, services map[ServiceType][]Rule) (*RuleSet, error) {
	if version == "" {
		return nil, &ConfigurationError{Reason: "rule set version is required"}
	}
	if len(services) == 0 {
		return nil, &ConfigurationError{Reason: "rule set declares no services"}
	}

	var errs []error
	copied := make(map[ServiceType][]Rule, len(services))
	for _, st := range sortedServiceTypes(services) {
		rules := services[st]
		if st == "" {
			errs = append(errs, errors.New("empty service type"))
			continue
		}
		if len(rules) == 0 {
			errs = append(errs, fmt.Errorf("service %q has no rules", st))
			continue
		}
		errs = append(errs, ValidateRules(st, rules)...)
		copied[st] = cloneRules(rules)
	}
	if len(errs) > 0 {
		return nil, &ConfigurationError{Reason: "invalid rules", Err: errors.Join(errs...)}
	}
	return &RuleSet{version: version, services: copied}, nil
}

func (rs *RuleSet) Version() string {
	if rs == nil {
		return ""
	}
	return rs.version
}

// ServiceTypes returns the configured service types in sorted order.
func (rs *RuleSet) ServiceTypes() []ServiceType {
	return sortedServiceTypes(rs.services)
}

// RulesFor returns a copy of the ordered rules for st.
func (rs *RuleSet) RulesFor(st ServiceType) ([]Rule, error) {
	rules, ok := rs.services[st]
	if !ok {
		return nil, &ConfigurationError{ServiceType: st, Err: ErrRuleSetNotFound}
	}
	return cloneRules(rules), nil
}

// Snapshot lets a fixed RuleSet serve as a RuleSource.
func (rs *RuleSet) Snapshot() (*RuleSet, error) {
	if rs == nil {
		return nil, &ConfigurationError{Reason: "no rule set loaded"}
	}
	return rs, nil
}

// InertRule identifies a rule that can never fire.
type InertRule struct {
	ServiceType ServiceType `json:"service_type"`
	RuleID      string      `json:"rule_id"`
}

// InertRules lists zero-condition rules in service and definition order.
func (rs *RuleSet) InertRules() []InertRule {
	var out []InertRule
	for _, st := range rs.ServiceTypes() {
		for _, r := range rs.services[st] {
			if r.Inert() {
				out = append(out, InertRule{ServiceType: st, RuleID: r.ID})
			}
		}
	}
	return out
}

// ServiceSummary counts the rules configured for a service type.
type ServiceSummary struct {
	ServiceType ServiceType `json:"service_type"`
	Rules       int         `json:"rules"`
	Inert       int         `json:"inert"`
	Critical    int         `json:"critical"`
}

func (rs *RuleSet) Summary() []ServiceSummary {
	out := make([]ServiceSummary, 0, len(rs.services))
	for _, st := range rs.ServiceTypes() {
		s := ServiceSummary{ServiceType: st, Rules: len(rs.services[st])}
		for _, r := range rs.services[st] {
			if r.Inert() {
				s.Inert++
			}
			if r.RiskTier == TierCritical {
				s.Critical++
			}
		}
		out = append(out, s)
	}
	return out
}

// ValidateRules checks the rules of one service best-effort and returns
// one error per problem found.
func ValidateRules(st ServiceType, rules []Rule) []error {
	var errs []error
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		bad := func(reason string, args ...interface{}) {
			errs = append(errs, &MalformedConditionError{
				ServiceType: st, RuleID: r.ID, Index: -1,
				Reason: fmt.Sprintf(reason, args...),
			})
		}
		switch {
		case r.ID == "":
			bad("missing rule id")
		case seen[r.ID]:
			bad("duplicate rule id")
		}
		seen[r.ID] = true

		if !r.Outcome.Valid() {
			bad("unknown outcome %q", r.Outcome)
		}
		if !r.RiskTier.Valid() {
			bad("unknown risk tier %q", r.RiskTier)
		}
		if len(r.FollowUpQuestions) > 0 && r.Outcome != OutcomeNeedsMoreInfo {
			bad("follow-up questions require outcome %s", OutcomeNeedsMoreInfo)
		}
		for i, c := range r.Conditions {
			if reason := conditionProblem(c); reason != "" {
				errs = append(errs, &MalformedConditionError{
					ServiceType: st, RuleID: r.ID, Index: i,
					Field: c.Field, Operator: c.Operator, Reason: reason,
				})
			}
		}
	}
	return errs
}

func conditionProblem(c Condition) string {
	if c.Field == "" {
		return "empty field"
	}
	switch c.Operator {
	case OpEquals, OpNotEquals:
		if !c.Value.IsScalar() {
			return fmt.Sprintf("needs a scalar value, got %s", c.Value.Kind())
		}
	case OpOneOf, OpNotOneOf:
		if c.Value.Kind() != KindList || len(c.Value.list) == 0 {
			return "needs a non-empty list value"
		}
	case OpGreaterThan, OpLessThan:
		if c.Value.Kind() != KindNumber {
			return fmt.Sprintf("needs a numeric value, got %s", c.Value.Kind())
		}
	case OpIsPresent, OpIsAbsent:
		if c.Value.Kind() != KindNone {
			return "takes no value"
		}
	default:
		return "unknown operator"
	}
	return ""
}

// Registry publishes the rule set in force. Reload swaps in a whole new
// RuleSet; a published RuleSet is never modified.
type Registry struct {
	current atomic.Pointer[RuleSet]
}

func NewRegistry(rs *RuleSet) *Registry {
	r := &Registry{}
	if rs != nil {
		r.current.Store(rs)
	}
	return r
}

func (r *Registry) Snapshot() (*RuleSet, error) {
	rs := r.current.Load()
	if rs == nil {
		return nil, &ConfigurationError{Reason: "no rule set loaded"}
	}
	return rs, nil
}

// Swap publishes rs and returns the previous rule set.
func (r *Registry) Swap(rs *RuleSet) (*RuleSet, error) {
	if rs == nil {
		return nil, errors.New("registry: cannot publish a nil rule set")
	}
	return r.current.Swap(rs), nil
}

func sortedServiceTypes(m map[ServiceType][]Rule) []ServiceType {
	out := make([]ServiceType, 0, len(m))
	for st := range m {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func cloneRules(in []Rule) []Rule {
	out := make([]Rule, len(in))
	for i, r := range in {
		r.Conditions = append([]Condition(nil), r.Conditions...)
		r.FollowUpQuestions = cloneStrings(r.FollowUpQuestions)
		out[i] = r
	}
	return out
}
