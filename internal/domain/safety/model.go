package safety

// Outcome is the triage decision for an intake.
type Outcome string

const (
	OutcomeAllow          Outcome = "allow"
	OutcomeNeedsMoreInfo  Outcome = "needs_more_info"
	OutcomeBlockEmergency Outcome = "block_emergency"
)

var outcomeSeverity = map[Outcome]int{
	OutcomeAllow:          0,
	OutcomeNeedsMoreInfo:  1,
	OutcomeBlockEmergency: 2,
}

// Valid reports whether o is one of the three known outcomes.
func (o Outcome) Valid() bool {
	_, ok := outcomeSeverity[o]
	return ok
}

// effective maps an unknown outcome to needs_more_info so that a rule
// which fired can never be read as a pass.
func (o Outcome) effective() Outcome {
	if o.Valid() {
		return o
	}
	return OutcomeNeedsMoreInfo
}

func (o Outcome) severity() int {
	return outcomeSeverity[o.effective()]
}

// RiskTier orders triggered rules for display and flags critical findings.
// It never influences outcome precedence.
type RiskTier string

const (
	TierLow      RiskTier = "low"
	TierModerate RiskTier = "moderate"
	TierHigh     RiskTier = "high"
	TierCritical RiskTier = "critical"
)

var tierRank = map[RiskTier]int{
	TierLow:      1,
	TierModerate: 2,
	TierHigh:     3,
	TierCritical: 4,
}

func (t RiskTier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// Rank returns 1 (low) through 4 (critical), or 0 for an unknown tier.
func (t RiskTier) Rank() int {
	return tierRank[t]
}

// ServiceType selects the rule set applicable to an intake.
type ServiceType string

const (
	ServiceMedicalCertificate ServiceType = "med_cert"
	ServicePrescription       ServiceType = "prescription"
	ServiceConsultation       ServiceType = "consult"
)

// Builtin reports whether st is one of the service types offered by
// default. Rule files may add others.
func (st ServiceType) Builtin() bool {
	switch st {
	case ServiceMedicalCertificate, ServicePrescription, ServiceConsultation:
		return true
	}
	return false
}

// Answers is a snapshot of intake answers keyed by question field. Values
// are whatever the intake form produced: strings, numbers, booleans, lists
// of strings, or nil.
type Answers map[string]interface{}

// Operator is the comparison applied by a Condition.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpOneOf       Operator = "one_of"
	OpNotOneOf    Operator = "not_one_of"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsPresent   Operator = "is_present"
	OpIsAbsent    Operator = "is_absent"
)

// Operators lists the closed operator set in documentation order.
var Operators = []Operator{
	OpEquals, OpNotEquals, OpOneOf, OpNotOneOf,
	OpGreaterThan, OpLessThan, OpIsPresent, OpIsAbsent,
}

// Condition is a predicate over a single answer field.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    Value    `json:"value"`
}

// Rule is one declarative safety rule. All conditions must hold for the
// rule to fire; a rule without conditions is inert.
type Rule struct {
	ID                string      `json:"id"`
	Version           int         `json:"version"`
	Description       string      `json:"description"`
	Conditions        []Condition `json:"conditions"`
	Outcome           Outcome     `json:"outcome"`
	RiskTier          RiskTier    `json:"risk_tier"`
	FollowUpQuestions []string    `json:"follow_up_questions,omitempty"`
}

// Inert reports whether the rule can never fire.
func (r Rule) Inert() bool {
	return len(r.Conditions) == 0
}

// TriggeredRule records one rule that fired during an evaluation.
type TriggeredRule struct {
	RuleID            string   `json:"rule_id"`
	RuleVersion       int      `json:"rule_version"`
	Description       string   `json:"description"`
	Outcome           Outcome  `json:"outcome"`
	RiskTier          RiskTier `json:"risk_tier"`
	FollowUpQuestions []string `json:"follow_up_questions,omitempty"`
}

// EvaluationResult is the aggregate verdict of one evaluation pass.
type EvaluationResult struct {
	Outcome           Outcome         `json:"outcome"`
	TriggeredRules    []TriggeredRule `json:"triggered_rules"`
	FollowUpQuestions []string        `json:"follow_up_questions"`
	CriticalFired     bool            `json:"critical_fired"`
	ServiceType       ServiceType     `json:"service_type,omitempty"`
	RuleSetVersion    string          `json:"rule_set_version,omitempty"`
}

// HighestTier returns the tier of the first triggered rule, or "" when
// nothing fired.
func (r EvaluationResult) HighestTier() RiskTier {
	if len(r.TriggeredRules) == 0 {
		return ""
	}
	return r.TriggeredRules[0].RiskTier
}

// TriggeredRuleIDs returns the ids of the triggered rules in result order.
func (r EvaluationResult) TriggeredRuleIDs() []string {
	ids := make([]string, 0, len(r.TriggeredRules))
	for _, t := range r.TriggeredRules {
		ids = append(ids, t.RuleID)
	}
	return ids
}
