package safety

import "sort"

// Evaluate runs every rule against answers and aggregates the verdict.
//
// Triggered rules are ordered by risk tier, highest first, keeping
// definition order within a tier. The outcome is the most severe outcome
// among triggered rules; tier never affects it. Follow-up questions are only
// returned for a needs_more_info verdict, de-duplicated in first-seen order.
// Neither answers nor rules are modified.
func Evaluate(answers Answers, rules []Rule) EvaluationResult {
	triggered := make([]TriggeredRule, 0)
	for _, r := range rules {
		if r.Inert() || !MatchAll(answers, r.Conditions) {
			continue
		}
		triggered = append(triggered, TriggeredRule{
			RuleID:            r.ID,
			RuleVersion:       r.Version,
			Description:       r.Description,
			Outcome:           r.Outcome.effective(),
			RiskTier:          r.RiskTier,
			FollowUpQuestions: cloneStrings(r.FollowUpQuestions),
		})
	}

	sort.SliceStable(triggered, func(i, j int) bool {
		return triggered[i].RiskTier.Rank() > triggered[j].RiskTier.Rank()
	})

	result := EvaluationResult{
		Outcome:           OutcomeAllow,
		TriggeredRules:    triggered,
		FollowUpQuestions: make([]string, 0),
	}
	for _, t := range triggered {
		if t.Outcome.severity() > result.Outcome.severity() {
			result.Outcome = t.Outcome
		}
		if t.RiskTier == TierCritical {
			result.CriticalFired = true
		}
	}

	if result.Outcome == OutcomeNeedsMoreInfo {
		seen := make(map[string]struct{})
		for _, t := range triggered {
			if t.Outcome != OutcomeNeedsMoreInfo {
				continue
			}
			for _, q := range t.FollowUpQuestions {
				if _, dup := seen[q]; dup {
					continue
				}
				seen[q] = struct{}{}
				result.FollowUpQuestions = append(result.FollowUpQuestions, q)
			}
		}
	}
	return result
}

// MergeAnswers overlays followUp on original into a new snapshot. Follow-up
// values win on key collision.
func MergeAnswers(original, followUp Answers) Answers {
	merged := make(Answers, len(original)+len(followUp))
	for k, v := range original {
		merged[k] = v
	}
	for k, v := range followUp {
		merged[k] = v
	}
	return merged
}

// Reevaluate runs the full rule set against the merged answers. It is
// Evaluate on a new snapshot, never an incremental patch.
func Reevaluate(original, followUp Answers, rules []Rule) EvaluationResult {
	return Evaluate(MergeAnswers(original, followUp), rules)
}

// RuleSource hands out the rule set in force. Implementations must return
// an immutable snapshot.
type RuleSource interface {
	Snapshot() (*RuleSet, error)
}

// Evaluator binds the pure evaluation functions to a rule source keyed by
// service type.
type Evaluator struct {
	source RuleSource
}

func NewEvaluator(source RuleSource) *Evaluator {
	return &Evaluator{source: source}
}

// Evaluate looks up the rules for st and evaluates answers against them.
// On a configuration error the returned result is a needs_more_info
// escalation and the error must still be treated as a hard stop.
func (e *Evaluator) Evaluate(st ServiceType, answers Answers) (EvaluationResult, error) {
	rules, version, err := e.lookup(st)
	if err != nil {
		return escalation(st, version), err
	}
	result := Evaluate(answers, rules)
	result.ServiceType = st
	result.RuleSetVersion = version
	return result, nil
}

// Reevaluate merges followUp into original and runs the full rule set
// again.
func (e *Evaluator) Reevaluate(st ServiceType, original, followUp Answers) (EvaluationResult, error) {
	return e.Evaluate(st, MergeAnswers(original, followUp))
}

// Rules returns the rules applied to st and the rule set version.
func (e *Evaluator) Rules(st ServiceType) ([]Rule, string, error) {
	return e.lookup(st)
}

func (e *Evaluator) lookup(st ServiceType) ([]Rule, string, error) {
	if e == nil || e.source == nil {
		return nil, "", &ConfigurationError{ServiceType: st, Reason: "no rule source configured"}
	}
	rs, err := e.source.Snapshot()
	if err != nil {
		return nil, "", err
	}
	rules, err := rs.RulesFor(st)
	if err != nil {
		return nil, rs.Version(), err
	}
	return rules, rs.Version(), nil
}

func escalation(st ServiceType, version string) EvaluationResult {
	return EvaluationResult{
		Outcome:           OutcomeNeedsMoreInfo,
		TriggeredRules:    make([]TriggeredRule, 0),
		FollowUpQuestions: make([]string, 0),
		ServiceType:       st,
		RuleSetVersion:    version,
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
