package safety

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	ruleChestPain = Rule{
		ID: "R1", Version: 1, Description: "Chest pain",
		Conditions: []Condition{{Field: "chest_pain", Operator: OpEquals, Value: Bool(true)}},
		Outcome:    OutcomeBlockEmergency, RiskTier: TierCritical,
	}
	ruleShortDuration = Rule{
		ID: "R2", Version: 1, Description: "Short symptom duration",
		Conditions:        []Condition{{Field: "symptom_duration_days", Operator: OpLessThan, Value: Number(3)}},
		Outcome:           OutcomeNeedsMoreInfo, RiskTier: TierModerate,
		FollowUpQuestions: []string{"onset_detail"},
	}
	ruleSuddenOnset = Rule{
		ID: "R3", Version: 1, Description: "Sudden onset",
		Conditions: []Condition{{Field: "onset_detail", Operator: OpEquals, Value: String("sudden")}},
		Outcome:    OutcomeBlockEmergency, RiskTier: TierHigh,
	}
)

func TestEvaluate_Scenarios(t *testing.T) {
	t.Run("critical rule blocks", func(t *testing.T) {
		res := Evaluate(Answers{"chest_pain": true}, []Rule{ruleChestPain})
		assert.Equal(t, OutcomeBlockEmergency, res.Outcome)
		assert.True(t, res.CriticalFired)
		assert.Equal(t, []string{"R1"}, res.TriggeredRuleIDs())
		assert.Empty(t, res.FollowUpQuestions)
	})

	t.Run("needs more info returns follow-ups", func(t *testing.T) {
		res := Evaluate(Answers{"symptom_duration_days": 1}, []Rule{ruleShortDuration})
		assert.Equal(t, OutcomeNeedsMoreInfo, res.Outcome)
		assert.Equal(t, []string{"onset_detail"}, res.FollowUpQuestions)
		assert.False(t, res.CriticalFired)
	})

	t.Run("block takes precedence", func(t *testing.T) {
		rules := []Rule{ruleShortDuration, ruleChestPain}
		res := Evaluate(Answers{"chest_pain": true, "symptom_duration_days": 1}, rules)
		assert.Equal(t, OutcomeBlockEmergency, res.Outcome)
		assert.Equal(t, []string{"R1", "R2"}, res.TriggeredRuleIDs())
		assert.Empty(t, res.FollowUpQuestions)
	})

	t.Run("no answers allows", func(t *testing.T) {
		res := Evaluate(Answers{}, []Rule{ruleChestPain, ruleShortDuration})
		assert.Equal(t, OutcomeAllow, res.Outcome)
		assert.NotNil(t, res.TriggeredRules)
		assert.Empty(t, res.TriggeredRules)
		assert.NotNil(t, res.FollowUpQuestions)
	})

	t.Run("follow-up merges then re-evaluates", func(t *testing.T) {
		rules := []Rule{ruleChestPain, ruleShortDuration, ruleSuddenOnset}
		first := Evaluate(Answers{"symptom_duration_days": 1}, rules)
		require.Equal(t, OutcomeNeedsMoreInfo, first.Outcome)
		require.Equal(t, []string{"onset_detail"}, first.FollowUpQuestions)

		second := Reevaluate(Answers{"symptom_duration_days": 1}, Answers{"onset_detail": "gradual"}, rules)
		assert.Equal(t, OutcomeNeedsMoreInfo, second.Outcome)
		assert.Equal(t, []string{"R2"}, second.TriggeredRuleIDs())

		third := Reevaluate(Answers{"symptom_duration_days": 1}, Answers{"onset_detail": "sudden"}, rules)
		assert.Equal(t, OutcomeBlockEmergency, third.Outcome)
		assert.Equal(t, []string{"R3", "R2"}, third.TriggeredRuleIDs())
	})
}

func TestEvaluate_InertRuleNeverFires(t *testing.T) {
	inert := Rule{ID: "EMPTY", Outcome: OutcomeBlockEmergency, RiskTier: TierCritical}
	res := Evaluate(Answers{"anything": true}, []Rule{inert})
	assert.Equal(t, OutcomeAllow, res.Outcome)
	assert.False(t, res.CriticalFired)
}

func TestEvaluate_TierNeverOverridesOutcome(t *testing.T) {
	allowCritical := Rule{
		ID: "A", Outcome: OutcomeAllow, RiskTier: TierCritical,
		Conditions: []Condition{{Field: "x", Operator: OpIsPresent, Value: NoValue()}},
	}
	infoLow := Rule{
		ID: "B", Outcome: OutcomeNeedsMoreInfo, RiskTier: TierLow,
		Conditions:        []Condition{{Field: "x", Operator: OpIsPresent, Value: NoValue()}},
		FollowUpQuestions: []string{"q1"},
	}
	res := Evaluate(Answers{"x": "y"}, []Rule{allowCritical, infoLow})
	assert.Equal(t, OutcomeNeedsMoreInfo, res.Outcome)
	assert.Equal(t, []string{"A", "B"}, res.TriggeredRuleIDs())
	assert.True(t, res.CriticalFired)
	assert.Equal(t, []string{"q1"}, res.FollowUpQuestions)
}

func TestEvaluate_UnknownOutcomeFailsClosed(t *testing.T) {
	r := Rule{
		ID: "X", Outcome: Outcome("proceed"), RiskTier: TierLow,
		Conditions: []Condition{{Field: "x", Operator: OpIsPresent, Value: NoValue()}},
	}
	res := Evaluate(Answers{"x": 1}, []Rule{r})
	assert.Equal(t, OutcomeNeedsMoreInfo, res.Outcome)
}

func TestEvaluate_FollowUpDeduplication(t *testing.T) {
	present := []Condition{{Field: "x", Operator: OpIsPresent, Value: NoValue()}}
	rules := []Rule{
		{ID: "low", Outcome: OutcomeNeedsMoreInfo, RiskTier: TierLow, Conditions: present, FollowUpQuestions: []string{"c", "a"}},
		{ID: "high", Outcome: OutcomeNeedsMoreInfo, RiskTier: TierHigh, Conditions: present, FollowUpQuestions: []string{"a", "b"}},
		{ID: "mod", Outcome: OutcomeNeedsMoreInfo, RiskTier: TierModerate, Conditions: present, FollowUpQuestions: []string{"b", "c", "d"}},
	}
	res := Evaluate(Answers{"x": 1}, rules)
	assert.Equal(t, []string{"high", "mod", "low"}, res.TriggeredRuleIDs())
	assert.Equal(t, []string{"a", "b", "c", "d"}, res.FollowUpQuestions)
}

func TestEvaluate_StableWithinTier(t *testing.T) {
	present := []Condition{{Field: "x", Operator: OpIsPresent, Value: NoValue()}}
	var rules []Rule
	for i := 0; i < 6; i++ {
		rules = append(rules, Rule{ID: fmt.Sprintf("M%d", i), Outcome: OutcomeNeedsMoreInfo, RiskTier: TierModerate, Conditions: present})
	}
	res := Evaluate(Answers{"x": 1}, rules)
	assert.Equal(t, []string{"M0", "M1", "M2", "M3", "M4", "M5"}, res.TriggeredRuleIDs())
}

func TestEvaluate_DoesNotMutateInputs(t *testing.T) {
	answers := Answers{"symptom_duration_days": 1}
	rules := []Rule{ruleShortDuration, ruleChestPain}
	res := Evaluate(answers, rules)
	res.TriggeredRules[0].FollowUpQuestions[0] = "changed"

	assert.Equal(t, Answers{"symptom_duration_days": 1}, answers)
	assert.Equal(t, "R2", rules[0].ID)
	assert.Equal(t, []string{"onset_detail"}, rules[0].FollowUpQuestions)
}

func TestMergeAnswers(t *testing.T) {
	orig := Answers{"a": 1, "b": "keep"}
	merged := MergeAnswers(orig, Answers{"a": 2, "c": true})
	assert.Equal(t, Answers{"a": 2, "b": "keep", "c": true}, merged)
	assert.Equal(t, 1, orig["a"])
	assert.Equal(t, Answers{}, MergeAnswers(nil, nil))
}

// randomCase builds a rule set and answer snapshot from a small field
// vocabulary so conditions fire often enough to be interesting.
func randomCase(rng *rand.Rand) ([]Rule, Answers) {
	fields := []string{"f0", "f1", "f2", "f3"}
	outcomes := []Outcome{OutcomeAllow, OutcomeNeedsMoreInfo, OutcomeBlockEmergency}
	tiers := []RiskTier{TierLow, TierModerate, TierHigh, TierCritical}

	answers := Answers{}
	for _, f := range fields {
		switch rng.Intn(4) {
		case 0:
		case 1:
			answers[f] = rng.Intn(5)
		case 2:
			answers[f] = []string{"a", "b", "c"}[rng.Intn(3)]
		case 3:
			answers[f] = rng.Intn(2) == 0
		}
	}

	rules := make([]Rule, rng.Intn(8))
	for i := range rules {
		conds := make([]Condition, rng.Intn(3))
		for j := range conds {
			f := fields[rng.Intn(len(fields))]
			switch rng.Intn(5) {
			case 0:
				conds[j] = Condition{f, OpGreaterThan, Number(float64(rng.Intn(5)))}
			case 1:
				conds[j] = Condition{f, OpOneOf, Strings("a", "b")}
			case 2:
				conds[j] = Condition{f, OpEquals, Bool(true)}
			case 3:
				conds[j] = Condition{f, OpIsAbsent, NoValue()}
			case 4:
				conds[j] = Condition{f, OpIsPresent, NoValue()}
			}
		}
		rules[i] = Rule{
			ID:         fmt.Sprintf("R%d", i),
			Outcome:    outcomes[rng.Intn(len(outcomes))],
			RiskTier:   tiers[rng.Intn(len(tiers))],
			Conditions: conds,
		}
		if rules[i].Outcome == OutcomeNeedsMoreInfo {
			rules[i].FollowUpQuestions = []string{fields[rng.Intn(4)], fields[rng.Intn(4)]}
		}
	}
	return rules, answers
}

func TestEvaluate_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for n := 0; n < 2000; n++ {
		rules, answers := randomCase(rng)
		res := Evaluate(answers, rules)

		blocking, anyFired := false, false
		for _, r := range rules {
			if MatchAll(answers, r.Conditions) {
				anyFired = true
				if r.Outcome == OutcomeBlockEmergency {
					blocking = true
				}
			}
		}
		if blocking {
			require.Equal(t, OutcomeBlockEmergency, res.Outcome, "case %d", n)
		}
		if !anyFired {
			require.Equal(t, OutcomeAllow, res.Outcome, "case %d", n)
			require.Empty(t, res.TriggeredRules, "case %d", n)
		}

		require.Equal(t, res, Evaluate(answers, rules), "case %d not deterministic", n)

		for i := 1; i < len(res.TriggeredRules); i++ {
			require.GreaterOrEqual(t, res.TriggeredRules[i-1].RiskTier.Rank(), res.TriggeredRules[i].RiskTier.Rank())
		}

		seen := map[string]bool{}
		for _, q := range res.FollowUpQuestions {
			require.False(t, seen[q], "duplicate follow-up %q in case %d", q, n)
			seen[q] = true
		}
		if res.Outcome != OutcomeNeedsMoreInfo {
			require.Empty(t, res.FollowUpQuestions)
		}

		// Follow-up answers on fields no blocking rule references keep the block.
		if blocking {
			referenced := map[string]bool{}
			for _, r := range rules {
				if r.Outcome == OutcomeBlockEmergency && MatchAll(answers, r.Conditions) {
					for _, c := range r.Conditions {
						referenced[c.Field] = true
					}
				}
			}
			follow := Answers{}
			if !referenced["extra"] {
				follow["extra"] = "value"
			}
			for _, f := range []string{"f0", "f1", "f2", "f3"} {
				if !referenced[f] {
					follow[f] = rng.Intn(5)
				}
			}
			require.Equal(t, OutcomeBlockEmergency, Reevaluate(answers, follow, rules).Outcome, "case %d", n)
		}
	}
}

func TestEvaluator_LookupFailureFailsClosed(t *testing.T) {
	rs, err := NewRuleSet("v1", map[ServiceType][]Rule{ServiceMedicalCertificate: {ruleChestPain}})
	require.NoError(t, err)
	ev := NewEvaluator(rs)

	res, err := ev.Evaluate(ServicePrescription, Answers{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.ErrorIs(t, err, ErrRuleSetNotFound)
	assert.Equal(t, OutcomeNeedsMoreInfo, res.Outcome)
	assert.NotEqual(t, OutcomeAllow, res.Outcome)

	res, err = ev.Evaluate(ServiceMedicalCertificate, Answers{"chest_pain": true})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlockEmergency, res.Outcome)
	assert.Equal(t, ServiceMedicalCertificate, res.ServiceType)
	assert.Equal(t, "v1", res.RuleSetVersion)
}

func TestEvaluator_NoSource(t *testing.T) {
	_, err := NewEvaluator(nil).Evaluate(ServiceConsultation, Answers{})
	assert.True(t, IsConfigurationError(err))

	_, err = NewEvaluator(NewRegistry(nil)).Evaluate(ServiceConsultation, Answers{})
	assert.True(t, IsConfigurationError(err))
}

func TestEvaluator_Reevaluate(t *testing.T) {
	rs, err := NewRuleSet("v1", map[ServiceType][]Rule{
		ServiceConsultation: {ruleChestPain, ruleShortDuration, ruleSuddenOnset},
	})
	require.NoError(t, err)
	ev := NewEvaluator(NewRegistry(rs))

	res, err := ev.Reevaluate(ServiceConsultation,
		Answers{"symptom_duration_days": 1, "chest_pain": true},
		Answers{"onset_detail": "gradual"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBlockEmergency, res.Outcome)
	assert.True(t, res.CriticalFired)
}
