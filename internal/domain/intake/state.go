package intake

import "github.com/instantmed/triage/internal/domain/safety"

const (
	reasonCritical         = "critical rule fired"
	reasonRoundsExhausted  = "follow-up rounds exhausted"
	reasonRulesUnavailable = "safety rules unavailable"
	reasonUnknownOutcome   = "unrecognised outcome"
)

// NextState returns the state in reaches after an evaluation producing
// result, and a review reason when the intake is routed to a doctor.
//
// A block outcome always wins. Once a critical rule has fired on any pass
// the intake can no longer be allowed or re-prompted automatically.
// FollowUpRounds must already count the pass being applied.
func NextState(in *Intake, result safety.EvaluationResult, maxRounds int) (State, string) {
	if result.Outcome == safety.OutcomeBlockEmergency {
		return StateBlocked, ""
	}
	if in.CriticalFlagged || result.CriticalFired {
		return StateManualReview, reasonCritical
	}
	switch result.Outcome {
	case safety.OutcomeAllow:
		return StateAllowed, ""
	case safety.OutcomeNeedsMoreInfo:
		if in.FollowUpRounds >= maxRounds {
			return StateManualReview, reasonRoundsExhausted
		}
		return StateNeedsInfo, ""
	default:
		return StateManualReview, reasonUnknownOutcome
	}
}

// checkEvaluable reports whether a pass of the given kind may run on in.
func checkEvaluable(in *Intake, kind EvaluationKind) error {
	if in.State.Terminal() {
		return ErrTerminalState
	}
	if kind == KindFollowUp && in.State != StateNeedsInfo {
		return ErrFollowUpNotExpected
	}
	if kind == KindInitial && in.State != StateNotEvaluated {
		return ErrTerminalState
	}
	return nil
}
