package intake

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/instantmed/triage/internal/domain/safety"
)

var (
	ErrIntakeNotFound      = errors.New("intake not found")
	ErrTerminalState       = errors.New("intake is in a terminal state")
	ErrFollowUpNotExpected = errors.New("intake is not awaiting follow-up answers")
	ErrInvalidServiceType  = errors.New("invalid service type")
	ErrConcurrentUpdate    = errors.New("intake was modified concurrently")
	ErrInvalidInput        = errors.New("invalid input")
)

type State string

const (
	StateNotEvaluated State = "not_evaluated"
	StateAllowed      State = "evaluated_allow"
	StateNeedsInfo    State = "evaluated_needs_info"
	StateBlocked      State = "evaluated_block"
	StateManualReview State = "manual_review"
)

func (s State) Valid() bool {
	switch s {
	case StateNotEvaluated, StateAllowed, StateNeedsInfo, StateBlocked, StateManualReview:
		return true
	}
	return false
}

// Terminal reports whether no further automated evaluation may run.
func (s State) Terminal() bool {
	return s == StateAllowed || s == StateBlocked || s == StateManualReview
}

func ParseState(s string) (State, error) {
	st := State(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown state %q", ErrInvalidInput, s)
	}
	return st, nil
}

// Intake is a patient's request for a service, with the answers evaluated
// so far and the state reached.
type Intake struct {
	ID               uuid.UUID          `json:"id"`
	PatientID        string             `json:"patient_id"`
	ServiceType      safety.ServiceType `json:"service_type"`
	State            State              `json:"state"`
	Outcome          safety.Outcome     `json:"outcome,omitempty"`
	Answers          safety.Answers     `json:"answers"`
	PendingFollowUps []string           `json:"pending_follow_ups"`
	FollowUpRounds   int                `json:"follow_up_rounds"`
	CriticalFlagged  bool               `json:"critical_flagged"`
	ReviewReason     string             `json:"review_reason,omitempty"`
	RuleSetVersion   string             `json:"rule_set_version,omitempty"`
	Version          int                `json:"version"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

type EvaluationKind string

const (
	KindInitial  EvaluationKind = "initial"
	KindFollowUp EvaluationKind = "follow_up"
)

// EvaluationRecord is the immutable audit entry of one evaluation pass.
// Answers is the full snapshot the rules ran against.
type EvaluationRecord struct {
	ID              uuid.UUID               `json:"id"`
	IntakeID        uuid.UUID               `json:"intake_id"`
	Pass            int                     `json:"pass"`
	Kind            EvaluationKind          `json:"kind"`
	Answers         safety.Answers          `json:"answers"`
	FollowUpAnswers safety.Answers          `json:"follow_up_answers,omitempty"`
	Result          safety.EvaluationResult `json:"result"`
	ResultingState  State                   `json:"resulting_state"`
	Actor           string                  `json:"actor"`
	Error           string                  `json:"error,omitempty"`
	EvaluatedAt     time.Time               `json:"evaluated_at"`
}

// PatientView is what the patient sees. It never carries rule details.
type PatientView struct {
	ID                uuid.UUID          `json:"id"`
	ServiceType       safety.ServiceType `json:"service_type"`
	State             State              `json:"state"`
	Outcome           safety.Outcome     `json:"outcome,omitempty"`
	Message           string             `json:"message"`
	FollowUpQuestions []string           `json:"follow_up_questions,omitempty"`
	EmergencyGuidance *EmergencyGuidance `json:"emergency_guidance,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

type EmergencyGuidance struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

const (
	msgAllowed      = "Your request can proceed."
	msgNeedsInfo    = "We need a little more information before we can continue."
	msgManualReview = "We are unable to process your request automatically. A doctor will review it."
	msgPending      = "Your request has not been assessed yet."
)

// View builds the patient-facing representation of in.
func (in *Intake) View(emergencyContact string) PatientView {
	v := PatientView{
		ID:          in.ID,
		ServiceType: in.ServiceType,
		State:       in.State,
		Outcome:     in.Outcome,
		CreatedAt:   in.CreatedAt,
		UpdatedAt:   in.UpdatedAt,
	}
	switch in.State {
	case StateAllowed:
		v.Message = msgAllowed
	case StateNeedsInfo:
		v.Message = msgNeedsInfo
		v.FollowUpQuestions = in.PendingFollowUps
	case StateBlocked:
		v.Message = "Your answers suggest you may need urgent medical care."
		msg := fmt.Sprintf("Call %s now or go to your nearest emergency department. "+
			"Do not wait for an online consultation.", emergencyContact)
		v.EmergencyGuidance = &EmergencyGuidance{Phone: emergencyContact, Message: msg}
	case StateManualReview:
		v.Message = msgManualReview
	default:
		v.Message = msgPending
	}
	return v
}
