package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/instantmed/triage/internal/domain/safety"
	"github.com/instantmed/triage/internal/platform/audit"
)

// DefaultMaxFollowUpRounds bounds how often a patient is re-prompted before
// the intake goes to a doctor.
const DefaultMaxFollowUpRounds = 3

type Service struct {
	repo      IntakeRepository
	evaluator *safety.Evaluator
	audit     audit.Sink
	logger    zerolog.Logger
	maxRounds int
	now       func() time.Time
}

func NewService(repo IntakeRepository, evaluator *safety.Evaluator, sink audit.Sink, logger zerolog.Logger, maxRounds int) *Service {
	if sink == nil {
		sink = audit.Discard{}
	}
	if maxRounds < 1 {
		maxRounds = DefaultMaxFollowUpRounds
	}
	return &Service{
		repo:      repo,
		evaluator: evaluator,
		audit:     sink,
		logger:    logger,
		maxRounds: maxRounds,
		now:       time.Now,
	}
}

// Submit creates an intake and runs the first evaluation pass.
//
// When the rules cannot be applied the intake is still stored, in
// manual_review, and returned together with the configuration error.
func (s *Service) Submit(ctx context.Context, patientID string, st safety.ServiceType, answers safety.Answers, actor string) (*Intake, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", ErrInvalidInput)
	}
	if st == "" {
		return nil, fmt.Errorf("%w: service_type is required", ErrInvalidServiceType)
	}

	result, evalErr := s.evaluator.Evaluate(st, answers)
	if evalErr != nil && errors.Is(evalErr, safety.ErrRuleSetNotFound) && !st.Builtin() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServiceType, st)
	}

	now := s.now().UTC()
	in := &Intake{
		ID:               uuid.New(),
		PatientID:        patientID,
		ServiceType:      st,
		State:            StateNotEvaluated,
		Answers:          safety.MergeAnswers(answers, nil),
		PendingFollowUps: []string{},
		Version:          1,
		CreatedAt:        now,
	}
	rec := s.apply(in, KindInitial, result, evalErr, nil, actor, now)

	if err := s.repo.CreateWithEvaluation(ctx, in, rec); err != nil {
		return nil, fmt.Errorf("storing intake: %w", err)
	}
	s.record(ctx, in, rec)

	if evalErr != nil {
		return in, fmt.Errorf("evaluating intake %s: %w", in.ID, evalErr)
	}
	return in, nil
}

// SubmitFollowUp merges followUp into the stored answers and re-runs the
// full rule set. Only intakes awaiting follow-up answers accept it.
func (s *Service) SubmitFollowUp(ctx context.Context, id uuid.UUID, followUp safety.Answers, actor string) (*Intake, error) {
	if len(followUp) == 0 {
		return nil, fmt.Errorf("%w: follow-up answers are required", ErrInvalidInput)
	}

	in, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkEvaluable(in, KindFollowUp); err != nil {
		return nil, err
	}

	expected := in.Version
	in.FollowUpRounds++
	result, evalErr := s.evaluator.Reevaluate(in.ServiceType, in.Answers, followUp)
	in.Answers = safety.MergeAnswers(in.Answers, followUp)
	in.Version = expected + 1
	rec := s.apply(in, KindFollowUp, result, evalErr, followUp, actor, s.now().UTC())

	if err := s.repo.UpdateWithEvaluation(ctx, in, expected, rec); err != nil {
		if errors.Is(err, ErrConcurrentUpdate) {
			return nil, err
		}
		return nil, fmt.Errorf("storing follow-up: %w", err)
	}
	s.record(ctx, in, rec)

	if evalErr != nil {
		return in, fmt.Errorf("re-evaluating intake %s: %w", in.ID, evalErr)
	}
	return in, nil
}

// apply moves in to the state result leads to and builds the record of the
// pass. A configuration error always lands in manual_review.
func (s *Service) apply(in *Intake, kind EvaluationKind, result safety.EvaluationResult, evalErr error, followUp safety.Answers, actor string, now time.Time) *EvaluationRecord {
	state, reason := StateManualReview, reasonRulesUnavailable
	if evalErr == nil {
		state, reason = NextState(in, result, s.maxRounds)
	}

	in.State = state
	in.Outcome = result.Outcome
	in.ReviewReason = reason
	in.RuleSetVersion = result.RuleSetVersion
	in.CriticalFlagged = in.CriticalFlagged || result.CriticalFired
	in.PendingFollowUps = []string{}
	if state == StateNeedsInfo {
		in.PendingFollowUps = append(in.PendingFollowUps, result.FollowUpQuestions...)
	}
	in.UpdatedAt = now

	rec := &EvaluationRecord{
		ID:              uuid.New(),
		IntakeID:        in.ID,
		Pass:            in.FollowUpRounds + 1,
		Kind:            kind,
		Answers:         safety.MergeAnswers(in.Answers, nil),
		FollowUpAnswers: followUp,
		Result:          result,
		ResultingState:  state,
		Actor:           actor,
		EvaluatedAt:     now,
	}
	if evalErr != nil {
		rec.Error = evalErr.Error()
	}
	return rec
}

// record hands the pass to the audit sink. A failing sink never changes
// the verdict already stored.
func (s *Service) record(ctx context.Context, in *Intake, rec *EvaluationRecord) {
	r := &audit.Record{
		ID:                rec.ID.String(),
		IntakeID:          in.ID.String(),
		PatientID:         in.PatientID,
		ServiceType:       string(in.ServiceType),
		Pass:              rec.Pass,
		Outcome:           string(rec.Result.Outcome),
		CriticalFired:     rec.Result.CriticalFired,
		TriggeredRuleIDs:  rec.Result.TriggeredRuleIDs(),
		FollowUpQuestions: rec.Result.FollowUpQuestions,
		RuleSetVersion:    rec.Result.RuleSetVersion,
		ResultingState:    string(rec.ResultingState),
		Actor:             rec.Actor,
		Error:             rec.Error,
		RecordedAt:        rec.EvaluatedAt,
	}
	if err := s.audit.Append(ctx, r); err != nil {
		s.logger.Error().Err(err).
			Str("intake_id", r.IntakeID).
			Int("pass", r.Pass).
			Msg("failed to append safety audit record")
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Intake, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Intake, int, error) {
	if filter.State != "" && !filter.State.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown state %q", ErrInvalidInput, filter.State)
	}
	return s.repo.List(ctx, filter, limit, offset)
}

// ListEvaluations returns every pass recorded for the intake, oldest first.
func (s *Service) ListEvaluations(ctx context.Context, id uuid.UUID) ([]*EvaluationRecord, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListEvaluations(ctx, id)
}
