package intake

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	State     State
	PatientID string
}

type EvaluationRepository interface {
	ListEvaluations(ctx context.Context, intakeID uuid.UUID) ([]*EvaluationRecord, error)
}

// IntakeRepository persists intakes together with their evaluation
// records. An intake and the record of the pass that produced its state are
// written atomically.
type IntakeRepository interface {
	EvaluationRepository
	CreateWithEvaluation(ctx context.Context, in *Intake, rec *EvaluationRecord) error
	// UpdateWithEvaluation fails with ErrConcurrentUpdate unless the stored
	// version equals expectedVersion.
	UpdateWithEvaluation(ctx context.Context, in *Intake, expectedVersion int, rec *EvaluationRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*Intake, error)
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Intake, int, error)
}
