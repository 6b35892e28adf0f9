package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type intakeRepoPG struct{ pool *pgxpool.Pool }

func NewIntakeRepoPG(pool *pgxpool.Pool) IntakeRepository { return &intakeRepoPG{pool: pool} }

const intakeCols = `id, patient_id, service_type, state, outcome, answers, pending_follow_ups,
	follow_up_rounds, critical_flagged, review_reason, rule_set_version, version, created_at, updated_at`

func (r *intakeRepoPG) scanIntake(row pgx.Row) (*Intake, error) {
	var in Intake
	var answers, pending []byte
	err := row.Scan(&in.ID, &in.PatientID, &in.ServiceType, &in.State, &in.Outcome, &answers, &pending,
		&in.FollowUpRounds, &in.CriticalFlagged, &in.ReviewReason, &in.RuleSetVersion, &in.Version,
		&in.CreatedAt, &in.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIntakeNotFound
		}
		return nil, err
	}
	if in.Answers, err = decodeAnswers(answers); err != nil {
		return nil, err
	}
	if in.PendingFollowUps, err = decodeStrings(pending); err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *intakeRepoPG) CreateWithEvaluation(ctx context.Context, in *Intake, rec *EvaluationRecord) error {
	cols, err := encodeIntake(in)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO intake (id, patient_id, service_type, state, outcome, answers, pending_follow_ups,
				follow_up_rounds, critical_flagged, review_reason, rule_set_version, version, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			in.ID, in.PatientID, in.ServiceType, in.State, in.Outcome, cols.answers, cols.pending,
			in.FollowUpRounds, in.CriticalFlagged, in.ReviewReason, in.RuleSetVersion, in.Version,
			in.CreatedAt, in.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert intake: %w", err)
		}
		return insertEvaluationPG(ctx, tx, rec)
	})
}

func (r *intakeRepoPG) UpdateWithEvaluation(ctx context.Context, in *Intake, expectedVersion int, rec *EvaluationRecord) error {
	cols, err := encodeIntake(in)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE intake SET state=$3, outcome=$4, answers=$5, pending_follow_ups=$6, follow_up_rounds=$7,
				critical_flagged=$8, review_reason=$9, rule_set_version=$10, version=$11, updated_at=$12
			WHERE id = $1 AND version = $2`,
			in.ID, expectedVersion, in.State, in.Outcome, cols.answers, cols.pending, in.FollowUpRounds,
			in.CriticalFlagged, in.ReviewReason, in.RuleSetVersion, in.Version, in.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update intake: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrConcurrentUpdate
		}
		return insertEvaluationPG(ctx, tx, rec)
	})
}

func insertEvaluationPG(ctx context.Context, q queryable, rec *EvaluationRecord) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = q.Exec(ctx, `
		INSERT INTO intake_evaluation (id, intake_id, pass, kind, answers, follow_up_answers, result,
			outcome, critical_fired, resulting_state, rule_set_version, actor, error, evaluated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		rec.ID, rec.IntakeID, rec.Pass, rec.Kind, cols.answers, cols.followUp, cols.result,
		rec.Result.Outcome, rec.Result.CriticalFired, rec.ResultingState, rec.Result.RuleSetVersion,
		rec.Actor, rec.Error, rec.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

func (r *intakeRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Intake, error) {
	return r.scanIntake(r.pool.QueryRow(ctx, `SELECT `+intakeCols+` FROM intake WHERE id = $1`, id))
}

func (r *intakeRepoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Intake, int, error) {
	var where []string
	var args []interface{}
	if filter.State != "" {
		args = append(args, filter.State)
		where = append(where, "state = $"+strconv.Itoa(len(args)))
	}
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		where = append(where, "patient_id = $"+strconv.Itoa(len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM intake`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`SELECT %s FROM intake%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		intakeCols, clause, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []*Intake{}
	for rows.Next() {
		in, err := r.scanIntake(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, in)
	}
	return items, total, rows.Err()
}

func (r *intakeRepoPG) ListEvaluations(ctx context.Context, intakeID uuid.UUID) ([]*EvaluationRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, intake_id, pass, kind, answers, follow_up_answers, result, resulting_state, actor, error, evaluated_at
		FROM intake_evaluation WHERE intake_id = $1 ORDER BY pass`, intakeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*EvaluationRecord{}
	for rows.Next() {
		var rec EvaluationRecord
		var answers, followUp, result []byte
		if err := rows.Scan(&rec.ID, &rec.IntakeID, &rec.Pass, &rec.Kind, &answers, &followUp, &result,
			&rec.ResultingState, &rec.Actor, &rec.Error, &rec.EvaluatedAt); err != nil {
			return nil, err
		}
		if err := decodeRecord(&rec, answers, followUp, result); err != nil {
			return nil, err
		}
		items = append(items, &rec)
	}
	return items, rows.Err()
}
