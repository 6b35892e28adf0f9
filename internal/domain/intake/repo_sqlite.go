package intake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/instantmed/triage/internal/platform/db"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type intakeRepoSQLite struct{ db *sql.DB }

// NewIntakeRepoSQLite stores intakes in a database opened with
// db.OpenSQLite.
func NewIntakeRepoSQLite(sqlDB *sql.DB) IntakeRepository {
	return &intakeRepoSQLite{db: sqlDB}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *intakeRepoSQLite) scanIntake(row rowScanner) (*Intake, error) {
	var (
		in               Intake
		id               string
		answers, pending string
		created, updated string
	)
	err := row.Scan(&id, &in.PatientID, &in.ServiceType, &in.State, &in.Outcome, &answers, &pending,
		&in.FollowUpRounds, &in.CriticalFlagged, &in.ReviewReason, &in.RuleSetVersion, &in.Version,
		&created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrIntakeNotFound
		}
		return nil, err
	}
	if in.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse intake id: %w", err)
	}
	if in.Answers, err = decodeAnswers([]byte(answers)); err != nil {
		return nil, err
	}
	if in.PendingFollowUps, err = decodeStrings([]byte(pending)); err != nil {
		return nil, err
	}
	if in.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if in.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *intakeRepoSQLite) CreateWithEvaluation(ctx context.Context, in *Intake, rec *EvaluationRecord) error {
	cols, err := encodeIntake(in)
	if err != nil {
		return err
	}
	return db.WithinTx(ctx, r.db, func(tx db.DBTX) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO intake (id, patient_id, service_type, state, outcome, answers, pending_follow_ups,
				follow_up_rounds, critical_flagged, review_reason, rule_set_version, version, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			in.ID.String(), in.PatientID, string(in.ServiceType), string(in.State), string(in.Outcome),
			string(cols.answers), string(cols.pending), in.FollowUpRounds, in.CriticalFlagged,
			in.ReviewReason, in.RuleSetVersion, in.Version, formatTime(in.CreatedAt), formatTime(in.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert intake: %w", err)
		}
		return insertEvaluationSQLite(ctx, tx, rec)
	})
}

func (r *intakeRepoSQLite) UpdateWithEvaluation(ctx context.Context, in *Intake, expectedVersion int, rec *EvaluationRecord) error {
	cols, err := encodeIntake(in)
	if err != nil {
		return err
	}
	return db.WithinTx(ctx, r.db, func(tx db.DBTX) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE intake SET state=?, outcome=?, answers=?, pending_follow_ups=?, follow_up_rounds=?,
				critical_flagged=?, review_reason=?, rule_set_version=?, version=?, updated_at=?
			WHERE id = ? AND version = ?`,
			string(in.State), string(in.Outcome), string(cols.answers), string(cols.pending), in.FollowUpRounds,
			in.CriticalFlagged, in.ReviewReason, in.RuleSetVersion, in.Version, formatTime(in.UpdatedAt),
			in.ID.String(), expectedVersion)
		if err != nil {
			return fmt.Errorf("update intake: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrConcurrentUpdate
		}
		return insertEvaluationSQLite(ctx, tx, rec)
	})
}

func insertEvaluationSQLite(ctx context.Context, tx db.DBTX, rec *EvaluationRecord) error {
	cols, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	var followUp interface{}
	if cols.followUp != nil {
		followUp = string(cols.followUp)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO intake_evaluation (id, intake_id, pass, kind, answers, follow_up_answers, result,
			outcome, critical_fired, resulting_state, rule_set_version, actor, error, evaluated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID.String(), rec.IntakeID.String(), rec.Pass, string(rec.Kind), string(cols.answers), followUp,
		string(cols.result), string(rec.Result.Outcome), rec.Result.CriticalFired, string(rec.ResultingState),
		rec.Result.RuleSetVersion, rec.Actor, rec.Error, formatTime(rec.EvaluatedAt))
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	return nil
}

func (r *intakeRepoSQLite) GetByID(ctx context.Context, id uuid.UUID) (*Intake, error) {
	return r.scanIntake(r.db.QueryRowContext(ctx, `SELECT `+intakeCols+` FROM intake WHERE id = ?`, id.String()))
}

func (r *intakeRepoSQLite) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Intake, int, error) {
	var where []string
	var args []interface{}
	if filter.State != "" {
		where = append(where, "state = ?")
		args = append(args, string(filter.State))
	}
	if filter.PatientID != "" {
		where = append(where, "patient_id = ?")
		args = append(args, filter.PatientID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM intake`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+intakeCols+` FROM intake`+clause+` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`, args...)
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

func (r *intakeRepoSQLite) ListEvaluations(ctx context.Context, intakeID uuid.UUID) ([]*EvaluationRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, intake_id, pass, kind, answers, follow_up_answers, result, resulting_state, actor, error, evaluated_at
		FROM intake_evaluation WHERE intake_id = ? ORDER BY pass`, intakeID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []*EvaluationRecord{}
	for rows.Next() {
		var (
			rec                  EvaluationRecord
			id, iid, evaluatedAt string
			answers, result      string
			followUp             sql.NullString
		)
		if err := rows.Scan(&id, &iid, &rec.Pass, &rec.Kind, &answers, &followUp, &result,
			&rec.ResultingState, &rec.Actor, &rec.Error, &evaluatedAt); err != nil {
			return nil, err
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse evaluation id: %w", err)
		}
		if rec.IntakeID, err = uuid.Parse(iid); err != nil {
			return nil, fmt.Errorf("parse intake id: %w", err)
		}
		if rec.EvaluatedAt, err = parseTime(evaluatedAt); err != nil {
			return nil, err
		}
		var fu []byte
		if followUp.Valid {
			fu = []byte(followUp.String)
		}
		if err := decodeRecord(&rec, []byte(answers), fu, []byte(result)); err != nil {
			return nil, err
		}
		items = append(items, &rec)
	}
	return items, rows.Err()
}
