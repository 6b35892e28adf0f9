package intake

import (
	"encoding/json"
	"fmt"

	"github.com/instantmed/triage/internal/domain/safety"
)

// Column encoding shared by the Postgres and SQLite repositories.

func encodeJSON(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode column: %w", err)
	}
	return data, nil
}

func decodeAnswers(data []byte) (safety.Answers, error) {
	answers := safety.Answers{}
	if len(data) == 0 || string(data) == "null" {
		return answers, nil
	}
	if err := json.Unmarshal(data, &answers); err != nil {
		return nil, fmt.Errorf("decode answers: %w", err)
	}
	return answers, nil
}

func decodeStrings(data []byte) ([]string, error) {
	out := []string{}
	if len(data) == 0 || string(data) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode string list: %w", err)
	}
	return out, nil
}

func decodeResult(data []byte) (safety.EvaluationResult, error) {
	var res safety.EvaluationResult
	if err := json.Unmarshal(data, &res); err != nil {
		return res, fmt.Errorf("decode evaluation result: %w", err)
	}
	if res.TriggeredRules == nil {
		res.TriggeredRules = []safety.TriggeredRule{}
	}
	if res.FollowUpQuestions == nil {
		res.FollowUpQuestions = []string{}
	}
	return res, nil
}

type intakeColumns struct {
	answers []byte
	pending []byte
}

func encodeIntake(in *Intake) (intakeColumns, error) {
	answers, err := encodeJSON(in.Answers)
	if err != nil {
		return intakeColumns{}, err
	}
	pending := in.PendingFollowUps
	if pending == nil {
		pending = []string{}
	}
	p, err := encodeJSON(pending)
	if err != nil {
		return intakeColumns{}, err
	}
	return intakeColumns{answers: answers, pending: p}, nil
}

type recordColumns struct {
	answers  []byte
	followUp []byte
	result   []byte
}

func encodeRecord(rec *EvaluationRecord) (recordColumns, error) {
	var cols recordColumns
	var err error
	if cols.answers, err = encodeJSON(rec.Answers); err != nil {
		return cols, err
	}
	if rec.FollowUpAnswers != nil {
		if cols.followUp, err = encodeJSON(rec.FollowUpAnswers); err != nil {
			return cols, err
		}
	}
	if cols.result, err = encodeJSON(rec.Result); err != nil {
		return cols, err
	}
	return cols, nil
}

func decodeRecord(rec *EvaluationRecord, answers, followUp, result []byte) error {
	var err error
	if rec.Answers, err = decodeAnswers(answers); err != nil {
		return err
	}
	if followUp != nil {
		if rec.FollowUpAnswers, err = decodeAnswers(followUp); err != nil {
			return err
		}
	}
	rec.Result, err = decodeResult(result)
	return err
}
