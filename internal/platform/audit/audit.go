// Package audit records every safety evaluation as an immutable compliance
// record.
package audit

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Record is one evaluation pass of one intake.
type Record struct {
	ID                string    `json:"id"`
	IntakeID          string    `json:"intake_id,omitempty"`
	PatientID         string    `json:"patient_id,omitempty"`
	ServiceType       string    `json:"service_type"`
	Pass              int       `json:"pass"`
	Outcome           string    `json:"outcome"`
	CriticalFired     bool      `json:"critical_fired"`
	TriggeredRuleIDs  []string  `json:"triggered_rule_ids"`
	FollowUpQuestions []string  `json:"follow_up_questions,omitempty"`
	RuleSetVersion    string    `json:"rule_set_version"`
	ResultingState    string    `json:"resulting_state,omitempty"`
	Actor             string    `json:"actor"`
	Error             string    `json:"error,omitempty"`
	RecordedAt        time.Time `json:"recorded_at"`
}

// Sink durably stores audit records.
type Sink interface {
	Append(ctx context.Context, r *Record) error
}

// LogSink writes each record as a structured log line.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Append(_ context.Context, r *Record) error {
	if r == nil {
		return nil
	}
	ev := s.logger.Info()
	if r.Error != "" {
		ev = s.logger.Warn().Str("error", r.Error)
	}
	ev.Str("type", "safety_audit").
		Str("record_id", r.ID).
		Str("intake_id", r.IntakeID).
		Str("service_type", r.ServiceType).
		Int("pass", r.Pass).
		Str("outcome", r.Outcome).
		Bool("critical_fired", r.CriticalFired).
		Strs("triggered_rules", r.TriggeredRuleIDs).
		Str("rule_set_version", r.RuleSetVersion).
		Str("resulting_state", r.ResultingState).
		Str("actor", r.Actor).
		Time("recorded_at", r.RecordedAt).
		Msg("safety evaluation")
	return nil
}

// MultiSink appends to every sink and joins their errors.
type MultiSink []Sink

func (m MultiSink) Append(ctx context.Context, r *Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Append(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every record.
type Discard struct{}

func (Discard) Append(context.Context, *Record) error { return nil }
