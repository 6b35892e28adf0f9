package safety

import (
	"errors"
	"fmt"
)

// ErrRuleSetNotFound is wrapped by a ConfigurationError when no rules are
// configured for a service type.
var ErrRuleSetNotFound = errors.New("rule set not found")

// ConfigurationError means the rules for an evaluation are missing or
// malformed. Callers must fail closed: the intake is never allowed through.
type ConfigurationError struct {
	ServiceType ServiceType
	Reason      string
	Err         error
}

func (e *ConfigurationError) Error() string {
	msg := "safety configuration error"
	if e.ServiceType != "" {
		msg += fmt.Sprintf(" for service %q", e.ServiceType)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// IsConfigurationError reports whether err carries a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// MalformedConditionError describes a rule that cannot be evaluated as
// authored. Index is the condition position, or -1 for problems with the
// rule itself.
type MalformedConditionError struct {
	ServiceType ServiceType
	RuleID      string
	Index       int
	Field       string
	Operator    Operator
	Reason      string
}

func (e *MalformedConditionError) Error() string {
	rule := e.RuleID
	if rule == "" {
		rule = "<unnamed>"
	}
	prefix := fmt.Sprintf("%s/%s", e.ServiceType, rule)
	if e.Index < 0 {
		return fmt.Sprintf("rule %s: %s", prefix, e.Reason)
	}
	return fmt.Sprintf("rule %s: condition %d (%s %s): %s", prefix, e.Index, e.Field, e.Operator, e.Reason)
}
