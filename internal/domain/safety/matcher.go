package safety

import (
	"reflect"
	"strings"
)

// Match reports whether c holds against answers. It never panics: a missing
// or malformed answer makes every operator false except is_absent.
func Match(answers Answers, c Condition) bool {
	raw, found := answers[c.Field]
	if c.Operator == OpIsAbsent {
		return !found || !isPresent(raw)
	}
	if !found || raw == nil {
		return false
	}

	switch c.Operator {
	case OpEquals:
		got, ok := scalarOf(raw)
		return ok && c.Value.IsScalar() && sameScalar(got, c.Value)
	case OpNotEquals:
		got, ok := scalarOf(raw)
		if !ok || !c.Value.IsScalar() || got.kind != c.Value.kind {
			return false
		}
		return !sameScalar(got, c.Value)
	case OpOneOf:
		if c.Value.kind != KindList {
			return false
		}
		if got, ok := scalarOf(raw); ok {
			return c.Value.contains(got)
		}
		items, ok := answerItems(raw)
		if !ok {
			return false
		}
		for _, it := range items {
			if c.Value.contains(it) {
				return true
			}
		}
		return false
	case OpNotOneOf:
		if c.Value.kind != KindList {
			return false
		}
		// An answer of a kind the set does not hold is malformed.
		if got, ok := scalarOf(raw); ok {
			return c.Value.holdsKind(got.kind) && !c.Value.contains(got)
		}
		items, ok := answerItems(raw)
		if !ok || len(items) == 0 {
			return false
		}
		for _, it := range items {
			if !c.Value.holdsKind(it.kind) || c.Value.contains(it) {
				return false
			}
		}
		return true
	case OpGreaterThan:
		got, ok := asNumber(raw)
		return ok && c.Value.kind == KindNumber && got > c.Value.num
	case OpLessThan:
		got, ok := asNumber(raw)
		return ok && c.Value.kind == KindNumber && got < c.Value.num
	case OpIsPresent:
		return isPresent(raw)
	default:
		return false
	}
}

// MatchAll reports whether every condition holds. An empty list never
// matches.
func MatchAll(answers Answers, conds []Condition) bool {
	if len(conds) == 0 {
		return false
	}
	for _, c := range conds {
		if !Match(answers, c) {
			return false
		}
	}
	return true
}

func isPresent(raw interface{}) bool {
	switch t := raw.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []string:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	switch rv := reflect.ValueOf(raw); rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len() > 0
	default:
		return true
	}
}
