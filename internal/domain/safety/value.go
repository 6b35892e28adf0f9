package safety

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNone ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindList
)

func (k ValueKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is the comparison operand of a Condition. It is a closed tagged
// variant; lists hold scalars only.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	list []Value
}

func String(s string) Value { return Value{kind: KindString, str: s} }

func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// NoValue is the operand of is_present and is_absent.
func NoValue() Value { return Value{} }

func (v Value) Kind() ValueKind { return v.kind }

// List builds a set operand. Nested lists are not representable and are
// dropped.
func List(items ...Value) Value {
	out := make([]Value, 0, len(items))
	for _, it := range items {
		if it.kind == KindList {
			continue
		}
		out = append(out, it)
	}
	return Value{kind: KindList, list: out}
}

// Strings is shorthand for a list of string values.
func Strings(items ...string) Value {
	vals := make([]Value, len(items))
	for i, s := range items {
		vals[i] = String(s)
	}
	return List(vals...)
}

func (v Value) IsScalar() bool {
	return v.kind == KindString || v.kind == KindNumber || v.kind == KindBool
}

// Items returns a copy of the list members; nil for non-list values.
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out
}

// ParseValue converts a decoded YAML or JSON value into a Value.
func ParseValue(raw interface{}) (Value, error) {
	if raw == nil {
		return NoValue(), nil
	}
	if s, ok := scalarOf(raw); ok {
		return s, nil
	}
	switch t := raw.(type) {
	case []string:
		return Strings(t...), nil
	case []interface{}:
		items := make([]Value, 0, len(t))
		for i, it := range t {
			s, ok := scalarOf(it)
			if !ok {
				return Value{}, fmt.Errorf("list item %d: unsupported type %T", i, it)
			}
			items = append(items, s)
		}
		return List(items...), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// Interface returns the plain Go representation of v.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, it := range v.list {
			out[i] = it.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseValue(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, it := range v.list {
			parts[i] = it.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return "<none>"
	}
}

// scalarOf converts an answer or operand into a scalar Value. Non-finite
// numbers are not scalars.
func scalarOf(raw interface{}) (Value, bool) {
	switch t := raw.(type) {
	case string:
		return String(t), true
	case bool:
		return Bool(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil || !finite(f) {
			return Value{}, false
		}
		return Number(f), true
	}
	if f, ok := numericOf(raw); ok {
		return Number(f), true
	}
	return Value{}, false
}

func numericOf(raw interface{}) (float64, bool) {
	var f float64
	switch t := raw.(type) {
	case int:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case float32:
		f = float64(t)
	case float64:
		f = t
	default:
		return 0, false
	}
	if !finite(f) {
		return 0, false
	}
	return f, true
}

// asNumber reads an answer for the threshold operators. Numeric strings
// count; booleans do not.
func asNumber(raw interface{}) (float64, bool) {
	switch t := raw.(type) {
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	case json.Number:
		f, err := t.Float64()
		if err != nil || !finite(f) {
			return 0, false
		}
		return f, true
	}
	return numericOf(raw)
}

// answerItems returns the scalar members of a list answer. ok is false when
// the answer is not a list or holds a non-scalar member.
func answerItems(raw interface{}) ([]Value, bool) {
	switch t := raw.(type) {
	case []string:
		out := make([]Value, len(t))
		for i, s := range t {
			out[i] = String(s)
		}
		return out, true
	case []interface{}:
		out := make([]Value, 0, len(t))
		for _, it := range t {
			s, ok := scalarOf(it)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// sameScalar compares two scalars of the same kind. Differing kinds never
// compare equal.
func sameScalar(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindString:
		return a.str == b.str
	case KindNumber:
		return a.num == b.num
	case KindBool:
		return a.b == b.b
	default:
		return false
	}
}

// holdsKind reports whether some member of the list has kind k.
func (v Value) holdsKind(k ValueKind) bool {
	for _, it := range v.list {
		if it.kind == k {
			return true
		}
	}
	return false
}

func (v Value) contains(s Value) bool {
	for _, it := range v.list {
		if sameScalar(it, s) {
			return true
		}
	}
	return false
}
