package policy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paddockio/paddock/pkg/types"
)

// evalCondition evaluates one condition against an attribute map.
// Evaluation errors (missing attribute, malformed regex, type mismatch) fail
// closed: the condition is false and the enclosing policy does not match.
func evalCondition(cond types.Condition, attrs map[string]any) bool {
	val, ok := attrs[cond.Attribute]
	if !ok {
		return false
	}

	switch cond.Operator {
	case types.OpEquals:
		return compareEqual(val, cond.Value, cond.CaseInsensitive)
	case types.OpNotEquals:
		return !compareEqual(val, cond.Value, cond.CaseInsensitive)
	case types.OpIn:
		return containedIn(val, cond.Value, cond.CaseInsensitive)
	case types.OpNotIn:
		return !containedIn(val, cond.Value, cond.CaseInsensitive)
	case types.OpContains:
		return stringOp(val, cond.Value, cond.CaseInsensitive, strings.Contains)
	case types.OpStartsWith:
		return stringOp(val, cond.Value, cond.CaseInsensitive, strings.HasPrefix)
	case types.OpEndsWith:
		return stringOp(val, cond.Value, cond.CaseInsensitive, strings.HasSuffix)
	case types.OpGreaterThan:
		return numericOp(val, cond.Value, func(a, b float64) bool { return a > b })
	case types.OpLessThan:
		return numericOp(val, cond.Value, func(a, b float64) bool { return a < b })
	case types.OpGreaterOrEqual:
		return numericOp(val, cond.Value, func(a, b float64) bool { return a >= b })
	case types.OpLessOrEqual:
		return numericOp(val, cond.Value, func(a, b float64) bool { return a <= b })
	case types.OpRegex:
		return regexOp(val, cond.Value)
	default:
		return false
	}
}

// compareEqual compares respecting the value type: numbers compare
// numerically, everything else compares as strings.
func compareEqual(have, want any, ci bool) bool {
	if hf, ok := toFloat(have); ok {
		if wf, ok := toFloat(want); ok {
			return hf == wf
		}
	}
	hs, ok1 := toString(have)
	ws, ok2 := toString(want)
	if !ok1 || !ok2 {
		return false
	}
	if ci {
		return strings.EqualFold(hs, ws)
	}
	return hs == ws
}

// containedIn checks membership of have in a list value. The condition value
// may be []any, []string, or a single scalar (treated as a one-element list).
func containedIn(have, list any, ci bool) bool {
	switch l := list.(type) {
	case []any:
		for _, e := range l {
			if compareEqual(have, e, ci) {
				return true
			}
		}
		return false
	case []string:
		for _, e := range l {
			if compareEqual(have, e, ci) {
				return true
			}
		}
		return false
	default:
		return compareEqual(have, list, ci)
	}
}

func stringOp(have, want any, ci bool, op func(s, substr string) bool) bool {
	hs, ok1 := toString(have)
	ws, ok2 := toString(want)
	if !ok1 || !ok2 {
		return false
	}
	if ci {
		hs = strings.ToLower(hs)
		ws = strings.ToLower(ws)
	}
	return op(hs, ws)
}

func numericOp(have, want any, op func(a, b float64) bool) bool {
	hf, ok1 := toFloat(have)
	wf, ok2 := toFloat(want)
	if !ok1 || !ok2 {
		return false
	}
	return op(hf, wf)
}

// regexOp matches without implied anchors. A malformed pattern fails closed.
func regexOp(have, pattern any) bool {
	hs, ok1 := toString(have)
	ps, ok2 := toString(pattern)
	if !ok1 || !ok2 {
		return false
	}
	re, err := regexp.Compile(ps)
	if err != nil {
		return false
	}
	return re.MatchString(hs)
}

func toString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case fmt.Stringer:
		return s.String(), true
	case bool:
		return strconv.FormatBool(s), true
	default:
		return "", false
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
