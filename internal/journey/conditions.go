package journey

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ignite/omnichannel-engine/internal/personalize"
)

// Condition operators.
const (
	OpEquals      = "equals"
	OpNotEquals   = "not_equals"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpContains    = "contains"
	OpNotContains = "not_contains"
)

// EvaluateConditions applies AND semantics: every condition must hold. An
// empty list holds trivially. Field values resolve from the behavioral map
// first, then demographics; a missing field or unknown operator fails the
// condition.
func EvaluateConditions(conds []Condition, profile personalize.Profile) bool {
	for _, c := range conds {
		if !evaluateCondition(c, profile) {
			return false
		}
	}
	return true
}

func evaluateCondition(c Condition, profile personalize.Profile) bool {
	got, ok := lookupField(c.Field, profile)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEquals:
		return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", c.Value)
	case OpNotEquals:
		return fmt.Sprintf("%v", got) != fmt.Sprintf("%v", c.Value)
	case OpGreaterThan, OpLessThan:
		gotN, ok1 := asFloat(got)
		wantN, ok2 := asFloat(c.Value)
		if !ok1 || !ok2 {
			return false
		}
		if c.Operator == OpGreaterThan {
			return gotN > wantN
		}
		return gotN < wantN
	case OpContains, OpNotContains:
		found := valueContains(got, c.Value)
		if c.Operator == OpContains {
			return found
		}
		return !found
	default:
		// Unknown operator fails closed.
		return false
	}
}

func lookupField(field string, profile personalize.Profile) (any, bool) {
	if v, ok := profile.Behavioral[field]; ok && v != nil {
		return v, true
	}
	if v, ok := profile.Demographics[field]; ok && v != nil {
		return v, true
	}
	return nil, false
}

// valueContains handles both substring match and list membership.
func valueContains(haystack, needle any) bool {
	want := fmt.Sprintf("%v", needle)
	switch h := haystack.(type) {
	case []any:
		for _, item := range h {
			if fmt.Sprintf("%v", item) == want {
				return true
			}
		}
		return false
	case []string:
		for _, item := range h {
			if item == want {
				return true
			}
		}
		return false
	default:
		return strings.Contains(fmt.Sprintf("%v", haystack), want)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}
