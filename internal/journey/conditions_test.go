package journey

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignite/omnichannel-engine/internal/personalize"
)

func condProfile() personalize.Profile {
	return personalize.Profile{
		Demographics: map[string]any{"country": "DE", "age": 34},
		Behavioral: map[string]any{
			"visits":     float64(12),
			"country":    "FR", // behavioral wins over demographics
			"categories": []string{"shoes", "bags"},
			"last_page":  "/checkout/cart",
		},
	}
}

func TestEvaluateConditionOperators(t *testing.T) {
	p := condProfile()
	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"equals", Condition{Field: "country", Operator: OpEquals, Value: "FR"}, true},
		{"equals demographic fallback", Condition{Field: "age", Operator: OpEquals, Value: 34}, true},
		{"not_equals", Condition{Field: "country", Operator: OpNotEquals, Value: "DE"}, true},
		{"greater_than", Condition{Field: "visits", Operator: OpGreaterThan, Value: 10}, true},
		{"greater_than false", Condition{Field: "visits", Operator: OpGreaterThan, Value: 12}, false},
		{"less_than", Condition{Field: "visits", Operator: OpLessThan, Value: 20}, true},
		{"contains substring", Condition{Field: "last_page", Operator: OpContains, Value: "checkout"}, true},
		{"contains list", Condition{Field: "categories", Operator: OpContains, Value: "bags"}, true},
		{"not_contains", Condition{Field: "categories", Operator: OpNotContains, Value: "hats"}, true},
		{"missing field", Condition{Field: "nope", Operator: OpEquals, Value: "x"}, false},
		{"unknown operator", Condition{Field: "visits", Operator: "regex_match", Value: ".*"}, false},
		{"non numeric comparison", Condition{Field: "last_page", Operator: OpGreaterThan, Value: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluateCondition(tt.cond, p))
		})
	}
}

func TestEvaluateConditionsANDSemantics(t *testing.T) {
	p := condProfile()
	trueCond := Condition{Field: "visits", Operator: OpGreaterThan, Value: 10}
	falseCond := Condition{Field: "visits", Operator: OpLessThan, Value: 5}

	assert.True(t, EvaluateConditions(nil, p))
	assert.True(t, EvaluateConditions([]Condition{trueCond}, p))
	assert.False(t, EvaluateConditions([]Condition{trueCond, falseCond}, p))
	assert.True(t, EvaluateConditions([]Condition{trueCond, {Field: "country", Operator: OpEquals, Value: "FR"}}, p))
}

func TestWindowContains(t *testing.T) {
	day := Window{StartHour: 9, EndHour: 17}
	assert.True(t, day.Contains(mustHour(10)))
	assert.True(t, day.Contains(mustHour(9)))
	assert.False(t, day.Contains(mustHour(17)))
	assert.False(t, day.Contains(mustHour(3)))

	overnight := Window{StartHour: 22, EndHour: 6}
	assert.True(t, overnight.Contains(mustHour(23)))
	assert.True(t, overnight.Contains(mustHour(2)))
	assert.False(t, overnight.Contains(mustHour(12)))
}
