package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klaxon/internal/models"
)

func boolPtr(b bool) *bool { return &b }

func loginEvent() *models.Event {
	return &models.Event{
		ID:        "evt-1",
		TenantID:  "tenant-1",
		Type:      "user_login",
		Source:    "auth-service",
		Timestamp: time.Date(2024, 3, 14, 10, 30, 0, 0, time.UTC),
		Data: map[string]any{
			"status":     "failed",
			"user_id":    "u1",
			"ip_address": "192.168.1.5",
			"attempts":   float64(4),
			"request": map[string]any{
				"path":   "/login",
				"region": "eu-west-1",
			},
			"session": nil,
		},
		Metadata: map[string]string{"env": "prod"},
	}
}

func TestEvaluateAbsentField(t *testing.T) {
	event := loginEvent()

	cases := []struct {
		op   models.Operator
		want bool
	}{
		{models.OpEq, false},
		{models.OpNe, true},
		{models.OpGt, false},
		{models.OpLt, false},
		{models.OpGte, false},
		{models.OpLte, false},
		{models.OpIn, false},
		{models.OpNotIn, false},
		{models.OpContains, false},
		{models.OpNotContains, false},
		{models.OpStartsWith, false},
		{models.OpEndsWith, false},
		{models.OpIsNull, true},
		{models.OpIsNotNull, false},
		{models.OpRegex, false},
	}

	e := NewEvaluator()
	for _, tc := range cases {
		t.Run(string(tc.op), func(t *testing.T) {
			rule := models.Rule{Field: "no_such_field", Operator: tc.op, Value: "x"}
			if tc.op == models.OpIn || tc.op == models.OpNotIn {
				rule.Values = []any{"x", "y"}
			}
			got := e.Evaluate(event, []models.Rule{rule}, true)
			assert.Equal(t, tc.want, got, "operator %s against absent field", tc.op)
		})
	}
}

func TestEvaluateExplicitNull(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	assert.True(t, e.Evaluate(event, []models.Rule{{Field: "session", Operator: models.OpIsNull}}, true))
	assert.False(t, e.Evaluate(event, []models.Rule{{Field: "session", Operator: models.OpIsNotNull}}, true))
	assert.False(t, e.Evaluate(event, []models.Rule{{Field: "session", Operator: models.OpEq, Value: "x"}}, true))
	assert.True(t, e.Evaluate(event, []models.Rule{{Field: "session", Operator: models.OpNe, Value: "x"}}, true))
	assert.False(t, e.Evaluate(event, []models.Rule{{Field: "session", Operator: models.OpContains, Value: "x"}}, true))

	// A populated field is not null
	assert.False(t, e.Evaluate(event, []models.Rule{{Field: "status", Operator: models.OpIsNull}}, true))
	assert.True(t, e.Evaluate(event, []models.Rule{{Field: "status", Operator: models.OpIsNotNull}}, true))
}

func TestEvaluateEquality(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	cases := []struct {
		name string
		rule models.Rule
		want bool
	}{
		{"string eq match", models.Rule{Field: "status", Operator: models.OpEq, Value: "failed"}, true},
		{"string eq mismatch", models.Rule{Field: "status", Operator: models.OpEq, Value: "ok"}, false},
		{"eq is case sensitive by default", models.Rule{Field: "status", Operator: models.OpEq, Value: "FAILED"}, false},
		{"eq case insensitive", models.Rule{Field: "status", Operator: models.OpEq, Value: "FAILED", CaseSensitive: boolPtr(false)}, true},
		{"ne mismatch", models.Rule{Field: "status", Operator: models.OpNe, Value: "ok"}, true},
		{"ne match", models.Rule{Field: "status", Operator: models.OpNe, Value: "failed"}, false},
		{"numeric eq against int rule value", models.Rule{Field: "attempts", Operator: models.OpEq, Value: 4}, true},
		{"numeric eq against string rule value", models.Rule{Field: "attempts", Operator: models.OpEq, Value: "4"}, true},
		{"numeric ne", models.Rule{Field: "attempts", Operator: models.OpNe, Value: 5}, true},
		{"envelope field eq", models.Rule{Field: "event_type", Operator: models.OpEq, Value: "user_login"}, true},
		{"metadata fallback eq", models.Rule{Field: "env", Operator: models.OpEq, Value: "prod"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate(event, []models.Rule{tc.rule}, true))
		})
	}
}

func TestEvaluateOrderedComparisons(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	cases := []struct {
		name string
		rule models.Rule
		want bool
	}{
		{"gt true", models.Rule{Field: "attempts", Operator: models.OpGt, Value: 3}, true},
		{"gt false", models.Rule{Field: "attempts", Operator: models.OpGt, Value: 4}, false},
		{"gte boundary", models.Rule{Field: "attempts", Operator: models.OpGte, Value: 4}, true},
		{"lt true", models.Rule{Field: "attempts", Operator: models.OpLt, Value: 10}, true},
		{"lte boundary", models.Rule{Field: "attempts", Operator: models.OpLte, Value: 4}, true},
		{"numeric string field coerces", models.Rule{Field: "attempts", Operator: models.OpGt, Value: "3.5"}, true},
		{"coercion failure is false not an error", models.Rule{Field: "status", Operator: models.OpGt, Value: 3}, false},
		{"non-numeric rule value is false", models.Rule{Field: "attempts", Operator: models.OpGt, Value: "many"}, false},
		{"timestamp after", models.Rule{Field: "timestamp", Operator: models.OpGt, Value: "2024-01-01T00:00:00Z"}, true},
		{"timestamp before", models.Rule{Field: "timestamp", Operator: models.OpLt, Value: "2024-01-01T00:00:00Z"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate(event, []models.Rule{tc.rule}, true))
		})
	}
}

func TestEvaluateMembership(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	cases := []struct {
		name string
		rule models.Rule
		want bool
	}{
		{"in match", models.Rule{Field: "status", Operator: models.OpIn, Values: []any{"failed", "locked"}}, true},
		{"in mismatch", models.Rule{Field: "status", Operator: models.OpIn, Values: []any{"ok", "locked"}}, false},
		{"not_in mismatch", models.Rule{Field: "status", Operator: models.OpNotIn, Values: []any{"ok", "locked"}}, true},
		{"not_in match", models.Rule{Field: "status", Operator: models.OpNotIn, Values: []any{"failed"}}, false},
		{"in via value list", models.Rule{Field: "status", Operator: models.OpIn, Value: []any{"failed"}}, true},
		{"in numeric members", models.Rule{Field: "attempts", Operator: models.OpIn, Values: []any{3, 4, 5}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate(event, []models.Rule{tc.rule}, true))
		})
	}
}

func TestEvaluateStringOperators(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	cases := []struct {
		name string
		rule models.Rule
		want bool
	}{
		{"contains", models.Rule{Field: "ip_address", Operator: models.OpContains, Value: "168"}, true},
		{"not_contains", models.Rule{Field: "ip_address", Operator: models.OpNotContains, Value: "10.0"}, true},
		{"not_contains present", models.Rule{Field: "ip_address", Operator: models.OpNotContains, Value: "192"}, false},
		{"starts_with", models.Rule{Field: "ip_address", Operator: models.OpStartsWith, Value: "192.168"}, true},
		{"ends_with", models.Rule{Field: "ip_address", Operator: models.OpEndsWith, Value: ".5"}, true},
		{"contains respects case", models.Rule{Field: "status", Operator: models.OpContains, Value: "FAIL"}, false},
		{"contains case folded", models.Rule{Field: "status", Operator: models.OpContains, Value: "FAIL", CaseSensitive: boolPtr(false)}, true},
		{"starts_with case folded", models.Rule{Field: "request.region", Operator: models.OpStartsWith, Value: "EU-", CaseSensitive: boolPtr(false)}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, e.Evaluate(event, []models.Rule{tc.rule}, true))
		})
	}
}

func TestEvaluateRegex(t *testing.T) {
	e := NewEvaluator()

	private := loginEvent()
	rule := models.Rule{Field: "ip_address", Operator: models.OpRegex, Value: `^192\.168\.`}
	assert.True(t, e.Evaluate(private, []models.Rule{rule}, true))

	public := loginEvent()
	public.Data["ip_address"] = "10.0.0.1"
	assert.False(t, e.Evaluate(public, []models.Rule{rule}, true))

	// Partial match anywhere in the stringified field
	pathRule := models.Rule{Field: "request.path", Operator: models.OpRegex, Value: `log`}
	assert.True(t, e.Evaluate(private, []models.Rule{pathRule}, true))

	// An invalid pattern evaluates false on every use instead of erroring
	bad := models.Rule{Field: "ip_address", Operator: models.OpRegex, Value: `^192\.(168`}
	assert.False(t, e.Evaluate(private, []models.Rule{bad}, true))
	assert.False(t, e.Evaluate(private, []models.Rule{bad}, true))
}

func TestEvaluateRegexCache(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()
	rule := models.Rule{Field: "ip_address", Operator: models.OpRegex, Value: `^192\.168\.`}

	require.True(t, e.Evaluate(event, []models.Rule{rule}, true))

	e.mu.RLock()
	re, ok := e.regex[`^192\.168\.`]
	e.mu.RUnlock()
	require.True(t, ok, "pattern should be cached after first evaluation")
	require.NotNil(t, re)
}

func TestEvaluateCombination(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	match := models.Rule{Field: "event_type", Operator: models.OpEq, Value: "user_login"}
	noMatch := models.Rule{Field: "status", Operator: models.OpEq, Value: "ok"}

	// match_all requires every rule to pass
	assert.True(t, e.Evaluate(event, []models.Rule{match, match}, true))
	assert.False(t, e.Evaluate(event, []models.Rule{match, noMatch}, true))
	assert.False(t, e.Evaluate(event, []models.Rule{noMatch, match}, true))

	// any-match requires at least one
	assert.True(t, e.Evaluate(event, []models.Rule{noMatch, match}, false))
	assert.True(t, e.Evaluate(event, []models.Rule{match, noMatch}, false))
	assert.False(t, e.Evaluate(event, []models.Rule{noMatch, noMatch}, false))
}

func TestEvaluateEmptyRuleSet(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	// Vacuous match under both combination modes
	assert.True(t, e.Evaluate(event, nil, true))
	assert.True(t, e.Evaluate(event, nil, false))
	assert.True(t, e.Evaluate(event, []models.Rule{}, true))
}

func TestEvaluateNestedPaths(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	assert.True(t, e.Evaluate(event, []models.Rule{
		{Field: "request.region", Operator: models.OpEq, Value: "eu-west-1"},
	}, true))

	// Missing leaf
	assert.False(t, e.Evaluate(event, []models.Rule{
		{Field: "request.missing", Operator: models.OpEq, Value: "x"},
	}, true))
	assert.True(t, e.Evaluate(event, []models.Rule{
		{Field: "request.missing", Operator: models.OpIsNull},
	}, true))

	// Path through a scalar is absent, not an error
	assert.False(t, e.Evaluate(event, []models.Rule{
		{Field: "status.nested.deep", Operator: models.OpEq, Value: "x"},
	}, true))
	assert.True(t, e.Evaluate(event, []models.Rule{
		{Field: "status.nested.deep", Operator: models.OpNe, Value: "x"},
	}, true))
}

func TestEvaluateUnknownOperator(t *testing.T) {
	e := NewEvaluator()
	event := loginEvent()

	rule := models.Rule{Field: "status", Operator: models.Operator("matches"), Value: "failed"}
	assert.False(t, e.Evaluate(event, []models.Rule{rule}, true))
}
