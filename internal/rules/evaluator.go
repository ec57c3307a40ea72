package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"klaxon/internal/logger"
	"klaxon/internal/metrics"
	"klaxon/internal/models"
)

// Evaluator matches events against policy rule sets. It is safe for
// concurrent use; the only mutable state is the compiled-regex cache.
type Evaluator struct {
	log zerolog.Logger

	// Patterns compile once and are shared across policies. A nil entry
	// marks a pattern that failed to compile so it is reported once and
	// evaluates false afterwards.
	mu    sync.RWMutex
	regex map[string]*regexp.Regexp
}

// NewEvaluator creates an evaluator with an empty pattern cache
func NewEvaluator() *Evaluator {
	return &Evaluator{
		log:   logger.WithComponent("rules"),
		regex: make(map[string]*regexp.Regexp),
	}
}

// Evaluate reports whether the event matches the rule set. With matchAll
// every rule must pass (short-circuit on the first failure); otherwise one
// passing rule suffices (short-circuit on the first success). An empty
// rule set matches under both modes.
func (e *Evaluator) Evaluate(event *models.Event, rules []models.Rule, matchAll bool) bool {
	if len(rules) == 0 {
		return true
	}

	if matchAll {
		for _, r := range rules {
			if !e.evalRule(event, r) {
				return false
			}
		}
		return true
	}

	for _, r := range rules {
		if e.evalRule(event, r) {
			return true
		}
	}
	return false
}

// evalRule evaluates a single rule. It never returns an error: malformed
// rules, bad patterns, and failed coercions all evaluate to false so one
// broken rule cannot abort the rest of the pass.
func (e *Evaluator) evalRule(event *models.Event, r models.Rule) bool {
	value, present := event.Field(r.Field)

	switch r.Operator {
	case models.OpIsNull:
		return !present || value == nil
	case models.OpIsNotNull:
		return present && value != nil
	}

	if !present {
		// An absent field is trivially "not equal" to any required value;
		// every other comparison against it fails.
		return r.Operator == models.OpNe
	}

	caseSensitive := r.IsCaseSensitive()

	switch r.Operator {
	case models.OpEq:
		return equals(value, r.Value, caseSensitive)

	case models.OpNe:
		return !equals(value, r.Value, caseSensitive)

	case models.OpGt, models.OpLt, models.OpGte, models.OpLte:
		return compareOrdered(value, r.Value, r.Operator)

	case models.OpIn, models.OpNotIn:
		return e.evalMembership(value, r, caseSensitive)

	case models.OpContains, models.OpNotContains, models.OpStartsWith, models.OpEndsWith:
		return evalString(value, r.Value, r.Operator, caseSensitive)

	case models.OpRegex:
		return e.evalRegex(value, r.Value)

	default:
		e.log.Warn().
			Str("field", r.Field).
			Str("operator", string(r.Operator)).
			Msg("unknown rule operator")
		metrics.RuleErrorsTotal.WithLabelValues("bad_operator").Inc()
		return false
	}
}

func (e *Evaluator) evalMembership(value any, r models.Rule, caseSensitive bool) bool {
	for _, member := range r.Members() {
		if equals(value, member, caseSensitive) {
			return r.Operator == models.OpIn
		}
	}
	return r.Operator == models.OpNotIn
}

func evalString(value, ruleValue any, op models.Operator, caseSensitive bool) bool {
	s, ok := toString(value)
	if !ok {
		return false
	}
	sub, ok := toString(ruleValue)
	if !ok {
		return false
	}
	if !caseSensitive {
		s = strings.ToLower(s)
		sub = strings.ToLower(sub)
	}

	switch op {
	case models.OpContains:
		return strings.Contains(s, sub)
	case models.OpNotContains:
		return !strings.Contains(s, sub)
	case models.OpStartsWith:
		return strings.HasPrefix(s, sub)
	case models.OpEndsWith:
		return strings.HasSuffix(s, sub)
	}
	return false
}

func (e *Evaluator) evalRegex(value, ruleValue any) bool {
	pattern, ok := toString(ruleValue)
	if !ok {
		return false
	}
	re := e.compile(pattern)
	if re == nil {
		return false
	}
	s, ok := toString(value)
	if !ok {
		return false
	}
	return re.MatchString(s)
}

// compile resolves a pattern through the cache
func (e *Evaluator) compile(pattern string) *regexp.Regexp {
	e.mu.RLock()
	re, ok := e.regex[pattern]
	e.mu.RUnlock()
	if ok {
		return re
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		e.log.Warn().Err(err).Str("pattern", pattern).Msg("invalid regex pattern in rule")
		metrics.RuleErrorsTotal.WithLabelValues("bad_regex").Inc()
		re = nil
	}

	e.mu.Lock()
	e.regex[pattern] = re
	e.mu.Unlock()
	return re
}

// equals applies typed equality: numeric when both sides coerce to a
// number, otherwise string comparison honoring case sensitivity. Nulls
// equal only each other.
func equals(a, b any, caseSensitive bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}

	as, aok := toString(a)
	bs, bok := toString(b)
	if !aok || !bok {
		return false
	}
	if !caseSensitive {
		return strings.EqualFold(as, bs)
	}
	return as == bs
}

// compareOrdered handles gt/lt/gte/lte. Both sides must coerce to a
// number, or failing that to a timestamp; otherwise the rule is false.
func compareOrdered(value, ruleValue any, op models.Operator) bool {
	if af, ok := toFloat(value); ok {
		if bf, ok := toFloat(ruleValue); ok {
			switch op {
			case models.OpGt:
				return af > bf
			case models.OpLt:
				return af < bf
			case models.OpGte:
				return af >= bf
			case models.OpLte:
				return af <= bf
			}
		}
		return false
	}

	at, aok := toTime(value)
	bt, bok := toTime(ruleValue)
	if !aok || !bok {
		return false
	}
	switch op {
	case models.OpGt:
		return at.After(bt)
	case models.OpLt:
		return at.Before(bt)
	case models.OpGte:
		return !at.Before(bt)
	case models.OpLte:
		return !at.After(bt)
	}
	return false
}

// toFloat coerces JSON and YAML scalar types to float64
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
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := models.ParseTimestamp(t)
		return parsed, err == nil
	default:
		return time.Time{}, false
	}
}

// toString stringifies scalar values; nil and composites do not coerce
func toString(v any) (string, bool) {
	switch s := v.(type) {
	case nil:
		return "", false
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(s), 'f', -1, 32), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	case time.Time:
		return s.UTC().Format(time.RFC3339), true
	case fmt.Stringer:
		return s.String(), true
	default:
		return "", false
	}
}
