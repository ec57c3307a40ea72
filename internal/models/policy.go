package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity classifies how urgent an alert is
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// IsValid checks if the severity level is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo:
		return true
	default:
		return false
	}
}

// ParseSeverity normalizes a severity string
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
	return sev, nil
}

// Operator is a rule comparison operator
type Operator string

const (
	OpEq          Operator = "eq"
	OpNe          Operator = "ne"
	OpGt          Operator = "gt"
	OpLt          Operator = "lt"
	OpGte         Operator = "gte"
	OpLte         Operator = "lte"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpIsNull      Operator = "is_null"
	OpIsNotNull   Operator = "is_not_null"
	OpRegex       Operator = "regex"
)

// IsValid checks if the operator is known
func (o Operator) IsValid() bool {
	switch o {
	case OpEq, OpNe, OpGt, OpLt, OpGte, OpLte,
		OpIn, OpNotIn,
		OpContains, OpNotContains, OpStartsWith, OpEndsWith,
		OpIsNull, OpIsNotNull, OpRegex:
		return true
	default:
		return false
	}
}

// NeedsValue reports whether the operator requires a comparison value.
// The two null-check operators are the only ones that do not.
func (o Operator) NeedsValue() bool {
	return o != OpIsNull && o != OpIsNotNull
}

// Rule is one field/operator/value comparison against an event
type Rule struct {
	// Dot-path into the event's structured data
	Field string `json:"field" yaml:"field"`

	Operator Operator `json:"operator" yaml:"operator"`

	// Comparison value; absent for is_null/is_not_null
	Value any `json:"value,omitempty" yaml:"value,omitempty"`

	// Membership list for in/not_in
	Values []any `json:"values,omitempty" yaml:"values,omitempty"`

	// Applies to string operators; nil means true
	CaseSensitive *bool `json:"case_sensitive,omitempty" yaml:"case_sensitive,omitempty"`
}

// IsCaseSensitive resolves the case_sensitive default
func (r Rule) IsCaseSensitive() bool {
	return r.CaseSensitive == nil || *r.CaseSensitive
}

// Members returns the membership list for in/not_in, accepting either
// the dedicated Values list or a Value that is itself a list.
func (r Rule) Members() []any {
	if len(r.Values) > 0 {
		return r.Values
	}
	if vs, ok := r.Value.([]any); ok {
		return vs
	}
	return nil
}

// Validate checks the rule is well formed
func (r Rule) Validate() error {
	if strings.TrimSpace(r.Field) == "" {
		return ErrEmptyRuleField
	}
	if !r.Operator.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidOperator, r.Operator)
	}
	if r.Operator == OpIn || r.Operator == OpNotIn {
		if len(r.Members()) == 0 {
			return fmt.Errorf("%w: %s requires a value list", ErrMissingRuleValue, r.Operator)
		}
		return nil
	}
	if r.Operator.NeedsValue() && r.Value == nil {
		return fmt.Errorf("%w: %s", ErrMissingRuleValue, r.Operator)
	}
	return nil
}

// TimeWindow restricts when a policy is eligible to fire. Membership is
// [Start, End) in the window's timezone; a window with End <= Start wraps
// past midnight. An empty Days set matches every day.
type TimeWindow struct {
	Days     []time.Weekday `json:"days,omitempty" yaml:"days,omitempty"` // 0 = Sunday
	Start    string         `json:"start" yaml:"start"`                   // "HH:MM"
	End      string         `json:"end" yaml:"end"`                       // "HH:MM"
	Timezone string         `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Validate checks the window is well formed
func (w TimeWindow) Validate() error {
	if _, err := time.Parse("15:04", strings.TrimSpace(w.Start)); err != nil {
		return fmt.Errorf("%w: start %q", ErrInvalidTimeWindow, w.Start)
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(w.End)); err != nil {
		return fmt.Errorf("%w: end %q", ErrInvalidTimeWindow, w.End)
	}
	for _, d := range w.Days {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: day %d", ErrInvalidTimeWindow, d)
		}
	}
	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return fmt.Errorf("%w: timezone %q", ErrInvalidTimeWindow, w.Timezone)
		}
	}
	return nil
}

// Policy decides when and how to alert. Policies are read by the engine
// as immutable snapshots; nothing in the engine mutates them.
type Policy struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenant_id" yaml:"tenant_id"`
	Name     string `json:"name" yaml:"name"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`

	// Ordered rule set and its combination mode (AND when MatchAll)
	Rules    []Rule `json:"rules" yaml:"rules"`
	MatchAll bool   `json:"match_all" yaml:"match_all"`

	Severity Severity `json:"severity" yaml:"severity"`

	// Templates support {field} substitution from the event and alert
	MessageTemplate string `json:"message_template" yaml:"message_template"`
	SummaryTemplate string `json:"summary_template,omitempty" yaml:"summary_template,omitempty"`

	// Cooldown after the last alert; zero disables
	ThrottleMinutes int `json:"throttle_minutes,omitempty" yaml:"throttle_minutes,omitempty"`

	// Hard cap per trailing hour; zero disables
	MaxAlertsPerHour int `json:"max_alerts_per_hour,omitempty" yaml:"max_alerts_per_hour,omitempty"`

	// No windows means always eligible
	Windows []TimeWindow `json:"windows,omitempty" yaml:"windows,omitempty"`

	// Ordered provider identities to deliver to
	Providers []string `json:"providers,omitempty" yaml:"providers,omitempty"`
}

// Policy validation errors
var (
	ErrEmptyPolicyID     = errors.New("policy ID cannot be empty")
	ErrEmptyRuleField    = errors.New("rule field cannot be empty")
	ErrInvalidOperator   = errors.New("invalid rule operator")
	ErrMissingRuleValue  = errors.New("rule operator requires a value")
	ErrInvalidSeverity   = errors.New("invalid severity level")
	ErrInvalidTimeWindow = errors.New("invalid time window")
	ErrNegativeThrottle  = errors.New("throttle values cannot be negative")
)

// Validate checks the policy is well formed
func (p *Policy) Validate() error {
	if p.ID == "" {
		return ErrEmptyPolicyID
	}
	if !p.Severity.IsValid() {
		return fmt.Errorf("policy %s: %w: %q", p.ID, ErrInvalidSeverity, p.Severity)
	}
	if p.ThrottleMinutes < 0 || p.MaxAlertsPerHour < 0 {
		return fmt.Errorf("policy %s: %w", p.ID, ErrNegativeThrottle)
	}
	for i, r := range p.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("policy %s: rule %d: %w", p.ID, i, err)
		}
	}
	for i, w := range p.Windows {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("policy %s: window %d: %w", p.ID, i, err)
		}
	}
	return nil
}

// Provider is a configured notification destination
type Provider struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Type    string `json:"type" yaml:"type"` // webhook, slack, pagerduty, email
	Enabled bool   `json:"enabled" yaml:"enabled"`

	// Type-specific configuration blob
	Config map[string]string `json:"config" yaml:"config"`
}

// Provider validation errors
var (
	ErrEmptyProviderID   = errors.New("provider ID cannot be empty")
	ErrEmptyProviderType = errors.New("provider type cannot be empty")
)

// Validate checks the provider identity fields; type-specific config is
// validated by the matching adapter.
func (p *Provider) Validate() error {
	if p.ID == "" {
		return ErrEmptyProviderID
	}
	if p.Type == "" {
		return fmt.Errorf("provider %s: %w", p.ID, ErrEmptyProviderType)
	}
	return nil
}
