package models

import (
	"time"
)

// AlertStatus is the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "ACTIVE"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
)

// IsValid checks if the status is known
func (s AlertStatus) IsValid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved:
		return true
	default:
		return false
	}
}

// DeliveryStatus is the per-provider outcome of a dispatch
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSuccess   DeliveryStatus = "success"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// Terminal reports whether the status is final. Pending records are
// picked up again by the reconciliation sweep.
func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusFailed || s == DeliveryStatusExhausted
}

// DeliveryRecord tracks one provider's delivery outcome for one alert
type DeliveryRecord struct {
	ID         string         `json:"id"`
	ProviderID string         `json:"provider_id"`
	Status     DeliveryStatus `json:"status"`
	Attempts   int            `json:"attempts"`
	LastError  string         `json:"last_error,omitempty"`

	// Provider-assigned reference for the delivered notification
	ExternalRef string `json:"external_ref,omitempty"`

	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Alert is the record created when a policy match clears every
// eligibility check. Alerts are never deleted by the engine.
type Alert struct {
	ID       string `json:"id"`
	PolicyID string `json:"policy_id"`
	TenantID string `json:"tenant_id"`

	// The triggering event, embedded for template context and audit
	Event Event `json:"event"`

	Severity Severity `json:"severity"`

	// Rendered from the policy's templates
	Message string `json:"message"`
	Summary string `json:"summary,omitempty"`

	Status         AlertStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty"`

	Deliveries []DeliveryRecord `json:"deliveries,omitempty"`

	// Revision guards read-then-compare-then-write updates; owned by the
	// alert store and bumped on every mutation.
	Revision int64 `json:"revision"`
}

// Clone returns a deep copy safe to hand to concurrent readers
func (a *Alert) Clone() Alert {
	out := *a
	if a.Deliveries != nil {
		out.Deliveries = make([]DeliveryRecord, len(a.Deliveries))
		copy(out.Deliveries, a.Deliveries)
	}
	if a.Event.Data != nil {
		out.Event.Data = cloneMap(a.Event.Data)
	}
	if a.Event.Metadata != nil {
		md := make(map[string]string, len(a.Event.Metadata))
		for k, v := range a.Event.Metadata {
			md[k] = v
		}
		out.Event.Metadata = md
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = cloneMap(nested)
			continue
		}
		out[k] = v
	}
	return out
}

// Suppression pauses dispatch for a policy until a deadline. An empty
// Source suppresses the whole policy; a non-empty Source narrows the
// suppression to events from that source.
type Suppression struct {
	ID       string    `json:"id" yaml:"id"`
	PolicyID string    `json:"policy_id" yaml:"policy_id"`
	Source   string    `json:"source,omitempty" yaml:"source,omitempty"`
	Reason   string    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Until    time.Time `json:"until" yaml:"until"`
}

// ActiveAt reports whether the suppression is still in effect
func (s Suppression) ActiveAt(now time.Time) bool {
	return now.Before(s.Until)
}

// Covers reports whether the suppression applies to an event source
func (s Suppression) Covers(source string) bool {
	return s.Source == "" || s.Source == source
}
