package models

import (
	"time"
)

// AlertEnvelope wraps an Alert with processing metadata for the audit
// stream
type AlertEnvelope struct {
	// The alert at the time it was emitted
	Alert *Alert `json:"alert"`

	// Internal processing metadata
	EmittedAt    time.Time `json:"emitted_at"`
	EngineNode   string    `json:"engine_node"`
	PartitionKey string    `json:"partition_key"`
}

// NewAlertEnvelope creates a new envelope wrapping an alert
func NewAlertEnvelope(alert *Alert, engineNode string) *AlertEnvelope {
	return &AlertEnvelope{
		Alert:        alert,
		EmittedAt:    time.Now().UTC(),
		EngineNode:   engineNode,
		PartitionKey: alert.TenantID, // partition by tenant for ordering
	}
}
