package store

import (
	"context"
	"errors"
	"time"

	"klaxon/internal/models"
)

// Store errors
var (
	ErrAlertNotFound    = errors.New("alert not found")
	ErrProviderNotFound = errors.New("provider not found")
	ErrAlertExists      = errors.New("alert already exists")
	ErrStaleState       = errors.New("alert was modified concurrently")
	ErrDeliveryNotFound = errors.New("delivery record not found")
)

// PolicyStore supplies the enabled policies for a tenant. Implementations
// return a snapshot: the engine reads it once per evaluation pass and
// never mutates it.
type PolicyStore interface {
	ListEnabled(ctx context.Context, tenant string) ([]models.Policy, error)
}

// ProviderStore resolves provider identities to their configuration
type ProviderStore interface {
	GetProvider(ctx context.Context, id string) (models.Provider, error)
}

// SuppressionStore lists suppressions in effect for a policy
type SuppressionStore interface {
	ActiveFor(ctx context.Context, policyID string, now time.Time) ([]models.Suppression, error)
}

// AlertStore persists alerts and their delivery records. Status updates
// carry the revision the caller read so concurrent writers are detected
// (ErrStaleState) instead of silently clobbering each other.
type AlertStore interface {
	Create(ctx context.Context, alert models.Alert) error
	GetAlert(ctx context.Context, id string) (models.Alert, error)

	// UpdateStatus applies a validated transition. The store sets the
	// matching lifecycle timestamp and bumps the revision.
	UpdateStatus(ctx context.Context, id string, expectRevision int64, status models.AlertStatus, at time.Time) (models.Alert, error)

	// SetMessage stores the rendered message and summary
	SetMessage(ctx context.Context, id, message, summary string) error

	// UpsertDelivery inserts or replaces a delivery record by record ID
	UpsertDelivery(ctx context.Context, alertID string, rec models.DeliveryRecord) error

	// ListPendingDeliveries returns alerts that still have at least one
	// pending delivery record, for the reconciliation sweep.
	ListPendingDeliveries(ctx context.Context) ([]models.Alert, error)
}
