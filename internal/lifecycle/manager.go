package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"klaxon/internal/logger"
	"klaxon/internal/metrics"
	"klaxon/internal/models"
	"klaxon/internal/store"
)

// Lifecycle errors
var (
	// ErrInvalidTransition rejects a transition the state machine does
	// not allow. The wrapped message names both states.
	ErrInvalidTransition = errors.New("invalid alert state transition")
)

// maxTransitionRetries bounds the read-validate-write cycle when
// concurrent updates race on the same alert.
const maxTransitionRetries = 3

// Manager owns the alert lifecycle state machine:
//
//	ACTIVE -> ACKNOWLEDGED -> RESOLVED
//	ACTIVE -> RESOLVED
//
// RESOLVED is terminal. Resolving an already-resolved alert is an
// idempotent no-op; every other transition out of a terminal or
// repeated state is rejected with ErrInvalidTransition.
type Manager struct {
	alerts store.AlertStore
	log    zerolog.Logger
}

// NewManager creates an alert state manager over the given store
func NewManager(alerts store.AlertStore) *Manager {
	return &Manager{
		alerts: alerts,
		log:    logger.WithComponent("lifecycle"),
	}
}

// Create materializes a new ACTIVE alert for a qualifying policy match.
// Message and summary stay empty here; the dispatch coordinator renders
// and persists them once the alert ID exists for the template context.
func (m *Manager) Create(ctx context.Context, policy *models.Policy, event *models.Event) (models.Alert, error) {
	alert := models.Alert{
		ID:        uuid.New().String(),
		PolicyID:  policy.ID,
		TenantID:  policy.TenantID,
		Event:     *event,
		Severity:  policy.Severity,
		Status:    models.AlertStatusActive,
		CreatedAt: time.Now().UTC(),
	}

	if err := m.alerts.Create(ctx, alert); err != nil {
		return models.Alert{}, fmt.Errorf("create alert: %w", err)
	}

	metrics.AlertsCreatedTotal.WithLabelValues(string(alert.Severity)).Inc()
	m.log.Info().
		Str("alert_id", alert.ID).
		Str("policy_id", policy.ID).
		Str("event_id", event.ID).
		Str("severity", string(alert.Severity)).
		Msg("alert created")

	return alert, nil
}

// Acknowledge moves an ACTIVE alert to ACKNOWLEDGED. Acknowledging a
// resolved or already-acknowledged alert is an error.
func (m *Manager) Acknowledge(ctx context.Context, alertID string) (models.Alert, error) {
	return m.transition(ctx, alertID, models.AlertStatusAcknowledged)
}

// Resolve moves an alert to RESOLVED from either ACTIVE or
// ACKNOWLEDGED. Resolving a resolved alert returns the current alert
// unchanged.
func (m *Manager) Resolve(ctx context.Context, alertID string) (models.Alert, error) {
	return m.transition(ctx, alertID, models.AlertStatusResolved)
}

// transition runs the read-validate-write cycle, retrying when a
// concurrent writer invalidated the revision it read.
func (m *Manager) transition(ctx context.Context, alertID string, to models.AlertStatus) (models.Alert, error) {
	var lastErr error

	for attempt := 0; attempt < maxTransitionRetries; attempt++ {
		alert, err := m.alerts.GetAlert(ctx, alertID)
		if err != nil {
			return models.Alert{}, err
		}

		// Idempotent resolve: already resolved is a no-op, not an error.
		if to == models.AlertStatusResolved && alert.Status == models.AlertStatusResolved {
			return alert, nil
		}

		if !legal(alert.Status, to) {
			return alert, fmt.Errorf("%w: %s -> %s (alert %s)", ErrInvalidTransition, alert.Status, to, alertID)
		}

		updated, err := m.alerts.UpdateStatus(ctx, alertID, alert.Revision, to, time.Now().UTC())
		if err != nil {
			if errors.Is(err, store.ErrStaleState) {
				lastErr = err
				continue
			}
			return models.Alert{}, err
		}

		metrics.AlertTransitionsTotal.WithLabelValues(string(to)).Inc()
		m.log.Info().
			Str("alert_id", alertID).
			Str("from", string(alert.Status)).
			Str("to", string(to)).
			Msg("alert transition applied")
		return updated, nil
	}

	return models.Alert{}, fmt.Errorf("transition to %s lost %d races on alert %s: %w", to, maxTransitionRetries, alertID, lastErr)
}

// legal encodes the allowed transitions
func legal(from, to models.AlertStatus) bool {
	switch to {
	case models.AlertStatusAcknowledged:
		return from == models.AlertStatusActive
	case models.AlertStatusResolved:
		return from == models.AlertStatusActive || from == models.AlertStatusAcknowledged
	default:
		return false
	}
}
