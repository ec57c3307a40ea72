package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"klaxon/internal/models"
)

// Memory is an in-process implementation of all four store interfaces.
// It backs tests, the check command, and deployments that load policies
// from a file but keep alerts in memory.
type Memory struct {
	mu           sync.RWMutex
	policies     map[string][]models.Policy // keyed by tenant
	providers    map[string]models.Provider
	suppressions map[string][]models.Suppression // keyed by policy ID
	alerts       map[string]*models.Alert
}

var (
	_ PolicyStore      = (*Memory)(nil)
	_ ProviderStore    = (*Memory)(nil)
	_ SuppressionStore = (*Memory)(nil)
	_ AlertStore       = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		policies:     make(map[string][]models.Policy),
		providers:    make(map[string]models.Provider),
		suppressions: make(map[string][]models.Suppression),
		alerts:       make(map[string]*models.Alert),
	}
}

// PutPolicy adds or replaces a policy
func (m *Memory) PutPolicy(p models.Policy) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.policies[p.TenantID]
	for i := range list {
		if list[i].ID == p.ID {
			list[i] = p
			return
		}
	}
	m.policies[p.TenantID] = append(list, p)
}

// PutProvider adds or replaces a provider
func (m *Memory) PutProvider(p models.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

// PutSuppression adds a suppression entry
func (m *Memory) PutSuppression(s models.Suppression) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suppressions[s.PolicyID] = append(m.suppressions[s.PolicyID], s)
}

// ListEnabled returns the tenant's enabled policies
func (m *Memory) ListEnabled(ctx context.Context, tenant string) ([]models.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Policy
	for _, p := range m.policies[tenant] {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetProvider returns a provider by ID
func (m *Memory) GetProvider(ctx context.Context, id string) (models.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[id]
	if !ok {
		return models.Provider{}, fmt.Errorf("%w: %s", ErrProviderNotFound, id)
	}
	return p, nil
}

// ActiveFor returns the suppressions still in effect for a policy,
// pruning expired entries as it goes.
func (m *Memory) ActiveFor(ctx context.Context, policyID string, now time.Time) ([]models.Suppression, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.suppressions[policyID]
	if len(entries) == 0 {
		return nil, nil
	}

	active := entries[:0]
	for _, s := range entries {
		if s.ActiveAt(now) {
			active = append(active, s)
		}
	}
	if len(active) == 0 {
		delete(m.suppressions, policyID)
		return nil, nil
	}
	m.suppressions[policyID] = active

	out := make([]models.Suppression, len(active))
	copy(out, active)
	return out, nil
}

// Create stores a new alert
func (m *Memory) Create(ctx context.Context, alert models.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.alerts[alert.ID]; ok {
		return fmt.Errorf("%w: %s", ErrAlertExists, alert.ID)
	}
	alert.Revision = 1
	stored := alert.Clone()
	m.alerts[alert.ID] = &stored
	return nil
}

// GetAlert returns a deep copy of an alert
func (m *Memory) GetAlert(ctx context.Context, id string) (models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return a.Clone(), nil
}

// UpdateStatus applies a status change guarded by the caller's revision
func (m *Memory) UpdateStatus(ctx context.Context, id string, expectRevision int64, status models.AlertStatus, at time.Time) (models.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if a.Revision != expectRevision {
		return models.Alert{}, fmt.Errorf("%w: alert %s revision %d, expected %d", ErrStaleState, id, a.Revision, expectRevision)
	}

	a.Status = status
	switch status {
	case models.AlertStatusAcknowledged:
		ts := at
		a.AcknowledgedAt = &ts
	case models.AlertStatusResolved:
		ts := at
		a.ResolvedAt = &ts
	}
	a.Revision++
	return a.Clone(), nil
}

// SetMessage stores the rendered message and summary
func (m *Memory) SetMessage(ctx context.Context, id, message, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	a.Message = message
	a.Summary = summary
	a.Revision++
	return nil
}

// UpsertDelivery inserts or replaces a delivery record by record ID
func (m *Memory) UpsertDelivery(ctx context.Context, alertID string, rec models.DeliveryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.alerts[alertID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
	}

	for i := range a.Deliveries {
		if a.Deliveries[i].ID == rec.ID {
			a.Deliveries[i] = rec
			a.Revision++
			return nil
		}
	}
	a.Deliveries = append(a.Deliveries, rec)
	a.Revision++
	return nil
}

// ListPendingDeliveries returns copies of alerts with pending records
func (m *Memory) ListPendingDeliveries(ctx context.Context) ([]models.Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Alert
	for _, a := range m.alerts {
		for _, rec := range a.Deliveries {
			if rec.Status == models.DeliveryStatusPending {
				out = append(out, a.Clone())
				break
			}
		}
	}
	return out, nil
}
