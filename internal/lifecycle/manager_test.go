package lifecycle

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"klaxon/internal/models"
	"klaxon/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewManager(mem), mem
}

func createAlert(t *testing.T, m *Manager) models.Alert {
	t.Helper()
	policy := &models.Policy{
		ID:       "pol-1",
		TenantID: "tenant-1",
		Severity: models.SeverityHigh,
	}
	event := &models.Event{ID: "evt-1", TenantID: "tenant-1", Type: "user_login"}

	alert, err := m.Create(context.Background(), policy, event)
	require.NoError(t, err)
	return alert
}

func TestCreateSetsInitialState(t *testing.T) {
	m, mem := newTestManager(t)
	alert := createAlert(t, m)

	assert.NotEmpty(t, alert.ID)
	assert.Equal(t, models.AlertStatusActive, alert.Status)
	assert.Equal(t, "pol-1", alert.PolicyID)
	assert.Equal(t, models.SeverityHigh, alert.Severity)
	assert.False(t, alert.CreatedAt.IsZero())
	assert.Nil(t, alert.AcknowledgedAt)
	assert.Nil(t, alert.ResolvedAt)

	stored, err := mem.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusActive, stored.Status)
}

func TestAcknowledgeThenResolve(t *testing.T) {
	m, _ := newTestManager(t)
	alert := createAlert(t, m)
	ctx := context.Background()

	acked, err := m.Acknowledge(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusAcknowledged, acked.Status)
	require.NotNil(t, acked.AcknowledgedAt)

	resolved, err := m.Resolve(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	require.NotNil(t, resolved.ResolvedAt)
}

func TestResolveSkippingAcknowledge(t *testing.T) {
	m, _ := newTestManager(t)
	alert := createAlert(t, m)

	resolved, err := m.Resolve(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, resolved.Status)
	assert.Nil(t, resolved.AcknowledgedAt)
}

func TestResolveIsIdempotent(t *testing.T) {
	m, _ := newTestManager(t)
	alert := createAlert(t, m)
	ctx := context.Background()

	first, err := m.Resolve(ctx, alert.ID)
	require.NoError(t, err)

	// Second resolve is a no-op, not an error, and the original
	// resolution timestamp survives.
	second, err := m.Resolve(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, second.Status)
	assert.Equal(t, first.ResolvedAt, second.ResolvedAt)
}

func TestAcknowledgeResolvedIsRejected(t *testing.T) {
	m, mem := newTestManager(t)
	alert := createAlert(t, m)
	ctx := context.Background()

	_, err := m.Resolve(ctx, alert.ID)
	require.NoError(t, err)

	_, err = m.Acknowledge(ctx, alert.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// State is unchanged after the rejected transition.
	stored, err := mem.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusResolved, stored.Status)
}

func TestRepeatAcknowledgeIsRejected(t *testing.T) {
	m, _ := newTestManager(t)
	alert := createAlert(t, m)
	ctx := context.Background()

	_, err := m.Acknowledge(ctx, alert.ID)
	require.NoError(t, err)

	_, err = m.Acknowledge(ctx, alert.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionOnUnknownAlert(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Acknowledge(context.Background(), "no-such-alert")
	assert.ErrorIs(t, err, store.ErrAlertNotFound)

	_, err = m.Resolve(context.Background(), "no-such-alert")
	assert.ErrorIs(t, err, store.ErrAlertNotFound)
}

func TestConcurrentTransitions(t *testing.T) {
	m, mem := newTestManager(t)
	alert := createAlert(t, m)
	ctx := context.Background()

	// Racing acknowledges and resolves must leave the alert in a legal
	// terminal state: the revision CAS serializes them.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = m.Acknowledge(ctx, alert.ID)
			} else {
				_, _ = m.Resolve(ctx, alert.ID)
			}
		}(i)
	}
	wg.Wait()

	stored, err := mem.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.Contains(t, []models.AlertStatus{models.AlertStatusAcknowledged, models.AlertStatusResolved}, stored.Status)
}
