package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"klaxon/internal/dispatch"
	"klaxon/internal/lifecycle"
	"klaxon/internal/logger"
	"klaxon/internal/metrics"
	"klaxon/internal/models"
	"klaxon/internal/rules"
	"klaxon/internal/schedule"
	"klaxon/internal/store"
	"klaxon/internal/throttle"
)

// AuditPublisher receives every created alert for the audit stream.
// Optional; publishing failures never fail the dispatch.
type AuditPublisher interface {
	PublishAlert(ctx context.Context, envelope *models.AlertEnvelope) error
}

// Engine is the policy evaluation pipeline: for each event it snapshots
// the tenant's enabled policies, matches rules, checks time-window
// eligibility and throttle state, creates alerts for qualifying matches
// and fans out delivery. Safe for concurrent use; many events may be in
// flight at once.
type Engine struct {
	policies  store.PolicyStore
	evaluator *rules.Evaluator
	tracker   *throttle.Tracker
	alerts    *lifecycle.Manager
	dispatch  *dispatch.Coordinator
	publisher AuditPublisher
	node      string
	log       zerolog.Logger
}

// NewEngine wires the evaluation pipeline. publisher may be nil.
func NewEngine(policies store.PolicyStore, evaluator *rules.Evaluator, tracker *throttle.Tracker, alerts *lifecycle.Manager, coordinator *dispatch.Coordinator, publisher AuditPublisher, node string) *Engine {
	return &Engine{
		policies:  policies,
		evaluator: evaluator,
		tracker:   tracker,
		alerts:    alerts,
		dispatch:  coordinator,
		publisher: publisher,
		node:      node,
		log:       logger.WithComponent("engine"),
	}
}

// created pairs an alert with the policy snapshot that produced it
type created struct {
	alert  models.Alert
	policy models.Policy
}

// ProcessEvent evaluates every enabled policy for the tenant against
// the event and returns the IDs of the alerts it created. Matches that
// were throttled or suppressed create nothing. One policy's evaluation
// error never aborts the rest of the pass. Dispatch for all created
// alerts runs concurrently and is joined before returning, so callers
// observe final delivery records (bounded by the per-alert deadline).
func (e *Engine) ProcessEvent(ctx context.Context, event *models.Event, tenant string) ([]string, error) {
	if event.TenantID == "" {
		event.TenantID = tenant
	}
	event.Normalize()
	if err := event.Validate(); err != nil {
		metrics.IngestEventsTotal.WithLabelValues(tenant, "rejected").Inc()
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	metrics.IngestEventsTotal.WithLabelValues(tenant, "accepted").Inc()

	// One snapshot per pass; a policy disabled mid-flight stops matching
	// on the next pass, already-created alerts keep delivering.
	policies, err := e.policies.ListEnabled(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}

	now := time.Now().UTC()
	var hits []created

	for i := range policies {
		policy := &policies[i]

		if !e.evaluator.Evaluate(event, policy.Rules, policy.MatchAll) {
			continue
		}
		metrics.PolicyMatchesTotal.WithLabelValues(policy.ID).Inc()

		if !schedule.IsEligible(policy, now) {
			e.log.Debug().
				Str("policy_id", policy.ID).
				Str("event_id", event.ID).
				Msg("match outside policy time windows")
			continue
		}

		decision := e.tracker.ShouldDispatch(ctx, policy, event, now)
		if !decision.Allowed() {
			// The match is observable through metrics and logs but
			// creates no alert and no delivery records.
			e.log.Info().
				Str("policy_id", policy.ID).
				Str("event_id", event.ID).
				Str("decision", decision.String()).
				Msg("match not dispatched")
			continue
		}

		alert, err := e.alerts.Create(ctx, policy, event)
		if err != nil {
			e.log.Error().Err(err).
				Str("policy_id", policy.ID).
				Str("event_id", event.ID).
				Msg("alert creation failed")
			continue
		}
		hits = append(hits, created{alert: alert, policy: *policy})
	}

	if len(hits) == 0 {
		return []string{}, nil
	}

	// Fan out per alert; different policies' alerts never contend.
	var wg sync.WaitGroup
	for i := range hits {
		wg.Add(1)
		go func(h *created) {
			defer wg.Done()
			e.dispatch.Dispatch(ctx, &h.alert, &h.policy)
			e.publish(ctx, &h.alert)
		}(&hits[i])
	}
	wg.Wait()

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.alert.ID
	}
	return ids, nil
}

// Acknowledge applies the ACTIVE -> ACKNOWLEDGED transition
func (e *Engine) Acknowledge(ctx context.Context, alertID string) (models.Alert, error) {
	return e.alerts.Acknowledge(ctx, alertID)
}

// Resolve applies the transition to RESOLVED (idempotent on resolved)
func (e *Engine) Resolve(ctx context.Context, alertID string) (models.Alert, error) {
	return e.alerts.Resolve(ctx, alertID)
}

// publish emits the alert onto the audit stream when a publisher is
// wired; failures are logged, never surfaced.
func (e *Engine) publish(ctx context.Context, alert *models.Alert) {
	if e.publisher == nil {
		return
	}
	envelope := models.NewAlertEnvelope(alert, e.node)
	if err := e.publisher.PublishAlert(ctx, envelope); err != nil {
		e.log.Error().Err(err).
			Str("alert_id", alert.ID).
			Msg("audit publish failed")
	}
}
