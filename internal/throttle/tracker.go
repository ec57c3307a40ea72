package throttle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"klaxon/internal/logger"
	"klaxon/internal/metrics"
	"klaxon/internal/models"
	"klaxon/internal/store"
)

// Decision is the outcome of a dispatch eligibility check
type Decision int

const (
	Allow Decision = iota
	ThrottledCooldown
	ThrottledHourlyCap
	Suppressed
)

// String returns the metric label for the decision
func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case ThrottledCooldown:
		return "throttled_cooldown"
	case ThrottledHourlyCap:
		return "throttled_hourly_cap"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// Allowed reports whether the decision permits alert creation
func (d Decision) Allowed() bool {
	return d == Allow
}

// policyState is the mutable throttle state for one policy. Its lock
// makes cooldown/cap check-then-record atomic; nothing that can block
// on I/O runs while it is held.
type policyState struct {
	mu        sync.Mutex
	lastAlert time.Time
	hour      []time.Time
}

// Tracker applies suppressions, cooldowns and hourly caps per policy
type Tracker struct {
	suppressions store.SuppressionStore
	log          zerolog.Logger

	mu     sync.Mutex
	states map[string]*policyState
}

// NewTracker creates a tracker backed by the given suppression store
func NewTracker(suppressions store.SuppressionStore) *Tracker {
	return &Tracker{
		suppressions: suppressions,
		log:          logger.WithComponent("throttle"),
		states:       make(map[string]*policyState),
	}
}

// ShouldDispatch decides whether a matched policy may create an alert
// right now. A suppression store failure fails closed: the decision is
// Suppressed, never an error that lets the alert through.
func (t *Tracker) ShouldDispatch(ctx context.Context, policy *models.Policy, event *models.Event, now time.Time) Decision {
	// Suppression lookup does I/O, so it stays outside the policy lock.
	active, err := t.suppressions.ActiveFor(ctx, policy.ID, now)
	if err != nil {
		metrics.ThrottleStoreErrorsTotal.Inc()
		t.log.Error().Err(err).
			Str("policy_id", policy.ID).
			Msg("suppression lookup failed, failing closed")
		return t.decide(policy.ID, Suppressed)
	}
	for _, s := range active {
		if s.Covers(event.Source) {
			return t.decide(policy.ID, Suppressed)
		}
	}

	state := t.state(policy.ID)
	state.mu.Lock()
	defer state.mu.Unlock()

	if policy.ThrottleMinutes > 0 && !state.lastAlert.IsZero() {
		cooldown := time.Duration(policy.ThrottleMinutes) * time.Minute
		if now.Sub(state.lastAlert) < cooldown {
			return t.decide(policy.ID, ThrottledCooldown)
		}
	}

	if policy.MaxAlertsPerHour > 0 {
		state.hour = pruneOlderThan(state.hour, now.Add(-time.Hour))
		if len(state.hour) >= policy.MaxAlertsPerHour {
			return t.decide(policy.ID, ThrottledHourlyCap)
		}
	}

	// Record inside the same critical section as the checks so two
	// concurrent events cannot both take the last hourly slot.
	state.lastAlert = now
	if policy.MaxAlertsPerHour > 0 {
		state.hour = append(state.hour, now)
	}
	return t.decide(policy.ID, Allow)
}

// Reset drops all recorded throttle state
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states = make(map[string]*policyState)
}

func (t *Tracker) state(policyID string) *policyState {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.states[policyID]
	if !ok {
		s = &policyState{}
		t.states[policyID] = s
	}
	return s
}

func (t *Tracker) decide(policyID string, d Decision) Decision {
	metrics.ThrottleDecisionsTotal.WithLabelValues(d.String()).Inc()
	if !d.Allowed() {
		t.log.Debug().
			Str("policy_id", policyID).
			Str("decision", d.String()).
			Msg("dispatch denied")
	}
	return d
}

// pruneOlderThan drops timestamps at or before the cutoff, in place
func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	kept := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
