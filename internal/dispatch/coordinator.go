package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"klaxon/internal/logger"
	"klaxon/internal/metrics"
	"klaxon/internal/models"
	"klaxon/internal/providers"
	"klaxon/internal/store"
)

// Config holds the dispatch retry and deadline knobs
type Config struct {
	// Bounded attempts per provider per alert
	MaxAttempts int

	// Backoff starts at InitialBackoff and doubles up to MaxBackoff
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Per-attempt timeout for one provider send
	ProviderTimeout time.Duration

	// Global deadline for one alert's whole fan-out; providers still
	// running when it fires are left pending for the sweep
	AlertDeadline time.Duration
}

// withDefaults fills zero fields
func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = 10 * time.Second
	}
	if c.AlertDeadline <= 0 {
		c.AlertDeadline = 60 * time.Second
	}
	return c
}

// Coordinator renders alert templates and fans delivery out to every
// provider bound to the policy. Each provider's attempt/retry loop runs
// in its own goroutine; a slow or failing provider never delays a
// sibling.
type Coordinator struct {
	providers store.ProviderStore
	alerts    store.AlertStore
	registry  *providers.Registry
	cfg       Config
	log       zerolog.Logger
}

// NewCoordinator creates a dispatch coordinator
func NewCoordinator(providerStore store.ProviderStore, alertStore store.AlertStore, registry *providers.Registry, cfg Config) *Coordinator {
	return &Coordinator{
		providers: providerStore,
		alerts:    alertStore,
		registry:  registry,
		cfg:       cfg.withDefaults(),
		log:       logger.WithComponent("dispatch"),
	}
}

// Dispatch renders the alert and delivers it to every bound provider.
// It returns once every provider reached a terminal status or the
// per-alert deadline elapsed; in the deadline case the unfinished
// records are left pending for a later sweep. The returned records are
// in provider list order regardless of completion order.
func (c *Coordinator) Dispatch(ctx context.Context, alert *models.Alert, policy *models.Policy) []models.DeliveryRecord {
	tmplCtx := TemplateContext(alert, &alert.Event)
	alert.Message = Render(policy.MessageTemplate, tmplCtx)
	alert.Summary = Render(policy.SummaryTemplate, tmplCtx)

	if err := c.alerts.SetMessage(ctx, alert.ID, alert.Message, alert.Summary); err != nil {
		c.log.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to persist rendered message")
	}

	if len(policy.Providers) == 0 {
		return nil
	}

	dispatchCtx, cancel := context.WithTimeout(ctx, c.cfg.AlertDeadline)
	defer cancel()

	records := make([]models.DeliveryRecord, len(policy.Providers))
	var wg sync.WaitGroup

	for i, providerID := range policy.Providers {
		rec := models.DeliveryRecord{
			ID:         uuid.New().String(),
			ProviderID: providerID,
			Status:     models.DeliveryStatusPending,
			UpdatedAt:  time.Now().UTC(),
		}
		c.persist(ctx, alert.ID, rec)

		wg.Add(1)
		go func(i int, rec models.DeliveryRecord) {
			defer wg.Done()
			records[i] = c.deliver(dispatchCtx, alert, rec)
		}(i, rec)
	}

	wg.Wait()
	alert.Deliveries = records
	return records
}

// deliver runs one provider's full attempt sequence and persists every
// record change. The returned record is pending only when the context
// deadline cut the sequence short.
func (c *Coordinator) deliver(ctx context.Context, alert *models.Alert, rec models.DeliveryRecord) models.DeliveryRecord {
	log := c.log.With().
		Str("alert_id", alert.ID).
		Str("provider_id", rec.ProviderID).
		Logger()

	provider, err := c.providers.GetProvider(ctx, rec.ProviderID)
	if err != nil {
		return c.finish(ctx, alert.ID, rec, "", models.DeliveryStatusFailed, fmt.Errorf("resolve provider: %w", err))
	}
	if !provider.Enabled {
		return c.finish(ctx, alert.ID, rec, provider.Type, models.DeliveryStatusFailed, fmt.Errorf("provider %s is disabled", provider.ID))
	}

	adapter, err := c.registry.Get(provider.Type)
	if err != nil {
		return c.finish(ctx, alert.ID, rec, provider.Type, models.DeliveryStatusFailed, err)
	}

	// Config problems are permanent; no send attempt is made.
	if err := adapter.ValidateConfig(provider.Config); err != nil {
		log.Warn().Err(err).Msg("provider config invalid, skipping send")
		return c.finish(ctx, alert.ID, rec, provider.Type, models.DeliveryStatusFailed, fmt.Errorf("invalid config: %w", err))
	}

	msg := providers.Message{
		Text:     alert.Message,
		Summary:  alert.Summary,
		Severity: alert.Severity,
		Metadata: map[string]string{
			"alert_id":   alert.ID,
			"policy_id":  alert.PolicyID,
			"tenant_id":  alert.TenantID,
			"event_id":   alert.Event.ID,
			"event_type": alert.Event.Type,
			"source":     alert.Event.Source,
		},
	}

	backoff := c.cfg.InitialBackoff
	for rec.Attempts < c.cfg.MaxAttempts {
		if ctx.Err() != nil {
			// Deadline hit: leave the record pending for the sweep.
			return c.persist(ctx, alert.ID, rec)
		}

		rec.Attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.ProviderTimeout)
		start := time.Now()
		result, err := adapter.Send(attemptCtx, provider.Config, msg)
		cancel()

		metrics.DeliveryAttemptDuration.WithLabelValues(provider.Type).Observe(time.Since(start).Seconds())

		if err == nil {
			now := time.Now().UTC()
			rec.Status = models.DeliveryStatusSuccess
			rec.DeliveredAt = &now
			rec.UpdatedAt = now
			rec.ExternalRef = result.ExternalRef
			rec.LastError = ""
			metrics.DeliveriesTotal.WithLabelValues(provider.Type, string(rec.Status)).Inc()
			log.Info().Int("attempts", rec.Attempts).Str("external_ref", rec.ExternalRef).Msg("delivered")
			return c.persist(ctx, alert.ID, rec)
		}

		rec.LastError = err.Error()
		rec.UpdatedAt = time.Now().UTC()

		if providers.IsPermanent(err) {
			log.Warn().Err(err).Int("attempts", rec.Attempts).Msg("permanent delivery failure")
			return c.finish(ctx, alert.ID, rec, provider.Type, models.DeliveryStatusFailed, err)
		}

		log.Warn().Err(err).Int("attempt", rec.Attempts).Msg("transient delivery failure")

		if rec.Attempts >= c.cfg.MaxAttempts {
			break
		}

		metrics.DeliveryRetriesTotal.Inc()
		select {
		case <-time.After(backoff):
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		case <-ctx.Done():
			return c.persist(ctx, alert.ID, rec)
		}
	}

	log.Error().Int("attempts", rec.Attempts).Str("last_error", rec.LastError).Msg("delivery retries exhausted")
	return c.finish(ctx, alert.ID, rec, provider.Type, models.DeliveryStatusExhausted, nil)
}

// finish stamps a non-success terminal status on a record and persists it
func (c *Coordinator) finish(ctx context.Context, alertID string, rec models.DeliveryRecord, providerType string, status models.DeliveryStatus, err error) models.DeliveryRecord {
	rec.Status = status
	rec.UpdatedAt = time.Now().UTC()
	if err != nil {
		rec.LastError = err.Error()
	}

	if providerType == "" {
		providerType = "unknown"
	}
	metrics.DeliveriesTotal.WithLabelValues(providerType, string(status)).Inc()

	return c.persist(ctx, alertID, rec)
}

// persist writes the record through the alert store. Persistence keeps
// going after the dispatch deadline, so the write uses a context
// detached from cancellation.
func (c *Coordinator) persist(ctx context.Context, alertID string, rec models.DeliveryRecord) models.DeliveryRecord {
	if err := c.alerts.UpsertDelivery(context.WithoutCancel(ctx), alertID, rec); err != nil {
		c.log.Error().Err(err).
			Str("alert_id", alertID).
			Str("provider_id", rec.ProviderID).
			Msg("failed to persist delivery record")
	}
	return rec
}

// SweepPending re-runs delivery for every alert that still has pending
// records, driving each one to a terminal status. The daemon calls this
// on a ticker; the cadence is its concern, not the coordinator's.
func (c *Coordinator) SweepPending(ctx context.Context) {
	alerts, err := c.alerts.ListPendingDeliveries(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("pending delivery scan failed")
		return
	}

	for i := range alerts {
		alert := &alerts[i]
		sweepCtx, cancel := context.WithTimeout(ctx, c.cfg.AlertDeadline)

		var wg sync.WaitGroup
		for _, rec := range alert.Deliveries {
			if rec.Status != models.DeliveryStatusPending {
				continue
			}
			metrics.SweepReconciledTotal.Inc()

			wg.Add(1)
			go func(rec models.DeliveryRecord) {
				defer wg.Done()
				c.deliver(sweepCtx, alert, rec)
			}(rec)
		}
		wg.Wait()
		cancel()
	}
}
