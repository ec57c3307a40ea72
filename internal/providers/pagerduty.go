package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"klaxon/internal/models"
)

// pagerdutyEventsURL is the Events API v2 enqueue endpoint. Overridable
// per provider via the api_url config key (used by the tests).
const pagerdutyEventsURL = "https://events.pagerduty.com/v2/enqueue"

// PagerDuty delivers alerts through the Events API v2.
//
// Config keys:
//   - routing_key (required, integration key)
//   - api_url (optional endpoint override)
type PagerDuty struct {
	client *http.Client
}

// NewPagerDuty creates the PagerDuty adapter
func NewPagerDuty(client *http.Client) *PagerDuty {
	return &PagerDuty{client: client}
}

// Type returns the adapter's type tag
func (p *PagerDuty) Type() string { return "pagerduty" }

// ValidateConfig checks the routing key is present
func (p *PagerDuty) ValidateConfig(cfg map[string]string) error {
	return requireKeys(cfg, "routing_key")
}

type pdPayload struct {
	Summary  string            `json:"summary"`
	Source   string            `json:"source"`
	Severity string            `json:"severity"`
	Custom   map[string]string `json:"custom_details,omitempty"`
}

type pdEvent struct {
	RoutingKey  string    `json:"routing_key"`
	EventAction string    `json:"event_action"`
	DedupKey    string    `json:"dedup_key,omitempty"`
	Payload     pdPayload `json:"payload"`
}

type pdResponse struct {
	Status   string `json:"status"`
	DedupKey string `json:"dedup_key"`
	Message  string `json:"message"`
}

// pdSeverity maps klaxon severities onto the four PagerDuty levels
func pdSeverity(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "critical"
	case models.SeverityHigh:
		return "error"
	case models.SeverityMedium, models.SeverityLow:
		return "warning"
	default:
		return "info"
	}
}

// Send enqueues a trigger event. The dedup key comes from the message
// metadata (alert_id) so retries of the same alert collapse into one
// incident.
func (p *PagerDuty) Send(ctx context.Context, cfg map[string]string, msg Message) (Result, error) {
	summary := msg.Summary
	if summary == "" {
		summary = msg.Text
	}

	event := pdEvent{
		RoutingKey:  cfg["routing_key"],
		EventAction: "trigger",
		DedupKey:    msg.Metadata["alert_id"],
		Payload: pdPayload{
			Summary:  summary,
			Source:   msg.Metadata["source"],
			Severity: pdSeverity(msg.Severity),
			Custom:   msg.Metadata,
		},
	}
	if event.Payload.Source == "" {
		event.Payload.Source = "klaxon"
	}

	body, err := json.Marshal(event)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	endpoint := cfg["api_url"]
	if endpoint == "" {
		endpoint = pagerdutyEventsURL
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post pagerduty event: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return Result{}, err
	}

	var out pdResponse
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		_ = json.Unmarshal(raw, &out)
	}
	return Result{ExternalRef: out.DedupKey}, nil
}

// TestConnection validates the routing key shape only; the Events API
// has no side-effect-free probe.
func (p *PagerDuty) TestConnection(ctx context.Context, cfg map[string]string) error {
	return p.ValidateConfig(cfg)
}
