package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"klaxon/internal/models"
)

// Slack delivers alerts to a Slack incoming webhook.
//
// Config keys:
//   - webhook_url (required, must be an https URL)
//   - channel (optional override)
type Slack struct {
	client *http.Client
}

// NewSlack creates the Slack adapter
func NewSlack(client *http.Client) *Slack {
	return &Slack{client: client}
}

// Type returns the adapter's type tag
func (s *Slack) Type() string { return "slack" }

// ValidateConfig checks the incoming-webhook URL
func (s *Slack) ValidateConfig(cfg map[string]string) error {
	if err := requireKeys(cfg, "webhook_url"); err != nil {
		return err
	}
	u, err := url.Parse(cfg["webhook_url"])
	if err != nil || u.Scheme != "https" {
		return fmt.Errorf("invalid slack webhook url %q", cfg["webhook_url"])
	}
	return nil
}

type slackAttachment struct {
	Color string `json:"color"`
	Title string `json:"title,omitempty"`
	Text  string `json:"text"`
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Text        string            `json:"text"`
	Attachments []slackAttachment `json:"attachments,omitempty"`
}

// severityColor maps severities to Slack attachment colors
func severityColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical, models.SeverityHigh:
		return "danger"
	case models.SeverityMedium:
		return "warning"
	default:
		return "good"
	}
}

// Send posts the incoming-webhook payload. Slack answers "ok" on
// success; an invalid webhook path comes back 404 and is permanent.
func (s *Slack) Send(ctx context.Context, cfg map[string]string, msg Message) (Result, error) {
	payload := slackPayload{
		Channel: cfg["channel"],
		Text:    msg.Summary,
	}
	if payload.Text == "" {
		payload.Text = msg.Text
	}
	payload.Attachments = []slackAttachment{{
		Color: severityColor(msg.Severity),
		Title: strings.ToUpper(string(msg.Severity)),
		Text:  msg.Text,
	}}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg["webhook_url"], bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return Result{}, err
	}
	return Result{}, nil
}

// TestConnection sends a minimal probe message
func (s *Slack) TestConnection(ctx context.Context, cfg map[string]string) error {
	if err := s.ValidateConfig(cfg); err != nil {
		return err
	}
	_, err := s.Send(ctx, cfg, Message{
		Text:     "klaxon connection test",
		Severity: models.SeverityInfo,
	})
	return err
}
