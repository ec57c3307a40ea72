package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"klaxon/internal/logger"
	"klaxon/internal/models"
)

// Webhook delivers alerts as a JSON POST to an arbitrary URL.
//
// Config keys:
//   - url (required)
//   - token (optional bearer token)
//   - header_* (optional extra headers, e.g. header_x-env: prod)
type Webhook struct {
	client *http.Client
	log    zerolog.Logger
}

// NewWebhook creates the generic webhook adapter
func NewWebhook(client *http.Client) *Webhook {
	return &Webhook{
		client: client,
		log:    logger.WithComponent("provider_webhook"),
	}
}

// Type returns the adapter's type tag
func (w *Webhook) Type() string { return "webhook" }

// ValidateConfig checks the webhook target URL
func (w *Webhook) ValidateConfig(cfg map[string]string) error {
	if err := requireKeys(cfg, "url"); err != nil {
		return err
	}
	u, err := url.Parse(cfg["url"])
	if err != nil || u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid webhook url %q", cfg["url"])
	}
	return nil
}

// webhookPayload is the JSON body posted to the target
type webhookPayload struct {
	Message  string            `json:"message"`
	Summary  string            `json:"summary,omitempty"`
	Severity models.Severity   `json:"severity"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Send posts the message. 4xx responses are permanent, everything else
// transient.
func (w *Webhook) Send(ctx context.Context, cfg map[string]string, msg Message) (Result, error) {
	body, err := json.Marshal(webhookPayload{
		Message:  msg.Text,
		Summary:  msg.Summary,
		Severity: msg.Severity,
		Metadata: msg.Metadata,
		SentAt:   time.Now().UTC(),
	})
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg["url"], bytes.NewReader(body))
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if token := cfg["token"]; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range cfg {
		if name, ok := strings.CutPrefix(k, "header_"); ok {
			req.Header.Set(name, v)
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return Result{}, err
	}
	return Result{ExternalRef: resp.Header.Get("X-Request-Id")}, nil
}

// TestConnection verifies the URL resolves and answers; a 405 from a
// HEAD probe still counts as reachable.
func (w *Webhook) TestConnection(ctx context.Context, cfg map[string]string) error {
	if err := w.ValidateConfig(cfg); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, cfg["url"], nil)
	if err != nil {
		return err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook unreachable: %w", err)
	}
	resp.Body.Close()
	return nil
}

// classifyStatus maps an HTTP response code to a delivery error. 2xx is
// success; auth rejections and other 4xx are permanent; 5xx and the rest
// are transient.
func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return Permanent(fmt.Errorf("authentication rejected: status %d", code))
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		return Permanent(fmt.Errorf("request rejected: status %d", code))
	default:
		return fmt.Errorf("server error: status %d", code)
	}
}
