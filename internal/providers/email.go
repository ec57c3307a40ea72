package providers

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// Email delivers alerts over SMTP. No pack dependency covers SMTP, so
// this adapter uses net/smtp directly.
//
// Config keys:
//   - host, port, from, to (required; to may be comma-separated)
//   - username, password (optional, PLAIN auth when both set)
type Email struct{}

// NewEmail creates the email adapter
func NewEmail() *Email { return &Email{} }

// Type returns the adapter's type tag
func (e *Email) Type() string { return "email" }

// ValidateConfig checks the SMTP target and addresses
func (e *Email) ValidateConfig(cfg map[string]string) error {
	if err := requireKeys(cfg, "host", "port", "from", "to"); err != nil {
		return err
	}
	port, err := strconv.Atoi(cfg["port"])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid smtp port %q", cfg["port"])
	}
	if !strings.Contains(cfg["from"], "@") {
		return fmt.Errorf("invalid from address %q", cfg["from"])
	}
	for _, to := range recipients(cfg["to"]) {
		if !strings.Contains(to, "@") {
			return fmt.Errorf("invalid to address %q", to)
		}
	}
	return nil
}

// Send delivers one message. SMTP auth rejections are permanent;
// connection and protocol errors are transient.
func (e *Email) Send(ctx context.Context, cfg map[string]string, msg Message) (Result, error) {
	addr := net.JoinHostPort(cfg["host"], cfg["port"])
	to := recipients(cfg["to"])

	subject := msg.Summary
	if subject == "" {
		subject = msg.Text
	}

	var body strings.Builder
	fmt.Fprintf(&body, "From: %s\r\n", cfg["from"])
	fmt.Fprintf(&body, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&body, "Subject: [%s] %s\r\n", strings.ToUpper(string(msg.Severity)), subject)
	body.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	body.WriteString(msg.Text)
	body.WriteString("\r\n")
	if len(msg.Metadata) > 0 {
		body.WriteString("\r\n")
		for k, v := range msg.Metadata {
			fmt.Fprintf(&body, "%s: %s\r\n", k, v)
		}
	}

	var auth smtp.Auth
	if cfg["username"] != "" && cfg["password"] != "" {
		auth = smtp.PlainAuth("", cfg["username"], cfg["password"], cfg["host"])
	}

	// net/smtp has no context support; honor ctx via a dial deadline
	// derived from it.
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, cfg["from"], to, []byte(body.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			if isAuthError(err) {
				return Result{}, Permanent(fmt.Errorf("smtp auth rejected: %w", err))
			}
			return Result{}, fmt.Errorf("smtp send: %w", err)
		}
		return Result{}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// TestConnection dials the SMTP server and quits without sending
func (e *Email) TestConnection(ctx context.Context, cfg map[string]string) error {
	if err := e.ValidateConfig(cfg); err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg["host"], cfg["port"])
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp unreachable: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, cfg["host"])
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	return client.Quit()
}

// isAuthError inspects the SMTP reply code for auth-class failures
func isAuthError(err error) bool {
	s := err.Error()
	return strings.HasPrefix(s, "535") || strings.HasPrefix(s, "530") || strings.HasPrefix(s, "534")
}

func recipients(to string) []string {
	parts := strings.Split(to, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
