// Package mailer delivers transactional email through Mailgun, SendGrid or the log.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Providers.
const (
	ProviderConsole  = "console"
	ProviderMailgun  = "mailgun"
	ProviderSendGrid = "sendgrid"
)

const requestTimeout = 10 * time.Second

// ErrNotConfigured is returned when a provider is selected without credentials.
var ErrNotConfigured = errors.New("mailer not configured")

// Message is a single outgoing HTML email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends a message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Config selects the provider and carries its credentials.
type Config struct {
	Provider       string
	FromAddress    string
	FromName       string
	MailgunAPIKey  string
	MailgunDomain  string
	MailgunBaseURL string
	SendGridAPIKey string
	SendGridURL    string // overrides the API endpoint; tests only
}

// New builds the Mailer for cfg.Provider.
func New(cfg Config, logger *zap.Logger) (Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := &http.Client{Timeout: requestTimeout}
	switch cfg.Provider {
	case "", ProviderConsole:
		return &Console{logger: logger}, nil
	case ProviderMailgun:
		if cfg.MailgunAPIKey == "" || cfg.MailgunDomain == "" {
			return nil, fmt.Errorf("mailgun: %w", ErrNotConfigured)
		}
		return &Mailgun{cfg: cfg, client: client}, nil
	case ProviderSendGrid:
		if cfg.SendGridAPIKey == "" {
			return nil, fmt.Errorf("sendgrid: %w", ErrNotConfigured)
		}
		return &SendGrid{cfg: cfg, client: client}, nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}

func (c Config) from() string {
	if c.FromName == "" {
		return c.FromAddress
	}
	return fmt.Sprintf("%s <%s>", c.FromName, c.FromAddress)
}

// checkResponse turns a non-2xx provider response into an error carrying a prefix of the body.
func checkResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: status %d: %s", provider, resp.StatusCode, string(body))
}

// Console writes messages to the log instead of sending them.
type Console struct {
	logger *zap.Logger
}

// Send logs the message.
func (c *Console) Send(_ context.Context, msg Message) error {
	c.logger.Info("email (console)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}
