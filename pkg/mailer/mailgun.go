package mailer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Mailgun sends through the Mailgun messages API.
type Mailgun struct {
	cfg    Config
	client *http.Client
}

// Send posts the message as a form to /v3/{domain}/messages.
func (m *Mailgun) Send(ctx context.Context, msg Message) error {
	base := strings.TrimRight(m.cfg.MailgunBaseURL, "/")
	if base == "" {
		base = "https://api.mailgun.net"
	}
	endpoint := fmt.Sprintf("%s/v3/%s/messages", base, m.cfg.MailgunDomain)

	form := url.Values{}
	form.Set("from", m.cfg.from())
	form.Set("to", msg.To)
	form.Set("subject", msg.Subject)
	form.Set("html", msg.HTML)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("mailgun: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth("api", m.cfg.MailgunAPIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun: %w", err)
	}
	defer resp.Body.Close()
	return checkResponse("mailgun", resp)
}
