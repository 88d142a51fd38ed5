package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	mailchimpPageSize = 1000
	mailchimpTimeout  = 30 * time.Second
)

// ErrMailchimpNotConfigured is returned when the API key or list id is missing.
var ErrMailchimpNotConfigured = errors.New("mailchimp not configured")

// MailchimpClient reads list membership from the Mailchimp Marketing API.
type MailchimpClient struct {
	apiKey  string
	listID  string
	baseURL string
	http    *http.Client
}

// NewMailchimpClient creates a client. The data center is taken from the key suffix ("...-us1").
// baseURL overrides the derived API root when set.
func NewMailchimpClient(apiKey, listID, baseURL string) (*MailchimpClient, error) {
	if apiKey == "" || listID == "" {
		return nil, ErrMailchimpNotConfigured
	}
	if baseURL == "" {
		i := strings.LastIndex(apiKey, "-")
		if i < 0 || i == len(apiKey)-1 {
			return nil, fmt.Errorf("mailchimp api key has no data center suffix")
		}
		baseURL = "https://" + apiKey[i+1:] + ".api.mailchimp.com"
	}
	return &MailchimpClient{
		apiKey:  apiKey,
		listID:  listID,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: mailchimpTimeout},
	}, nil
}

type membersPage struct {
	Members []struct {
		EmailAddress string `json:"email_address"`
	} `json:"members"`
	TotalItems int `json:"total_items"`
}

// Members returns the lower-cased email address of every list member.
func (m *MailchimpClient) Members(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	for offset := 0; ; offset += mailchimpPageSize {
		page, err := m.membersPage(ctx, offset)
		if err != nil {
			return nil, err
		}
		for _, member := range page.Members {
			out[strings.ToLower(member.EmailAddress)] = true
		}
		if len(page.Members) == 0 || offset+len(page.Members) >= page.TotalItems {
			return out, nil
		}
	}
}

func (m *MailchimpClient) membersPage(ctx context.Context, offset int) (*membersPage, error) {
	q := url.Values{}
	q.Set("count", strconv.Itoa(mailchimpPageSize))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("fields", "members.email_address,total_items")
	endpoint := fmt.Sprintf("%s/3.0/lists/%s/members?%s", m.baseURL, url.PathEscape(m.listID), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth("approval-polls", m.apiKey)
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailchimp request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("mailchimp status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var page membersPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode mailchimp members: %w", err)
	}
	return &page, nil
}
