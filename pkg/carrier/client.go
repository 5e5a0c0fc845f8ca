package carrier

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the carrier REST endpoint.
const DefaultBaseURL = "https://api.twilio.com"

// Client drives carrier-side call control. The zero credentials client is
// disabled: operations succeed without touching the network so calls still
// complete in environments without carrier access.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides the REST endpoint, mainly for tests.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(baseURL, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a call-control client.
func NewClient(accountSID, authToken string, opts ...Option) *Client {
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether carrier credentials are configured.
func (c *Client) Enabled() bool {
	return c != nil && c.accountSID != "" && c.authToken != ""
}

// Hangup asks the carrier to complete the call. Disabled clients no-op.
func (c *Client) Hangup(ctx context.Context, callSID string) error {
	if !c.Enabled() {
		return nil
	}
	if strings.TrimSpace(callSID) == "" {
		return fmt.Errorf("hangup: empty call sid")
	}
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json",
		c.baseURL, url.PathEscape(c.accountSID), url.PathEscape(callSID))
	form := url.Values{"Status": {"completed"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("hangup: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hangup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hangup: carrier returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
