package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// MailAPIClient sends transactional email through an HTTP mail API.
type MailAPIClient struct {
	APIKey     string
	BaseURL    string
	From       string
	HTTPClient *http.Client
}

// NewMailAPIClient returns a client that uses the given API key, base URL, and from address.
func NewMailAPIClient(apiKey, baseURL, from string) *MailAPIClient {
	return &MailAPIClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		From:       from,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SendPasswordReset sends the reset link to the given address. Does not log the URL.
func (c *MailAPIClient) SendPasswordReset(ctx context.Context, email, resetURL string) error {
	if c.APIKey == "" {
		return fmt.Errorf("notification: mail API key not configured")
	}
	body := map[string]interface{}{
		"from":    c.From,
		"to":      email,
		"subject": "Reset your password",
		"text":    "Someone requested a password reset for your account. Open the link below to choose a new password. The link expires in one hour and can be used once.\n\n" + resetURL + "\n\nIf this was not you, you can ignore this email.",
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("notification: mail request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
