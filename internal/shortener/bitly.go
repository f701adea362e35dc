// Package shortener shortens the remote-refresh webhook URL via Bitly.
package shortener

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const bitlyBase = "https://api-ssl.bitly.com/v4/shorten"

// Client calls the Bitly v4 shorten endpoint.
type Client struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewClient creates a shortener client.
func NewClient(apiKey string) *Client {
	return &Client{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: bitlyBase,
		apiKey:  apiKey,
	}
}

// Shorten returns the short link for a long URL.
func (c *Client) Shorten(ctx context.Context, longURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"long_url": longURL})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("shorten request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("shorten returned status %d", resp.StatusCode)
	}

	var out struct {
		Link string `json:"link"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("shorten decode failed: %w", err)
	}
	if out.Link == "" {
		return "", fmt.Errorf("shorten returned an empty link")
	}
	return out.Link, nil
}

// SetBaseURL points the client at a different endpoint, for tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}
