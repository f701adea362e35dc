// Package telemetry forwards live EV state to the A Better Routeplanner
// telemetry API.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const abrpBase = "https://api.iternio.com/1/tlm/send"

// Client posts telemetry samples to ABRP. Samples are best-effort: the
// caller fires and forgets.
type Client struct {
	client    *http.Client
	baseURL   string
	apiKey    string
	userToken string
}

// NewClient creates a telemetry client. Both the API key and the per-user
// token are required by the service.
func NewClient(apiKey, userToken string) *Client {
	return &Client{
		client:    &http.Client{Timeout: 10 * time.Second},
		baseURL:   abrpBase,
		apiKey:    apiKey,
		userToken: userToken,
	}
}

type sample struct {
	UTC        int64   `json:"utc"`
	SoC        int     `json:"soc"`
	Speed      float64 `json:"speed"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	IsCharging int     `json:"is_charging"`
	IsDCFC     int     `json:"is_dcfc"`
}

type envelope struct {
	TLM sample `json:"tlm"`
}

// Send posts one telemetry sample.
func (c *Client) Send(ctx context.Context, lat, lon, speed float64, soc int, charging, dcfc bool) error {
	s := sample{
		UTC:   time.Now().Unix(),
		SoC:   soc,
		Speed: speed,
		Lat:   lat,
		Lon:   lon,
	}
	if charging {
		s.IsCharging = 1
	}
	if dcfc {
		s.IsDCFC = 1
	}

	body, err := json.Marshal(envelope{TLM: s})
	if err != nil {
		return err
	}

	u := fmt.Sprintf("%s?api_key=%s&token=%s", c.baseURL, c.apiKey, c.userToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("telemetry post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telemetry returned status %d", resp.StatusCode)
	}
	return nil
}

// SetBaseURL points the client at a different endpoint, for tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}
