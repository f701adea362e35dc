package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const directionsBase = "https://maps.googleapis.com/maps/api/directions/json"

// DirectionsClient asks the Google Directions API for the live driving
// duration between two coordinates.
type DirectionsClient struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewDirectionsClient creates a directions client.
func NewDirectionsClient(apiKey string) *DirectionsClient {
	return &DirectionsClient{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: directionsBase,
		apiKey:  apiKey,
	}
}

type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			Duration struct {
				Value int `json:"value"` // seconds
			} `json:"duration"`
			DurationInTraffic struct {
				Value int `json:"value"`
			} `json:"duration_in_traffic"`
		} `json:"legs"`
	} `json:"routes"`
}

// DurationMinutes returns the driving time in minutes, preferring the
// traffic-aware figure when the API supplies one.
func (c *DirectionsClient) DurationMinutes(ctx context.Context, fromLat, fromLon, toLat, toLon float64) (int, error) {
	q := url.Values{}
	q.Set("origin", fmt.Sprintf("%f,%f", fromLat, fromLon))
	q.Set("destination", fmt.Sprintf("%f,%f", toLat, toLon))
	q.Set("departure_time", "now")
	q.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("directions request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("directions returned status %d", resp.StatusCode)
	}

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return 0, fmt.Errorf("directions decode failed: %w", err)
	}
	if dr.Status != "OK" || len(dr.Routes) == 0 || len(dr.Routes[0].Legs) == 0 {
		return 0, fmt.Errorf("directions returned no route (status %s)", dr.Status)
	}

	leg := dr.Routes[0].Legs[0]
	seconds := leg.Duration.Value
	if leg.DurationInTraffic.Value > 0 {
		seconds = leg.DurationInTraffic.Value
	}
	return (seconds + 30) / 60, nil
}

// SetBaseURL points the client at a different endpoint, for tests.
func (c *DirectionsClient) SetBaseURL(u string) {
	c.baseURL = u
}
