// Package geo wraps the reverse-geocoding and driving-duration services
// the device layer uses to describe where the car is.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

const nominatimBase = "https://nominatim.openstreetmap.org/reverse"

// ReverseGeocoder resolves coordinates against the Nominatim API. Results
// are cached on a rounded coordinate key so a parked car does not hammer
// the service on every poll.
type ReverseGeocoder struct {
	client  *http.Client
	baseURL string
	email   string
	cache   *cache.Cache
}

// NewReverseGeocoder creates a geocoder. The email identifies the client
// to the Nominatim usage policy and may be empty.
func NewReverseGeocoder(email string) *ReverseGeocoder {
	return &ReverseGeocoder{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: nominatimBase,
		email:   email,
		cache:   cache.New(6*time.Hour, 30*time.Minute),
	}
}

type nominatimResponse struct {
	DisplayName string `json:"display_name"`
	Address     struct {
		Road          string `json:"road"`
		HouseNumber   string `json:"house_number"`
		Village       string `json:"village"`
		Town          string `json:"town"`
		City          string `json:"city"`
		Municipality  string `json:"municipality"`
		Neighbourhood string `json:"neighbourhood"`
	} `json:"address"`
}

// CarLocation returns a short place label and the full address for a
// coordinate.
func (g *ReverseGeocoder) CarLocation(ctx context.Context, lat, lon float64) (string, string, error) {
	// ~11 m grid, plenty for "where is the car"
	key := fmt.Sprintf("%.4f,%.4f", lat, lon)
	if hit, ok := g.cache.Get(key); ok {
		cached := hit.([2]string)
		return cached[0], cached[1], nil
	}

	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%f", lat))
	q.Set("lon", fmt.Sprintf("%f", lon))
	if g.email != "" {
		q.Set("email", g.email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", "", err
	}
	req.Header.Set("User-Agent", "carlink-backend")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("reverse geocode request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("reverse geocode returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	var nr nominatimResponse
	if err := json.Unmarshal(body, &nr); err != nil {
		return "", "", fmt.Errorf("reverse geocode decode failed: %w", err)
	}

	local := localLabel(nr)
	g.cache.Set(key, [2]string{local, nr.DisplayName}, cache.DefaultExpiration)
	return local, nr.DisplayName, nil
}

// localLabel builds a short "road, place" label from whichever address
// parts the response carries.
func localLabel(nr nominatimResponse) string {
	road := nr.Address.Road
	if nr.Address.HouseNumber != "" && road != "" {
		road = road + " " + nr.Address.HouseNumber
	}
	place := nr.Address.City
	if place == "" {
		place = nr.Address.Town
	}
	if place == "" {
		place = nr.Address.Village
	}
	if place == "" {
		place = nr.Address.Municipality
	}
	if place == "" {
		place = nr.Address.Neighbourhood
	}

	parts := make([]string, 0, 2)
	if road != "" {
		parts = append(parts, road)
	}
	if place != "" {
		parts = append(parts, place)
	}
	if len(parts) == 0 {
		return nr.DisplayName
	}
	return strings.Join(parts, ", ")
}

// SetBaseURL points the geocoder at a different endpoint, for tests.
func (g *ReverseGeocoder) SetBaseURL(u string) {
	g.baseURL = u
}
