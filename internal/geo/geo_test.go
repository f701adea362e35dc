package geo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCarLocationParsesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "jsonv2", r.URL.Query().Get("format"))
		assert.NotEmpty(t, r.URL.Query().Get("lat"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"display_name": "Dorpsstraat 1, 1234 AB Ons Dorp, Nederland",
			"address": {"road": "Dorpsstraat", "house_number": "1", "village": "Ons Dorp"}
		}`))
	}))
	defer srv.Close()

	g := NewReverseGeocoder("test@example.com")
	g.SetBaseURL(srv.URL)

	local, address, err := g.CarLocation(context.Background(), 52.0, 5.0)
	require.NoError(t, err)
	assert.Equal(t, "Dorpsstraat 1, Ons Dorp", local)
	assert.Equal(t, "Dorpsstraat 1, 1234 AB Ons Dorp, Nederland", address)

	// same rounded coordinate comes from the cache
	_, _, err = g.CarLocation(context.Background(), 52.00001, 5.00001)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	// a different spot goes back to the service
	_, _, err = g.CarLocation(context.Background(), 52.1, 5.1)
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCarLocationErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewReverseGeocoder("")
	g.SetBaseURL(srv.URL)

	_, _, err := g.CarLocation(context.Background(), 52.0, 5.0)
	assert.Error(t, err)
}

func TestLocalLabelFallbacks(t *testing.T) {
	var nr nominatimResponse
	nr.DisplayName = "somewhere far away"
	assert.Equal(t, "somewhere far away", localLabel(nr), "no address parts falls back to the display name")

	nr.Address.Town = "Kleinstad"
	assert.Equal(t, "Kleinstad", localLabel(nr))

	nr.Address.Road = "Hoofdweg"
	assert.Equal(t, "Hoofdweg, Kleinstad", localLabel(nr))
}

func TestDurationMinutes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "now", r.URL.Query().Get("departure_time"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "OK",
			"routes": [{"legs": [{"duration": {"value": 1800}, "duration_in_traffic": {"value": 2100}}]}]
		}`))
	}))
	defer srv.Close()

	c := NewDirectionsClient("key")
	c.SetBaseURL(srv.URL)

	mins, err := c.DurationMinutes(context.Background(), 52.0, 5.0, 52.1, 5.1)
	require.NoError(t, err)
	assert.Equal(t, 35, mins, "the traffic-aware duration wins")
}

func TestDurationMinutesNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ZERO_RESULTS", "routes": []}`))
	}))
	defer srv.Close()

	c := NewDirectionsClient("key")
	c.SetBaseURL(srv.URL)

	_, err := c.DurationMinutes(context.Background(), 52.0, 5.0, 52.1, 5.1)
	assert.Error(t, err)
}
