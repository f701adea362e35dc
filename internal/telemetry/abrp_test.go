package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSend(t *testing.T) {
	var got struct {
		TLM struct {
			UTC        int64   `json:"utc"`
			SoC        int     `json:"soc"`
			Speed      float64 `json:"speed"`
			Lat        float64 `json:"lat"`
			Lon        float64 `json:"lon"`
			IsCharging int     `json:"is_charging"`
			IsDCFC     int     `json:"is_dcfc"`
		} `json:"tlm"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "apikey", r.URL.Query().Get("api_key"))
		assert.Equal(t, "usertoken", r.URL.Query().Get("token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	c := NewClient("apikey", "usertoken")
	c.SetBaseURL(srv.URL)

	err := c.Send(context.Background(), 52.0, 5.0, 88.5, 67, true, true)
	require.NoError(t, err)

	assert.Equal(t, 67, got.TLM.SoC)
	assert.Equal(t, 88.5, got.TLM.Speed)
	assert.Equal(t, 1, got.TLM.IsCharging)
	assert.Equal(t, 1, got.TLM.IsDCFC)
	assert.NotZero(t, got.TLM.UTC)
}

func TestSendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad", "bad")
	c.SetBaseURL(srv.URL)

	err := c.Send(context.Background(), 52.0, 5.0, 0, 50, false, false)
	assert.Error(t, err)
}
