package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"carlink-backend/internal/device"
	"carlink-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	manager *device.Manager
	store   store.Store
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(m *device.Manager, s store.Store, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		manager: m,
		store:   s,
		webpush: webpushOptions,
	}
}
