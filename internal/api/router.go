package api

import (
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"carlink-backend/config"
	"carlink-backend/internal/device"
	"carlink-backend/internal/mw"
	"carlink-backend/internal/store"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(cfg *config.Config, m *device.Manager, s store.Store, webpushOptions *webpush.Options) *gin.Engine {
	r := gin.Default()

	handler := NewHandler(m, s, webpushOptions)

	limit := rate.Limit(cfg.Server.RateLimitPerSec)
	if limit <= 0 {
		limit = rate.Limit(10)
	}
	rateLimiter := mw.RateLimiter(limit, 10)

	ttl := time.Duration(cfg.Server.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	cacheStore := cache.New(ttl, 2*ttl)
	caching := mw.Cache(cacheStore, ttl)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/vehicles", caching, handler.GetVehicles)
		api.GET("/vehicles/:vin/status", caching, handler.GetVehicleStatus)
		api.GET("/vehicles/:vin/history", handler.GetVehicleHistory)
		api.GET("/vehicles/:vin/remote", handler.GetRemoteURL)
		api.POST("/vehicles/:vin/commands", handler.PostCommand)
		api.POST("/vehicles/:vin/refresh", handler.PostRefresh)
		api.PUT("/vehicles/:vin/link", handler.PutLink)
		api.PUT("/vehicles/:vin/settings", handler.PutSettings)

		// remote force refresh, authenticated by the per-vehicle secret
		api.GET("/live", handler.GetLive)

		api.GET("/subscriptions", handler.GetSubscription)
		api.PUT("/subscriptions", handler.PutSubscription)
		api.DELETE("/subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)
	}

	return r
}
