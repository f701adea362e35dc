package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"

	"carlink-backend/config"
	"carlink-backend/internal/api"
	"carlink-backend/internal/db"
	"carlink-backend/internal/device"
	"carlink-backend/internal/geo"
	"carlink-backend/internal/notification"
	"carlink-backend/internal/shortener"
	"carlink-backend/internal/store"
	"carlink-backend/internal/telemetry"
	"carlink-backend/internal/vehicle/bluelink"
)

func main() {
	logger := log.New(os.Stdout, "carlink-backend ", log.LstdFlags)

	// .env is optional, real deployments use the environment directly
	if err := godotenv.Load(); err == nil {
		logger.Println("loaded environment from .env")
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if len(cfg.Vehicles) == 0 {
		logger.Fatalf("no vehicles configured")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	logger.Println("data store initialized")

	for _, vc := range cfg.Vehicles {
		if err := appStore.UpsertVehicle(ctx, vc.VIN, vc.Name, vc.Brand); err != nil {
			logger.Printf("warning: could not register vehicle %s: %v", vc.Name, err)
		}
	}

	workerPool := notification.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions)
	workerPool.Start(ctx)

	collab := device.Collaborators{Notifier: workerPool}
	if cfg.Geocode.Email != "" {
		collab.Geocoder = geo.NewReverseGeocoder(cfg.Geocode.Email)
	}
	if cfg.Directions.APIKey != "" {
		collab.Directions = geo.NewDirectionsClient(cfg.Directions.APIKey)
	}
	if cfg.ABRP.APIKey != "" && cfg.ABRP.UserToken != "" {
		collab.Telemetry = telemetry.NewClient(cfg.ABRP.APIKey, cfg.ABRP.UserToken)
	}

	var short device.Shortener
	if cfg.Shortener.APIKey != "" {
		short = shortener.NewClient(cfg.Shortener.APIKey)
	}

	account := bluelink.NewAccount(cfg.Account)
	manager := device.NewManager(cfg, appStore, account, collab, short)
	if err := manager.StartAll(ctx); err != nil {
		logger.Fatalf("failed to start devices: %v", err)
	}
	logger.Printf("started %d vehicle devices", len(manager.All()))

	// restore the persisted link switch per vehicle
	for _, d := range manager.All() {
		enabled, err := appStore.GetLinkEnabled(ctx, d.VIN())
		if err != nil {
			logger.Printf("warning: could not read link state for %s: %v", d.Name(), err)
			continue
		}
		if !enabled {
			d.SetLinkEnabled(false, "store")
		}
	}

	router := api.NewRouter(cfg, manager, appStore, &webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	manager.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
