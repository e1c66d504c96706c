package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/isdelr/leadboard-be/internal/api"
	"github.com/isdelr/leadboard-be/internal/auth"
	"github.com/isdelr/leadboard-be/internal/config"
	"github.com/isdelr/leadboard-be/internal/database"
	"github.com/isdelr/leadboard-be/internal/logger"
	"github.com/isdelr/leadboard-be/internal/monitoring"
	"github.com/isdelr/leadboard-be/internal/services"
	"github.com/isdelr/leadboard-be/internal/websocket"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.IsProduction())

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.DatabasePath).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	secret := []byte(cfg.TokenSecret)
	if len(secret) == 0 {
		log.Warn().Msg("TOKEN_SECRET is not set; issued tokens will not survive a restart")
		secret = auth.RandomSecret()
	}

	// Set up WebSocket Hub
	hub := websocket.NewHub()
	go hub.Run()

	// Set up services
	tokenStore := auth.NewTokenStore(db, secret)
	userService := services.NewUserService(db)
	eventService := services.NewEventService(db)
	leadService := services.NewLeadService(db, eventService, hub)

	if cfg.BootstrapUsername != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err := userService.EnsureUser(ctx, cfg.BootstrapUsername, cfg.BootstrapPassword)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Str("username", cfg.BootstrapUsername).Msg("Failed to provision bootstrap identity")
		}
	}

	// Set up and run the background stats updater
	statUpdater := monitoring.NewStatUpdater(15 * time.Second)
	go statUpdater.Run()

	// Set up and run the background scheduler
	scheduler, err := monitoring.NewScheduler(leadService, eventService, cfg.DigestCron)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	go scheduler.Run()

	// Set up router
	router := api.NewRouter(cfg, api.Dependencies{
		Guard:  auth.NewGuard(tokenStore),
		Tokens: tokenStore,
		Users:  userService,
		Leads:  leadService,
		Events: eventService,
		Hub:    hub,
		Stats:  statUpdater,
	})

	// Set up server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Str("env", cfg.Env).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	statUpdater.Stop()
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.Stop()

	log.Info().Msg("Server exiting")
}
