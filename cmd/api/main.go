package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/churn-analytics/internal/api/handlers"
	"github.com/dvloznov/churn-analytics/internal/app"
	"github.com/dvloznov/churn-analytics/internal/campaign"
	"github.com/dvloznov/churn-analytics/internal/config"
	"github.com/dvloznov/churn-analytics/internal/jobs/inmemory"
	"github.com/dvloznov/churn-analytics/internal/logger"
)

func main() {
	// Parse command-line flags
	var (
		configPath = flag.String("config", os.Getenv("CHURN_CONFIG"), "Path to a YAML config file (or set CHURN_CONFIG)")
		port       = flag.String("port", "", "HTTP server port (overrides api.port)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if *port != "" {
		cfg.API.Port = *port
	}

	// Initialize logger
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if cfg.Sinks.SQLite == "" {
		log.Fatal().Msg("The API serves from SQLite; set sinks.sqlite or CHURN_SQLITE_PATH")
	}

	ctx := logger.WithContext(context.Background(), log)
	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backends")
	}
	defer rt.Close()

	var drafter campaign.Drafter
	if cfg.Campaign.Enabled {
		gd, err := campaign.NewGeminiDrafter(ctx, cfg.Campaign.Model)
		if err != nil {
			log.Warn().Err(err).Msg("Campaign drafter unavailable, recommendations use playbook messages")
		} else {
			drafter = gd
		}
	}

	// Initialize job infrastructure
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.API.QueueSize, cfg.API.JobWorkers, jobStore)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	log.Info().Int("workers", cfg.API.JobWorkers).Msg("Starting job workers")
	if err := jobQueue.Start(workerCtx, rt.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job workers")
	}

	if cfg.API.Token == "" {
		log.Warn().Msg("api.token is not set; write routes accept unauthenticated requests")
	}

	router := handlers.NewRouter(handlers.RouterDeps{
		Features:       rt.Store,
		Runs:           rt.Store,
		Publisher:      jobQueue,
		Jobs:           jobStore,
		Planner:        campaign.NewPlanner(drafter),
		Campaigns:      rt.Store,
		Log:            log,
		Token:          cfg.API.Token,
		AllowedOrigins: cfg.API.AllowedOrigins,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.API.Port).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop accepting jobs and wait for in-flight builds, then cancel them.
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
