package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/churn-analytics/internal/app"
	"github.com/dvloznov/churn-analytics/internal/config"
	"github.com/dvloznov/churn-analytics/internal/jobs"
	"github.com/dvloznov/churn-analytics/internal/jobs/inmemory"
	"github.com/dvloznov/churn-analytics/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("CHURN_CONFIG"), "Path to a YAML config file (or set CHURN_CONFIG)")
		interval   = flag.Duration("interval", 24*time.Hour, "Time between scheduled feature builds")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logger.New()
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	log := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if *interval <= 0 {
		log.Fatal().Dur("interval", *interval).Msg("Error: -interval must be positive")
	}

	ctx, cancel := context.WithCancel(logger.WithContext(context.Background(), log))
	defer cancel()

	rt, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open backends")
	}
	defer rt.Close()

	// A single worker keeps scheduled builds from overlapping.
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(1, 1, jobStore)
	if err := jobQueue.Start(ctx, rt.JobHandler()); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	schedule := func() {
		// A full queue means the previous build is still waiting; skip this tick.
		pctx, pcancel := context.WithTimeout(ctx, time.Second)
		defer pcancel()
		job := &jobs.BuildFeaturesJob{}
		if err := jobQueue.PublishBuildFeatures(pctx, job); err != nil {
			log.Warn().Err(err).Msg("Skipped scheduled feature build")
			return
		}
		log.Info().Str("job_id", job.JobID).Msg("Scheduled feature build")
	}

	log.Info().Dur("interval", *interval).Msg("Worker service started")
	schedule()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

loop:
	for {
		select {
		case <-ticker.C:
			schedule()
		case <-quit:
			break loop
		}
	}

	log.Info().Msg("Shutting down worker service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for an in-flight build
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}
