// Command dispatcher runs the reap/seed loop that keeps the job queue in
// sync with image status, plus a small HTTP surface (health/version and
// the job-event websocket) for operators and the review dashboard.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/dispatcher"
	"github.com/productlens/barcodeflow/internal/events"
	"github.com/productlens/barcodeflow/internal/storage/mongostore"
)

func main() {
	configPath := os.Getenv("BARCODEFLOW_CONFIG")
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := common.NewLogger(cfg.Logging.Level)
	ctx := context.Background()

	mgr, err := mongostore.NewManager(ctx, logger, &cfg.Mongo)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to mongodb")
	}

	hub := events.NewHub(logger)
	go hub.Run()

	d := dispatcher.New(mgr.ImageStore, mgr.JobQueueStore, hub, logger, dispatcher.Config{
		PollInterval:  cfg.Worker.GetPollInterval(),
		BatchSize:     cfg.Worker.BatchSize,
		StartupDelay:  cfg.JobManager.GetWatcherStartupDelay(),
		LeaseDuration: cfg.Worker.GetDispatcherLeaseDuration(),
	})
	d.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", healthHandler)
	mux.HandleFunc("/api/version", versionHandler)
	mux.HandleFunc("/events", hub.ServeWS)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ReviewAPI.Host, cfg.ReviewAPI.Port+1),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("dispatcher http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("dispatcher http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("dispatcher http server shutdown failed")
	}

	d.Stop()
	hub.Stop()
	if err := mgr.Close(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("failed to close mongodb connection")
	}
	logger.Info().Msg("dispatcher stopped")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func versionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version": common.GetVersion(),
		"build":   common.GetBuild(),
		"commit":  common.GetGitCommit(),
	})
}
