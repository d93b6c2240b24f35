// Command reviewapi serves the manual-review HTTP surface: the queue of
// images stuck in manual_review, the normalized image for each, and the
// endpoints a reviewer's submission or rejection goes through. It also
// hosts the job-event websocket so a review dashboard can watch the
// pipeline live.
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
	"github.com/productlens/barcodeflow/internal/events"
	"github.com/productlens/barcodeflow/internal/reviewapi"
	"github.com/productlens/barcodeflow/internal/storage"
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

	blobs, err := storage.NewBlobStore(logger, storage.BlobStoreConfigFromCommon(cfg.Blob))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	hub := events.NewHub(logger)
	go hub.Run()

	review := &reviewapi.Server{
		Images:     mgr.ImageStore,
		Detections: mgr.DetectionStore,
		Blobs:      blobs,
		Events:     hub,
		Logger:     logger,
	}
	if cfg.ReviewAPI.JWTSecret != "" {
		review.Auth = &reviewapi.ReviewerAuth{Secret: []byte(cfg.ReviewAPI.JWTSecret)}
	}

	mux := http.NewServeMux()
	review.Routes(mux)
	mux.HandleFunc("/api/health", healthHandler)
	mux.HandleFunc("/api/version", versionHandler)
	mux.HandleFunc("/events", hub.ServeWS)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.ReviewAPI.Host, cfg.ReviewAPI.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("review api http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("review api http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("review api http server shutdown failed")
	}

	hub.Stop()
	if err := mgr.Close(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("failed to close mongodb connection")
	}
	logger.Info().Msg("review api stopped")
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
