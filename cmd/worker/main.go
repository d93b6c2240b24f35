// Command worker runs a single Stage Handler's poll/lease/execute loop.
// One worker process handles exactly one job type, selected with
// --job-type (or the WORKER_JOB_TYPE env var); run one process per job
// type to staff the whole pipeline, scaling each stage independently.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/productlens/barcodeflow/internal/clients/gemini"
	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/decoder"
	"github.com/productlens/barcodeflow/internal/events"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/stages"
	"github.com/productlens/barcodeflow/internal/storage"
	"github.com/productlens/barcodeflow/internal/storage/mongostore"
	"github.com/productlens/barcodeflow/internal/worker"
)

func main() {
	jobType := flag.String("job-type", os.Getenv("WORKER_JOB_TYPE"), "job type this worker processes: preprocess, decode_primary, decode_fallback")
	flag.Parse()

	if !models.ValidJobType(*jobType) {
		fmt.Fprintf(os.Stderr, "unknown --job-type %q (expected one of: preprocess, decode_primary, decode_fallback)\n", *jobType)
		os.Exit(1)
	}

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

	handler, concurrency, err := buildHandler(ctx, *jobType, cfg, logger, mgr, blobs)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build stage handler")
	}

	w := worker.New(worker.NewWorkerID(*jobType), handler, mgr.JobQueueStore, hub, logger, worker.Config{
		PollInterval:  cfg.Worker.GetPollInterval(),
		LeaseDuration: cfg.Worker.GetWorkerLeaseDuration(),
		BatchSize:     cfg.Worker.BatchSize,
		Concurrency:   concurrency,
	})
	w.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok", "job_type": *jobType})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:0", cfg.ReviewAPI.Host),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if addr := os.Getenv("WORKER_HEALTH_ADDR"); addr != "" {
		srv.Addr = addr
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn().Err(err).Msg("worker health server failed")
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutdown signal received")
	w.Stop()
	hub.Stop()
	if err := mgr.Close(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("failed to close mongodb connection")
	}
	logger.Info().Str("job_type", *jobType).Msg("worker stopped")
}

// buildHandler constructs the Stage Handler for jobType along with the
// concurrency this worker should run it at. decode_fallback is LLM-backed
// and deliberately bounded by JobManagerConfig.HeavyJobLimit regardless of
// BatchSize, so a burst of fallback-eligible images doesn't flood Gemini.
func buildHandler(ctx context.Context, jobType string, cfg *common.Config, logger *common.Logger, mgr *mongostore.Manager, blobs storage.BlobStore) (interfaces.StageHandler, int, error) {
	switch jobType {
	case models.JobTypePreprocess:
		return &stages.Preprocess{
			Images: mgr.ImageStore,
			Blobs:  blobs,
			Logger: logger,
		}, cfg.Worker.BatchSize, nil

	case models.JobTypeDecodePrimary:
		cliDecoder := decoder.NewCLIDecoder(cfg.Decoder.Path, logger)
		return &stages.DecodePrimary{
			Images:     mgr.ImageStore,
			Detections: mgr.DetectionStore,
			Blobs:      blobs,
			Decoder:    cliDecoder,
			Logger:     logger,
		}, cfg.Worker.BatchSize, nil

	case models.JobTypeDecodeFallback:
		llm, err := gemini.NewClient(ctx, cfg.Gemini.APIKey,
			gemini.WithModel(cfg.Gemini.Model),
			gemini.WithMaxTokens(cfg.Gemini.MaxTokens),
			gemini.WithTemperature(cfg.Gemini.Temperature),
			gemini.WithLogger(logger),
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to create gemini client: %w", err)
		}
		return &stages.DecodeFallback{
			Images:     mgr.ImageStore,
			Detections: mgr.DetectionStore,
			Blobs:      blobs,
			LLM:        llm,
			Logger:     logger,
		}, cfg.JobManager.GetHeavyJobLimit(), nil

	default:
		return nil, 0, fmt.Errorf("no stage handler registered for job type %q", jobType)
	}
}
