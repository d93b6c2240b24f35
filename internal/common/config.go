// Package common provides shared utilities for the barcode pipeline
// coordinator: configuration loading, logging setup, and the staleness
// and retry-backoff constants behind models.RetryBackoff.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the coordinator.
type Config struct {
	Environment string        `toml:"environment"`
	Mongo       MongoConfig   `toml:"mongo"`
	Blob        BlobConfig    `toml:"blob"`
	Gemini      GeminiConfig  `toml:"gemini"`
	Decoder     DecoderConfig `toml:"decoder"`
	Worker      WorkerConfig  `toml:"worker"`
	ReviewAPI   ServerConfig  `toml:"review_api"`
	Logging     LoggingConfig `toml:"logging"`

	// JobManager is consumed by the dispatcher/worker runtime for its
	// reap/seed startup delay and concurrency ceiling on heavy
	// (LLM-backed) jobs.
	JobManager JobManagerConfig `toml:"job_manager"`
}

// JobManagerConfig tunes the dispatcher/worker runtime's startup behavior
// and the concurrency ceiling placed on heavy jobs (decode_fallback calls
// the Gemini LLM client and should not run unbounded in parallel).
type JobManagerConfig struct {
	WatcherStartupDelay string `toml:"watcher_startup_delay"`
	HeavyJobLimit       int    `toml:"heavy_job_limit"`
}

// GetWatcherStartupDelay parses the dispatcher's startup grace period.
func (c *JobManagerConfig) GetWatcherStartupDelay() time.Duration {
	d, err := time.ParseDuration(c.WatcherStartupDelay)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetHeavyJobLimit returns the max concurrent heavy (LLM fallback) jobs,
// defaulting to 1 when unset or invalid.
func (c *JobManagerConfig) GetHeavyJobLimit() int {
	if c.HeavyJobLimit <= 0 {
		return 1
	}
	return c.HeavyJobLimit
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// JWTSecret signs and verifies reviewer bearer tokens. Empty disables
	// authentication on the manual-resolve endpoint (local/dev use).
	JWTSecret string `toml:"jwt_secret"`
}

// MongoConfig holds MongoDB connection configuration — the coordinator's
// metadata store (images, detections, jobs, products collections).
type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

// BlobConfig holds blob storage configuration, mirroring
// internal/storage.BlobStoreConfig's shape plus the Azure-named
// environment keys the blob backend expects (mapped onto the S3-
// compatible backend — see internal/storage.S3BlobStore).
type BlobConfig struct {
	Backend string              `toml:"backend"` // "file" or "s3"
	File    FileBlobPathsConfig `toml:"file"`
	S3      S3PathConfig        `toml:"s3"`
}

// FileBlobPathsConfig is the local dev/test blob backend's base directory.
type FileBlobPathsConfig struct {
	BasePath string `toml:"base_path"`
}

// S3PathConfig configures the S3-compatible backend standing in for Azure
// Blob Storage.
type S3PathConfig struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// GeminiConfig holds the fallback LLM decoder's client configuration.
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`
	MaxTokens   int     `toml:"max_tokens"`
	Temperature float64 `toml:"temperature"`
	Timeout     string  `toml:"timeout"`
}

// GetTimeout parses and returns the Gemini call timeout.
func (c *GeminiConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// DecoderConfig configures the primary (local, deterministic) decoder.
type DecoderConfig struct {
	Path string `toml:"path"` // path to the decoder binary, default "zbarimg"
}

// WorkerConfig holds poll/lease/batch tuning shared by the dispatcher and
// worker processes.
type WorkerConfig struct {
	PollInterval            string `toml:"poll_interval"`
	BatchSize               int    `toml:"batch_size"`
	DispatcherLeaseDuration string `toml:"dispatcher_lease_duration"`
	WorkerLeaseDuration     string `toml:"worker_lease_duration"`
	LeaseSafetyMargin       string `toml:"lease_safety_margin"`
}

// GetPollInterval parses the worker/dispatcher poll interval.
func (c *WorkerConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// GetDispatcherLeaseDuration parses the dispatcher's reap/seed lease window.
func (c *WorkerConfig) GetDispatcherLeaseDuration() time.Duration {
	d, err := time.ParseDuration(c.DispatcherLeaseDuration)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetWorkerLeaseDuration parses the per-job lease duration a Worker holds.
func (c *WorkerConfig) GetWorkerLeaseDuration() time.Duration {
	d, err := time.ParseDuration(c.WorkerLeaseDuration)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// GetLeaseSafetyMargin parses the buffer subtracted from a lease's
// lock_until when computing a handler's execution deadline.
func (c *WorkerConfig) GetLeaseSafetyMargin() time.Duration {
	d, err := time.ParseDuration(c.LeaseSafetyMargin)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string   `toml:"level"`
	Format     string   `toml:"format"`
	Outputs    []string `toml:"outputs"`
	FilePath   string   `toml:"file_path"`
	MaxSizeMB  int      `toml:"max_size_mb"`
	MaxBackups int      `toml:"max_backups"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "barcodeflow",
		},
		Blob: BlobConfig{
			Backend: "file",
			File:    FileBlobPathsConfig{BasePath: "data/blobs"},
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.0-flash",
			MaxTokens:   1024,
			Temperature: 0.1,
			Timeout:     "30s",
		},
		Decoder: DecoderConfig{
			Path: "zbarimg",
		},
		Worker: WorkerConfig{
			PollInterval:            "5s",
			BatchSize:               10,
			DispatcherLeaseDuration: "2m",
			WorkerLeaseDuration:     "5m",
			LeaseSafetyMargin:       "15s",
		},
		ReviewAPI: ServerConfig{
			Host: "0.0.0.0",
			Port: 8090,
		},
		JobManager: JobManagerConfig{
			WatcherStartupDelay: "10s",
			HeavyJobLimit:       1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Outputs:    []string{"console", "file"},
			FilePath:   "./logs/barcodeflow.log",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// LoadConfig loads configuration from TOML files with environment
// overrides. Each path is optional; later paths override earlier ones.
// Environment variables always win over file values.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)
	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("ENVIRONMENT"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		config.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DATABASE"); v != "" {
		config.Mongo.Database = v
	}

	if v := os.Getenv("AZURE_STORAGE_ACCOUNT_URL"); v != "" {
		config.Blob.Backend = "s3"
		config.Blob.S3.Endpoint = v
	}
	if v := os.Getenv("AZURE_STORAGE_CONNECTION_STRING"); v != "" {
		config.Blob.Backend = "s3"
		parseAzureConnectionString(v, &config.Blob.S3)
	}
	if v := os.Getenv("AZURE_STORAGE_CONTAINER"); v != "" {
		config.Blob.S3.Bucket = v
	}
	if v := os.Getenv("BLOB_BACKEND"); v != "" {
		config.Blob.Backend = v
	}
	if v := os.Getenv("BLOB_BASE_PATH"); v != "" {
		config.Blob.File.BasePath = v
	}

	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		config.Gemini.Model = v
	}
	if v := os.Getenv("GEMINI_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Gemini.MaxTokens = n
		}
	}
	if v := os.Getenv("GEMINI_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Gemini.Temperature = f
		}
	}
	if v := os.Getenv("GEMINI_TIMEOUT"); v != "" {
		config.Gemini.Timeout = v
	}

	if v := os.Getenv("PRIMARY_DECODER_PATH"); v != "" {
		config.Decoder.Path = v
	}

	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		config.Worker.PollInterval = v
	}
	if v := os.Getenv("BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Worker.BatchSize = n
		}
	}
	if v := os.Getenv("DISPATCHER_LEASE_DURATION"); v != "" {
		config.Worker.DispatcherLeaseDuration = v
	}
	if v := os.Getenv("WORKER_LEASE_DURATION"); v != "" {
		config.Worker.WorkerLeaseDuration = v
	}

	if v := os.Getenv("REVIEW_API_HOST"); v != "" {
		config.ReviewAPI.Host = v
	}
	if v := os.Getenv("REVIEW_API_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.ReviewAPI.Port = n
		}
	}
	if v := os.Getenv("REVIEW_API_JWT_SECRET"); v != "" {
		config.ReviewAPI.JWTSecret = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if v := os.Getenv("DISPATCHER_STARTUP_DELAY"); v != "" {
		config.JobManager.WatcherStartupDelay = v
	}
	if v := os.Getenv("WORKER_HEAVY_JOB_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.JobManager.HeavyJobLimit = n
		}
	}
}

// parseAzureConnectionString extracts AccountName/AccountKey/EndpointSuffix
// pairs from an Azure-style connection string ("Key=Value;Key=Value;...")
// and maps them onto the S3-compatible credential fields. Unknown keys are
// ignored: the string carries Azure-specific fields with no S3 equivalent.
func parseAzureConnectionString(conn string, out *S3PathConfig) {
	for _, part := range strings.Split(conn, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.TrimSpace(kv[0]) {
		case "AccountName":
			out.AccessKey = strings.TrimSpace(kv[1])
		case "AccountKey":
			out.SecretKey = strings.TrimSpace(kv[1])
		}
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}
