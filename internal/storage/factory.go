// Package storage provides blob-based persistence with pluggable backends.
package storage

import (
	"fmt"

	"github.com/productlens/barcodeflow/internal/common"
)

// Backend type constants.
const (
	BackendFile = "file"
	BackendGCS  = "gcs"
	BackendS3   = "s3"
)

// NewBlobStore creates a blob store based on the configuration.
// Supported backends: "file" (default), "gcs", "s3".
func NewBlobStore(logger *common.Logger, config *BlobStoreConfig) (BlobStore, error) {
	backend := config.Backend
	if backend == "" {
		backend = BackendFile // Default to file backend
	}

	switch backend {
	case BackendFile:
		return NewFileBlobStore(logger, &config.File)

	case BackendGCS:
		return nil, fmt.Errorf("GCS blob store not implemented (no Azure-equivalent SDK in this build; use backend=s3)")

	case BackendS3:
		return NewS3BlobStore(logger, &config.S3)

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: file, gcs, s3)", backend)
	}
}

// BlobStoreConfigFromCommon adapts common.BlobConfig (the TOML/env-facing
// shape, with its Azure-named S3 credential fields) into the BlobStoreConfig
// NewBlobStore expects. Kept separate from BlobStoreConfig itself so this
// package's backends don't need to know about the config file's layout.
func BlobStoreConfigFromCommon(cfg common.BlobConfig) *BlobStoreConfig {
	return &BlobStoreConfig{
		Backend: cfg.Backend,
		File:    FileBlobConfig{BasePath: cfg.File.BasePath},
		S3: S3BlobConfig{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		},
	}
}
