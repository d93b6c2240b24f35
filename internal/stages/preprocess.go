// Package stages implements the Stage Handlers that execute each job
// type: preprocess, decode_primary, decode_fallback. Each handler reads
// an Image, does its work, and moves it on through guarded status
// transitions via ImageStore.UpdateStatus (DecodePrimary makes two: into
// decoding_primary, then to its outcome) — one method per job type,
// dispatched behind interfaces.StageHandler so the Worker runtime
// doesn't need a type switch.
package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/imaging"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
	"github.com/productlens/barcodeflow/internal/storage"
)

// Preprocess normalizes a raw image (grayscale, contrast, denoise,
// rotation variants) and transitions the image from pending to
// preprocessed.
type Preprocess struct {
	Images interfaces.ImageStore
	Blobs  storage.BlobStore
	Logger *common.Logger
}

// JobType implements interfaces.StageHandler.
func (p *Preprocess) JobType() string { return models.JobTypePreprocess }

// Handle implements interfaces.StageHandler.
func (p *Preprocess) Handle(ctx context.Context, job *models.Job) error {
	img, err := p.Images.Get(ctx, job.ImageID)
	if err != nil {
		return fmt.Errorf("%w: failed to load image %s: %v", pipelineerr.ErrTransient, job.ImageID, err)
	}
	img.SyncGuardFields()

	if img.Status != models.StatusPending {
		// Another worker already advanced this image (lease race on a
		// duplicate job) — nothing to do, not an error.
		return nil
	}

	raw, err := p.Blobs.Get(ctx, img.SourcePath)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch source blob %s: %v", pipelineerr.ErrTransient, img.SourcePath, err)
	}

	start := time.Now()
	result, err := imaging.Normalize(raw)
	if err != nil {
		// A source image that fails to decode will never succeed on
		// retry — permanent, routes straight to failed.
		return fmt.Errorf("%w: failed to normalize image: %v", pipelineerr.ErrPermanent, err)
	}

	normalizedKey := storage.PreprocessedKey(img.BatchID, img.ImageID)
	if err := p.Blobs.Put(ctx, normalizedKey, result.Normalized); err != nil {
		return fmt.Errorf("%w: failed to store normalized blob: %v", pipelineerr.ErrTransient, err)
	}

	rotationKeys := make([]string, 0, len(result.Rotations))
	rotationDegrees := make([]int, 0, len(result.Rotations))
	for deg, data := range result.Rotations {
		key := storage.RotationKey(img.BatchID, img.ImageID, deg)
		if err := p.Blobs.Put(ctx, key, data); err != nil {
			return fmt.Errorf("%w: failed to store %d-degree rotation: %v", pipelineerr.ErrTransient, deg, err)
		}
		rotationKeys = append(rotationKeys, key)
		rotationDegrees = append(rotationDegrees, deg)
	}

	record := models.PreprocessingRecord{
		NormalizedPath:  normalizedKey,
		RotationPaths:   rotationKeys,
		Rotations:       rotationDegrees,
		OriginalWidth:   result.OriginalWidth,
		OriginalHeight:  result.OriginalHeight,
		ProcessedWidth:  result.ProcessedWidth,
		ProcessedHeight: result.ProcessedHeight,
		Grayscale:       true,
		CLAHEApplied:    true,
		Denoised:        true,
		DurationMS:      time.Since(start).Milliseconds(),
		CompletedAt:     time.Now(),
	}

	_, ok, err := p.Images.UpdateStatus(ctx, img.ImageID, models.StatusPending, models.StatusPreprocessed, func(i *models.Image) {
		i.Preprocessing = record
	})
	if err != nil {
		return fmt.Errorf("%w: failed to commit preprocessed status: %v", pipelineerr.ErrTransient, err)
	}
	if !ok {
		// Lost the CAS race — another worker already moved this image on.
		return nil
	}

	p.Logger.Info().
		Str("image_id", img.ImageID).
		Int64("duration_ms", record.DurationMS).
		Msg("preprocess stage completed")
	return nil
}

var _ interfaces.StageHandler = (*Preprocess)(nil)
