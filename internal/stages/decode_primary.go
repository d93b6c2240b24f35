package stages

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/productlens/barcodeflow/internal/barcode"
	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
	"github.com/productlens/barcodeflow/internal/storage"
)

// DecodePrimary runs the local deterministic decoder against the
// normalized image and its rotation variants, validates any candidate
// codes, and transitions the image to decoded_primary on an accepted
// read or back to preprocessed with needs_fallback set otherwise.
type DecodePrimary struct {
	Images     interfaces.ImageStore
	Detections interfaces.DetectionStore
	Blobs      storage.BlobStore
	Decoder    interfaces.PrimaryDecoder
	Logger     *common.Logger
}

// JobType implements interfaces.StageHandler.
func (d *DecodePrimary) JobType() string { return models.JobTypeDecodePrimary }

// Handle implements interfaces.StageHandler.
func (d *DecodePrimary) Handle(ctx context.Context, job *models.Job) error {
	img, err := d.Images.Get(ctx, job.ImageID)
	if err != nil {
		return fmt.Errorf("%w: failed to load image %s: %v", pipelineerr.ErrTransient, job.ImageID, err)
	}
	img.SyncGuardFields()

	if img.Status != models.StatusPreprocessed {
		return nil
	}

	updated, ok, err := d.Images.UpdateStatus(ctx, img.ImageID, models.StatusPreprocessed, models.StatusDecodingPrimary, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to enter decoding_primary status: %v", pipelineerr.ErrTransient, err)
	}
	if !ok {
		return nil
	}
	img = updated

	rotations := append([]int{0}, img.Preprocessing.Rotations...)
	keys := append([]string{img.Preprocessing.NormalizedPath}, img.Preprocessing.RotationPaths...)

	var detections []*models.Detection
	for i, key := range keys {
		rotation := 0
		if i < len(rotations) {
			rotation = rotations[i]
		}
		codes, err := d.decodeAt(ctx, key)
		if err != nil {
			return err
		}
		for j := range codes {
			detections = append(detections, detectionFromCode(img.ImageID, models.SourcePrimary, rotation, &codes[j]))
		}
	}

	distinct := distinctAcceptedCodes(detections)
	markAmbiguous(detections, distinct)
	for _, det := range detections {
		if det.Accepted {
			if productID, found, err := d.Detections.FindProduct(ctx, det.NormalizedCode); err == nil {
				det.ProductFound = found
				det.ProductID = productID
			}
		}
		if err := d.Detections.Create(ctx, det); err != nil {
			return fmt.Errorf("%w: failed to persist primary detection: %v", pipelineerr.ErrTransient, err)
		}
	}

	switch len(distinct) {
	case 1:
		_, ok, err := d.Images.UpdateStatus(ctx, img.ImageID, models.StatusDecodingPrimary, models.StatusDecodedPrimary, func(i *models.Image) {
			i.Processing.PrimaryAttempts++
			i.FinalBlobPath = img.Preprocessing.NormalizedPath
		})
		if err != nil {
			return fmt.Errorf("%w: failed to commit decoded_primary status: %v", pipelineerr.ErrTransient, err)
		}
		if ok {
			d.Logger.Info().Str("image_id", img.ImageID).Str("code", distinct[0]).Msg("primary decode accepted")
		}
		return nil

	default:
		if len(distinct) >= 2 {
			_, ok, err := d.Images.UpdateStatus(ctx, img.ImageID, models.StatusDecodingPrimary, models.StatusManualReview, func(i *models.Image) {
				i.Processing.PrimaryAttempts++
			})
			if err != nil {
				return fmt.Errorf("%w: failed to route ambiguous primary decode to manual review: %v", pipelineerr.ErrTransient, err)
			}
			if ok {
				d.Logger.Info().Str("image_id", img.ImageID).Int("distinct_codes", len(distinct)).Msg("primary decode ambiguous, routing to manual review")
			}
			return nil
		}

		_, ok, err := d.Images.UpdateStatus(ctx, img.ImageID, models.StatusDecodingPrimary, models.StatusPreprocessed, func(i *models.Image) {
			i.Processing.PrimaryAttempts++
			i.Processing.NeedsFallback = true
		})
		if err != nil {
			return fmt.Errorf("%w: failed to record needs_fallback: %v", pipelineerr.ErrTransient, err)
		}
		if ok {
			d.Logger.Info().Str("image_id", img.ImageID).Msg("primary decode produced no accepted read, routing to fallback")
		}
		// Not a job failure: the handler did its job by determining a fallback
		// decode is needed and recording that on the image. The dispatcher's
		// advanceToFallback step picks up needs_fallback images independently of this job's
		// outcome, so retrying decode_primary itself would accomplish nothing.
		return nil
	}
}

// detectionFromCode builds an unpersisted Detection from one raw decoder
// candidate, running it through the Validator so every candidate —
// accepted or not — carries the full set of validation flags.
func detectionFromCode(imageID string, source models.DetectionSource, rotation int, code *interfaces.DecodedCode) *models.Detection {
	result := barcode.Validate(code.Code)
	return &models.Detection{
		ImageID:        imageID,
		Source:         source,
		RawCode:        code.Code,
		NormalizedCode: result.NormalizedCode,
		Symbology:      result.Symbology,
		Rotation:       rotation,
		NumericOnly:    result.NumericOnly,
		LengthValid:    result.LengthValid,
		ChecksumValid:  result.ChecksumValid,
		Accepted:       result.Accepted,
		Confidence:     code.Confidence,
		CreatedAt:      time.Now(),
	}
}

// decodeAt fetches the blob at key to a temp file (the CLI decoder needs
// a filesystem path) and returns every raw candidate the decoder reports
// for it, unvalidated.
func (d *DecodePrimary) decodeAt(ctx context.Context, key string) ([]interfaces.DecodedCode, error) {
	data, err := d.Blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch blob %s: %v", pipelineerr.ErrTransient, key, err)
	}

	tmp, err := os.CreateTemp("", "barcodeflow-decode-*.jpg")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create temp file: %v", pipelineerr.ErrTransient, err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := tmp.Write(data); err != nil {
		return nil, fmt.Errorf("%w: failed to write temp file: %v", pipelineerr.ErrTransient, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("%w: failed to close temp file: %v", pipelineerr.ErrTransient, err)
	}

	codes, err := d.Decoder.Decode(ctx, tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("%w: primary decoder failed: %v", pipelineerr.ErrTransient, err)
	}
	return codes, nil
}

var _ interfaces.StageHandler = (*DecodePrimary)(nil)
