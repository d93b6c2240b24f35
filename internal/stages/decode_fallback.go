package stages

import (
	"context"
	"fmt"
	"time"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
	"github.com/productlens/barcodeflow/internal/storage"
)

// DecodeFallback invokes the LLM fallback decoder against the
// normalized image when the primary decoder found nothing acceptable.
// It also serves failed->decoding_fallback retries: the job type and
// handler are identical, only the image's current status and attempt
// count differ.
type DecodeFallback struct {
	Images     interfaces.ImageStore
	Detections interfaces.DetectionStore
	Blobs      storage.BlobStore
	LLM        interfaces.LLMClient
	Logger     *common.Logger
}

// JobType implements interfaces.StageHandler.
func (f *DecodeFallback) JobType() string { return models.JobTypeDecodeFallback }

// Handle implements interfaces.StageHandler.
func (f *DecodeFallback) Handle(ctx context.Context, job *models.Job) error {
	img, err := f.Images.Get(ctx, job.ImageID)
	if err != nil {
		return fmt.Errorf("%w: failed to load image %s: %v", pipelineerr.ErrTransient, job.ImageID, err)
	}
	img.SyncGuardFields()

	if img.Status != models.StatusDecodingFallback {
		return nil
	}

	data, err := f.Blobs.Get(ctx, img.Preprocessing.NormalizedPath)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch normalized blob %s: %v", pipelineerr.ErrTransient, img.Preprocessing.NormalizedPath, err)
	}

	codes, tokensUsed, err := f.LLM.DecodeBarcode(ctx, data, "image/jpeg")
	if err != nil {
		// A transport/rate-limit failure is a job-level error: wrap it as
		// ErrTransient so the Worker retries it within the job's attempt
		// budget. The image stays in decoding_fallback untouched.
		return fmt.Errorf("%w: llm fallback decode failed: %v", pipelineerr.ErrTransient, err)
	}

	detections := make([]*models.Detection, 0, len(codes))
	for i := range codes {
		det := detectionFromCode(img.ImageID, models.SourceFallback, 0, &codes[i])
		det.GeminiConfidence = codes[i].Confidence
		det.GeminiSymbology = codes[i].Symbology
		detections = append(detections, det)
	}

	distinct := distinctAcceptedCodes(detections)
	markAmbiguous(detections, distinct)
	for _, det := range detections {
		if det.Accepted {
			if productID, found, err := f.Detections.FindProduct(ctx, det.NormalizedCode); err == nil {
				det.ProductFound = found
				det.ProductID = productID
			}
		}
		if err := f.Detections.Create(ctx, det); err != nil {
			return fmt.Errorf("%w: failed to persist fallback detection: %v", pipelineerr.ErrTransient, err)
		}
	}

	switch len(distinct) {
	case 1:
		_, ok, err := f.Images.UpdateStatus(ctx, img.ImageID, models.StatusDecodingFallback, models.StatusDecodedFallback, func(i *models.Image) {
			i.Processing.FallbackAttempts++
			i.Processing.LLMTokensUsed += tokensUsed
			i.Processing.LastFallbackAt = time.Now()
			i.FinalBlobPath = img.Preprocessing.NormalizedPath
		})
		if err != nil {
			return fmt.Errorf("%w: failed to commit decoded_fallback status: %v", pipelineerr.ErrTransient, err)
		}
		if ok {
			f.Logger.Info().Str("image_id", img.ImageID).Str("code", distinct[0]).Msg("fallback decode accepted")
		}
		return nil

	default:
		to := models.StatusFailed
		if len(distinct) >= 2 {
			to = models.StatusManualReview
		}
		_, ok, err := f.Images.UpdateStatus(ctx, img.ImageID, models.StatusDecodingFallback, to, func(i *models.Image) {
			i.Processing.FallbackAttempts++
			i.Processing.LLMTokensUsed += tokensUsed
			i.Processing.LastFallbackAt = time.Now()
			if to == models.StatusFailed {
				i.Processing.Errors = append(i.Processing.Errors, models.ProcessingError{
					Stage:     models.JobTypeDecodeFallback,
					Message:   "fallback decode returned no accepted code",
					Timestamp: time.Now(),
				})
			}
		})
		if err != nil {
			return fmt.Errorf("%w: failed to commit %s status: %v", pipelineerr.ErrTransient, to, err)
		}
		if ok {
			f.Logger.Info().Str("image_id", img.ImageID).Str("status", string(to)).Int("distinct_codes", len(distinct)).Msg("fallback decode ambiguous or unsuccessful")
		}
		return nil
	}
}

var _ interfaces.StageHandler = (*DecodeFallback)(nil)
