package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
)

func newFallbackImage(id string, fallbackAttempts int) *models.Image {
	return &models.Image{
		ImageID: id,
		BatchID: "batch-1",
		Status:  models.StatusDecodingFallback,
		Preprocessing: models.PreprocessingRecord{
			NormalizedPath: "preprocessed/batch-1/" + id + ".jpg",
		},
		Processing: models.ProcessingRecord{FallbackAttempts: fallbackAttempts},
	}
}

func TestDecodeFallback_AcceptedCodeTransitionsToDecodedFallback(t *testing.T) {
	img := newFallbackImage("img-1", 0)
	images := newFakeImageStore(img)
	blobs := newFakeBlobStore()
	blobs.data[img.Preprocessing.NormalizedPath] = []byte("fake-jpeg-bytes")

	llm := &fakeLLMClient{codes: []interfaces.DecodedCode{{Code: "4006381333931", Symbology: "EAN13", Confidence: 0.9}}, tokensUsed: 120}

	handler := &DecodeFallback{Images: images, Detections: newFakeDetectionStore(), Blobs: blobs, LLM: llm, Logger: common.NewSilentLogger()}
	if err := handler.Handle(context.Background(), &models.Job{ImageID: img.ImageID, JobType: models.JobTypeDecodeFallback}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got, _ := images.Get(context.Background(), img.ImageID)
	if got.Status != models.StatusDecodedFallback {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusDecodedFallback)
	}
	if got.Processing.LLMTokensUsed != 120 {
		t.Errorf("LLMTokensUsed = %d, want 120", got.Processing.LLMTokensUsed)
	}
}

func TestDecodeFallback_NoAcceptedCodeRoutesToFailed(t *testing.T) {
	img := newFallbackImage("img-2", 0)
	images := newFakeImageStore(img)
	blobs := newFakeBlobStore()
	blobs.data[img.Preprocessing.NormalizedPath] = []byte("fake-jpeg-bytes")

	llm := &fakeLLMClient{codes: nil}

	handler := &DecodeFallback{Images: images, Detections: newFakeDetectionStore(), Blobs: blobs, LLM: llm, Logger: common.NewSilentLogger()}
	if err := handler.Handle(context.Background(), &models.Job{ImageID: img.ImageID, JobType: models.JobTypeDecodeFallback}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got, _ := images.Get(context.Background(), img.ImageID)
	if got.Status != models.StatusFailed {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusFailed)
	}
	if got.Processing.FallbackAttempts != 1 {
		t.Errorf("FallbackAttempts = %d, want 1", got.Processing.FallbackAttempts)
	}
	if len(got.Processing.Errors) != 1 {
		t.Errorf("Errors len = %d, want 1", len(got.Processing.Errors))
	}
}

func TestDecodeFallback_AmbiguousCodesRouteToManualReview(t *testing.T) {
	img := newFallbackImage("img-3", 0)
	images := newFakeImageStore(img)
	blobs := newFakeBlobStore()
	blobs.data[img.Preprocessing.NormalizedPath] = []byte("fake-jpeg-bytes")

	llm := &fakeLLMClient{codes: []interfaces.DecodedCode{
		{Code: "4006381333931", Symbology: "EAN13", Confidence: 0.9},
		{Code: "8011642115887", Symbology: "EAN13", Confidence: 0.8},
	}, tokensUsed: 200}

	detections := newFakeDetectionStore()
	handler := &DecodeFallback{Images: images, Detections: detections, Blobs: blobs, LLM: llm, Logger: common.NewSilentLogger()}
	if err := handler.Handle(context.Background(), &models.Job{ImageID: img.ImageID, JobType: models.JobTypeDecodeFallback}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got, _ := images.Get(context.Background(), img.ImageID)
	if got.Status != models.StatusManualReview {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusManualReview)
	}

	all, _ := detections.ListByImage(context.Background(), img.ImageID)
	if len(all) != 2 {
		t.Fatalf("expected 2 detections persisted, got %d", len(all))
	}
	for _, d := range all {
		if !d.Ambiguous {
			t.Errorf("detection %+v expected ambiguous=true", d)
		}
	}
}

func TestDecodeFallback_LLMCallErrorReturnsTransientErrorWithoutTransitioning(t *testing.T) {
	img := newFallbackImage("img-4", 2)
	images := newFakeImageStore(img)
	blobs := newFakeBlobStore()
	blobs.data[img.Preprocessing.NormalizedPath] = []byte("fake-jpeg-bytes")

	llm := &fakeLLMClient{err: errors.New("upstream timeout")}

	handler := &DecodeFallback{Images: images, Detections: newFakeDetectionStore(), Blobs: blobs, LLM: llm, Logger: common.NewSilentLogger()}
	err := handler.Handle(context.Background(), &models.Job{ImageID: img.ImageID, JobType: models.JobTypeDecodeFallback})
	if err == nil {
		t.Fatal("Handle() error = nil, want a transient error for the Worker to retry")
	}
	if !errors.Is(err, pipelineerr.ErrTransient) {
		t.Errorf("Handle() error = %v, want it to wrap pipelineerr.ErrTransient", err)
	}

	got, _ := images.Get(context.Background(), img.ImageID)
	if got.Status != models.StatusDecodingFallback {
		t.Errorf("Status = %q, want unchanged %q", got.Status, models.StatusDecodingFallback)
	}
	if got.Processing.FallbackAttempts != 2 {
		t.Errorf("FallbackAttempts = %d, want unchanged 2", got.Processing.FallbackAttempts)
	}
}

func TestDecodeFallback_SkipsImageNotInDecodingFallbackStatus(t *testing.T) {
	img := newFallbackImage("img-5", 0)
	img.Status = models.StatusDecodedFallback
	images := newFakeImageStore(img)

	handler := &DecodeFallback{Images: images, Detections: newFakeDetectionStore(), Blobs: newFakeBlobStore(), LLM: &fakeLLMClient{}, Logger: common.NewSilentLogger()}
	if err := handler.Handle(context.Background(), &models.Job{ImageID: img.ImageID, JobType: models.JobTypeDecodeFallback}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
}
