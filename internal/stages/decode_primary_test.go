package stages

import (
	"context"
	"testing"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
)

func newPreprocessedImage(id string) *models.Image {
	return &models.Image{
		ImageID: id,
		BatchID: "batch-1",
		Status:  models.StatusPreprocessed,
		Preprocessing: models.PreprocessingRecord{
			NormalizedPath: "preprocessed/batch-1/" + id + ".jpg",
			RotationPaths:  []string{"preprocessed/batch-1/" + id + "_rot90.jpg"},
			Rotations:      []int{90},
		},
	}
}

func TestDecodePrimary_AcceptedCodeTransitionsToDecodedPrimary(t *testing.T) {
	img := newPreprocessedImage("img-1")
	images := newFakeImageStore(img)
	blobs := newFakeBlobStore()
	blobs.data[img.Preprocessing.NormalizedPath] = []byte("fake-jpeg-bytes")
	blobs.data[img.Preprocessing.RotationPaths[0]] = []byte("fake-jpeg-bytes-rot90")

	dec := &recordingDecoder{byKey: map[string][]interfaces.DecodedCode{
		img.Preprocessing.NormalizedPath: {{Code: "4006381333931", Symbology: "EAN13", Confidence: 1.0}},
	}}

	detections := newFakeDetectionStore()
	handler := &DecodePrimary{Images: images, Detections: detections, Blobs: blobs, Decoder: dec, Logger: common.NewSilentLogger()}
	err := handler.Handle(context.Background(), &models.Job{ImageID: img.ImageID, JobType: models.JobTypeDecodePrimary})
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got, _ := images.Get(context.Background(), img.ImageID)
	if got.Status != models.StatusDecodedPrimary {
		t.Errorf("Status = %q, want %q", got.Status, models.StatusDecodedPrimary)
	}

	all, _ := detections.ListByImage(context.Background(), img.ImageID)
	if len(all) != 1 {
		t.Fatalf("expected 1 detection persisted, got %d", len(all))
	}
	if !all[0].Accepted || all[0].Ambiguous {
		t.Errorf("detection = %+v, want accepted and not ambiguous", all[0])
	}
}

func TestDecodePrimary_NoAcceptedCodeRoutesToFallback(t *testing.T) {
	img := newPreprocessedImage("img-2")
	images := newFakeImageStore(img)
	blobs := newFakeBlobStore()
	blobs.data[img.Preprocessing.NormalizedPath] = []byte("fake-jpeg-bytes")
	blobs.data[img.Preprocessing.RotationPaths[0]] = []byte("fake-jpeg-bytes-rot90")

	dec := &recordingDecoder{} // no codes found on any rotation

	handler := &DecodePrimary{Images: images, Detections: newFakeDetectionStore(), Blobs: blobs, Decoder: dec, Logger: common.NewSilentLogger()}
	err := handler.Handle(context.Background(), &models.Job{ImageID: img.ImageID, JobType: models.JobTypeDecodePrimary})
	if err != nil {
		t.Fatalf("Handle() error = %v, want nil (needs_fallback is not a job failure)", err)
	}

	got, _ := images.Get(context.Background(), img.ImageID)
	if got.Status != models.StatusPreprocessed {
		t.Errorf("Status = %q, want %q (back to preprocessed)", got.Status, models.StatusPreprocessed)
	}
	if !got.Processing.NeedsFallback {
		t.Error("NeedsFallback not set")
	}
}

func TestDecodePrimary_AmbiguousCodesRouteToManualReview(t *testing.T) {
	img := newPreprocessedImage("img-3")
	images := newFakeImageStore(img)
	blobs := newFakeBlobStore()
	blobs.data[img.Preprocessing.NormalizedPath] = []byte("fake-jpeg-bytes")
	blobs.data[img.Preprocessing.RotationPaths[0]] = []byte("fake-jpeg-bytes-rot90")

	dec := &recordingDecoder{byKey: map[string][]interfaces.DecodedCode{
		img.Preprocessing.NormalizedPath:   {{Code: "4006381333931", Symbology: "EAN13", Confidence: 1.0}},
		img.Preprocessing.RotationPaths[0]: {{Code: "8011642115887", Symbology: "EAN13", Confidence: 1.0}},
	}}

	detections := newFakeDetectionStore()
	handler := &DecodePrimary{Images: images, Detections: detections, Blobs: blobs, Decoder: dec, Logger: common.NewSilentLogger()}
	if err := handler.Handle(context.Background(), &models.Job{ImageID: img.ImageID, JobType: models.JobTypeDecodePrimary}); err != nil {
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

// recordingDecoder returns the codes configured for the exact image path
// it's asked to decode (keyed by the blob key), simulating a primary
// decoder reading different candidates off the normalized image and each
// of its rotations.
type recordingDecoder struct {
	byKey map[string][]interfaces.DecodedCode
}

func (d *recordingDecoder) Decode(ctx context.Context, imagePath string) ([]interfaces.DecodedCode, error) {
	return d.byKey[imagePath], nil
}
