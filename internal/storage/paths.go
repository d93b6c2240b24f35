package storage

import "fmt"

// BlobLayout names the key prefixes used throughout the pipeline. Keeping
// them centralized means every Stage Handler constructs paths the same
// way, rather than hand-formatting strings at each call site.
const (
	prefixRaw          = "raw"
	prefixPreprocessed = "preprocessed"
	prefixArchive      = "archive"
	prefixManualReview = "manual-review"
)

// RawImageKey is where a batch's source image is uploaded prior to any
// processing.
func RawImageKey(batchID, filename string) string {
	return fmt.Sprintf("%s/%s/%s", prefixRaw, batchID, filename)
}

// PreprocessedKey is the normalized (grayscale/CLAHE/denoised) variant of
// an image produced by the Preprocess stage.
func PreprocessedKey(batchID, imageID string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", prefixPreprocessed, batchID, imageID)
}

// RotationKey is one of the four rotated variants (0/90/180/270) the
// Preprocess stage generates to help the primary decoder.
func RotationKey(batchID, imageID string, degrees int) string {
	return fmt.Sprintf("%s/%s/%s_rot%d.jpg", prefixPreprocessed, batchID, imageID, degrees)
}

// ArchiveKey is the final resting place for an image once its pipeline
// run terminates (decoded or failed).
func ArchiveKey(batchID, imageID string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", prefixArchive, batchID, imageID)
}

// ManualReviewKey names the manual-review blob slot. No handler writes
// here yet — it remains unresolved whether anything belongs in this
// folder versus the images collection already tracking manual_review
// status, and guessing would invent behavior nobody asked for. The
// constant exists so a future handler has an agreed location without
// re-deriving the naming scheme.
func ManualReviewKey(batchID, imageID string) string {
	return fmt.Sprintf("%s/%s/%s.jpg", prefixManualReview, batchID, imageID)
}
