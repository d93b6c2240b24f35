// Package models defines the data shapes that move through the barcode
// pipeline. These are plain tagged structs — no runtime schema validation —
// serialized explicitly to BSON/JSON at the storage boundary.
package models

import "time"

// ImageStatus is the state of an Image in the pipeline state machine.
type ImageStatus string

const (
	StatusPending           ImageStatus = "pending"
	StatusPreprocessing     ImageStatus = "preprocessing"
	StatusPreprocessed      ImageStatus = "preprocessed"
	StatusDecodingPrimary   ImageStatus = "decoding_primary"
	StatusDecodedPrimary    ImageStatus = "decoded_primary"
	StatusDecodingFallback  ImageStatus = "decoding_fallback"
	StatusDecodedFallback   ImageStatus = "decoded_fallback"
	StatusManualReview      ImageStatus = "manual_review"
	StatusDecodedManual     ImageStatus = "decoded_manual"
	StatusFailed            ImageStatus = "failed"
)

// transition describes one permitted edge in the image status machine,
// optionally gated by a predicate over the image's current fields.
type transition struct {
	from ImageStatus
	to   ImageStatus
	// guard returns true if this edge may be taken given the image's
	// current state (e.g. needs_fallback, fallback_attempts). nil means
	// unconditional.
	guard func(img *Image) bool
}

// allowedTransitions enumerates every permitted status edge in the
// pipeline's state machine, checked through CanTransition. The dispatcher
// calls CanTransition before its failed -> decoding_fallback edge. Stage
// Handlers do not call it: each passes its expected "from" status
// straight to ImageStore.UpdateStatus, whose CAS filter enforces it.
var allowedTransitions = []transition{
	{StatusPending, StatusPreprocessing, nil},
	{StatusPreprocessing, StatusPreprocessed, nil},
	{StatusPreprocessed, StatusDecodingPrimary, nil},
	{StatusDecodingPrimary, StatusDecodedPrimary, nil},
	// decoding_primary -> preprocessed only happens with needs_fallback set;
	// the handler sets the flag in the same update that performs this edge.
	{StatusDecodingPrimary, StatusPreprocessed, nil},
	// Primary-path ambiguity (≥2 distinct accepted codes across rotations)
	// also routes straight to manual review rather than falling back to
	// the LLM decoder.
	{StatusDecodingPrimary, StatusManualReview, nil},
	{StatusPreprocessed, StatusDecodingFallback, func(img *Image) bool { return img.NeedsFallback }},
	{StatusDecodingFallback, StatusDecodedFallback, nil},
	{StatusDecodingFallback, StatusManualReview, nil},
	{StatusDecodingFallback, StatusFailed, nil},
	{StatusFailed, StatusDecodingFallback, func(img *Image) bool { return img.Processing.FallbackAttempts < 3 }},
	{StatusManualReview, StatusDecodedManual, nil},
	{StatusManualReview, StatusFailed, nil},
}

// CanTransition reports whether img may move from its current status to
// `to`, per the table above and any guard condition on img's current
// fields. It does not mutate img.
func CanTransition(img *Image, to ImageStatus) bool {
	for _, t := range allowedTransitions {
		if t.from == img.Status && t.to == to {
			if t.guard == nil || t.guard(img) {
				return true
			}
		}
	}
	return false
}

// PreprocessingRecord captures the outcome of the Preprocess stage handler.
type PreprocessingRecord struct {
	NormalizedPath    string    `json:"normalized_path" bson:"normalized_path"`
	RotationPaths     []string  `json:"rotation_paths" bson:"rotation_paths"`
	Rotations         []int     `json:"rotations" bson:"rotations"` // degrees, e.g. [0,90,180,270]
	OriginalWidth     int       `json:"original_width" bson:"original_width"`
	OriginalHeight    int       `json:"original_height" bson:"original_height"`
	ProcessedWidth    int       `json:"processed_width" bson:"processed_width"`
	ProcessedHeight   int       `json:"processed_height" bson:"processed_height"`
	Grayscale         bool      `json:"grayscale" bson:"grayscale"`
	CLAHEApplied      bool      `json:"clahe_applied" bson:"clahe_applied"`
	Denoised          bool      `json:"denoised" bson:"denoised"`
	DurationMS        int64     `json:"duration_ms" bson:"duration_ms"`
	CompletedAt       time.Time `json:"completed_at" bson:"completed_at"`
}

// ProcessingError records a single failure observed while processing an
// Image, regardless of whether the failure was ultimately retried away.
type ProcessingError struct {
	Stage     string    `json:"stage" bson:"stage"`
	Message   string    `json:"message" bson:"message"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Details   string    `json:"details,omitempty" bson:"details,omitempty"`
}

// ProcessingRecord aggregates decode-attempt bookkeeping for an Image.
type ProcessingRecord struct {
	PrimaryAttempts  int               `json:"primary_attempts" bson:"primary_attempts"`
	FallbackAttempts int               `json:"fallback_attempts" bson:"fallback_attempts"`
	NeedsFallback    bool              `json:"needs_fallback" bson:"needs_fallback"`
	LLMTokensUsed    int64             `json:"llm_tokens_used" bson:"llm_tokens_used"`
	Errors           []ProcessingError `json:"errors,omitempty" bson:"errors,omitempty"`
	LastFallbackAt   time.Time         `json:"last_fallback_at,omitempty" bson:"last_fallback_at,omitempty"`
}

// Image is the unit traversing the pipeline.
type Image struct {
	ImageID          string      `json:"image_id" bson:"image_id"`
	BatchID          string      `json:"batch_id" bson:"batch_id"`
	SourcePath       string      `json:"source_path" bson:"source_path"`
	SourceFilename   string      `json:"source_filename" bson:"source_filename"`
	ExternalID       string      `json:"external_id,omitempty" bson:"external_id,omitempty"`
	Status           ImageStatus `json:"status" bson:"status"`
	StatusUpdatedAt  time.Time   `json:"status_updated_at" bson:"status_updated_at"`
	CreatedAt        time.Time   `json:"created_at" bson:"created_at"`

	Preprocessing PreprocessingRecord `json:"preprocessing" bson:"preprocessing"`
	Processing    ProcessingRecord    `json:"processing" bson:"processing"`

	// NeedsFallback mirrors Processing.NeedsFallback for convenient access
	// from transition guards; kept in sync by every handler that sets it.
	NeedsFallback bool `json:"-" bson:"-"`

	FinalBlobPath string `json:"final_blob_path,omitempty" bson:"final_blob_path,omitempty"`
}

// SyncGuardFields copies denormalized guard-check fields from Processing
// onto the top-level convenience fields used by CanTransition. Call after
// loading an Image from storage and before evaluating a transition.
func (img *Image) SyncGuardFields() {
	img.NeedsFallback = img.Processing.NeedsFallback
}
