package models

import "time"

// Symbology identifies a barcode format the Validator recognizes.
type Symbology string

const (
	SymbologyEAN13   Symbology = "EAN13"
	SymbologyEAN8    Symbology = "EAN8"
	SymbologyUPCA    Symbology = "UPCA"
	SymbologyUPCE    Symbology = "UPCE"
	SymbologyUnknown Symbology = "UNKNOWN"
)

// DetectionSource records which stage produced a Detection.
type DetectionSource string

const (
	SourcePrimary  DetectionSource = "primary"
	SourceFallback DetectionSource = "fallback"
	SourceManual   DetectionSource = "manual"
)

// Detection is one decoded-or-attempted barcode read for an Image.
type Detection struct {
	DetectionID    string          `json:"detection_id" bson:"detection_id"`
	ImageID        string          `json:"image_id" bson:"image_id"`
	Source         DetectionSource `json:"source" bson:"source"`
	RawCode        string          `json:"raw_code" bson:"raw_code"`
	NormalizedCode string          `json:"normalized_code" bson:"normalized_code"`
	Symbology      Symbology       `json:"symbology" bson:"symbology"`
	Rotation       int             `json:"rotation" bson:"rotation"`

	// Validation flags, populated straight from barcode.Result.
	NumericOnly   bool `json:"numeric_only" bson:"numeric_only"`
	LengthValid   bool `json:"length_valid" bson:"length_valid"`
	ChecksumValid bool `json:"checksum_valid" bson:"checksum_valid"`
	Accepted      bool `json:"accepted" bson:"accepted"`

	Confidence float64 `json:"confidence,omitempty" bson:"confidence,omitempty"`

	// Adjudication flags. Ambiguous is set by a Stage Handler when this
	// Detection's normalized code is one of ≥2 distinct accepted reads
	// for the same image; Chosen/Rejected/ReviewedAt/ReviewedBy are set
	// only by the Manual Resolve Handler.
	Ambiguous  bool      `json:"ambiguous" bson:"ambiguous"`
	Chosen     bool      `json:"chosen" bson:"chosen"`
	Rejected   bool      `json:"rejected" bson:"rejected"`
	ReviewedAt time.Time `json:"reviewed_at,omitempty" bson:"reviewed_at,omitempty"`
	ReviewedBy string    `json:"reviewed_by,omitempty" bson:"reviewed_by,omitempty"`

	ProductFound bool   `json:"product_found" bson:"product_found"`
	ProductID    string `json:"product_id,omitempty" bson:"product_id,omitempty"`

	// GeminiConfidence/GeminiSymbology preserve the fallback LLM's own
	// self-reported fields as returned, separate from Confidence/Symbology
	// (which come from running RawCode back through the Validator).
	GeminiConfidence float64 `json:"gemini_confidence,omitempty" bson:"gemini_confidence,omitempty"`
	GeminiSymbology  string  `json:"gemini_symbology,omitempty" bson:"gemini_symbology,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}
