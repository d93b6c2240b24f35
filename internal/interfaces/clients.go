package interfaces

import "context"

// DecodedCode is one barcode read returned by a decoder, prior to
// validation/normalization by internal/barcode.
type DecodedCode struct {
	Code       string
	Symbology  string
	Confidence float64
}

// PrimaryDecoder is the fast, deterministic local barcode reader used as
// the first decode attempt for every preprocessed image. The actual
// symbol-reading algorithm is out of scope; this interface only shapes
// the boundary.
type PrimaryDecoder interface {
	Decode(ctx context.Context, imagePath string) ([]DecodedCode, error)
}

// LLMClient is the fallback decoder invoked when the primary decoder
// fails to produce an accepted read. Implementations send image bytes
// plus a decoding instruction and parse a structured code list back out.
type LLMClient interface {
	DecodeBarcode(ctx context.Context, imageBytes []byte, mimeType string) ([]DecodedCode, int64, error)
}
