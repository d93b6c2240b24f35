package decoder

import (
	"context"

	"github.com/productlens/barcodeflow/internal/interfaces"
)

// FakeDecoder is an interfaces.PrimaryDecoder test double driven by a
// map from image path to the codes that path should "decode" to, so
// Stage Handler tests don't depend on a real zbarimg binary.
type FakeDecoder struct {
	Results map[string][]interfaces.DecodedCode
	Err     error
}

// NewFakeDecoder creates an empty FakeDecoder.
func NewFakeDecoder() *FakeDecoder {
	return &FakeDecoder{Results: make(map[string][]interfaces.DecodedCode)}
}

// Decode returns the configured result for imagePath, or (nil, nil) if
// unconfigured — mirroring a real decoder finding nothing.
func (f *FakeDecoder) Decode(ctx context.Context, imagePath string) ([]interfaces.DecodedCode, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Results[imagePath], nil
}

var _ interfaces.PrimaryDecoder = (*FakeDecoder)(nil)
