// Package imaging performs the pixel-level normalization the Preprocess
// stage needs before handing an image to a barcode decoder: grayscale
// conversion, contrast normalization, light denoising, and generating
// the four rotation variants (0/90/180/270) a decoder scans against.
// Wraps github.com/disintegration/imaging rather than hand-rolling
// pixel math.
package imaging

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg" // register JPEG decoder

	"github.com/disintegration/imaging"
)

// Result holds the normalized image plus its four rotation variants,
// each JPEG-encoded and ready for blob storage.
type Result struct {
	Normalized     []byte
	Rotations      map[int][]byte // degrees -> JPEG bytes
	OriginalWidth  int
	OriginalHeight int
	ProcessedWidth int
	ProcessedHeight int
}

// Normalize decodes raw image bytes, converts to grayscale, normalizes
// contrast, applies light denoising, and produces 0/90/180/270 rotation
// variants, ready for the primary decoder to scan.
func Normalize(raw []byte) (*Result, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	origBounds := src.Bounds()

	gray := imaging.Grayscale(src)
	// AdjustContrast stands in for CLAHE: disintegration/imaging has no
	// localized histogram equalization, only a global contrast curve.
	// Adequate for barcode decoding, which needs separated black/white
	// bars rather than photographic tone fidelity.
	contrasted := imaging.AdjustContrast(gray, 15)
	// Blur at a small radius approximates denoising; the library has no
	// dedicated denoise filter.
	denoised := imaging.Blur(contrasted, 0.3)

	normalizedBytes, err := encodeJPEG(denoised)
	if err != nil {
		return nil, fmt.Errorf("failed to encode normalized image: %w", err)
	}

	rotations := map[int][]byte{0: normalizedBytes}
	for _, deg := range []int{90, 180, 270} {
		var rotated image.Image
		switch deg {
		case 90:
			rotated = imaging.Rotate90(denoised)
		case 180:
			rotated = imaging.Rotate180(denoised)
		case 270:
			rotated = imaging.Rotate270(denoised)
		}
		data, err := encodeJPEG(rotated)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %d-degree rotation: %w", deg, err)
		}
		rotations[deg] = data
	}

	procBounds := denoised.Bounds()
	return &Result{
		Normalized:      normalizedBytes,
		Rotations:       rotations,
		OriginalWidth:   origBounds.Dx(),
		OriginalHeight:  origBounds.Dy(),
		ProcessedWidth:  procBounds.Dx(),
		ProcessedHeight: procBounds.Dy(),
	}, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
