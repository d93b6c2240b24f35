package stages

import "github.com/productlens/barcodeflow/internal/models"

// distinctAcceptedCodes returns the distinct normalized codes among the
// accepted detections in ds, in first-seen order. Decode-primary and
// decode-fallback both dedupe their candidate set this way before
// deciding whether a run produced a clean read, an ambiguous one, or
// nothing usable.
func distinctAcceptedCodes(ds []*models.Detection) []string {
	seen := make(map[string]bool, len(ds))
	var out []string
	for _, d := range ds {
		if !d.Accepted || seen[d.NormalizedCode] {
			continue
		}
		seen[d.NormalizedCode] = true
		out = append(out, d.NormalizedCode)
	}
	return out
}

// markAmbiguous flags every accepted detection in ds when the deduped
// accepted set has more than one distinct normalized code.
func markAmbiguous(ds []*models.Detection, distinct []string) {
	if len(distinct) < 2 {
		return
	}
	for _, d := range ds {
		if d.Accepted {
			d.Ambiguous = true
		}
	}
}
