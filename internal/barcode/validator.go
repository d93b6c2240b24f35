// Package barcode implements symbology classification, normalization, and
// checksum validation for the four retail barcode formats the pipeline
// accepts: EAN-13, EAN-8, UPC-A, and UPC-E. Pure functions, no I/O.
package barcode

import (
	"strings"

	"github.com/productlens/barcodeflow/internal/models"
)

// Result is the outcome of running a raw decoded string through the full
// classify/normalize/checksum pipeline.
type Result struct {
	RawCode        string
	NormalizedCode string
	Symbology      models.Symbology
	NumericOnly    bool
	LengthValid    bool
	ChecksumValid  bool
	Accepted       bool
}

// Validate runs a raw decoded code string through classification,
// normalization, and checksum validation, producing the fields a
// Detection record needs.
func Validate(raw string) Result {
	r := Result{RawCode: raw}

	r.NumericOnly = isNumeric(raw)
	if !r.NumericOnly {
		r.Symbology = models.SymbologyUnknown
		return r
	}

	r.Symbology = Classify(raw)
	r.LengthValid = r.Symbology != models.SymbologyUnknown
	if !r.LengthValid {
		return r
	}

	normalized, ok := Normalize(raw, r.Symbology)
	if !ok {
		r.Symbology = models.SymbologyUnknown
		r.LengthValid = false
		return r
	}
	r.NormalizedCode = normalized
	r.ChecksumValid = ChecksumValid(normalized)
	r.Accepted = r.NumericOnly && r.LengthValid && r.ChecksumValid
	return r
}

// Classify determines the symbology of a numeric-only code string by its
// length. Ambiguous lengths are not possible by construction: EAN-13 (13),
// UPC-A (12), EAN-8 (8), and UPC-E (6 or 8 with a leading system digit of
// 0/1, here accepted at exactly 6 digits — the compressed form without
// guard-bar system/checksum digits) are all distinct lengths.
func Classify(code string) models.Symbology {
	if !isNumeric(code) {
		return models.SymbologyUnknown
	}
	switch len(code) {
	case 13:
		return models.SymbologyEAN13
	case 12:
		return models.SymbologyUPCA
	case 8:
		return models.SymbologyEAN8
	case 6:
		return models.SymbologyUPCE
	default:
		return models.SymbologyUnknown
	}
}

// Normalize converts a classified code into its canonical EAN-13
// representation (except EAN-8, which has no EAN-13 superset and is kept
// as-is):
//   - UPC-A: prepend "0" to form a 13-digit code.
//   - UPC-E: expand to the 12-digit UPC-A form, then prepend "0".
//   - EAN-13: passthrough.
//   - EAN-8: passthrough (no normalization target).
func Normalize(code string, sym models.Symbology) (string, bool) {
	switch sym {
	case models.SymbologyEAN13:
		return code, true
	case models.SymbologyEAN8:
		return code, true
	case models.SymbologyUPCA:
		return "0" + code, true
	case models.SymbologyUPCE:
		upcA, ok := expandUPCE(code)
		if !ok {
			return "", false
		}
		return "0" + upcA, true
	default:
		return "", false
	}
}

// expandUPCE expands a 6-digit UPC-E payload into its 12-digit UPC-A
// equivalent: a leading "0" number-system digit, the 10-digit mantissa
// from the expansion table, and a recomputed check digit.
func expandUPCE(code string) (string, bool) {
	if len(code) != 6 || !isNumeric(code) {
		return "", false
	}

	digits := code[:5]
	lastDigit := code[5]

	var mantissa string
	switch lastDigit {
	case '0', '1', '2':
		mantissa = digits[:2] + string(lastDigit) + "0000" + digits[2:5]
	case '3':
		mantissa = digits[:3] + "00000" + digits[3:5]
	case '4':
		mantissa = digits[:4] + "00000" + digits[4:5]
	default: // '5'-'9'
		mantissa = digits[:5] + "0000" + string(lastDigit)
	}

	// full is the number-system-0 digit plus the 10-digit mantissa — the
	// 11-digit payload the check digit is computed over and appended to,
	// producing the 12-digit UPC-A code Normalize expects back.
	full := "0" + mantissa
	check := computedCheckDigit(full)
	return full + string(rune('0'+check)), true
}

// ChecksumValid reports whether code (EAN-13, UPC-A-as-EAN-13, or EAN-8)
// carries a correct modulo-10 check digit, using alternating weights
// {1,3,1,3,...} counted from the rightmost digit (the check digit itself
// has weight 1).
func ChecksumValid(code string) bool {
	if !isNumeric(code) || len(code) == 0 {
		return false
	}
	payload := code[:len(code)-1]
	want := int(code[len(code)-1] - '0')
	return computedCheckDigit(payload) == want
}

// computedCheckDigit computes the modulo-10 check digit for payload (the
// code without its trailing check digit), weighting digits 3,1,3,1,...
// from the rightmost payload digit (which sits adjacent to the check
// digit and so carries weight 3 in the standard EAN/UPC scheme).
func computedCheckDigit(payload string) int {
	sum := 0
	weight := 3
	for i := len(payload) - 1; i >= 0; i-- {
		d := int(payload[i] - '0')
		sum += d * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	mod := sum % 10
	if mod == 0 {
		return 0
	}
	return 10 - mod
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) == -1
}

// IsAccepted reports whether raw is numeric, classifiable, and
// checksum-valid — the single "accepted" predicate a Detection needs
// to count as a confirmed read.
func IsAccepted(raw string) bool {
	return Validate(raw).Accepted
}
