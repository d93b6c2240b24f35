// Package decoder provides the primary (local, deterministic) barcode
// decoder integration. The decoder itself is an external collaborator —
// the actual symbol-reading algorithm lives out of scope as a separate CLI tool
// (zbarimg-compatible) — so CLIDecoder only shells out and parses
// output behind a narrow Go interface, the same way this codebase's
// other external-process/service clients do.
package decoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
)

// CLIDecoder implements interfaces.PrimaryDecoder by invoking an
// external zbarimg-compatible binary and parsing its "SYMBOLOGY:CODE"
// output lines, one per detected barcode.
type CLIDecoder struct {
	path   string
	logger *common.Logger
}

// NewCLIDecoder creates a CLIDecoder that shells out to the binary at
// path (e.g. "zbarimg", or a full path from PRIMARY_DECODER_PATH).
func NewCLIDecoder(path string, logger *common.Logger) *CLIDecoder {
	if path == "" {
		path = "zbarimg"
	}
	return &CLIDecoder{path: path, logger: logger}
}

// zbarSymbologyMap translates zbar's symbology names to this
// coordinator's Symbology constants.
var zbarSymbologyMap = map[string]string{
	"EAN-13": "EAN13",
	"EAN-8":  "EAN8",
	"UPC-A":  "UPCA",
	"UPC-E":  "UPCE",
}

// Decode runs the decoder binary against imagePath and parses its
// stdout. Any parsed lines are returned regardless of the exit code. With
// no parseable output, exit code 4 (zbarimg's "no symbols found") yields
// an empty result and any other non-zero exit (such as 1 for invocation
// errors like a missing file) is returned as an error.
func (d *CLIDecoder) Decode(ctx context.Context, imagePath string) ([]interfaces.DecodedCode, error) {
	cmd := exec.CommandContext(ctx, d.path, "--quiet", "-Sdisable", "-Sean13.enable", "-Sean8.enable", "-Supca.enable", "-Supce.enable", imagePath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	codes := parseZbarOutput(stdout.String())
	if len(codes) > 0 {
		return codes, nil
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			// zbarimg exits 4 when no symbols were found in a readable
			// image — not an invocation failure, just "nothing decoded".
			if exitErr.ExitCode() == 4 {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("primary decoder invocation failed: %w (stderr: %s)", runErr, stderr.String())
	}

	return nil, nil
}

// parseZbarOutput parses lines of the form "EAN-13:1234567890128" into
// DecodedCode values, skipping anything it doesn't recognize rather than
// failing the whole decode on one unparseable line.
func parseZbarOutput(output string) []interfaces.DecodedCode {
	var codes []interfaces.DecodedCode
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		sym, ok := zbarSymbologyMap[parts[0]]
		if !ok {
			continue
		}
		codes = append(codes, interfaces.DecodedCode{
			Code:       strings.TrimSpace(parts[1]),
			Symbology:  sym,
			Confidence: 1.0, // zbarimg reports a binary decode, no confidence score
		})
	}
	return codes
}
