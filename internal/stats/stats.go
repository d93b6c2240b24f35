// Package stats exposes read-only aggregate counts over the image
// pipeline. It is a thin wrapper, not a second source of truth: every
// number it returns comes straight from the store's own CountByStatus
// aggregation.
package stats

import (
	"context"

	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
)

// Snapshot is a point-in-time count of images in each status, optionally
// scoped to one batch.
type Snapshot struct {
	BatchID string                       `json:"batch_id,omitempty"`
	Counts  map[models.ImageStatus]int   `json:"counts"`
	Total   int                          `json:"total"`
}

// Aggregator computes Snapshots from an ImageStore.
type Aggregator struct {
	Images interfaces.ImageStore
}

// Snapshot returns the current status counts, scoped to batchID when
// non-empty.
func (a *Aggregator) Snapshot(ctx context.Context, batchID string) (*Snapshot, error) {
	counts, err := a.Images.CountByStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return &Snapshot{BatchID: batchID, Counts: counts, Total: total}, nil
}
