package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productlens/barcodeflow/internal/models"
)

type fakeImageStore struct {
	counts map[models.ImageStatus]int
	err    error
}

func (f *fakeImageStore) Create(ctx context.Context, img *models.Image) error { return nil }
func (f *fakeImageStore) Get(ctx context.Context, imageID string) (*models.Image, error) {
	return nil, nil
}
func (f *fakeImageStore) ListByStatus(ctx context.Context, status models.ImageStatus, limit int) ([]*models.Image, error) {
	return nil, nil
}
func (f *fakeImageStore) ListByBatch(ctx context.Context, batchID string, limit int) ([]*models.Image, error) {
	return nil, nil
}
func (f *fakeImageStore) UpdateStatus(ctx context.Context, imageID string, fromStatus, toStatus models.ImageStatus, apply func(*models.Image)) (*models.Image, bool, error) {
	return nil, false, nil
}
func (f *fakeImageStore) CountByStatus(ctx context.Context, batchID string) (map[models.ImageStatus]int, error) {
	return f.counts, f.err
}

func TestAggregator_Snapshot_SumsCountsIntoTotal(t *testing.T) {
	agg := &Aggregator{Images: &fakeImageStore{counts: map[models.ImageStatus]int{
		models.StatusPending:        3,
		models.StatusDecodedPrimary: 5,
		models.StatusManualReview:   2,
	}}}

	snap, err := agg.Snapshot(context.Background(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, "batch-1", snap.BatchID)
	assert.Equal(t, 10, snap.Total)
	assert.Equal(t, 3, snap.Counts[models.StatusPending])
}

func TestAggregator_Snapshot_PropagatesStoreError(t *testing.T) {
	boom := assert.AnError
	agg := &Aggregator{Images: &fakeImageStore{err: boom}}

	_, err := agg.Snapshot(context.Background(), "")
	require.Error(t, err)
}
