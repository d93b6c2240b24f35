package mongostore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productlens/barcodeflow/internal/models"
)

func TestImageStore_CreateGetAndUpdateStatus(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	img := &models.Image{
		ImageID:    "img-1",
		BatchID:    "batch-1",
		SourcePath: "raw/batch-1/img-1.jpg",
		Status:     models.StatusPending,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, mgr.ImageStore.Create(ctx, img))

	loaded, err := mgr.ImageStore.Get(ctx, "img-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, loaded.Status)

	updated, ok, err := mgr.ImageStore.UpdateStatus(ctx, "img-1", models.StatusPending, models.StatusPreprocessing, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StatusPreprocessing, updated.Status)

	// A stale fromStatus loses the CAS and reports ok=false, not an error.
	_, ok, err = mgr.ImageStore.UpdateStatus(ctx, "img-1", models.StatusPending, models.StatusPreprocessed, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestImageStore_UpdateStatusAppliesMutation(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	img := &models.Image{ImageID: "img-2", BatchID: "batch-1", Status: models.StatusPreprocessed, CreatedAt: time.Now()}
	require.NoError(t, mgr.ImageStore.Create(ctx, img))

	updated, ok, err := mgr.ImageStore.UpdateStatus(ctx, "img-2", models.StatusPreprocessed, models.StatusDecodingPrimary, func(i *models.Image) {
		i.Processing.PrimaryAttempts++
	})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, updated.Processing.PrimaryAttempts)

	reloaded, err := mgr.ImageStore.Get(ctx, "img-2")
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.Processing.PrimaryAttempts)
	assert.Equal(t, models.StatusDecodingPrimary, reloaded.Status)
}

func TestImageStore_ListByStatusAndCountByStatus(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, mgr.ImageStore.Create(ctx, &models.Image{
			ImageID:   "img-" + string(rune('a'+i)),
			BatchID:   "batch-2",
			Status:    models.StatusPending,
			CreatedAt: time.Now(),
		}))
	}
	require.NoError(t, mgr.ImageStore.Create(ctx, &models.Image{
		ImageID: "img-z", BatchID: "batch-2", Status: models.StatusFailed, CreatedAt: time.Now(),
	}))

	pending, err := mgr.ImageStore.ListByStatus(ctx, models.StatusPending, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 3)

	counts, err := mgr.ImageStore.CountByStatus(ctx, "batch-2")
	require.NoError(t, err)
	assert.Equal(t, 3, counts[models.StatusPending])
	assert.Equal(t, 1, counts[models.StatusFailed])
}

func TestDetectionStore_CreateAndListByImage(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	d := &models.Detection{
		DetectionID:    "det-1",
		ImageID:        "img-1",
		Source:         models.SourcePrimary,
		RawCode:        "012345678905",
		NormalizedCode: "012345678905",
		Symbology:      models.SymbologyUPCA,
		ChecksumValid:  true,
		Accepted:       true,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, mgr.DetectionStore.Create(ctx, d))

	found, err := mgr.DetectionStore.ListByImage(ctx, "img-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "012345678905", found[0].NormalizedCode)

	_, ok, err := mgr.DetectionStore.FindProduct(ctx, "000000000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJobQueueStore_EnqueueLeaseCompleteLifecycle(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypePreprocess, ImageID: "img-1", Priority: 10}
	require.NoError(t, mgr.JobQueueStore.Enqueue(ctx, job))

	// Idempotent: a second Enqueue for the same (job_type, image_id) while
	// the first is still pending is rejected with ErrDuplicateJob instead
	// of inserting a second job.
	dup := &models.Job{JobType: models.JobTypePreprocess, ImageID: "img-1", Priority: 10}
	err := mgr.JobQueueStore.Enqueue(ctx, dup)
	assert.Error(t, err)

	leased, err := mgr.JobQueueStore.Lease(ctx, models.JobTypePreprocess, "worker-1", time.Minute, 5)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, models.JobStatusRunning, leased[0].Status)

	ok, err := mgr.JobQueueStore.Complete(ctx, leased[0].ID, "worker-1", 120)
	require.NoError(t, err)
	assert.True(t, ok)

	active, err := mgr.JobQueueStore.HasActiveJob(ctx, models.JobTypePreprocess, "img-1")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestJobQueueStore_FailRetriableReturnsToPending(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypeDecodeFallback, ImageID: "img-9", Priority: 5, MaxAttempts: 3}
	require.NoError(t, mgr.JobQueueStore.Enqueue(ctx, job))

	leased, err := mgr.JobQueueStore.Lease(ctx, models.JobTypeDecodeFallback, "worker-1", time.Minute, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	ok, err := mgr.JobQueueStore.Fail(ctx, leased[0].ID, "worker-1", assertError("llm timeout"), true, 50)
	require.NoError(t, err)
	assert.True(t, ok)

	pending, err := mgr.JobQueueStore.ListPending(ctx, models.JobTypeDecodeFallback, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.JobStatusPending, pending[0].Status)
	assert.Equal(t, "llm timeout", pending[0].Error)
}

func TestJobQueueStore_Reap(t *testing.T) {
	mgr := testManager(t)
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypePreprocess, ImageID: "img-reap", Priority: 10}
	require.NoError(t, mgr.JobQueueStore.Enqueue(ctx, job))

	leased, err := mgr.JobQueueStore.Lease(ctx, models.JobTypePreprocess, "worker-1", time.Millisecond, 1)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	time.Sleep(5 * time.Millisecond)

	reaped, err := mgr.JobQueueStore.Reap(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)

	active, err := mgr.JobQueueStore.HasActiveJob(ctx, models.JobTypePreprocess, "img-reap")
	require.NoError(t, err)
	assert.True(t, active) // back to pending, still "active"
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertError(msg string) error { return simpleErr(msg) }
