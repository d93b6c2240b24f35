package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/storage/memqueue"
)

type fakeImages struct {
	mu     sync.Mutex
	images map[string]*models.Image
}

func newFakeImages(imgs ...*models.Image) *fakeImages {
	f := &fakeImages{images: make(map[string]*models.Image)}
	for _, img := range imgs {
		f.images[img.ImageID] = img
	}
	return f
}

func (f *fakeImages) Create(ctx context.Context, img *models.Image) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images[img.ImageID] = img
	return nil
}

func (f *fakeImages) Get(ctx context.Context, imageID string) (*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[imageID]
	if !ok {
		return nil, nil
	}
	cp := *img
	return &cp, nil
}

func (f *fakeImages) ListByStatus(ctx context.Context, status models.ImageStatus, limit int) ([]*models.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Image
	for _, img := range f.images {
		if img.Status == status {
			cp := *img
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeImages) ListByBatch(ctx context.Context, batchID string, limit int) ([]*models.Image, error) {
	return nil, nil
}

func (f *fakeImages) UpdateStatus(ctx context.Context, imageID string, fromStatus, toStatus models.ImageStatus, apply func(*models.Image)) (*models.Image, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	img, ok := f.images[imageID]
	if !ok {
		return nil, false, nil
	}
	if img.Status != fromStatus {
		return nil, false, nil
	}
	if apply != nil {
		apply(img)
	}
	img.Status = toStatus
	cp := *img
	return &cp, true, nil
}

func (f *fakeImages) CountByStatus(ctx context.Context, batchID string) (map[models.ImageStatus]int, error) {
	return nil, nil
}

func TestDispatcher_SeedEnqueuesJobForPendingImage(t *testing.T) {
	images := newFakeImages(&models.Image{ImageID: "img-1", Status: models.StatusPending})
	queue := memqueue.New()
	d := New(images, queue, nil, common.NewSilentLogger(), Config{BatchSize: 10})

	seeded, ok := d.seed(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, seeded)

	pending, err := queue.ListPending(context.Background(), models.JobTypePreprocess, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "img-1", pending[0].ImageID)
}

func TestDispatcher_SeedSkipsImageWithActiveJob(t *testing.T) {
	images := newFakeImages(&models.Image{ImageID: "img-1", Status: models.StatusPending})
	queue := memqueue.New()
	require.NoError(t, queue.Enqueue(context.Background(), &models.Job{
		JobType: models.JobTypePreprocess,
		ImageID: "img-1",
	}))
	d := New(images, queue, nil, common.NewSilentLogger(), Config{BatchSize: 10})

	seeded, ok := d.seed(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, seeded)
}

func TestDispatcher_AdvanceToFallback_NeedsFallbackFlag(t *testing.T) {
	images := newFakeImages(&models.Image{
		ImageID:       "img-1",
		Status:        models.StatusPreprocessed,
		NeedsFallback: true,
	})
	queue := memqueue.New()
	d := New(images, queue, nil, common.NewSilentLogger(), Config{BatchSize: 10})

	advanced, ok := d.advanceToFallback(context.Background())
	require.True(t, ok)
	assert.Equal(t, 1, advanced)

	img, err := images.Get(context.Background(), "img-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDecodingFallback, img.Status)
}

func TestDispatcher_AdvanceToFallback_SkipsWithoutFlag(t *testing.T) {
	images := newFakeImages(&models.Image{
		ImageID: "img-1",
		Status:  models.StatusPreprocessed,
	})
	queue := memqueue.New()
	d := New(images, queue, nil, common.NewSilentLogger(), Config{BatchSize: 10})

	advanced, ok := d.advanceToFallback(context.Background())
	require.True(t, ok)
	assert.Equal(t, 0, advanced)
}

func TestDispatcher_StartStopSeedsPendingImage(t *testing.T) {
	images := newFakeImages(&models.Image{ImageID: "img-1", Status: models.StatusPending})
	queue := memqueue.New()
	d := New(images, queue, nil, common.NewSilentLogger(), Config{
		PollInterval: 10 * time.Millisecond,
		BatchSize:    10,
	})

	d.Start()
	defer d.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		pending, err := queue.ListPending(context.Background(), models.JobTypePreprocess, 10)
		require.NoError(t, err)
		if len(pending) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("dispatcher did not seed a job within the deadline")
}
