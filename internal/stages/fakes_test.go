package stages

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/storage"
)

// --- fakes ---

type fakeImageStore struct {
	mu     sync.Mutex
	images map[string]*models.Image
}

func newFakeImageStore(imgs ...*models.Image) *fakeImageStore {
	s := &fakeImageStore{images: make(map[string]*models.Image)}
	for _, img := range imgs {
		cp := *img
		s.images[img.ImageID] = &cp
	}
	return s
}

func (s *fakeImageStore) Create(ctx context.Context, img *models.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *img
	s.images[img.ImageID] = &cp
	return nil
}

func (s *fakeImageStore) Get(ctx context.Context, imageID string) (*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[imageID]
	if !ok {
		return nil, fmt.Errorf("image %s not found", imageID)
	}
	cp := *img
	return &cp, nil
}

func (s *fakeImageStore) ListByStatus(ctx context.Context, status models.ImageStatus, limit int) ([]*models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Image
	for _, img := range s.images {
		if img.Status == status {
			cp := *img
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeImageStore) ListByBatch(ctx context.Context, batchID string, limit int) ([]*models.Image, error) {
	return nil, nil
}

func (s *fakeImageStore) UpdateStatus(ctx context.Context, imageID string, fromStatus, toStatus models.ImageStatus, apply func(*models.Image)) (*models.Image, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img, ok := s.images[imageID]
	if !ok {
		return nil, false, fmt.Errorf("image %s not found", imageID)
	}
	if img.Status != fromStatus {
		return nil, false, nil
	}
	if apply != nil {
		apply(img)
	}
	img.Status = toStatus
	img.StatusUpdatedAt = time.Now()
	cp := *img
	return &cp, true, nil
}

func (s *fakeImageStore) CountByStatus(ctx context.Context, batchID string) (map[models.ImageStatus]int, error) {
	return nil, nil
}

type fakeDetectionStore struct {
	mu         sync.Mutex
	detections []*models.Detection
	products   map[string]string
}

func newFakeDetectionStore() *fakeDetectionStore {
	return &fakeDetectionStore{products: make(map[string]string)}
}

func (s *fakeDetectionStore) Create(ctx context.Context, d *models.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.DetectionID == "" {
		d.DetectionID = fmt.Sprintf("det-%d", len(s.detections)+1)
	}
	s.detections = append(s.detections, d)
	return nil
}

func (s *fakeDetectionStore) Get(ctx context.Context, detectionID string) (*models.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.detections {
		if d.DetectionID == detectionID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("detection %s not found", detectionID)
}

func (s *fakeDetectionStore) Update(ctx context.Context, detectionID string, apply func(*models.Detection)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.detections {
		if d.DetectionID == detectionID {
			if apply != nil {
				apply(d)
			}
			return nil
		}
	}
	return fmt.Errorf("detection %s not found", detectionID)
}

func (s *fakeDetectionStore) ListByImage(ctx context.Context, imageID string) ([]*models.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Detection
	for _, d := range s.detections {
		if d.ImageID == imageID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeDetectionStore) FindProduct(ctx context.Context, normalizedCode string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	productID, found := s.products[normalizedCode]
	return productID, found, nil
}

type fakeBlobStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{data: make(map[string][]byte)}
}

func (s *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", key)
	}
	return data, nil
}

func (s *fakeBlobStore) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeBlobStore) Put(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = data
	return nil
}

func (s *fakeBlobStore) PutReader(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.Put(ctx, key, data)
}

func (s *fakeBlobStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *fakeBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *fakeBlobStore) Metadata(ctx context.Context, key string) (*storage.BlobMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[key]
	if !ok {
		return nil, storage.ErrBlobNotFound
	}
	return &storage.BlobMetadata{Key: key, Size: int64(len(data)), LastModified: time.Now()}, nil
}

func (s *fakeBlobStore) List(ctx context.Context, opts storage.ListOptions) (*storage.ListResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var blobs []storage.BlobMetadata
	for key, data := range s.data {
		blobs = append(blobs, storage.BlobMetadata{Key: key, Size: int64(len(data))})
	}
	return &storage.ListResult{Blobs: blobs}, nil
}

func (s *fakeBlobStore) Copy(ctx context.Context, src, dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.data[src]
	if !ok {
		return storage.ErrBlobNotFound
	}
	s.data[dst] = data
	return nil
}

func (s *fakeBlobStore) Close() error { return nil }

var _ storage.BlobStore = (*fakeBlobStore)(nil)
var _ interfaces.ImageStore = (*fakeImageStore)(nil)
var _ interfaces.DetectionStore = (*fakeDetectionStore)(nil)
var _ interfaces.LLMClient = (*fakeLLMClient)(nil)

type fakeLLMClient struct {
	codes      []interfaces.DecodedCode
	tokensUsed int64
	err        error
}

func (f *fakeLLMClient) DecodeBarcode(ctx context.Context, imageBytes []byte, mimeType string) ([]interfaces.DecodedCode, int64, error) {
	if f.err != nil {
		return nil, f.tokensUsed, f.err
	}
	return f.codes, f.tokensUsed, nil
}
