package mongostore

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
)

// DetectionStore implements interfaces.DetectionStore against the
// "detections" collection, and looks product matches up in "products" — a
// separate, narrow lookup collection this store only reads from; nothing
// in this codebase writes to it, so a missing collection/document is
// treated as "no match" rather than an error.
type DetectionStore struct {
	col      *mongo.Collection
	products *mongo.Collection
	logger   *common.Logger
}

// Create inserts a new detection record, assigning a DetectionID if the
// caller left one unset.
func (s *DetectionStore) Create(ctx context.Context, d *models.Detection) error {
	if d.DetectionID == "" {
		d.DetectionID = uuid.NewString()
	}
	if _, err := s.col.InsertOne(ctx, d); err != nil {
		return fmt.Errorf("failed to insert detection for image %s: %w", d.ImageID, err)
	}
	return nil
}

// Get loads a single detection by id.
func (s *DetectionStore) Get(ctx context.Context, detectionID string) (*models.Detection, error) {
	var d models.Detection
	err := s.col.FindOne(ctx, bson.M{"detection_id": detectionID}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("detection %s: %w", detectionID, mongo.ErrNoDocuments)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load detection %s: %w", detectionID, err)
	}
	return &d, nil
}

// Update loads detectionID, lets apply mutate it, and replaces the stored
// document. The Manual Resolve Handler is the only caller: it sets
// chosen/rejected/reviewed_at/reviewed_by on one or more Detections of
// the same image in direct succession, so no CAS guard is needed here —
// unlike Image, a Detection has no concurrent-writer state machine.
func (s *DetectionStore) Update(ctx context.Context, detectionID string, apply func(*models.Detection)) error {
	d, err := s.Get(ctx, detectionID)
	if err != nil {
		return err
	}
	if apply != nil {
		apply(d)
	}
	if _, err := s.col.ReplaceOne(ctx, bson.M{"detection_id": detectionID}, d); err != nil {
		return fmt.Errorf("failed to update detection %s: %w", detectionID, err)
	}
	return nil
}

// ListByImage returns every detection attempt recorded for imageID, in
// the order they were created.
func (s *DetectionStore) ListByImage(ctx context.Context, imageID string) ([]*models.Detection, error) {
	cur, err := s.col.Find(ctx, bson.M{"image_id": imageID})
	if err != nil {
		return nil, fmt.Errorf("failed to query detections for image %s: %w", imageID, err)
	}
	defer cur.Close(ctx)

	var out []*models.Detection
	for cur.Next(ctx) {
		var d models.Detection
		if err := cur.Decode(&d); err != nil {
			return nil, fmt.Errorf("failed to decode detection: %w", err)
		}
		out = append(out, &d)
	}
	return out, cur.Err()
}

// FindProduct looks up a product by its normalized barcode.
func (s *DetectionStore) FindProduct(ctx context.Context, normalizedCode string) (string, bool, error) {
	var row struct {
		ProductID string `bson:"product_id"`
	}
	err := s.products.FindOne(ctx, bson.M{"normalized_code": normalizedCode}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to look up product for code %s: %w", normalizedCode, err)
	}
	return row.ProductID, true, nil
}

var _ interfaces.DetectionStore = (*DetectionStore)(nil)
