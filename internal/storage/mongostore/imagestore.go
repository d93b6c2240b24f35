package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
)

// ImageStore implements interfaces.ImageStore against the "images" collection.
type ImageStore struct {
	col    *mongo.Collection
	logger *common.Logger
}

// Create inserts a new image document.
func (s *ImageStore) Create(ctx context.Context, img *models.Image) error {
	if _, err := s.col.InsertOne(ctx, img); err != nil {
		return fmt.Errorf("failed to insert image %s: %w", img.ImageID, err)
	}
	return nil
}

// Get loads an image by ID.
func (s *ImageStore) Get(ctx context.Context, imageID string) (*models.Image, error) {
	var img models.Image
	err := s.col.FindOne(ctx, bson.M{"image_id": imageID}).Decode(&img)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("image %s: %w", imageID, mongo.ErrNoDocuments)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load image %s: %w", imageID, err)
	}
	return &img, nil
}

// ListByStatus returns up to limit images in the given status.
func (s *ImageStore) ListByStatus(ctx context.Context, status models.ImageStatus, limit int) ([]*models.Image, error) {
	return s.find(ctx, bson.M{"status": status}, limit)
}

// ListByBatch returns up to limit images belonging to batchID.
func (s *ImageStore) ListByBatch(ctx context.Context, batchID string, limit int) ([]*models.Image, error) {
	return s.find(ctx, bson.M{"batch_id": batchID}, limit)
}

func (s *ImageStore) find(ctx context.Context, filter bson.M, limit int) ([]*models.Image, error) {
	findOpts := options.Find()
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := s.col.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer cur.Close(ctx)

	var out []*models.Image
	for cur.Next(ctx) {
		var img models.Image
		if err := cur.Decode(&img); err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		out = append(out, &img)
	}
	return out, cur.Err()
}

// UpdateStatus implements the CAS contract: load the current document,
// let apply mutate an in-memory copy, then replace the document filtered
// on (image_id, status=fromStatus). A zero matched count means another
// worker already moved the image past fromStatus, reported as ok=false
// rather than an error.
func (s *ImageStore) UpdateStatus(ctx context.Context, imageID string, fromStatus, toStatus models.ImageStatus, apply func(*models.Image)) (*models.Image, bool, error) {
	img, err := s.Get(ctx, imageID)
	if err != nil {
		return nil, false, err
	}
	if img.Status != fromStatus {
		return nil, false, nil
	}

	if apply != nil {
		apply(img)
	}
	img.Status = toStatus
	img.SyncGuardFields()

	result, err := s.col.ReplaceOne(ctx, bson.M{"image_id": imageID, "status": fromStatus}, img)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update image %s status: %w", imageID, err)
	}
	if result.MatchedCount == 0 {
		// Lost the race between Get and ReplaceOne.
		return nil, false, nil
	}
	return img, true, nil
}

// CountByStatus tallies images by status, scoped to batchID when non-empty.
func (s *ImageStore) CountByStatus(ctx context.Context, batchID string) (map[models.ImageStatus]int, error) {
	filter := bson.M{}
	if batchID != "" {
		filter["batch_id"] = batchID
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate image status counts: %w", err)
	}
	defer cur.Close(ctx)

	counts := make(map[models.ImageStatus]int)
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode status count: %w", err)
		}
		counts[models.ImageStatus(row.ID)] = row.Count
	}
	return counts, cur.Err()
}

var _ interfaces.ImageStore = (*ImageStore)(nil)
