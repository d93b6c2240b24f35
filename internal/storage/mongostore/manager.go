// Package mongostore implements interfaces.ImageStore, interfaces.DetectionStore,
// and interfaces.JobQueueStore against MongoDB. Grounded on the same shape as
// this codebase's surrealdb storage package (one Manager owning the
// connection, one file per collection-backed store) with the CAS pattern
// from its jobqueue.go translated from a WHERE-gated UPDATE into a
// FindOneAndUpdate filter, since Mongo has no optimistic-update SQL dialect.
package mongostore

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/productlens/barcodeflow/internal/common"
)

// Manager owns the MongoDB connection and the collection handles every
// per-entity store is built from.
type Manager struct {
	client *mongo.Client
	db     *mongo.Database
	logger *common.Logger

	images     *mongo.Collection
	detections *mongo.Collection
	jobs       *mongo.Collection

	ImageStore     *ImageStore
	DetectionStore *DetectionStore
	JobQueueStore  *JobQueueStore
}

// NewManager connects to MongoDB, verifies the connection with a ping,
// ensures the indexes every store's queries depend on, and wires up the
// three per-entity stores.
func NewManager(ctx context.Context, logger *common.Logger, cfg *common.MongoConfig) (*Manager, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &Manager{
		client:     client,
		db:         db,
		logger:     logger,
		images:     db.Collection("images"),
		detections: db.Collection("detections"),
		jobs:       db.Collection("job_queue"),
	}

	if err := m.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure indexes: %w", err)
	}

	m.ImageStore = &ImageStore{col: m.images, logger: logger}
	m.DetectionStore = &DetectionStore{col: m.detections, products: db.Collection("products"), logger: logger}
	m.JobQueueStore = &JobQueueStore{col: m.jobs, logger: logger}

	logger.Info().
		Str("database", cfg.Database).
		Msg("mongodb storage manager initialized")

	return m, nil
}

// ensureIndexes creates the indexes every store's query patterns rely on.
// Safe to call repeatedly: CreateMany is a no-op for indexes that already
// exist with the same keys.
func (m *Manager) ensureIndexes(ctx context.Context) error {
	imageIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "image_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "batch_id", Value: 1}}},
	}
	if _, err := m.images.Indexes().CreateMany(ctx, imageIndexes); err != nil {
		return fmt.Errorf("images: %w", err)
	}

	detectionIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "detection_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "image_id", Value: 1}}},
		{Keys: bson.D{{Key: "normalized_code", Value: 1}}},
	}
	if _, err := m.detections.Indexes().CreateMany(ctx, detectionIndexes); err != nil {
		return fmt.Errorf("detections: %w", err)
	}

	jobIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "job_type", Value: 1}, {Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "lock_until", Value: 1}}},
		// Enforces Enqueue's idempotency contract at the database level: at
		// most one pending/running job may exist per (job_type, image_id).
		// A second Enqueue attempt while one is active hits a duplicate key
		// error, which JobQueueStore.Enqueue maps to pipelineerr.ErrDuplicateJob.
		{
			Keys: bson.D{{Key: "job_type", Value: 1}, {Key: "image_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{
					"status": bson.M{"$in": bson.A{"pending", "running"}},
				}),
		},
	}
	if _, err := m.jobs.Indexes().CreateMany(ctx, jobIndexes); err != nil {
		return fmt.Errorf("job_queue: %w", err)
	}

	return nil
}

// Close disconnects the underlying MongoDB client.
func (m *Manager) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
