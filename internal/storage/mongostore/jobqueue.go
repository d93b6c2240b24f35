package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
)

// JobQueueStore implements interfaces.JobQueueStore against the
// "job_queue" collection. Lease/RenewLease/Complete/Fail are each a
// single FindOneAndUpdate filtered on the precondition they require
// (status=pending, or status=running+locked_by=workerID) — the same
// CAS-by-filter approach as ImageStore.UpdateStatus, translating
// surrealdb's WHERE-gated UPDATE into Mongo's filter-gated update.
type JobQueueStore struct {
	col    *mongo.Collection
	logger *common.Logger
}

// Enqueue inserts job, assigning an ID if empty. The partial unique index
// on (job_type, image_id) for pending/running jobs makes this idempotent:
// a duplicate key error here means an active job already exists, which we
// report as pipelineerr.ErrDuplicateJob rather than a write failure.
func (s *JobQueueStore) Enqueue(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 2
	}

	_, err := s.col.InsertOne(ctx, job)
	if mongo.IsDuplicateKeyError(err) {
		return pipelineerr.ErrDuplicateJob
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue job for image %s: %w", job.ImageID, err)
	}
	return nil
}

// Lease atomically claims up to limit pending jobs of jobType, ordered by
// priority descending then created_at ascending, one FindOneAndUpdate
// per job since Mongo has no "claim N rows" primitive.
func (s *JobQueueStore) Lease(ctx context.Context, jobType, workerID string, leaseDuration time.Duration, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "created_at", Value: 1}}).
		SetLimit(int64(limit))
	cur, err := s.col.Find(ctx, bson.M{
		"job_type": jobType,
		"status":   models.JobStatusPending,
		"$or": bson.A{
			bson.M{"scheduled_for": bson.M{"$exists": false}},
			bson.M{"scheduled_for": time.Time{}},
			bson.M{"scheduled_for": bson.M{"$lte": time.Now()}},
		},
	}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to find candidate jobs: %w", err)
	}
	var candidates []models.Job
	if err := cur.All(ctx, &candidates); err != nil {
		return nil, fmt.Errorf("failed to decode candidate jobs: %w", err)
	}

	now := time.Now()
	leased := make([]*models.Job, 0, len(candidates))
	for _, candidate := range candidates {
		result := s.col.FindOneAndUpdate(ctx,
			bson.M{"_id": candidate.ID, "status": models.JobStatusPending},
			bson.M{"$set": bson.M{
				"status":     models.JobStatusRunning,
				"locked_by":  workerID,
				"lock_until": now.Add(leaseDuration),
				"started_at": now,
			}, "$inc": bson.M{"attempts": 1}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		)
		var leasedJob models.Job
		if err := result.Decode(&leasedJob); err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				// Lost the race for this one to another worker between
				// Find and FindOneAndUpdate — skip it, not an error.
				continue
			}
			return leased, fmt.Errorf("failed to lease job %s: %w", candidate.ID, err)
		}
		leased = append(leased, &leasedJob)
	}
	return leased, nil
}

// RenewLease extends lock_until for a job this worker still holds.
func (s *JobQueueStore) RenewLease(ctx context.Context, jobID, workerID string, leaseDuration time.Duration) (bool, error) {
	result, err := s.col.UpdateOne(ctx,
		bson.M{"_id": jobID, "locked_by": workerID, "status": models.JobStatusRunning},
		bson.M{"$set": bson.M{"lock_until": time.Now().Add(leaseDuration)}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to renew lease for job %s: %w", jobID, err)
	}
	return result.MatchedCount > 0, nil
}

// Complete marks a leased job completed, provided workerID still holds it.
func (s *JobQueueStore) Complete(ctx context.Context, jobID, workerID string, durationMS int64) (bool, error) {
	result, err := s.col.UpdateOne(ctx,
		bson.M{"_id": jobID, "locked_by": workerID, "status": models.JobStatusRunning},
		bson.M{"$set": bson.M{
			"status":       models.JobStatusCompleted,
			"completed_at": time.Now(),
			"duration_ms":  durationMS,
		}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete job %s: %w", jobID, err)
	}
	return result.MatchedCount > 0, nil
}

// Fail records a failed attempt. Retriable failures with attempts
// remaining go back to pending with scheduled_for pushed out by
// models.RetryBackoff; otherwise the job is marked failed terminally.
func (s *JobQueueStore) Fail(ctx context.Context, jobID, workerID string, cause error, retriable bool, durationMS int64) (bool, error) {
	var job models.Job
	if err := s.col.FindOne(ctx, bson.M{"_id": jobID, "locked_by": workerID, "status": models.JobStatusRunning}).Decode(&job); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load job %s before recording failure: %w", jobID, err)
	}

	errStr := ""
	if cause != nil {
		errStr = cause.Error()
	}

	set := bson.M{
		"duration_ms": durationMS,
		"error":       errStr,
		"locked_by":   "",
		"lock_until":  time.Time{},
	}
	if retriable {
		set["status"] = models.JobStatusPending
		set["scheduled_for"] = time.Now().Add(models.RetryBackoff(job.Attempts))
	} else {
		set["status"] = models.JobStatusFailed
	}

	result, err := s.col.UpdateOne(ctx,
		bson.M{"_id": jobID, "locked_by": workerID, "status": models.JobStatusRunning},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, fmt.Errorf("failed to record failure for job %s: %w", jobID, err)
	}
	return result.MatchedCount > 0, nil
}

// Reap reclaims jobs whose lock_until has passed, returning them to
// pending so they can be re-leased.
func (s *JobQueueStore) Reap(ctx context.Context, now time.Time) (int, error) {
	result, err := s.col.UpdateMany(ctx,
		bson.M{"status": models.JobStatusRunning, "lock_until": bson.M{"$lt": now}},
		bson.M{"$set": bson.M{
			"status":     models.JobStatusPending,
			"locked_by":  "",
			"lock_until": time.Time{},
		}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reap expired leases: %w", err)
	}
	return int(result.ModifiedCount), nil
}

// HasActiveJob reports whether a pending or running job exists for the
// given (jobType, imageID) pair.
func (s *JobQueueStore) HasActiveJob(ctx context.Context, jobType, imageID string) (bool, error) {
	count, err := s.col.CountDocuments(ctx, bson.M{
		"job_type": jobType,
		"image_id": imageID,
		"status":   bson.M{"$in": bson.A{models.JobStatusPending, models.JobStatusRunning}},
	})
	if err != nil {
		return false, fmt.Errorf("failed to check active job for image %s: %w", imageID, err)
	}
	return count > 0, nil
}

// ListPending returns pending jobs of jobType, ordered the same way
// Lease would pick them.
func (s *JobQueueStore) ListPending(ctx context.Context, jobType string, limit int) ([]*models.Job, error) {
	findOpts := options.Find().SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "created_at", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	cur, err := s.col.Find(ctx, bson.M{"job_type": jobType, "status": models.JobStatusPending}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs for type %s: %w", jobType, err)
	}
	defer cur.Close(ctx)

	var out []*models.Job
	for cur.Next(ctx) {
		var job models.Job
		if err := cur.Decode(&job); err != nil {
			return nil, fmt.Errorf("failed to decode job: %w", err)
		}
		out = append(out, &job)
	}
	return out, cur.Err()
}

// CountByStatus tallies jobs by status across all job types.
func (s *JobQueueStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := s.col.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate job status counts: %w", err)
	}
	defer cur.Close(ctx)

	counts := make(map[string]int)
	for cur.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, fmt.Errorf("failed to decode status count: %w", err)
		}
		counts[row.ID] = row.Count
	}
	return counts, cur.Err()
}

var _ interfaces.JobQueueStore = (*JobQueueStore)(nil)
