// Package interfaces defines the service contracts the pipeline coordinator
// depends on. Every collaborator — metadata store, blob store, decoder,
// LLM client — is expressed here and wired explicitly at each call site;
// nothing reaches for a process-wide singleton.
package interfaces

import (
	"context"
	"time"

	"github.com/productlens/barcodeflow/internal/models"
)

// ImageStore persists Image documents and performs the optimistic,
// status-gated updates the image status machine requires.
type ImageStore interface {
	Create(ctx context.Context, img *models.Image) error
	Get(ctx context.Context, imageID string) (*models.Image, error)
	ListByStatus(ctx context.Context, status models.ImageStatus, limit int) ([]*models.Image, error)
	ListByBatch(ctx context.Context, batchID string, limit int) ([]*models.Image, error)

	// UpdateStatus performs a compare-and-swap update: the write only
	// applies if the stored document's status still equals fromStatus.
	// apply mutates the in-memory copy of the document (setting result
	// fields, timestamps, counters) before the conditional write; the
	// updated document is returned on success. ok is false, err is nil
	// when the expected status didn't match (another worker already
	// moved the document) — that is not treated as an error.
	UpdateStatus(ctx context.Context, imageID string, fromStatus, toStatus models.ImageStatus, apply func(*models.Image)) (updated *models.Image, ok bool, err error)

	// CountByStatus returns the number of images in each status, for the
	// Stats Aggregator.
	CountByStatus(ctx context.Context, batchID string) (map[models.ImageStatus]int, error)
}

// DetectionStore persists Detection documents.
type DetectionStore interface {
	Create(ctx context.Context, d *models.Detection) error
	Get(ctx context.Context, detectionID string) (*models.Detection, error)
	ListByImage(ctx context.Context, imageID string) ([]*models.Detection, error)
	FindProduct(ctx context.Context, normalizedCode string) (productID string, found bool, err error)

	// Update loads the Detection by id, lets apply mutate an in-memory
	// copy (setting adjudication flags), and persists the result. Used
	// only by the Manual Resolve Handler, which is the sole mutator of an
	// already-created Detection.
	Update(ctx context.Context, detectionID string, apply func(*models.Detection)) error
}

// JobQueueStore manages the durable, leased job queue. Every method is
// safe to call concurrently from multiple dispatcher/worker processes.
type JobQueueStore interface {
	// Enqueue inserts a new pending job. Implementations must make this
	// idempotent with respect to (job_type, image_id): enqueuing the same
	// pair again while a pending/running job for it already exists is a
	// no-op, not a duplicate row — the dispatcher's seed loop relies on
	// this to be safely re-run every cycle.
	Enqueue(ctx context.Context, job *models.Job) error

	// Lease atomically claims up to `limit` pending (or due-for-retry)
	// jobs of jobType, setting them to running with lockedBy/lockUntil,
	// and returns the claimed jobs. Returns fewer than limit (including
	// zero) when nothing is available; never blocks waiting for work.
	Lease(ctx context.Context, jobType, workerID string, leaseDuration time.Duration, limit int) ([]*models.Job, error)

	// RenewLease extends lockUntil for a job this worker still holds.
	// Returns ok=false if the lease was lost (reaped by another process).
	RenewLease(ctx context.Context, jobID, workerID string, leaseDuration time.Duration) (ok bool, err error)

	// Complete marks a leased job as completed. Returns ok=false if the
	// calling worker no longer holds the lease.
	Complete(ctx context.Context, jobID, workerID string, durationMS int64) (ok bool, err error)

	// Fail marks a leased job as failed. If retriable and attempts remain,
	// the implementation re-queues it (status back to pending, scheduled_for
	// pushed out per models.RetryBackoff) instead of leaving it terminal.
	Fail(ctx context.Context, jobID, workerID string, cause error, retriable bool, durationMS int64) (ok bool, err error)

	// Reap finds jobs whose lock_until has passed and returns them to
	// pending (or fails them terminally if max_attempts is exhausted).
	// Returns the number of jobs reaped.
	Reap(ctx context.Context, now time.Time) (int, error)

	// HasActiveJob reports whether a pending or running job already exists
	// for (jobType, imageID) — used by the dispatcher's idempotent seed.
	HasActiveJob(ctx context.Context, jobType, imageID string) (bool, error)

	ListPending(ctx context.Context, jobType string, limit int) ([]*models.Job, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
}

// Blob storage is not redeclared here: internal/storage.BlobStore already
// defines the provider-agnostic contract (Get/Put/Delete/Exists/Metadata/
// List) that FileBlobStore and S3BlobStore both implement; Stage Handlers
// take that interface directly as a collaborator.
