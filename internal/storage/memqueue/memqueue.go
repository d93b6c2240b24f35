// Package memqueue provides an in-process JobQueueStore backed by a mutex
// and a map, used by the worker and dispatcher unit tests in place of a
// Mongo dependency. Uses a
// surrealdb jobqueue CAS pattern (status-gated conditional update)
// translated to plain Go struct mutation under a mutex instead of a
// database WHERE clause.
package memqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
)

// Store is an in-memory JobQueueStore. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

// New creates an empty in-memory job queue.
func New() *Store {
	return &Store{jobs: make(map[string]*models.Job)}
}

// Enqueue inserts job, assigning an ID if empty. Idempotent: if an
// active (pending or running) job already exists for (JobType, ImageID)
// it returns pipelineerr.ErrDuplicateJob rather than inserting a second.
func (s *Store) Enqueue(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.JobType == job.JobType && existing.ImageID == job.ImageID &&
			(existing.Status == models.JobStatusPending || existing.Status == models.JobStatusRunning) {
			return pipelineerr.ErrDuplicateJob
		}
	}

	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	cp := *job
	s.jobs[cp.ID] = &cp
	return nil
}

// Lease claims up to limit pending jobs of jobType whose ScheduledFor is
// unset or already past, ordered by priority descending then CreatedAt
// ascending (oldest first within a priority tier), setting their lock
// owner/expiry and status to running.
func (s *Store) Lease(ctx context.Context, jobType, workerID string, leaseDuration time.Duration, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var candidates []*models.Job
	for _, j := range s.jobs {
		if j.JobType == jobType && j.Status == models.JobStatusPending && !j.ScheduledFor.After(now) {
			candidates = append(candidates, j)
		}
	}
	sortByPriorityThenAge(candidates)

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	leased := make([]*models.Job, 0, len(candidates))
	for _, j := range candidates {
		j.Status = models.JobStatusRunning
		j.LockedBy = workerID
		j.LockUntil = now.Add(leaseDuration)
		j.StartedAt = now
		j.Attempts++
		cp := *j
		leased = append(leased, &cp)
	}
	return leased, nil
}

// RenewLease extends a held lease. Fails (ok=false) if the job is gone
// or no longer held by workerID.
func (s *Store) RenewLease(ctx context.Context, jobID, workerID string, leaseDuration time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.LockedBy != workerID || j.Status != models.JobStatusRunning {
		return false, nil
	}
	j.LockUntil = time.Now().Add(leaseDuration)
	return true, nil
}

// Complete marks a job completed if workerID still holds its lease.
func (s *Store) Complete(ctx context.Context, jobID, workerID string, durationMS int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.LockedBy != workerID || j.Status != models.JobStatusRunning {
		return false, nil
	}
	j.Status = models.JobStatusCompleted
	j.CompletedAt = time.Now()
	j.DurationMS = durationMS
	return true, nil
}

// Fail records a failed attempt. If retriable, the job returns to
// pending (eligible for re-lease after RetryBackoff); otherwise it's
// marked failed terminally.
func (s *Store) Fail(ctx context.Context, jobID, workerID string, cause error, retriable bool, durationMS int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok || j.LockedBy != workerID || j.Status != models.JobStatusRunning {
		return false, nil
	}
	j.DurationMS = durationMS
	if cause != nil {
		j.Error = cause.Error()
	}
	j.LockedBy = ""
	j.LockUntil = time.Time{}
	if retriable {
		j.Status = models.JobStatusPending
		j.ScheduledFor = time.Now().Add(models.RetryBackoff(j.Attempts))
	} else {
		j.Status = models.JobStatusFailed
	}
	return true, nil
}

// Reap reclaims jobs whose lock_until has passed, returning them to
// pending so they can be re-leased.
func (s *Store) Reap(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, j := range s.jobs {
		if j.Status == models.JobStatusRunning && now.After(j.LockUntil) {
			j.Status = models.JobStatusPending
			j.LockedBy = ""
			j.LockUntil = time.Time{}
			count++
		}
	}
	return count, nil
}

// HasActiveJob reports whether a pending or running job exists for the
// given type and image.
func (s *Store) HasActiveJob(ctx context.Context, jobType, imageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.jobs {
		if j.JobType == jobType && j.ImageID == imageID &&
			(j.Status == models.JobStatusPending || j.Status == models.JobStatusRunning) {
			return true, nil
		}
	}
	return false, nil
}

// ListPending returns pending jobs of the given type, ordered the same
// way Lease would pick them.
func (s *Store) ListPending(ctx context.Context, jobType string, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Job
	for _, j := range s.jobs {
		if j.JobType == jobType && j.Status == models.JobStatusPending {
			cp := *j
			out = append(out, &cp)
		}
	}
	sortByPriorityThenAge(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountByStatus tallies jobs by status across all job types.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, j := range s.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func sortByPriorityThenAge(jobs []*models.Job) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0; j-- {
			a, b := jobs[j-1], jobs[j]
			if less(b, a) {
				jobs[j-1], jobs[j] = jobs[j], jobs[j-1]
			} else {
				break
			}
		}
	}
}

// less reports whether a should be leased before b: higher priority
// first, then older CreatedAt first.
func less(a, b *models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.CreatedAt.Before(b.CreatedAt)
}
