package models

import (
	"fmt"
	"time"

	"github.com/productlens/barcodeflow/internal/common"
)

// Job is a unit of work dispatched to a Worker. Jobs are leased rather
// than deleted-on-start: a Job remains visible (and reapable) in its
// locked state until a Worker reports completion or failure.
type Job struct {
	ID           string    `json:"id" bson:"_id"`
	JobType      string    `json:"job_type" bson:"job_type"`
	ImageID      string    `json:"image_id" bson:"image_id"`
	Priority     int       `json:"priority" bson:"priority"`
	Status       string    `json:"status" bson:"status"`
	ScheduledFor time.Time `json:"scheduled_for" bson:"scheduled_for"`
	LockedBy     string    `json:"locked_by,omitempty" bson:"locked_by,omitempty"`
	LockUntil    time.Time `json:"lock_until,omitempty" bson:"lock_until,omitempty"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	StartedAt    time.Time `json:"started_at,omitempty" bson:"started_at,omitempty"`
	CompletedAt  time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`
	Error        string    `json:"error,omitempty" bson:"error,omitempty"`
	Attempts     int       `json:"attempts" bson:"attempts"`
	MaxAttempts  int       `json:"max_attempts" bson:"max_attempts"`
	DurationMS   int64     `json:"duration_ms" bson:"duration_ms"`
}

// Job type constants — one per Stage Handler.
const (
	JobTypePreprocess     = "preprocess"
	JobTypeDecodePrimary  = "decode_primary"
	JobTypeDecodeFallback = "decode_fallback"
	// JobTypeCleanup is reserved for blob/record garbage collection, a job
	// type with no handler. The dispatcher never enqueues it, and
	// ValidJobType rejects it, so cmd/worker refuses to start for it.
	JobTypeCleanup = "cleanup"
)

// Job status constants.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// DefaultPriority returns the default enqueue priority for a job type.
// Fallback decode is prioritized below primary so a backlog of fresh
// primary-decode jobs doesn't starve behind slower LLM calls.
func DefaultPriority(jobType string) int {
	switch jobType {
	case JobTypePreprocess:
		return 10
	case JobTypeDecodePrimary:
		return 8
	case JobTypeDecodeFallback:
		return 5
	default:
		return 0
	}
}

// MaxRetriesForJobType returns the default max_retries an enqueued job of
// this type carries; the dispatcher stores it as Job.MaxAttempts. Lease
// counts each attempt and the Worker requeues a failure only while
// attempts < this value, so it bounds the total number of attempts:
// preprocess 3, decode_primary 1 (no retry; the decoder is
// deterministic), and decode_fallback 3.
func MaxRetriesForJobType(jobType string) int {
	switch jobType {
	case JobTypePreprocess:
		return 3
	case JobTypeDecodePrimary:
		return 1
	case JobTypeDecodeFallback:
		return 3
	default:
		return 2
	}
}

// RetryBackoff computes how long to delay the next attempt of a job that
// has failed `attempts` times: RetryBackoffBase doubled once per attempt,
// capped at RetryBackoffCap, with no jitter. The JobQueueStore Fail
// implementations use it to set scheduled_for on a requeued job.
func RetryBackoff(attempts int) time.Duration {
	d := common.RetryBackoffBase
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= common.RetryBackoffCap {
			return common.RetryBackoffCap
		}
	}
	return d
}

// JobEvent is broadcast to pipeline event subscribers when job state changes.
type JobEvent struct {
	Type      string    `json:"type" bson:"type"`
	Job       *Job      `json:"job" bson:"job"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	QueueSize int       `json:"queue_size" bson:"queue_size"`
}

// JobEventType values for JobEvent.Type.
const (
	EventJobQueued    = "job_queued"
	EventJobStarted   = "job_started"
	EventJobCompleted = "job_completed"
	EventJobFailed    = "job_failed"
)

// ValidJobType reports whether jobType names a handler this coordinator
// actually registers. cmd/worker uses it to reject an unknown --job-type
// (including cleanup) at startup.
func ValidJobType(jobType string) bool {
	switch jobType {
	case JobTypePreprocess, JobTypeDecodePrimary, JobTypeDecodeFallback:
		return true
	default:
		return false
	}
}

// ErrUnhandledJobType builds the error for a job type with no registered
// Stage Handler (currently only JobTypeCleanup). Nothing in this module
// calls it at present.
func ErrUnhandledJobType(jobType string) error {
	return fmt.Errorf("job type %q has no registered stage handler", jobType)
}
