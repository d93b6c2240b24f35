package interfaces

import (
	"context"

	"github.com/productlens/barcodeflow/internal/models"
)

// StageHandler executes one stage of the pipeline against a single Image,
// identified by the job that triggered it. A Worker holds exactly one
// StageHandler: each Worker process is parameterized by a single job_type.
type StageHandler interface {
	// JobType is the job type this handler processes.
	JobType() string

	// Handle runs the stage for the image named by job.ImageID. Handle is
	// responsible for its own status-machine transition via ImageStore's
	// CAS update — returning nil does not imply the worker will retry the
	// underlying status transition; a handler that cannot make progress
	// because another worker already moved the image should return nil
	// without error, not treat the lost race as a failure.
	Handle(ctx context.Context, job *models.Job) error
}

// EventPublisher broadcasts pipeline state changes to WebSocket
// subscribers (the dev/monitoring surface). Handlers and the dispatcher
// take this as a collaborator rather than a package-level singleton.
type EventPublisher interface {
	Publish(event models.JobEvent)
}
