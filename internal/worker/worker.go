// Package worker runs the poll -> lease -> execute -> commit loop that
// drives a single job type's Stage Handler.
// jobmanager processLoop/safeGo pattern: panic-recovered goroutines,
// graceful Stop via context cancellation plus a WaitGroup drain, and a
// semaphore bounding concurrent heavy (LLM-backed) work.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
)

// Config bounds a single Worker's poll/lease/concurrency behavior.
type Config struct {
	PollInterval  time.Duration
	LeaseDuration time.Duration
	BatchSize     int
	// Concurrency caps how many jobs this worker executes at once.
	// Stage handlers for decode_fallback (LLM-backed) should run under
	// a Worker configured with a low Concurrency regardless of
	// BatchSize, to avoid flooding the Gemini client.
	Concurrency int
}

// Worker leases and executes jobs of a single type, reporting outcomes
// back to the queue and broadcasting JobEvents.
type Worker struct {
	id      string
	handler interfaces.StageHandler
	queue   interfaces.JobQueueStore
	events  interfaces.EventPublisher
	logger  *common.Logger
	config  Config

	sem    chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Worker for the given Stage Handler. id should be unique
// per process (used as the lease owner); callers typically derive it
// from hostname+pid+jobtype.
func New(id string, handler interfaces.StageHandler, queue interfaces.JobQueueStore, events interfaces.EventPublisher, logger *common.Logger, config Config) *Worker {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	return &Worker{
		id:      id,
		handler: handler,
		queue:   queue,
		events:  events,
		logger:  logger,
		config:  config,
		sem:     make(chan struct{}, config.Concurrency),
	}
}

// safeGo launches a goroutine with panic recovery, mirroring the
// panic-recovery convention elsewhere in this codebase.
func (w *Worker) safeGo(name string, fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the poll loop. Safe to call once per Worker instance;
// call Stop before discarding.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.safeGo("poll-"+w.handler.JobType(), func() { w.pollLoop(ctx) })
	w.logger.Info().
		Str("job_type", w.handler.JobType()).
		Str("worker_id", w.id).
		Dur("poll_interval", w.config.PollInterval).
		Int("concurrency", w.config.Concurrency).
		Msg("worker started")
}

// Stop cancels the poll loop and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info().Str("job_type", w.handler.JobType()).Str("worker_id", w.id).Msg("worker stopped")
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.pollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

// pollOnce leases up to BatchSize jobs and executes each concurrently,
// bounded by the worker's semaphore.
func (w *Worker) pollOnce(ctx context.Context) {
	jobs, err := w.queue.Lease(ctx, w.handler.JobType(), w.id, w.config.LeaseDuration, w.config.BatchSize)
	if err != nil {
		w.logger.Warn().Err(err).Str("job_type", w.handler.JobType()).Msg("lease failed")
		return
	}

	for _, job := range jobs {
		job := job
		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		w.safeGo("exec-"+job.ID, func() {
			defer func() { <-w.sem }()
			w.execute(ctx, job)
		})
	}
}

// execute runs the Stage Handler against a leased job, periodically
// renewing its lease for long-running handlers, and reports the
// terminal outcome back to the queue.
func (w *Worker) execute(ctx context.Context, job *models.Job) {
	execCtx, cancel := context.WithDeadline(ctx, job.LockUntil)
	defer cancel()

	renewDone := make(chan struct{})
	w.safeGo("renew-"+job.ID, func() { w.renewUntilDone(execCtx, job, renewDone) })

	start := time.Now()
	handlerErr := w.handler.Handle(execCtx, job)
	durationMS := time.Since(start).Milliseconds()
	close(renewDone)

	kind := pipelineerr.Classify(handlerErr)
	if kind == pipelineerr.KindStaleLease {
		w.logger.Debug().Str("job_id", job.ID).Msg("lease lost during execution, discarding result")
		return
	}

	if handlerErr == nil {
		ok, err := w.queue.Complete(ctx, job.ID, w.id, durationMS)
		if err != nil {
			w.logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to mark job complete")
			return
		}
		if !ok {
			w.logger.Debug().Str("job_id", job.ID).Msg("complete raced with a reap, job already reassigned")
			return
		}
		w.publish(models.EventJobCompleted, job, durationMS)
		return
	}

	retriable := kind.Retriable() && job.Attempts < job.MaxAttempts
	ok, err := w.queue.Fail(ctx, job.ID, w.id, handlerErr, retriable, durationMS)
	if err != nil {
		w.logger.Warn().Str("job_id", job.ID).Err(err).Msg("failed to record job failure")
		return
	}
	if !ok {
		return
	}

	w.logger.Warn().
		Str("job_id", job.ID).
		Str("job_type", job.JobType).
		Str("image_id", job.ImageID).
		Int("attempt", job.Attempts).
		Bool("retriable", retriable).
		Err(handlerErr).
		Msg("stage handler returned an error")
	w.publish(models.EventJobFailed, job, durationMS)
}

// renewUntilDone periodically extends the job's lease while the handler
// runs, so a slow Gemini call doesn't lose its lease to the dispatcher's
// reap pass mid-execution.
func (w *Worker) renewUntilDone(ctx context.Context, job *models.Job, done <-chan struct{}) {
	interval := w.config.LeaseDuration / 2
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := w.queue.RenewLease(ctx, job.ID, w.id, w.config.LeaseDuration)
			if err != nil || !ok {
				return
			}
		}
	}
}

func (w *Worker) publish(eventType string, job *models.Job, durationMS int64) {
	if w.events == nil {
		return
	}
	job.DurationMS = durationMS
	w.events.Publish(models.JobEvent{
		Type:      eventType,
		Job:       job,
		Timestamp: time.Now(),
	})
}

// NewWorkerID derives a lease-owner identity unique to this process and
// job type, combining a short prefix with a uuid so concurrent Worker
// processes for the same job type never collide on lease ownership.
func NewWorkerID(jobType string) string {
	return fmt.Sprintf("worker-%s-%s", jobType, uuid.NewString()[:8])
}
