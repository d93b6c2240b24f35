// Package dispatcher runs the reap-then-seed loop: reclaim jobs whose
// lease expired without a worker reporting back, then scan image status
// to enqueue the next stage's job for any image that needs one, driven
// by image status rather than a polled upstream feed.
package dispatcher

import (
	"context"
	"errors"
	"time"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
)

// Config tunes the dispatcher's loop cadence and per-pass bounds.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	StartupDelay  time.Duration
	LeaseDuration time.Duration // not used to lease jobs itself, only logged for visibility
}

// Dispatcher seeds and reaps the job queue. It holds no per-job-type
// logic — seeding decisions live in the per-status rules below, keeping
// the dispatcher safe to run redundantly (multiple instances, or a
// worker process that also runs a dispatcher) since Enqueue is
// idempotent per (job_type, image_id).
type Dispatcher struct {
	images interfaces.ImageStore
	queue  interfaces.JobQueueStore
	events interfaces.EventPublisher
	logger *common.Logger
	config Config

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Dispatcher.
func New(images interfaces.ImageStore, queue interfaces.JobQueueStore, events interfaces.EventPublisher, logger *common.Logger, config Config) *Dispatcher {
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	return &Dispatcher{
		images: images,
		queue:  queue,
		events: events,
		logger: logger,
		config: config,
		done:   make(chan struct{}),
	}
}

// Start launches the reap/seed loop as a goroutine.
func (d *Dispatcher) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.loop(ctx)
	d.logger.Info().
		Dur("poll_interval", d.config.PollInterval).
		Int("batch_size", d.config.BatchSize).
		Dur("lease_duration", d.config.LeaseDuration).
		Msg("dispatcher started")
}

// Stop cancels the loop and waits for it to exit.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	<-d.done
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer close(d.done)

	const backoffMax = 30 * time.Second

	if d.config.StartupDelay > 0 {
		d.logger.Info().Dur("delay", d.config.StartupDelay).Msg("dispatcher: startup delay before first pass")
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.config.StartupDelay):
		}
	}

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	backoff := time.Duration(0)
	pass := func() {
		if ok := d.runPass(ctx); ok {
			backoff = 0
			return
		}
		if backoff == 0 {
			backoff = 2 * time.Second
		} else {
			backoff *= 2
			if backoff > backoffMax {
				backoff = backoffMax
			}
		}
		d.logger.Warn().Dur("backoff", backoff).Msg("dispatcher: pass failed, backing off")
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}

	pass()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass()
		}
	}
}

// runPass executes one reap, then advances any images eligible for the
// fallback path, then one seed, returning false if any step hit a store
// error (used by loop for backoff).
func (d *Dispatcher) runPass(ctx context.Context) bool {
	reaped, err := d.queue.Reap(ctx, time.Now())
	if err != nil {
		d.logger.Warn().Err(err).Msg("dispatcher: reap failed")
		return false
	}
	if reaped > 0 {
		d.logger.Info().Int("reaped", reaped).Msg("dispatcher: reclaimed stale leases")
	}

	advanced, ok := d.advanceToFallback(ctx)
	if !ok {
		return false
	}
	if advanced > 0 {
		d.logger.Info().Int("advanced", advanced).Msg("dispatcher: advanced images to decoding_fallback")
	}

	seeded, ok := d.seed(ctx)
	if !ok {
		return false
	}
	if seeded > 0 {
		d.logger.Info().Int("seeded", seeded).Msg("dispatcher: seeded jobs")
	}
	return true
}

// advanceToFallback performs the guarded status edges that the job-type
// seed loop can't: preprocessed->decoding_fallback (gated on needs_fallback,
// set by the decode_primary handler) and failed->decoding_fallback (gated
// on fallback_attempts, a bounded retry of the fallback path itself).
// Neither edge has a job type of its own — decode_fallback jobs are only
// seeded once an image has actually reached decoding_fallback.
func (d *Dispatcher) advanceToFallback(ctx context.Context) (int, bool) {
	total := 0

	preprocessed, err := d.images.ListByStatus(ctx, models.StatusPreprocessed, d.config.BatchSize)
	if err != nil {
		d.logger.Warn().Err(err).Msg("dispatcher: failed to list preprocessed images")
		return total, false
	}
	for _, img := range preprocessed {
		img.SyncGuardFields()
		if !img.NeedsFallback {
			continue
		}
		if _, ok, err := d.images.UpdateStatus(ctx, img.ImageID, models.StatusPreprocessed, models.StatusDecodingFallback, nil); err != nil {
			d.logger.Warn().Err(err).Str("image_id", img.ImageID).Msg("dispatcher: failed to advance to decoding_fallback")
			continue
		} else if ok {
			total++
		}
	}

	failed, err := d.images.ListByStatus(ctx, models.StatusFailed, d.config.BatchSize)
	if err != nil {
		d.logger.Warn().Err(err).Msg("dispatcher: failed to list failed images")
		return total, false
	}
	for _, img := range failed {
		if !models.CanTransition(img, models.StatusDecodingFallback) {
			continue
		}
		if _, ok, err := d.images.UpdateStatus(ctx, img.ImageID, models.StatusFailed, models.StatusDecodingFallback, nil); err != nil {
			d.logger.Warn().Err(err).Str("image_id", img.ImageID).Msg("dispatcher: failed to retry failed image into decoding_fallback")
			continue
		} else if ok {
			total++
		}
	}

	return total, true
}

// statusToJobType names, for each image status that implies waiting
// work, the job type that should exist for that image. An image in
// manual_review or a terminal status has no corresponding job type and
// is skipped.
var statusToJobType = map[models.ImageStatus]string{
	models.StatusPending:          models.JobTypePreprocess,
	models.StatusPreprocessed:     models.JobTypeDecodePrimary,
	models.StatusDecodingFallback: models.JobTypeDecodeFallback,
}

// seed scans each status in statusToJobType and enqueues a job for any
// image missing one, bounded by BatchSize per status per pass.
func (d *Dispatcher) seed(ctx context.Context) (int, bool) {
	total := 0
	for status, jobType := range statusToJobType {
		imgs, err := d.images.ListByStatus(ctx, status, d.config.BatchSize)
		if err != nil {
			d.logger.Warn().Err(err).Str("status", string(status)).Msg("dispatcher: failed to list images by status")
			return total, false
		}

		for _, img := range imgs {
			active, err := d.queue.HasActiveJob(ctx, jobType, img.ImageID)
			if err != nil {
				d.logger.Warn().Err(err).Str("image_id", img.ImageID).Msg("dispatcher: failed to check active job")
				continue
			}
			if active {
				continue
			}

			job := &models.Job{
				JobType:     jobType,
				ImageID:     img.ImageID,
				Priority:    models.DefaultPriority(jobType),
				Status:      models.JobStatusPending,
				CreatedAt:   time.Now(),
				MaxAttempts: models.MaxRetriesForJobType(jobType),
			}
			if err := d.queue.Enqueue(ctx, job); err != nil {
				if errors.Is(err, pipelineerr.ErrDuplicateJob) {
					// Lost a race with another dispatcher/worker between the
					// HasActiveJob check and this call — not an error.
					continue
				}
				d.logger.Warn().Err(err).Str("image_id", img.ImageID).Str("job_type", jobType).Msg("dispatcher: failed to enqueue job")
				continue
			}
			total++
			if d.events != nil {
				d.events.Publish(models.JobEvent{Type: models.EventJobQueued, Job: job, Timestamp: time.Now()})
			}
		}
	}
	return total, true
}
