// Package pipelineerr classifies errors a Stage Handler can return so the
// Worker runtime knows whether to retry, route an image to manual review,
// or record a terminal failure. Mirrors this codebase's storage package
// convention of exporting sentinel errors (ErrBlobNotFound, ErrBlobExists)
// and testing with errors.Is rather than string matching.
package pipelineerr

import "errors"

// Sentinel errors a Stage Handler wraps to signal its outcome to the
// Worker. A handler that returns a plain error (not wrapping one of
// these) is treated as Transient — retried under normal backoff.
var (
	// ErrTransient marks a failure that is expected to clear on its own
	// (network blip, Mongo timeout, blob store hiccup). The job is
	// retried with RetryBackoff; no image status transition occurs.
	ErrTransient = errors.New("transient pipeline error")

	// ErrNeedsFallback classifies as KindNeedsFallback, which is
	// retriable. The stage handlers do not return it: DecodePrimary
	// records needs_fallback with its own guarded transition back to
	// preprocessed and returns nil.
	ErrNeedsFallback = errors.New("primary decode produced no accepted result")

	// ErrNeedsManualReview classifies as KindNeedsManualReview, which is
	// not retriable. The stage handlers do not return it: they move an
	// image to manual_review with their own guarded transition.
	ErrNeedsManualReview = errors.New("automated decode exhausted, needs manual review")

	// ErrPermanent marks a failure that will not clear on retry (corrupt
	// image payload, unsupported format, decoder reports malformed
	// input). The job is failed immediately without consuming retry
	// budget, and the image transitions to failed.
	ErrPermanent = errors.New("permanent pipeline error")

	// ErrStaleLease marks a handler error raised after the worker lost the
	// job's lease. The Worker discards such a result without recording a
	// failure. JobQueueStore.Complete/Fail/RenewLease do not return it;
	// they report a lease that is no longer held as ok=false.
	ErrStaleLease = errors.New("job lease no longer held by this worker")

	// ErrDuplicateJob is returned by JobQueueStore.Enqueue when an active
	// job already exists for the (job_type, image_id) pair. Idempotent
	// callers treat this as success, not failure.
	ErrDuplicateJob = errors.New("active job already exists for this image and job type")
)

// Kind classifies an error into one of the seven outcomes the dispatcher
// and Worker runtime branch on.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindNeedsFallback
	KindNeedsManualReview
	KindPermanent
	KindStaleLease
	KindDuplicateJob
)

// Classify maps an error (possibly wrapped) to its Kind. A nil error has
// no meaningful Kind and callers should check for success before calling
// Classify.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrNeedsFallback):
		return KindNeedsFallback
	case errors.Is(err, ErrNeedsManualReview):
		return KindNeedsManualReview
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	case errors.Is(err, ErrStaleLease):
		return KindStaleLease
	case errors.Is(err, ErrDuplicateJob):
		return KindDuplicateJob
	case errors.Is(err, ErrTransient):
		return KindTransient
	default:
		// Unclassified errors from a handler are treated as transient:
		// retry rather than give up, since most handler errors are I/O
		// failures against Mongo, blob storage, or the decoder process.
		return KindTransient
	}
}

// Retriable reports whether a job that failed with this Kind should be
// re-queued (subject to max_attempts) rather than failed outright.
func (k Kind) Retriable() bool {
	switch k {
	case KindTransient, KindNeedsFallback:
		return true
	default:
		return false
	}
}
