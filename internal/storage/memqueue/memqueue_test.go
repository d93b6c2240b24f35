package memqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/pipelineerr"
)

func TestEnqueueAndLease(t *testing.T) {
	s := New()
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypePreprocess, ImageID: "img-1", Priority: 10}
	if err := s.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	leased, err := s.Lease(ctx, models.JobTypePreprocess, "worker-1", time.Minute, 10)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if len(leased) != 1 {
		t.Fatalf("Lease() returned %d jobs, want 1", len(leased))
	}
	if leased[0].Status != models.JobStatusRunning {
		t.Errorf("leased job status = %q, want %q", leased[0].Status, models.JobStatusRunning)
	}
	if leased[0].LockedBy != "worker-1" {
		t.Errorf("leased job LockedBy = %q, want worker-1", leased[0].LockedBy)
	}
}

func TestEnqueue_DuplicateActiveJobRejected(t *testing.T) {
	s := New()
	ctx := context.Background()

	first := &models.Job{JobType: models.JobTypeDecodePrimary, ImageID: "img-1"}
	if err := s.Enqueue(ctx, first); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}

	second := &models.Job{JobType: models.JobTypeDecodePrimary, ImageID: "img-1"}
	err := s.Enqueue(ctx, second)
	if !errors.Is(err, pipelineerr.ErrDuplicateJob) {
		t.Fatalf("second Enqueue() error = %v, want ErrDuplicateJob", err)
	}
}

func TestLease_PriorityOrdering(t *testing.T) {
	s := New()
	ctx := context.Background()

	low := &models.Job{JobType: models.JobTypeDecodeFallback, ImageID: "low", Priority: 1}
	high := &models.Job{JobType: models.JobTypeDecodeFallback, ImageID: "high", Priority: 9}
	s.Enqueue(ctx, low)
	s.Enqueue(ctx, high)

	leased, err := s.Lease(ctx, models.JobTypeDecodeFallback, "w", time.Minute, 1)
	if err != nil {
		t.Fatalf("Lease() error = %v", err)
	}
	if len(leased) != 1 || leased[0].ImageID != "high" {
		t.Fatalf("expected high-priority job leased first, got %+v", leased)
	}
}

func TestCompleteRequiresHeldLease(t *testing.T) {
	s := New()
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypePreprocess, ImageID: "img-1"}
	s.Enqueue(ctx, job)
	leased, _ := s.Lease(ctx, models.JobTypePreprocess, "worker-1", time.Minute, 1)

	ok, err := s.Complete(ctx, leased[0].ID, "worker-2", 100)
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if ok {
		t.Fatal("Complete() should fail when called by a non-owning worker")
	}

	ok, err = s.Complete(ctx, leased[0].ID, "worker-1", 100)
	if err != nil || !ok {
		t.Fatalf("Complete() by owning worker failed: ok=%v err=%v", ok, err)
	}
}

func TestFail_RetriableReturnsToPending(t *testing.T) {
	s := New()
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypeDecodeFallback, ImageID: "img-1", MaxAttempts: 3}
	s.Enqueue(ctx, job)
	leased, _ := s.Lease(ctx, models.JobTypeDecodeFallback, "worker-1", time.Minute, 1)

	ok, err := s.Fail(ctx, leased[0].ID, "worker-1", errors.New("boom"), true, 50)
	if err != nil || !ok {
		t.Fatalf("Fail() ok=%v err=%v", ok, err)
	}

	pending, err := s.ListPending(ctx, models.JobTypeDecodeFallback, 10)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending job after retriable failure, got %d", len(pending))
	}
}

func TestFail_NonRetriableTerminal(t *testing.T) {
	s := New()
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypeDecodeFallback, ImageID: "img-1", MaxAttempts: 1}
	s.Enqueue(ctx, job)
	leased, _ := s.Lease(ctx, models.JobTypeDecodeFallback, "worker-1", time.Minute, 1)

	ok, err := s.Fail(ctx, leased[0].ID, "worker-1", errors.New("boom"), false, 50)
	if err != nil || !ok {
		t.Fatalf("Fail() ok=%v err=%v", ok, err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[models.JobStatusFailed] != 1 {
		t.Fatalf("expected 1 failed job, got counts=%v", counts)
	}
}

func TestReap_ReclaimsExpiredLeases(t *testing.T) {
	s := New()
	ctx := context.Background()

	job := &models.Job{JobType: models.JobTypePreprocess, ImageID: "img-1"}
	s.Enqueue(ctx, job)
	s.Lease(ctx, models.JobTypePreprocess, "worker-1", -time.Second, 1) // already expired

	reaped, err := s.Reap(ctx, time.Now())
	if err != nil {
		t.Fatalf("Reap() error = %v", err)
	}
	if reaped != 1 {
		t.Fatalf("Reap() = %d, want 1", reaped)
	}

	pending, _ := s.ListPending(ctx, models.JobTypePreprocess, 10)
	if len(pending) != 1 {
		t.Fatalf("expected reaped job back in pending, got %d", len(pending))
	}
}

func TestHasActiveJob(t *testing.T) {
	s := New()
	ctx := context.Background()

	active, err := s.HasActiveJob(ctx, models.JobTypePreprocess, "img-1")
	if err != nil {
		t.Fatalf("HasActiveJob() error = %v", err)
	}
	if active {
		t.Fatal("HasActiveJob() = true before enqueue")
	}

	s.Enqueue(ctx, &models.Job{JobType: models.JobTypePreprocess, ImageID: "img-1"})

	active, err = s.HasActiveJob(ctx, models.JobTypePreprocess, "img-1")
	if err != nil {
		t.Fatalf("HasActiveJob() error = %v", err)
	}
	if !active {
		t.Fatal("HasActiveJob() = false after enqueue")
	}
}
