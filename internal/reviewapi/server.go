// Package reviewapi implements the manual-review HTTP surface: a human
// reviewer lists images stuck in manual_review, views the normalized
// image and the candidate Detections already recorded against it, and
// resolves the image by choosing one Detection, declaring no barcode is
// present, or skipping it for now — driving the same guarded
// ImageStore.UpdateStatus transitions a Stage Handler would use, just
// triggered by a person instead of a worker.
package reviewapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/productlens/barcodeflow/internal/common"
	"github.com/productlens/barcodeflow/internal/interfaces"
	"github.com/productlens/barcodeflow/internal/models"
	"github.com/productlens/barcodeflow/internal/stats"
	"github.com/productlens/barcodeflow/internal/storage"
)

// Server holds the collaborators the review handlers need.
type Server struct {
	Images     interfaces.ImageStore
	Detections interfaces.DetectionStore
	Blobs      storage.BlobStore
	Events     interfaces.EventPublisher
	Logger     *common.Logger

	// Auth, when set, resolves the reviewer identity from the request's
	// bearer token instead of trusting a client-supplied reviewer field.
	Auth *ReviewerAuth
}

// Routes registers the review API's handlers on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/review/queue", s.handleQueue)
	mux.HandleFunc("GET /api/review/{imageID}/image", s.handleImage)
	mux.HandleFunc("GET /api/review/{imageID}/detections", s.handleDetections)
	mux.HandleFunc("POST /api/review/{imageID}/resolve", s.withAuth(s.handleResolve))
	mux.HandleFunc("GET /api/stats", s.handleStats)
}

// handleStats reports per-status image counts, optionally scoped to one
// batch via ?batch_id=.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	agg := stats.Aggregator{Images: s.Images}
	snap, err := agg.Snapshot(r.Context(), r.URL.Query().Get("batch_id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleQueue lists images currently awaiting manual review.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	imgs, err := s.Images.ListByStatus(r.Context(), models.StatusManualReview, 100)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, imgs)
}

// handleImage streams the normalized blob so a reviewer can look at what
// the decoders saw.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	imageID := r.PathValue("imageID")
	img, err := s.Images.Get(r.Context(), imageID)
	if err != nil {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	if img.Preprocessing.NormalizedPath == "" {
		http.Error(w, "image has no preprocessed blob", http.StatusNotFound)
		return
	}
	rc, err := s.Blobs.GetReader(r.Context(), img.Preprocessing.NormalizedPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	if _, err := io.Copy(w, rc); err != nil {
		s.Logger.Warn().Err(err).Str("image_id", imageID).Msg("review image: failed to stream blob")
	}
}

// handleDetections lists every Detection recorded against an image, so a
// reviewer can see every candidate code a decoder or the LLM fallback
// surfaced before choosing one.
func (s *Server) handleDetections(w http.ResponseWriter, r *http.Request) {
	imageID := r.PathValue("imageID")
	detections, err := s.Detections.ListByImage(r.Context(), imageID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detections)
}

// resolveAction is the action a reviewer takes on one image, per the
// manual-resolve contract: choose an existing Detection, declare no
// barcode is present, or leave the image queued for later.
type resolveAction string

const (
	actionChoose    resolveAction = "choose"
	actionNoBarcode resolveAction = "no_barcode"
	actionSkip      resolveAction = "skip"
)

type resolveRequest struct {
	Action      resolveAction `json:"action"`
	DetectionID string        `json:"detection_id,omitempty"`
	Reviewer    string        `json:"reviewer,omitempty"`
}

// handleResolve is the synchronous entry point a human reviewer drives to
// clear an image out of manual_review: choosing one of the Detections
// already recorded for it, declaring the image has no readable barcode,
// or skipping it for now without mutating anything.
func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	imageID := r.PathValue("imageID")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reviewer := req.Reviewer
	if sub, ok := reviewerFromContext(r.Context()); ok {
		reviewer = sub
	}

	img, err := s.Images.Get(r.Context(), imageID)
	if err != nil {
		http.Error(w, "image not found", http.StatusNotFound)
		return
	}
	if img.Status != models.StatusManualReview {
		http.Error(w, "image is not awaiting manual review", http.StatusConflict)
		return
	}

	switch req.Action {
	case actionChoose:
		s.resolveChoose(w, r, img, req.DetectionID, reviewer)
	case actionNoBarcode:
		s.resolveNoBarcode(w, r, img)
	case actionSkip:
		writeJSON(w, http.StatusOK, img)
	default:
		http.Error(w, "illegal action", http.StatusBadRequest)
	}
}

// resolveChoose implements the choose action: the reviewer's picked
// Detection is marked chosen, every sibling Detection for this image is
// marked rejected, and the image commits to decoded_manual.
func (s *Server) resolveChoose(w http.ResponseWriter, r *http.Request, img *models.Image, detectionID, reviewer string) {
	if detectionID == "" {
		http.Error(w, "detection_id is required for action=choose", http.StatusBadRequest)
		return
	}

	detections, err := s.Detections.ListByImage(r.Context(), img.ImageID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var chosen *models.Detection
	for _, d := range detections {
		if d.DetectionID == detectionID {
			chosen = d
			break
		}
	}
	if chosen == nil {
		http.Error(w, "detection_id does not match a detection for this image", http.StatusBadRequest)
		return
	}

	now := time.Now()
	for _, d := range detections {
		if d.DetectionID == detectionID {
			if err := s.Detections.Update(r.Context(), d.DetectionID, func(det *models.Detection) {
				det.Chosen = true
				det.Rejected = false
				det.ReviewedAt = now
				det.ReviewedBy = reviewer
			}); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			continue
		}
		if err := s.Detections.Update(r.Context(), d.DetectionID, func(det *models.Detection) {
			det.Rejected = true
		}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	finalPath := storage.ArchiveKey(img.BatchID, img.ImageID)
	updated, ok, err := s.Images.UpdateStatus(r.Context(), img.ImageID, models.StatusManualReview, models.StatusDecodedManual, func(i *models.Image) {
		i.FinalBlobPath = finalPath
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "image left manual review before this resolution committed", http.StatusConflict)
		return
	}

	s.publish(models.EventJobCompleted, img.ImageID)
	writeJSON(w, http.StatusOK, updated)
}

// resolveNoBarcode implements the no_barcode action: every Detection for
// this image is rejected and the image transitions to failed.
func (s *Server) resolveNoBarcode(w http.ResponseWriter, r *http.Request, img *models.Image) {
	detections, err := s.Detections.ListByImage(r.Context(), img.ImageID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, d := range detections {
		if err := s.Detections.Update(r.Context(), d.DetectionID, func(det *models.Detection) {
			det.Rejected = true
		}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	updated, ok, err := s.Images.UpdateStatus(r.Context(), img.ImageID, models.StatusManualReview, models.StatusFailed, func(i *models.Image) {
		i.Processing.Errors = append(i.Processing.Errors, models.ProcessingError{
			Stage:     "manual_review",
			Message:   "reviewer found no readable barcode",
			Timestamp: time.Now(),
		})
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "image left manual review before this resolution committed", http.StatusConflict)
		return
	}

	s.publish(models.EventJobFailed, img.ImageID)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) publish(eventType, imageID string) {
	if s.Events == nil {
		return
	}
	s.Events.Publish(models.JobEvent{
		Type:      eventType,
		Job:       &models.Job{ImageID: imageID},
		Timestamp: time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
