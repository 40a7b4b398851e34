package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"scriba/internal/media"
	"scriba/internal/models"
	"scriba/internal/session"
	"scriba/internal/storage"
)

// Submitter wakes the worker after a job is created.
type Submitter interface {
	Submit(jobID string)
}

// VideoResolver looks up YouTube metadata without downloading.
type VideoResolver interface {
	Resolve(ctx context.Context, videoURL string) (*media.VideoInfo, error)
}

// RecordingHandler accepts new recordings for processing.
type RecordingHandler struct {
	repo     *storage.JobRepository
	worker   Submitter
	sessions *session.Manager
	resolver VideoResolver
	log      *logrus.Entry
}

// NewRecordingHandler creates a new RecordingHandler.
func NewRecordingHandler(repo *storage.JobRepository, worker Submitter, sessions *session.Manager, resolver VideoResolver, log *logrus.Entry) *RecordingHandler {
	return &RecordingHandler{
		repo:     repo,
		worker:   worker,
		sessions: sessions,
		resolver: resolver,
		log:      log,
	}
}

type recordingRequest struct {
	Platform  string `json:"platform"`
	Sender    string `json:"sender"`
	MessageID string `json:"message_id"`
	MediaRef  string `json:"media_ref"`
	Confirm   bool   `json:"confirm"`
}

// Create registers a recording and queues it for processing. Processing is
// fire-and-forget; the caller polls the job endpoints or waits for messages
// on the owner's platform. A message_id seen before returns the existing job
// instead of creating a duplicate.
//
// A YouTube URL is not queued on first sight: the handler resolves the video,
// parks the sender in a waiting state, and answers with the metadata. The
// sender confirms by repeating the request with confirm set.
func (h *RecordingHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req recordingRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	if req.Platform == "" || req.Sender == "" || req.MessageID == "" || req.MediaRef == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "platform, sender, message_id and media_ref are required",
		})
	}

	existing, err := h.repo.GetBySourceMessageID(ctx, req.MessageID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if existing != nil {
		return c.JSON(http.StatusOK, map[string]string{
			"job_id": existing.ID,
			"status": string(existing.Status),
		})
	}

	if media.IsYouTubeRef(req.MediaRef) && !h.confirmed(req) {
		return h.askConfirmation(c, req)
	}
	h.sessions.Clear(req.Sender)

	job := &models.Job{
		Owner:           req.Sender,
		Platform:        req.Platform,
		SourceMessageID: req.MessageID,
		AudioRef:        req.MediaRef,
	}
	if err := h.repo.Create(ctx, job); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	h.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"platform": job.Platform,
	}).Info("Recording accepted")

	if h.worker != nil {
		h.worker.Submit(job.ID)
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"status": string(job.Status),
	})
}

// confirmed reports whether the sender already saw this video's metadata and
// said yes.
func (h *RecordingHandler) confirmed(req recordingRequest) bool {
	if !req.Confirm {
		return false
	}
	waiting, ok := h.sessions.Get(req.Sender).(session.WaitingYouTubeConfirmation)
	return ok && waiting.VideoRef == req.MediaRef
}

func (h *RecordingHandler) askConfirmation(c echo.Context, req recordingRequest) error {
	ctx := c.Request().Context()

	info, err := h.resolver.Resolve(ctx, req.MediaRef)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to resolve video: " + err.Error()})
	}

	h.sessions.Set(req.Sender, session.WaitingYouTubeConfirmation{
		VideoRef: req.MediaRef,
		Title:    info.Title,
		Duration: info.Duration,
	})

	return c.JSON(http.StatusOK, map[string]any{
		"status":           "confirmation_required",
		"title":            info.Title,
		"author":           info.Author,
		"duration_seconds": int(info.Duration.Seconds()),
	})
}
