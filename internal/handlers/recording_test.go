package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriba/internal/logger"
	"scriba/internal/media"
	"scriba/internal/models"
	"scriba/internal/session"
	"scriba/internal/storage"
)

type fakeSubmitter struct {
	ids []string
}

func (f *fakeSubmitter) Submit(jobID string) {
	f.ids = append(f.ids, jobID)
}

type fakeResolver struct {
	info *media.VideoInfo
	err  error
}

func (f *fakeResolver) Resolve(ctx context.Context, videoURL string) (*media.VideoInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func newRecordingFixture(t *testing.T) (*RecordingHandler, *storage.JobRepository, *fakeSubmitter, *fakeResolver) {
	t.Helper()
	db, err := storage.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := storage.NewJobRepository(db)
	submitter := &fakeSubmitter{}
	resolver := &fakeResolver{info: &media.VideoInfo{
		ID:       "abc123",
		Title:    "A long talk",
		Author:   "someone",
		Duration: 47 * time.Minute,
	}}
	h := NewRecordingHandler(repo, submitter, session.NewManager(30*time.Minute), resolver, logger.New())
	return h, repo, submitter, resolver
}

func postRecording(t *testing.T, h *RecordingHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/recordings", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.Create(e.NewContext(req, rec)))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCreate_QueuesJob(t *testing.T) {
	h, repo, submitter, _ := newRecordingFixture(t)

	rec := postRecording(t, h,
		`{"platform":"whatsapp","sender":"owner-1","message_id":"msg-1","media_ref":"media-9"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "pending", body["status"])

	jobID, _ := body["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.Equal(t, []string{jobID}, submitter.ids)

	job, err := repo.GetByID(context.Background(), jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "owner-1", job.Owner)
	assert.Equal(t, models.JobStatusPending, job.Status)
}

func TestCreate_MissingFields(t *testing.T) {
	h, _, submitter, _ := newRecordingFixture(t)

	rec := postRecording(t, h, `{"platform":"whatsapp","sender":"owner-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, submitter.ids)
}

func TestCreate_DuplicateMessageReturnsExistingJob(t *testing.T) {
	h, _, submitter, _ := newRecordingFixture(t)

	body := `{"platform":"whatsapp","sender":"owner-1","message_id":"msg-dup","media_ref":"media-9"}`
	first := postRecording(t, h, body)
	require.Equal(t, http.StatusAccepted, first.Code)
	firstID := decodeBody(t, first)["job_id"]

	second := postRecording(t, h, body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, firstID, decodeBody(t, second)["job_id"])

	// only the first delivery reached the worker
	assert.Len(t, submitter.ids, 1)
}

func TestCreate_YouTubeRequiresConfirmation(t *testing.T) {
	h, _, submitter, _ := newRecordingFixture(t)

	url := "https://www.youtube.com/watch?v=abc123"
	rec := postRecording(t, h,
		`{"platform":"telegram","sender":"owner-1","message_id":"msg-yt","media_ref":"`+url+`"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "confirmation_required", body["status"])
	assert.Equal(t, "A long talk", body["title"])
	assert.Empty(t, submitter.ids)

	confirm := postRecording(t, h,
		`{"platform":"telegram","sender":"owner-1","message_id":"msg-yt","media_ref":"`+url+`","confirm":true}`)
	require.Equal(t, http.StatusAccepted, confirm.Code)
	assert.Len(t, submitter.ids, 1)
}

func TestCreate_ConfirmWithoutPendingSessionReasks(t *testing.T) {
	h, _, submitter, _ := newRecordingFixture(t)

	url := "https://youtu.be/abc123"
	rec := postRecording(t, h,
		`{"platform":"telegram","sender":"owner-1","message_id":"msg-yt2","media_ref":"`+url+`","confirm":true}`)

	// confirm without a prior ask falls back to showing the metadata
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmation_required", decodeBody(t, rec)["status"])
	assert.Empty(t, submitter.ids)
}
