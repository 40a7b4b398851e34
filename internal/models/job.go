package models

import "time"

// JobStatus represents the lifecycle stage of a transcription job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusAnalyzing    JobStatus = "analyzing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

// ActiveStatuses are the non-terminal, in-flight stages. A job stuck in one of
// these past the orphan threshold belongs to a dead execution.
var ActiveStatuses = []JobStatus{
	JobStatusProcessing,
	JobStatusTranscribing,
	JobStatusAnalyzing,
}

// Job is one audio-to-transcript-and-analysis request.
type Job struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Platform        string    `json:"platform"`
	SourceMessageID string    `json:"source_message_id"`
	AudioRef        string    `json:"audio_ref"`
	Status          JobStatus `json:"status"`

	AudioSizeBytes  int64 `json:"audio_size_bytes"`
	ChunksTotal     int   `json:"chunks_total"`
	ChunksProcessed int   `json:"chunks_processed"`

	Transcript string `json:"transcript,omitempty"`
	Analysis   string `json:"analysis,omitempty"`

	// Attempt is the execution generation. Every retry or orphan
	// reclassification bumps it; store writes carry the attempt they were
	// loaded with, so a write from a superseded execution updates nothing.
	Attempt           int        `json:"attempt"`
	RetryCount        int        `json:"retry_count"`
	LastRetryAt       *time.Time `json:"last_retry_at,omitempty"`
	NotifiedPermanent bool       `json:"notified_permanent,omitempty"`

	Error string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// transitions is the job state machine. failed is reachable from every
// non-terminal state; the recovery scheduler resets failed back to pending.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:      {JobStatusProcessing, JobStatusFailed},
	JobStatusProcessing:   {JobStatusTranscribing, JobStatusFailed},
	JobStatusTranscribing: {JobStatusAnalyzing, JobStatusFailed},
	JobStatusAnalyzing:    {JobStatusCompleted, JobStatusFailed},
	JobStatusFailed:       {JobStatusPending},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the job reached a state no pipeline execution
// will advance. failed only counts as terminal once retries are exhausted.
func (j *Job) IsTerminal(maxRetries int) bool {
	switch j.Status {
	case JobStatusCompleted:
		return true
	case JobStatusFailed:
		return j.RetryCount >= maxRetries
	}
	return false
}

// MarkProcessing moves the job into processing and stamps started_at.
func (j *Job) MarkProcessing(now time.Time) {
	j.Status = JobStatusProcessing
	j.StartedAt = &now
}

// MarkCompleted moves the job into completed and stamps completed_at.
func (j *Job) MarkCompleted(now time.Time) {
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
}

// MarkFailed records the failure reason and stamps completed_at.
func (j *Job) MarkFailed(reason string, now time.Time) {
	j.Status = JobStatusFailed
	j.Error = reason
	j.CompletedAt = &now
}
