package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel reasons recorded by the recovery scheduler rather than a running
// pipeline execution.
var (
	// ErrOrphanTimeout marks a job abandoned by a crashed or hung execution.
	ErrOrphanTimeout = errors.New("execution presumed dead after orphan threshold")
	// ErrRetryExhausted marks a job that used up its retry budget.
	ErrRetryExhausted = errors.New("retry cap reached")
)

// The pipeline's failure taxonomy. Each stage wraps its cause in a typed
// error so the top level can report which stage killed the job. Per-chunk
// transcription failures never reach this level; they are skipped inside the
// orchestrator.

// DownloadError means the source media could not be fetched.
type DownloadError struct{ Err error }

func (e *DownloadError) Error() string { return fmt.Sprintf("audio download failed: %v", e.Err) }
func (e *DownloadError) Unwrap() error { return e.Err }

// ConversionError means decoding, re-encoding, or chunking the audio failed,
// including the oversized-after-conversion case.
type ConversionError struct{ Err error }

func (e *ConversionError) Error() string { return fmt.Sprintf("audio conversion failed: %v", e.Err) }
func (e *ConversionError) Unwrap() error { return e.Err }

// TranscriptionError means every chunk failed to transcribe.
type TranscriptionError struct{ Err error }

func (e *TranscriptionError) Error() string { return fmt.Sprintf("transcription failed: %v", e.Err) }
func (e *TranscriptionError) Unwrap() error { return e.Err }

// AnalysisError means the analysis collaborator failed. It is non-fatal: the
// job still completes with an absent analysis.
type AnalysisError struct{ Err error }

func (e *AnalysisError) Error() string { return fmt.Sprintf("analysis failed: %v", e.Err) }
func (e *AnalysisError) Unwrap() error { return e.Err }

// DocumentError means rendering or delivering the result documents failed.
type DocumentError struct{ Err error }

func (e *DocumentError) Error() string { return fmt.Sprintf("document delivery failed: %v", e.Err) }
func (e *DocumentError) Unwrap() error { return e.Err }
