package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"scriba/internal/audio"
)

// ErrAllChunksFailed is returned when no chunk produced any transcript.
// Individual chunk failures are recoverable; total failure is not.
var ErrAllChunksFailed = errors.New("transcription failed for every chunk")

// ProgressFunc is invoked with the 1-based chunk number before that chunk's
// transcription is attempted, so reported progress counts chunks started
// rather than completed.
type ProgressFunc func(chunkNum int)

// Orchestrator drives chunk transcription in ascending offset order and
// merges the per-chunk results into one timestamp-continuous transcript.
type Orchestrator struct {
	transcriber Transcriber
	log         *logrus.Entry
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(t Transcriber, log *logrus.Entry) *Orchestrator {
	return &Orchestrator{
		transcriber: t,
		log:         log.WithField("component", "transcribe"),
	}
}

// TranscribeChunks transcribes each chunk in order. A failed or empty chunk
// is logged and skipped, leaving a gap in the merged transcript. Segment
// timestamps are shifted by the chunk's start offset so they stay continuous
// across chunk boundaries. Chunks are rendered as "[MM:SS-MM:SS] text" lines
// and joined with a blank line between chunks.
func (o *Orchestrator) TranscribeChunks(ctx context.Context, chunks []audio.Chunk, onChunk ProgressFunc) (string, error) {
	var parts []string

	for _, chunk := range chunks {
		chunkNum := chunk.Index + 1
		if onChunk != nil {
			onChunk(chunkNum)
		}

		start := time.Now()
		result, err := o.transcriber.Transcribe(ctx, chunk.Bytes)
		if err != nil {
			o.log.WithError(err).WithFields(logrus.Fields{
				"chunk_num":    chunkNum,
				"total_chunks": len(chunks),
			}).Warn("Chunk transcription failed, skipping")
			continue
		}

		lines := renderSegments(result.Segments, chunk.Start)
		if len(lines) == 0 {
			o.log.WithFields(logrus.Fields{
				"chunk_num":    chunkNum,
				"total_chunks": len(chunks),
			}).Warn("Chunk produced no segments, skipping")
			continue
		}

		o.log.WithFields(logrus.Fields{
			"chunk_num":       chunkNum,
			"total_chunks":    len(chunks),
			"segments":        len(result.Segments),
			"elapsed_seconds": time.Since(start).Seconds(),
		}).Info("Chunk transcribed")

		parts = append(parts, strings.Join(lines, "\n"))
	}

	if len(parts) == 0 {
		return "", ErrAllChunksFailed
	}
	return strings.Join(parts, "\n\n"), nil
}

// renderSegments shifts each segment by the chunk's start offset and renders
// it as a "[MM:SS-MM:SS] text" line. A zero offset is a no-op, so re-applying
// the shift to a first chunk never moves its timestamps.
func renderSegments(segments []Segment, offset time.Duration) []string {
	offsetSeconds := offset.Seconds()

	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s-%s] %s",
			formatTimestamp(seg.Start+offsetSeconds),
			formatTimestamp(seg.End+offsetSeconds),
			text,
		))
	}
	return lines
}

// formatTimestamp renders seconds as MM:SS, with minutes growing past 59 for
// recordings over an hour.
func formatTimestamp(seconds float64) string {
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
