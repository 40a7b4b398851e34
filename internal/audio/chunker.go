package audio

import (
	"errors"
	"time"
)

// Span is one planned chunk window within the source stream.
type Span struct {
	Index    int
	Start    time.Duration
	Duration time.Duration
}

// Chunk is one bounded-duration slice of the normalized audio, the unit of
// transcription work.
type Chunk struct {
	Index    int
	Bytes    []byte
	Start    time.Duration
	Duration time.Duration
}

// ErrZeroDuration is returned when the decoded stream has no playable audio.
var ErrZeroDuration = errors.New("audio stream has zero duration")

// PlanChunks walks the stream in fixed-duration windows from offset zero. The
// final window is truncated to the remaining duration; nothing is padded or
// dropped. A stream shorter than one window yields exactly one chunk.
func PlanChunks(total, chunkDuration time.Duration) ([]Span, error) {
	if total <= 0 {
		return nil, ErrZeroDuration
	}
	if chunkDuration <= 0 {
		return nil, errors.New("chunk duration must be positive")
	}

	var spans []Span
	for start := time.Duration(0); start < total; start += chunkDuration {
		d := chunkDuration
		if remaining := total - start; remaining < d {
			d = remaining
		}
		spans = append(spans, Span{
			Index:    len(spans),
			Start:    start,
			Duration: d,
		})
	}
	return spans, nil
}
