package transcribe

import "context"

// Segment is one recognized span of speech within a single chunk. Times are
// seconds relative to the start of the chunk.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a transcription engine response for one chunk.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// Transcriber converts audio bytes into timestamped segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (*Result, error)
}
