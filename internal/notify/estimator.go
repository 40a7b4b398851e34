package notify

import "time"

// Breakdown is an advisory estimate of processing time per stage. It decides
// whether a heartbeat loop is worth starting and phrases the initial status
// message; it never gates correctness.
type Breakdown struct {
	Conversion    time.Duration
	PerChunk      time.Duration
	Transcription time.Duration
	Analysis      time.Duration
	Documents     time.Duration
	Total         time.Duration
	NumChunks     int
}

// Estimate maps audio size and duration to a per-stage time breakdown. The
// coefficients come from observed vendor-API throughput and are deliberately
// conservative.
func Estimate(sizeBytes int64, duration, chunkDuration time.Duration) Breakdown {
	sizeMB := float64(sizeBytes) / (1024 * 1024)
	minutes := duration.Minutes()

	numChunks := 1
	if chunkDuration > 0 && duration > 0 {
		numChunks = int((duration + chunkDuration - 1) / chunkDuration)
		if numChunks < 1 {
			numChunks = 1
		}
	}

	// Re-encoding runs at roughly 1.5s per MB of input.
	conversion := maxDuration(6*time.Second, time.Duration(sizeMB*1.5*float64(time.Second)))

	// Transcription runs at roughly 0.4x realtime plus per-call overhead,
	// with a surcharge for large chunks.
	chunkMinutes := minutes / float64(numChunks)
	chunkMB := sizeMB / float64(numChunks)
	sizeFactor := 1.0 + (chunkMB/25)*0.3
	perChunk := time.Duration((chunkMinutes*0.4 + 0.5) * sizeFactor * float64(time.Minute))
	perChunk = maxDuration(30*time.Second, perChunk)
	transcription := time.Duration(numChunks) * perChunk

	// A minute of speech comes out to roughly a thousand characters of
	// transcript, and analysis consumes about 2000 characters per second.
	transcriptChars := minutes * 1000
	analysis := maxDuration(12*time.Second,
		time.Duration(transcriptChars/2000*float64(time.Second))+20*time.Second)

	documents := maxDuration(6*time.Second,
		time.Duration(transcriptChars/10000*2*float64(time.Second)))

	return Breakdown{
		Conversion:    conversion,
		PerChunk:      perChunk,
		Transcription: transcription,
		Analysis:      analysis,
		Documents:     documents,
		Total:         conversion + transcription + analysis + documents,
		NumChunks:     numChunks,
	}
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}
