package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"scriba/internal/config"
)

// SupportedFormats lists audio formats the converter accepts.
var SupportedFormats = []string{".mp3", ".m4a", ".aac", ".ogg", ".oga", ".flac", ".wav", ".webm", ".opus", ".mp4"}

// IsSupportedFormat checks if the file extension is a supported audio format.
func IsSupportedFormat(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, format := range SupportedFormats {
		if ext == format {
			return true
		}
	}
	return false
}

// OversizedError reports an encoded stream above the transcription API's
// size ceiling.
type OversizedError struct {
	SizeBytes int64
	Limit     int64
}

func (e *OversizedError) Error() string {
	return fmt.Sprintf("encoded audio is %d bytes, above the %d byte transcription limit; chunking bounds duration, not size", e.SizeBytes, e.Limit)
}

// Info describes a normalized stream.
type Info struct {
	Path      string
	SizeBytes int64
	Duration  time.Duration
}

// Converter normalizes source media into a bounded-size mono MP3 and cuts it
// into planned chunks, shelling out to ffmpeg the same way for both.
type Converter struct {
	cfg config.AudioConfig
	log *logrus.Entry
}

// NewConverter creates a Converter.
func NewConverter(cfg config.AudioConfig, log *logrus.Entry) *Converter {
	return &Converter{cfg: cfg, log: log.WithField("component", "audio")}
}

// Normalize re-encodes the input into a mono MP3 at the configured bitrate and
// probes its duration. It fails fast when the encoded form still exceeds the
// transcription API size ceiling, and when the stream decodes to nothing.
// The returned file is the caller's to remove.
func (c *Converter) Normalize(ctx context.Context, inputPath string) (*Info, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("ffmpeg not found: please install ffmpeg to process audio")
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(os.TempDir(), base+"_normalized.mp3")

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-b:a", c.cfg.Bitrate,
		"-f", "mp3",
		"-y",
		outputPath,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg conversion failed: %w\nOutput: %s", err, string(output))
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat normalized audio: %w", err)
	}

	duration, err := ProbeDuration(ctx, outputPath)
	if err != nil {
		os.Remove(outputPath)
		return nil, err
	}
	if duration <= 0 {
		os.Remove(outputPath)
		return nil, ErrZeroDuration
	}

	if c.cfg.MaxEncodedBytes > 0 && stat.Size() > c.cfg.MaxEncodedBytes {
		os.Remove(outputPath)
		return nil, &OversizedError{SizeBytes: stat.Size(), Limit: c.cfg.MaxEncodedBytes}
	}

	c.log.WithFields(logrus.Fields{
		"input":       inputPath,
		"size_bytes":  stat.Size(),
		"duration_ms": duration.Milliseconds(),
	}).Info("Audio normalized")

	return &Info{Path: outputPath, SizeBytes: stat.Size(), Duration: duration}, nil
}

// Split cuts the normalized stream into the planned spans. Each chunk is
// exported to a temp file, read into memory, and the temp file removed.
func (c *Converter) Split(ctx context.Context, inputPath string, spans []Span) ([]Chunk, error) {
	chunks := make([]Chunk, 0, len(spans))

	for _, span := range spans {
		chunkPath := filepath.Join(os.TempDir(), fmt.Sprintf("%s_chunk%03d.mp3",
			strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath)), span.Index))

		cmd := exec.CommandContext(ctx, "ffmpeg",
			"-ss", formatSeconds(span.Start),
			"-t", formatSeconds(span.Duration),
			"-i", inputPath,
			"-c", "copy",
			"-f", "mp3",
			"-y",
			chunkPath,
		)
		output, err := cmd.CombinedOutput()
		if err != nil {
			return nil, fmt.Errorf("ffmpeg chunk export failed at %s: %w\nOutput: %s",
				span.Start, err, string(output))
		}

		data, err := os.ReadFile(chunkPath)
		os.Remove(chunkPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", span.Index, err)
		}

		c.log.WithFields(logrus.Fields{
			"chunk_index":   span.Index,
			"start_minutes": span.Start.Minutes(),
			"duration_min":  span.Duration.Minutes(),
			"size_bytes":    len(data),
		}).Info("Chunk created")

		chunks = append(chunks, Chunk{
			Index:    span.Index,
			Bytes:    data,
			Start:    span.Start,
			Duration: span.Duration,
		})
	}

	return chunks, nil
}

// ProbeDuration returns the duration of an audio file via ffprobe.
func ProbeDuration(ctx context.Context, inputPath string) (time.Duration, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, fmt.Errorf("ffprobe not found: please install ffmpeg")
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		inputPath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to probe audio duration: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(string(output)), err)
	}

	return time.Duration(seconds * float64(time.Second)), nil
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
