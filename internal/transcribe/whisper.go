package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"scriba/internal/config"
)

// WhisperClient calls an OpenAI-compatible speech-to-text endpoint with
// verbose segment output.
type WhisperClient struct {
	cfg        config.WhisperConfig
	httpClient *http.Client
	log        *logrus.Entry
}

// NewWhisperClient creates a WhisperClient.
func NewWhisperClient(cfg config.WhisperConfig, log *logrus.Entry) *WhisperClient {
	return &WhisperClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.WithField("component", "whisper"),
	}
}

type whisperResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads one chunk and returns its timestamped segments. Server
// errors are retried with exponential backoff; client errors are not.
func (c *WhisperClient) Transcribe(ctx context.Context, audio []byte) (*Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	part, err := w.CreateFormFile("file", "chunk.mp3")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	_ = w.WriteField("model", c.cfg.Model)
	_ = w.WriteField("response_format", "verbose_json")
	if err := w.Close(); err != nil {
		return nil, err
	}

	payload := body.Bytes()
	endpoint := c.cfg.BaseURL + "/audio/transcriptions"

	var resp whisperResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		data, _ := io.ReadAll(httpResp.Body)
		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("transcription server error: %s", data)
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("transcription request rejected: %s", data))
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode transcription response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 2 * time.Minute
	start := time.Now()
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}

	c.log.WithFields(logrus.Fields{
		"chunk_bytes":     len(audio),
		"segments":        len(resp.Segments),
		"elapsed_seconds": time.Since(start).Seconds(),
	}).Debug("Whisper call completed")

	result := &Result{Text: resp.Text}
	for _, s := range resp.Segments {
		result.Segments = append(result.Segments, Segment(s))
	}
	return result, nil
}
