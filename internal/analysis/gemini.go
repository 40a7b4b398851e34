package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"scriba/internal/config"
)

// GeminiClient calls the Gemini generateContent endpoint.
type GeminiClient struct {
	cfg        config.AnalysisConfig
	httpClient *http.Client
	log        *logrus.Entry
}

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(cfg config.AnalysisConfig, log *logrus.Entry) *GeminiClient {
	return &GeminiClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.WithField("component", "analysis"),
	}
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// Analyze implements Analyzer. Server errors are retried with backoff.
func (c *GeminiClient) Analyze(ctx context.Context, transcript, prompt string) (string, error) {
	if len(transcript) < 100 {
		return "", fmt.Errorf("transcript too short for analysis (%d chars)", len(transcript))
	}

	reqBody, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: prompt + "\n\n---\n\n" + transcript}},
		}},
	})
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.cfg.BaseURL, c.cfg.Model, c.cfg.APIKey)

	var resp geminiResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		data, _ := io.ReadAll(httpResp.Body)
		if httpResp.StatusCode >= 500 || httpResp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("analysis server error: %s", data)
		}
		if httpResp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("analysis request rejected: %s", data))
		}
		if err := json.Unmarshal(data, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode analysis response: %w", err))
		}
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 90 * time.Second
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("analysis returned no candidates")
	}

	text := resp.Candidates[0].Content.Parts[0].Text
	c.log.WithFields(logrus.Fields{
		"transcript_chars": len(transcript),
		"analysis_chars":   len(text),
	}).Info("Analysis generated")

	return text, nil
}
