package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"scriba/internal/config"
)

// TelegramProvider talks to the Telegram Bot API.
type TelegramProvider struct {
	token      string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewTelegramProvider creates a TelegramProvider.
func NewTelegramProvider(cfg config.MessagingConfig, log *logrus.Entry) *TelegramProvider {
	return &TelegramProvider{
		token:      cfg.TelegramBotToken,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log.WithField("provider", "telegram"),
	}
}

// Name implements Provider.
func (p *TelegramProvider) Name() string { return "telegram" }

func (p *TelegramProvider) apiURL(method string) string {
	return fmt.Sprintf("https://api.telegram.org/bot%s/%s", p.token, method)
}

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// SendText implements Provider.
func (p *TelegramProvider) SendText(ctx context.Context, recipient, text string) error {
	form := url.Values{}
	form.Set("chat_id", recipient)
	form.Set("text", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL("sendMessage"),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err = p.do(req)
	return err
}

// SendDocument implements Provider.
func (p *TelegramProvider) SendDocument(ctx context.Context, recipient, filePath, caption, filename string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	_ = w.WriteField("chat_id", recipient)
	_ = w.WriteField("caption", caption)
	part, err := w.CreateFormFile("document", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL("sendDocument"), &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	_, err = p.do(req)
	return err
}

// DownloadMedia implements Provider. The file_id is resolved to a path via
// getFile, then fetched from the bot file endpoint.
func (p *TelegramProvider) DownloadMedia(ctx context.Context, mediaRef string) ([]byte, error) {
	form := url.Values{}
	form.Set("file_id", mediaRef)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL("getFile"),
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	result, err := p.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", mediaRef, err)
	}

	var file struct {
		FilePath string `json:"file_path"`
	}
	if err := json.Unmarshal(result, &file); err != nil {
		return nil, err
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("file %s has no download path", mediaRef)
	}

	fileURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", p.token, file.FilePath)
	fileReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(fileReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("file download failed: %s", body)
	}
	return io.ReadAll(resp.Body)
}

func (p *TelegramProvider) do(req *http.Request) (json.RawMessage, error) {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)

	var tr telegramResponse
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !tr.OK {
		return nil, fmt.Errorf("telegram api error: %s", tr.Description)
	}
	return tr.Result, nil
}
