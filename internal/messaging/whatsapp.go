package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"scriba/internal/config"
)

// WhatsAppProvider talks to the WhatsApp Cloud API.
type WhatsAppProvider struct {
	token      string
	phoneID    string
	apiVersion string
	httpClient *http.Client
	log        *logrus.Entry
}

// NewWhatsAppProvider creates a WhatsAppProvider.
func NewWhatsAppProvider(cfg config.MessagingConfig, log *logrus.Entry) *WhatsAppProvider {
	return &WhatsAppProvider{
		token:      cfg.WhatsAppToken,
		phoneID:    cfg.WhatsAppPhoneID,
		apiVersion: cfg.WhatsAppAPIVersion,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		log:        log.WithField("provider", "whatsapp"),
	}
}

// Name implements Provider.
func (p *WhatsAppProvider) Name() string { return "whatsapp" }

func (p *WhatsAppProvider) apiURL(path string) string {
	return fmt.Sprintf("https://graph.facebook.com/%s/%s", p.apiVersion, path)
}

// SendText implements Provider.
func (p *WhatsAppProvider) SendText(ctx context.Context, recipient, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	return p.postJSON(ctx, p.apiURL(p.phoneID+"/messages"), payload)
}

// SendDocument implements Provider. The file is uploaded to the media
// endpoint first, then referenced by id in a document message.
func (p *WhatsAppProvider) SendDocument(ctx context.Context, recipient, filePath, caption, filename string) error {
	mediaID, err := p.uploadMedia(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                recipient,
		"type":              "document",
		"document": map[string]string{
			"id":       mediaID,
			"caption":  caption,
			"filename": filename,
		},
	}
	return p.postJSON(ctx, p.apiURL(p.phoneID+"/messages"), payload)
}

// DownloadMedia implements Provider. Cloud API media ids resolve to a signed
// URL that is fetched with the same bearer token.
func (p *WhatsAppProvider) DownloadMedia(ctx context.Context, mediaRef string) ([]byte, error) {
	var meta struct {
		URL string `json:"url"`
	}
	if err := p.getJSON(ctx, p.apiURL(mediaRef), &meta); err != nil {
		return nil, fmt.Errorf("failed to resolve media %s: %w", mediaRef, err)
	}
	if meta.URL == "" {
		return nil, fmt.Errorf("media %s has no download URL", mediaRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("media download failed: %s", body)
	}
	return io.ReadAll(resp.Body)
}

func (p *WhatsAppProvider) uploadMedia(ctx context.Context, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	_ = w.WriteField("messaging_product", "whatsapp")
	if err := w.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL(p.phoneID+"/media"), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("media upload failed: %s", data)
	}

	var uploaded struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &uploaded); err != nil {
		return "", err
	}
	return uploaded.ID, nil
}

func (p *WhatsAppProvider) postJSON(ctx context.Context, url string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp api error: %s", body)
	}
	return nil
}

func (p *WhatsAppProvider) getJSON(ctx context.Context, url string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp api error: %s", data)
	}
	return json.Unmarshal(data, target)
}
