package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"scriba/internal/config"
)

// Provider is a messaging platform capable of reaching the job's owner and
// fetching the media they submitted. Send failures are expected to be
// tolerated by callers; a lost status message never aborts a pipeline.
type Provider interface {
	// Name returns the platform name the provider was registered under.
	Name() string
	// SendText delivers a plain text message.
	SendText(ctx context.Context, recipient, text string) error
	// SendDocument delivers a file with a caption.
	SendDocument(ctx context.Context, recipient, filePath, caption, filename string) error
	// DownloadMedia fetches the bytes behind a platform media reference.
	DownloadMedia(ctx context.Context, mediaRef string) ([]byte, error)
}

// New builds the provider for the given platform name.
func New(platform string, cfg config.MessagingConfig, log *logrus.Entry) (Provider, error) {
	switch strings.ToLower(platform) {
	case "whatsapp":
		return NewWhatsAppProvider(cfg, log), nil
	case "telegram":
		return NewTelegramProvider(cfg, log), nil
	}
	return nil, fmt.Errorf("unknown messaging platform: %s", platform)
}
