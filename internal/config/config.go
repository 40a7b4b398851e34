package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the full service configuration, loaded from environment
// variables. A .env file is read first when present.
type Config struct {
	Port       string        `env:"PORT" envDefault:"8080"`
	DataDir    string        `env:"DATA_DIR" envDefault:"./data"`
	DBPath     string        `env:"DB_PATH" envDefault:"./data/scriba.db"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"30m"`

	Audio     AudioConfig
	Whisper   WhisperConfig
	Analysis  AnalysisConfig
	Messaging MessagingConfig
	Notify    NotifyConfig
	Recovery  RecoveryConfig
	Worker    WorkerConfig
}

// AudioConfig bounds the chunking engine.
type AudioConfig struct {
	// ChunkDuration is the fixed window the source audio is cut into.
	ChunkDuration time.Duration `env:"AUDIO_CHUNK_DURATION" envDefault:"15m"`
	// MaxEncodedBytes is the transcription API size ceiling, checked after
	// re-encoding. Chunking bounds duration, not size, so an oversized
	// encoded stream fails fast instead.
	MaxEncodedBytes int64 `env:"AUDIO_MAX_ENCODED_BYTES" envDefault:"26214400"`
	// Bitrate for the normalized mono MP3, e.g. "64k".
	Bitrate string `env:"AUDIO_BITRATE" envDefault:"64k"`
}

// WhisperConfig points at the transcription API.
type WhisperConfig struct {
	BaseURL string        `env:"WHISPER_BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey  string        `env:"OPENAI_API_KEY"`
	Model   string        `env:"WHISPER_MODEL" envDefault:"whisper-1"`
	Timeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`
}

// AnalysisConfig points at the analysis API.
type AnalysisConfig struct {
	BaseURL string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	APIKey  string        `env:"GEMINI_API_KEY"`
	Model   string        `env:"GEMINI_MODEL" envDefault:"gemini-1.5-pro"`
	Timeout time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"3m"`
}

// MessagingConfig selects and configures the messaging provider.
type MessagingConfig struct {
	DefaultProvider string `env:"DEFAULT_MESSAGING_PROVIDER" envDefault:"whatsapp"`

	WhatsAppToken      string `env:"WHATSAPP_TOKEN"`
	WhatsAppPhoneID    string `env:"WHATSAPP_PHONE_NUMBER_ID"`
	WhatsAppAPIVersion string `env:"WHATSAPP_API_VERSION" envDefault:"v18.0"`

	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
}

// NotifyConfig tunes user-facing progress messaging.
type NotifyConfig struct {
	MinInterval        time.Duration `env:"NOTIFY_MIN_INTERVAL" envDefault:"30s"`
	HeartbeatInterval  time.Duration `env:"NOTIFY_HEARTBEAT_INTERVAL" envDefault:"90s"`
	HeartbeatThreshold time.Duration `env:"NOTIFY_HEARTBEAT_THRESHOLD" envDefault:"2m"`
}

// RecoveryConfig tunes the recovery scheduler.
type RecoveryConfig struct {
	Interval        time.Duration `env:"RECOVERY_INTERVAL" envDefault:"5m"`
	OrphanThreshold time.Duration `env:"RECOVERY_ORPHAN_THRESHOLD" envDefault:"60m"`
	RetryBackoff    time.Duration `env:"RECOVERY_RETRY_BACKOFF" envDefault:"5m"`
	MaxRetries      int           `env:"MAX_RETRIES" envDefault:"3"`
	CleanupAge      time.Duration `env:"RECOVERY_CLEANUP_AGE" envDefault:"720h"`
}

// WorkerConfig tunes the job worker loop.
type WorkerConfig struct {
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`
}

// Load reads configuration from the environment (and .env when present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Audio.ChunkDuration <= 0 {
		return fmt.Errorf("AUDIO_CHUNK_DURATION must be positive")
	}
	if c.Recovery.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	return nil
}
