package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Settings are process level knobs read from the environment. They apply to
// every streamer handled by the process, unlike the per-streamer Config.
type Settings struct {
	StreamerName string `env:"STREAMER_NAME"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// HTTPAddr enables the status server (/healthz, /status, /metrics) when set.
	HTTPAddr string `env:"HTTP_ADDR"`

	ConfigDir  string `env:"CONFIG_DIR" default:"configs"`
	SecretsDir string `env:"SECRETS_DIR" default:"secrets"`
	WorkDir    string `env:"WORK_DIR" default:"."`
	MetaDir    string `env:"META_DIR" default:"/tmp"`
	ChatDir    string `env:"CHAT_DIR" default:"chats"`

	RetryInterval     time.Duration `env:"RETRY_INTERVAL" default:"60s"`
	RetryJitter       time.Duration `env:"RETRY_JITTER" default:"0s"`
	ReconnectInterval time.Duration `env:"RECONNECT_INTERVAL" default:"0s"`
	ReconnectJitter   time.Duration `env:"RECONNECT_JITTER" default:"0s"`

	// YouTube token cache upkeep; an interval of 0 disables it.
	TokenRefreshInterval time.Duration `env:"TOKEN_REFRESH_INTERVAL" default:"10m"`
	TokenRefreshWindow   time.Duration `env:"TOKEN_REFRESH_WINDOW" default:"20m"`
}

// LoadSettings reads an optional .env file, then the environment.
func LoadSettings() (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}
	var s Settings
	if err := env.Load(&s, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if s.RetryInterval < 0 || s.RetryJitter < 0 || s.ReconnectInterval < 0 || s.ReconnectJitter < 0 ||
		s.TokenRefreshInterval < 0 || s.TokenRefreshWindow < 0 {
		return nil, fmt.Errorf("retry, reconnect and token refresh durations must not be negative")
	}
	return &s, nil
}
