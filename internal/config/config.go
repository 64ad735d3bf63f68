package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/raihanakbr/dialogue-session-client/internal/logx"
)

// Config holds every tunable of the client, sourced from environment
// variables (optionally loaded from .env for local runs).
type Config struct {
	Environment  string `envconfig:"APP_ENV" default:"development" validate:"oneof=development staging testing production"`
	SessionURL   string `envconfig:"SESSION_URL" default:"ws://localhost:8888" validate:"required,url"`
	UploadURL    string `envconfig:"UPLOAD_URL" default:"http://localhost:8000/upload" validate:"required,url"`
	MediaBaseURL string `envconfig:"MEDIA_BASE_URL" default:"http://localhost:8000/audio/" validate:"required,url"`
	DebugAddr    string `envconfig:"DEBUG_ADDR"`

	Reconnect ReconnectConfig
	Playback  PlaybackConfig
	Upload    UploadConfig
}

type ReconnectConfig struct {
	BaseDelay    time.Duration `envconfig:"RECONNECT_BASE_DELAY" default:"3s" validate:"gt=0"`
	GrowthFactor float64       `envconfig:"RECONNECT_GROWTH_FACTOR" default:"1.5" validate:"gte=1"`
	MaxAttempts  int           `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5" validate:"gte=1"`
}

type PlaybackConfig struct {
	AutoPlay bool          `envconfig:"PLAYBACK_AUTOPLAY" default:"true"`
	Bitrate  int           `envconfig:"PLAYBACK_BITRATE" default:"128000" validate:"gt=0"`
	CacheTTL time.Duration `envconfig:"PLAYBACK_CACHE_TTL" default:"1h" validate:"gt=0"`
}

type UploadConfig struct {
	MaxBytes          int64         `envconfig:"UPLOAD_MAX_BYTES" default:"10485760" validate:"gt=0"`
	AllowedExtensions []string      `envconfig:"UPLOAD_ALLOWED_EXTENSIONS" default:".txt,.csv,.json,.pdf,.docx" validate:"min=1,dive,startswith=."`
	Timeout           time.Duration `envconfig:"UPLOAD_TIMEOUT" default:"30s" validate:"gt=0"`
}

// IsProduction reports whether logging should use the production format.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate checks struct constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logx.Debug().Msg("No .env file found; using system environment variables")
	}
	return FromEnv()
}

// FromEnv binds and validates the process environment without touching .env.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
