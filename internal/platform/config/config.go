package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the server configuration read from the environment.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
	DBPath    string `env:"DB_PATH" envDefault:"replays.sqlite"`

	Workers            int           `env:"WORKERS" envDefault:"2"`
	JobTimeout         time.Duration `env:"JOB_TIMEOUT" envDefault:"30s"`
	MaxUploadMB        int64         `env:"MAX_UPLOAD_MB" envDefault:"10"`
	GoalFrameTolerance int           `env:"GOAL_FRAME_TOLERANCE" envDefault:"5"`
	DuplicateFilter    uint          `env:"DUPLICATE_FILTER_SIZE" envDefault:"500000"`

	// OTelEndpoint enables trace export when set.
	OTelEndpoint    string        `env:"OTEL_ENDPOINT"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// MaxUploadBytes returns the upload limit in bytes.
func (c Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files; with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FromEnv returns the server configuration, applying defaults for unset keys.
func FromEnv() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.Workers < 1 {
		return Config{}, fmt.Errorf("WORKERS must be at least 1, got %d", cfg.Workers)
	}
	if cfg.MaxUploadMB < 1 {
		return Config{}, fmt.Errorf("MAX_UPLOAD_MB must be at least 1, got %d", cfg.MaxUploadMB)
	}
	return cfg, nil
}
