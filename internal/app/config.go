package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/shhac/switchboard/internal/logging"
)

// EnvPrefix prefixes every environment variable the server reads.
const EnvPrefix = "SWITCHBOARD_"

// Config holds application-wide configuration.
type Config struct {
	// Debug enables debug logging and additional diagnostics
	Debug bool `env:"DEBUG"`

	// LogFile sends logs to a rotated file instead of stderr
	LogFile bool `env:"LOG_FILE"`

	// LogPath overrides the platform log file location; setting it implies LogFile
	LogPath string `env:"LOG_PATH"`

	// LogLevel is debug, info, warn or error; Debug forces debug
	LogLevel string `env:"LOG_LEVEL"`

	// LogMaxSizeMB and LogBackups control rotation of the log file
	LogMaxSizeMB int `env:"LOG_MAX_SIZE_MB"`
	LogBackups   int `env:"LOG_BACKUPS"`

	// Fanout lets several primary services answer the same method key
	Fanout bool `env:"FANOUT"`

	// Namespace is the target namespace for methods that declare none
	Namespace string `env:"NAMESPACE"`

	// DetachedWorkers and DetachedQueue size the detached auxiliary pool
	DetachedWorkers int `env:"DETACHED_WORKERS"`
	DetachedQueue   int `env:"DETACHED_QUEUE"`

	ListenAddr string `env:"LISTEN_ADDR"`

	// Reflection exposes the generated services through gRPC reflection
	Reflection bool `env:"REFLECTION"`

	// OTelEndpoint is the OTLP/HTTP trace endpoint; empty disables tracing
	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Debug:           false,
		LogLevel:        "info",
		LogMaxSizeMB:    5,
		LogBackups:      3,
		Namespace:       "switchboard",
		DetachedWorkers: 4,
		DetachedQueue:   64,
		ListenAddr:      "127.0.0.1:7410",
		Reflection:      true,
		ShutdownTimeout: 10 * time.Second,
	}
}

// ConfigFromEnv creates a configuration from SWITCHBOARD_* environment
// variables, on top of DefaultConfig.
func ConfigFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.DetachedWorkers < 1 {
		return fmt.Errorf("detached workers must be positive, got %d", c.DetachedWorkers)
	}
	if c.DetachedQueue < 0 {
		return fmt.Errorf("detached queue must not be negative, got %d", c.DetachedQueue)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogMaxSizeMB < 1 {
		return fmt.Errorf("log max size must be positive, got %d MB", c.LogMaxSizeMB)
	}
	if c.LogBackups < 0 {
		return fmt.Errorf("log backups must not be negative, got %d", c.LogBackups)
	}
	return nil
}

// LogOptions translates the logging fields into logging.Options.
func (c *Config) LogOptions() logging.Options {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := logging.Options{
		Level:   level,
		Path:    c.LogPath,
		MaxSize: int64(c.LogMaxSizeMB) * 1024 * 1024,
		Backups: c.LogBackups,
	}
	if c.Debug {
		opts.Level = slog.LevelDebug
		opts.AddSource = true
	}
	return opts
}
