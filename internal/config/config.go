// Package config loads the highlighter configuration from defaults, an
// optional YAML file, a .env file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tendant/community-highlighter/pkg/highlighter"
)

// DefaultFile is read when no config path is given and it exists
const DefaultFile = "highlighter.yaml"

// Config is the top-level configuration structure
type Config struct {
	BackendURL     string `yaml:"backend_url" validate:"required,url"`
	RequestTimeout string `yaml:"request_timeout"`
	ListenAddr     string `yaml:"listen_addr" validate:"required"`
	LogLevel       string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string `yaml:"log_format" validate:"oneof=text json"`
	DatabaseURL    string `yaml:"database_url"`
	DownloadDir    string `yaml:"download_dir"`
	MaxUploadMB    int64  `yaml:"max_upload_mb" validate:"gte=1"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		BackendURL:     highlighter.DefaultBackendURL,
		RequestTimeout: "10m",
		ListenAddr:     ":8080",
		LogLevel:       "info",
		LogFormat:      "text",
		DownloadDir:    "./downloads",
		MaxUploadMB:    2048,
	}
}

// Load resolves config with Read and validates it
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read resolves config from defaults, then path (or DefaultFile when path
// is empty and the file exists), then .env and the environment. The result
// is not validated so callers can apply overrides first.
func Read(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := mergeFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	} else if err := mergeFile(cfg, DefaultFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading config %s: %w", DefaultFile, err)
	}

	// Load .env file if it exists (silently ignore if not found)
	_ = godotenv.Load()
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field formats
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if _, err := c.Timeout(); err != nil {
		return fmt.Errorf("config error: request_timeout: %w", err)
	}
	return nil
}

// Timeout returns the HTTP client timeout. Zero means no timeout.
func (c *Config) Timeout() (time.Duration, error) {
	if strings.TrimSpace(c.RequestTimeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RequestTimeout)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return d, nil
}

func mergeFile(dst *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, dst)
}

// MaxUploadBytes returns the upload cap in bytes
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func applyEnv(cfg *Config) error {
	setFromEnv(&cfg.BackendURL, "HIGHLIGHTER_BACKEND_URL")
	setFromEnv(&cfg.RequestTimeout, "HIGHLIGHTER_REQUEST_TIMEOUT")
	setFromEnv(&cfg.ListenAddr, "HIGHLIGHTER_LISTEN_ADDR")
	setFromEnv(&cfg.LogLevel, "HIGHLIGHTER_LOG_LEVEL")
	setFromEnv(&cfg.LogFormat, "HIGHLIGHTER_LOG_FORMAT")
	setFromEnv(&cfg.DatabaseURL, "DATABASE_URL")
	setFromEnv(&cfg.DownloadDir, "HIGHLIGHTER_DOWNLOAD_DIR")

	if v := os.Getenv("HIGHLIGHTER_MAX_UPLOAD_MB"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config error: HIGHLIGHTER_MAX_UPLOAD_MB: %w", err)
		}
		cfg.MaxUploadMB = n
	}
	return nil
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
