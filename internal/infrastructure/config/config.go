package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Storage   StorageConfig   `toml:"storage"`
	Server    ServerConfig    `toml:"server"`
	Logging   LogConfig       `toml:"logging"`
	RateLimit RateLimitConfig `toml:"rate_limit"`
	Feed      FeedConfig      `toml:"feed"`
	Registry  RegistryConfig  `toml:"registry"`
}

// StorageConfig locates the registry's on-disk state.
type StorageConfig struct {
	DataDir string `envconfig:"DATA_DIR" default:"./data" toml:"data_dir"`
	// Caps on what one bundle archive may unpack to. Zero disables a cap.
	MaxExtractMB      int64 `envconfig:"MAX_EXTRACT_MB" default:"8192" toml:"max_extract_mb"`
	MaxArchiveEntries int   `envconfig:"MAX_ARCHIVE_ENTRIES" default:"100000" toml:"max_archive_entries"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8000" toml:"port"`
	Host            string        `envconfig:"HOST" default:"127.0.0.1" toml:"host"`
	AllowOrigins    []string      `envconfig:"CORS_ORIGINS" default:"*" toml:"allow_origins"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" toml:"shutdown_timeout"`
	MaxUploadMB     int64         `envconfig:"MAX_UPLOAD_MB" default:"4096" toml:"max_upload_mb"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" toml:"enabled"`
}

// FeedConfig tunes the change feed.
type FeedConfig struct {
	// BacklogWarn is the per-subscriber queue length that triggers a warning.
	BacklogWarn int `envconfig:"FEED_BUFFER" default:"256" toml:"backlog_warn"`
}

// RegistryConfig holds startup behaviour of the registry service.
type RegistryConfig struct {
	SweepOnStart bool `envconfig:"SWEEP_ON_START" default:"true" toml:"sweep_on_start"`
	SeedSources  bool `envconfig:"SEED_SOURCES" default:"true" toml:"seed_sources"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, cfg.Validate()
}

// LoadFile loads defaults, then the TOML file at path, then any environment
// variables that are set. An empty path behaves like Load.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Load()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var env Config
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	overlayEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(&env).Elem())

	return cfg, cfg.Validate()
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:           "./data",
			MaxExtractMB:      8192,
			MaxArchiveEntries: 100000,
		},
		Server: ServerConfig{
			Port:            "8000",
			Host:            "127.0.0.1",
			AllowOrigins:    []string{"*"},
			ShutdownTimeout: 10 * time.Second,
			MaxUploadMB:     4096,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Feed: FeedConfig{
			BacklogWarn: 256,
		},
		Registry: RegistryConfig{
			SweepOnStart: true,
			SeedSources:  true,
		},
	}
}

// Validate checks values that have no usable zero.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Storage.DataDir) == "":
		return fmt.Errorf("invalid config: DATA_DIR is empty")
	case c.Storage.MaxExtractMB < 0 || c.Storage.MaxArchiveEntries < 0:
		return fmt.Errorf("invalid config: extraction limits must not be negative")
	case c.Server.Port == "":
		return fmt.Errorf("invalid config: PORT is empty")
	case c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0:
		return fmt.Errorf("invalid config: RATE_LIMIT_RPS must be positive")
	case c.Feed.BacklogWarn < 0:
		return fmt.Errorf("invalid config: FEED_BUFFER must not be negative")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return c.Server.Host + ":" + c.Server.Port
}

// overlayEnv copies every field of src whose environment variable is set
// into dst. Nested structs are walked.
func overlayEnv(dst, src reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Duration(0)) {
			overlayEnv(dst.Field(i), src.Field(i))
			continue
		}
		key := field.Tag.Get("envconfig")
		if key == "" {
			continue
		}
		if _, ok := os.LookupEnv(key); ok {
			dst.Field(i).Set(src.Field(i))
		}
	}
}
