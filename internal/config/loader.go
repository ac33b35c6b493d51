package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thruflo/knitron/internal/logging"
	"gopkg.in/yaml.v3"
)

// Default values for Config.
const (
	DefaultLogLevel         = "warn"
	DefaultPollInterval     = 100 * time.Millisecond
	DefaultReadyTimeout     = 10 * time.Second
	DefaultHeartbeatTimeout = 2 * time.Second
	DefaultCacheTTL         = 7 * 24 * time.Hour
	DefaultCacheDir         = ".knitron/cache"
	DefaultRedisURL         = "redis://localhost:6379/0"
)

// DefaultDevices maps knitr devices to matplotlib backends.
func DefaultDevices() map[string]string {
	return map[string]string{
		"png":        "AGG",
		"jpeg":       "AGG",
		"tiff":       "AGG",
		"pdf":        "PDF",
		"svg":        "SVG",
		"postscript": "PS",
	}
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		LogLevel: DefaultLogLevel,
		Kernel: KernelConfig{
			PollInterval:     DefaultPollInterval,
			ReadyTimeout:     DefaultReadyTimeout,
			Heartbeat:        true,
			HeartbeatTimeout: DefaultHeartbeatTimeout,
		},
		Execution: ExecutionConfig{
			PrintErrors: true,
			StripANSI:   true,
		},
		Graphics: GraphicsConfig{
			Devices: DefaultDevices(),
		},
		Cache: CacheConfig{
			Backend:  CacheBackendNone,
			Dir:      DefaultCacheDir,
			RedisURL: DefaultRedisURL,
			TTL:      DefaultCacheTTL,
		},
	}
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// DefaultPath returns the config file location under basePath.
func DefaultPath(basePath string) string {
	return filepath.Join(basePath, ".knitron", "config.yaml")
}

// LoadConfig reads .knitron/config.yaml from the given base path.
// If the file doesn't exist, returns default config.
func LoadConfig(basePath string) (*Config, error) {
	return LoadFile(DefaultPath(basePath), false)
}

// LoadFile reads a config file on top of the defaults and validates it.
// A missing file yields the defaults unless required is set.
func LoadFile(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// A devices map in the file extends the defaults rather than replacing them.
	devices := DefaultDevices()
	for dev, backend := range cfg.Graphics.Devices {
		devices[dev] = backend
	}
	cfg.Graphics.Devices = devices

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ValidateConfig checks that all config values are valid.
func ValidateConfig(cfg *Config) error {
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		return ValidationError{Field: "log_level", Message: err.Error()}
	}
	if cfg.Kernel.PollInterval <= 0 {
		return ValidationError{Field: "kernel.poll_interval", Message: "must be positive"}
	}
	if cfg.Kernel.Timeout < 0 {
		return ValidationError{Field: "kernel.timeout", Message: "must not be negative"}
	}
	if cfg.Kernel.ReadyTimeout <= 0 {
		return ValidationError{Field: "kernel.ready_timeout", Message: "must be positive"}
	}
	if cfg.Kernel.Heartbeat && cfg.Kernel.HeartbeatTimeout <= 0 {
		return ValidationError{Field: "kernel.heartbeat_timeout", Message: "must be positive"}
	}

	switch cfg.Cache.Backend {
	case CacheBackendNone:
	case CacheBackendFile:
		if cfg.Cache.Dir == "" {
			return ValidationError{Field: "cache.dir", Message: "required for file backend"}
		}
	case CacheBackendRedis:
		if cfg.Cache.RedisURL == "" {
			return ValidationError{Field: "cache.redis_url", Message: "required for redis backend"}
		}
	default:
		return ValidationError{Field: "cache.backend", Message: fmt.Sprintf("unknown backend %q", cfg.Cache.Backend)}
	}
	if cfg.Cache.TTL < 0 {
		return ValidationError{Field: "cache.ttl", Message: "must not be negative"}
	}

	return nil
}

// IsValidationError checks if an error is a ValidationError.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}
