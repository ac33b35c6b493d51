package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of knitron environment variables.
const EnvPrefix = "knitron"

// Env holds settings read from the environment. Each variable is looked up
// as KNITRON_<NAME> first and then as the bare name, so DEBUG and
// JUPYTER_RUNTIME_DIR work as they do for the Python tooling.
type Env struct {
	Debug        bool          `envconfig:"debug"`
	LogLevel     string        `envconfig:"log_level"`
	Timeout      time.Duration `envconfig:"timeout"`
	PollInterval time.Duration `envconfig:"poll_interval"`
	CacheBackend string        `envconfig:"cache_backend"`
	RedisURL     string        `envconfig:"redis_url"`
	RuntimeDir   string        `envconfig:"jupyter_runtime_dir"`
	IPythonDir   string        `envconfig:"ipythondir"`
}

// LoadEnvFile loads a dotenv file into the process environment. Variables
// already set are not overridden.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// ReadEnv reads knitron settings from the environment.
func ReadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &env, nil
}

// Apply overrides cfg with every setting present in the environment and
// revalidates it.
func (e *Env) Apply(cfg *Config) error {
	if e.Debug {
		cfg.LogLevel = "debug"
	} else if e.LogLevel != "" {
		cfg.LogLevel = e.LogLevel
	}
	if e.Timeout != 0 {
		cfg.Kernel.Timeout = e.Timeout
	}
	if e.PollInterval != 0 {
		cfg.Kernel.PollInterval = e.PollInterval
	}
	if e.CacheBackend != "" {
		cfg.Cache.Backend = e.CacheBackend
	}
	if e.RedisURL != "" {
		cfg.Cache.RedisURL = e.RedisURL
	}
	if e.RuntimeDir != "" {
		cfg.Kernel.RuntimeDirs = append([]string{e.RuntimeDir}, cfg.Kernel.RuntimeDirs...)
	}
	if e.IPythonDir != "" {
		cfg.Kernel.IPythonDir = e.IPythonDir
	}
	return ValidateConfig(cfg)
}
