package config

import "time"

// Config represents the .knitron/config.yaml file.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	Kernel    KernelConfig    `yaml:"kernel"`
	Execution ExecutionConfig `yaml:"execution"`
	Graphics  GraphicsConfig  `yaml:"graphics"`
	Cache     CacheConfig     `yaml:"cache"`
}

// KernelConfig controls how kernels are located and driven.
type KernelConfig struct {
	// RuntimeDirs are searched for connection files before the defaults.
	RuntimeDirs []string `yaml:"runtime_dirs,omitempty"`
	// IPythonDir is the root of the IPython profiles.
	IPythonDir string `yaml:"ipython_dir,omitempty"`

	PollInterval     time.Duration `yaml:"poll_interval"`
	Timeout          time.Duration `yaml:"timeout"`
	ReadyTimeout     time.Duration `yaml:"ready_timeout"`
	Heartbeat        bool          `yaml:"heartbeat"`
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
}

// ExecutionConfig controls how outputs are reported.
type ExecutionConfig struct {
	PrintErrors bool `yaml:"print_errors"`
	StripANSI   bool `yaml:"strip_ansi"`
}

// GraphicsConfig maps knitr devices to matplotlib backends.
type GraphicsConfig struct {
	Devices map[string]string `yaml:"devices"`
}

// Backend returns the matplotlib backend for a knitr device. Unknown devices
// are passed through unchanged.
func (g GraphicsConfig) Backend(dev string) string {
	if backend, ok := g.Devices[dev]; ok {
		return backend
	}
	return dev
}

// CacheConfig selects where cached chunk results are kept.
type CacheConfig struct {
	Backend  string        `yaml:"backend"`
	Dir      string        `yaml:"dir"`
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

// Cache backend values.
const (
	CacheBackendNone  = "none"
	CacheBackendFile  = "file"
	CacheBackendRedis = "redis"
)
