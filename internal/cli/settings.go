package cli

import (
	"fmt"
	"os"

	"github.com/thruflo/knitron/internal/config"
	"github.com/thruflo/knitron/internal/logging"
)

// load builds the effective configuration: defaults, then the config file,
// then the environment (optionally seeded from a dotenv file), then flags.
// The resulting log level is applied to the default logger.
func (o rootOptions) load() (*config.Config, error) {
	if o.envFile != "" {
		if err := config.LoadEnvFile(o.envFile); err != nil {
			return nil, err
		}
	}

	var cfg *config.Config
	var err error
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath, true)
	} else {
		var cwd string
		cwd, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		cfg, err = config.LoadConfig(cwd)
	}
	if err != nil {
		return nil, err
	}

	env, err := config.ReadEnv()
	if err != nil {
		return nil, err
	}
	if err := env.Apply(cfg); err != nil {
		return nil, err
	}

	if o.debug {
		cfg.LogLevel = "debug"
	}
	if o.timeout > 0 {
		cfg.Kernel.Timeout = o.timeout
	}
	if len(o.runtimeDirs) > 0 {
		cfg.Kernel.RuntimeDirs = append(append([]string(nil), o.runtimeDirs...), cfg.Kernel.RuntimeDirs...)
	}
	if o.noHeartbeat {
		cfg.Kernel.Heartbeat = false
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, config.ValidationError{Field: "log_level", Message: err.Error()}
	}
	logging.SetLevel(level)

	return cfg, nil
}
