package cli

import (
	"context"
	"fmt"

	"github.com/thruflo/knitron/internal/chunk"
	"github.com/thruflo/knitron/internal/config"
	"github.com/thruflo/knitron/internal/kernel"
	"github.com/thruflo/knitron/internal/logging"
)

// KernelSession is a ready connection to a kernel.
type KernelSession interface {
	chunk.Executor
	Close() error
}

// connectKernel opens a session to the kernel named by spec.
// It can be overridden in tests.
var connectKernel = dialKernel

// dialKernel resolves spec to a connection file, connects, checks the
// heartbeat unless disabled and waits until IOPub is delivering messages.
func dialKernel(ctx context.Context, cfg *config.Config, spec string) (KernelSession, error) {
	log := logging.With("kernel", spec)

	path, err := resolveConnectionFile(cfg, spec)
	if err != nil {
		return nil, err
	}
	info, err := kernel.LoadConnectionFile(path)
	if err != nil {
		return nil, err
	}
	log.Debug("connecting", "file", path, "ip", info.IP, "transport", info.Transport)

	client, err := kernel.Connect(ctx, info,
		kernel.WithLogger(log),
		kernel.WithPollInterval(cfg.Kernel.PollInterval),
	)
	if err != nil {
		return nil, err
	}

	if cfg.Kernel.Heartbeat {
		if err := client.Heartbeat(ctx, cfg.Kernel.HeartbeatTimeout); err != nil {
			client.Close()
			return nil, fmt.Errorf("kernel %s is not responding: %w", spec, err)
		}
	}

	readyCtx, cancel := context.WithTimeout(ctx, cfg.Kernel.ReadyTimeout)
	defer cancel()
	if err := client.WaitReady(readyCtx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kernel %s did not become ready: %w", spec, err)
	}

	log.Debug("kernel ready", "session", client.Session())
	return client, nil
}

func resolveConnectionFile(cfg *config.Config, spec string) (string, error) {
	dirs := kernel.SearchDirs(spec, cfg.Kernel.RuntimeDirs, cfg.Kernel.IPythonDir)
	return kernel.FindConnectionFile(spec, dirs)
}
