package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	configPath  string
	envFile     string
	debug       bool
	timeout     time.Duration
	runtimeDirs []string
	noHeartbeat bool
}

var rootOpts rootOptions

var rootCmd = &cobra.Command{
	Use:   "knitron <kernel> chunk <output-json> | <kernel> code <command...> | <kernel> raw <output-json>",
	Short: "Run knitr chunks on a running IPython kernel",
	Long: `Knitron executes code on an already running Jupyter/IPython kernel on
behalf of knitr and reports what the kernel printed, returned and plotted.

<kernel> is a kernel id, a connection file path or an IPython profile name.

  knitron <kernel> chunk <output-json>
      Reads chunk options as JSON on stdin, runs the chunk and writes the
      result JSON to <output-json>.

  knitron <kernel> code <command...>
      Runs a command and prints its output.

  knitron <kernel> raw <output-json>
      Reads code on stdin, runs it and writes every kernel output message
      of the execution, unprocessed, to <output-json>.

Flags must come before <kernel>.`,
	Args:          cobra.MinimumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runRoot,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("knitron version {{.Version}}\n")

	// Everything after <kernel> belongs to the mode, including things that
	// look like flags in a code command.
	rootCmd.Flags().SetInterspersed(false)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootOpts.configPath, "config", "", "config file (default .knitron/config.yaml)")
	pf.StringVar(&rootOpts.envFile, "env-file", "", "load environment variables from a dotenv file")
	pf.BoolVar(&rootOpts.debug, "debug", false, "enable debug logging")
	pf.DurationVar(&rootOpts.timeout, "timeout", 0, "overall execution timeout (0 for none)")
	pf.StringArrayVar(&rootOpts.runtimeDirs, "runtime-dir", nil, "additional directory to search for connection files (repeatable)")
	pf.BoolVar(&rootOpts.noHeartbeat, "no-heartbeat", false, "skip the heartbeat check before executing")
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func runRoot(cmd *cobra.Command, args []string) error {
	spec, mode, rest := args[0], args[1], args[2:]

	cfg, err := rootOpts.load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := withTimeout(ctx, cfg.Kernel.Timeout)
	defer cancel()

	switch mode {
	case "chunk":
		if len(rest) != 1 {
			return fmt.Errorf("usage: knitron <kernel> chunk <output-json>")
		}
		return runChunk(ctx, cfg, spec, cmd.InOrStdin(), rest[0], cmd.ErrOrStderr())
	case "code":
		if len(rest) == 0 {
			return fmt.Errorf("usage: knitron <kernel> code <command...>")
		}
		return runCode(ctx, cfg, spec, strings.Join(rest, " "), cmd.OutOrStdout(), cmd.ErrOrStderr())
	case "raw":
		if len(rest) != 1 {
			return fmt.Errorf("usage: knitron <kernel> raw <output-json>")
		}
		return runRaw(ctx, cfg, spec, cmd.InOrStdin(), rest[0])
	default:
		return fmt.Errorf("unknown mode %q: expected chunk, code or raw", mode)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
