package chunk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/thruflo/knitron/internal/config"
	"github.com/thruflo/knitron/internal/kernel"
	"github.com/thruflo/knitron/internal/logging"
)

// Executor runs code on a kernel. *kernel.Client satisfies it.
type Executor interface {
	Execute(ctx context.Context, code string, opts kernel.ExecuteOptions) (*kernel.Execution, error)
}

var _ Executor = (*kernel.Client)(nil)

// RemoteError reports a helper command that raised in the kernel.
type RemoteError struct {
	Command string
	Stderr  []string
}

func (e *RemoteError) Error() string {
	msg := strings.TrimSpace(strings.Join(e.Stderr, "\n"))
	if lines := strings.Split(msg, "\n"); len(lines) > 0 {
		msg = lines[len(lines)-1]
	}
	return fmt.Sprintf("kernel command %q failed: %s", e.Command, msg)
}

// Runner executes chunks on a kernel.
type Runner struct {
	exec   Executor
	cfg    *config.Config
	cache  Cache
	logger *logging.Logger
	errOut io.Writer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithCache sets the cache consulted for chunks with cache enabled.
func WithCache(c Cache) RunnerOption {
	return func(r *Runner) {
		r.cache = c
	}
}

// WithLogger sets the runner's logger.
func WithLogger(logger *logging.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithErrorOutput sets where kernel errors are echoed when printing errors
// is enabled. Defaults to os.Stderr.
func WithErrorOutput(w io.Writer) RunnerOption {
	return func(r *Runner) {
		r.errOut = w
	}
}

// NewRunner creates a Runner. A nil cfg uses config.DefaultConfig.
func NewRunner(exec Executor, cfg *config.Config, opts ...RunnerOption) *Runner {
	if cfg == nil {
		def := config.DefaultConfig()
		cfg = &def
	}
	r := &Runner{
		exec:   exec,
		cfg:    cfg,
		cache:  NopCache{},
		logger: logging.Default(),
		errOut: os.Stderr,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one chunk and returns its result. Errors raised by the
// chunk's own code are reported in the result, not as a Go error.
func (r *Runner) Run(ctx context.Context, opts *Options) (*Result, error) {
	log := r.logger.With("chunk", opts.Label)

	var key string
	if opts.Cache {
		key = Key(opts)
		res, ok, err := r.cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn("cache lookup failed", "error", err)
		case ok && r.figuresExist(opts, res):
			log.Debug("cache hit", "key", key[:12])
			return res, nil
		case ok:
			log.Debug("cache entry stale, figures missing", "key", key[:12])
		}
	}

	if opts.BaseDir != "" {
		var prev string
		if err := r.commandJSON(ctx, getcwdCode(), &prev); err != nil {
			return nil, err
		}
		if _, err := r.command(ctx, chdirCode(opts.BaseDir)); err != nil {
			return nil, err
		}
		defer func() {
			// Restore even if ctx was canceled mid-chunk.
			restoreCtx := context.WithoutCancel(ctx)
			if _, err := r.command(restoreCtx, chdirCode(prev)); err != nil {
				log.Warn("failed to restore working directory", "dir", prev, "error", err)
			}
		}()
	}

	if opts.Matplotlib {
		backend := r.cfg.Graphics.Backend(opts.Device)
		if _, err := r.command(ctx, loadMatplotlibCode(backend)); err != nil {
			return nil, err
		}
	}

	execution, err := r.exec.Execute(ctx, opts.Source(), kernel.ExecuteOptions{StoreHistory: true})
	if err != nil {
		return nil, fmt.Errorf("failed to execute chunk: %w", err)
	}
	out := Collect(execution.Messages, r.cfg.Execution.StripANSI, log)
	res := NewResult(out)

	if opts.WantsFigures() {
		figures, err := r.saveFigures(ctx, opts)
		if err != nil {
			return nil, err
		}
		res.Figures = figures
	}

	if out.Raised() && r.printErrors(opts) {
		r.echoErrors(out.Traceback)
	}

	if opts.Cache && !out.Raised() {
		if err := r.cache.Put(ctx, key, res); err != nil {
			log.Warn("cache store failed", "error", err)
		}
	}

	log.Debug("chunk complete",
		"stdout", len(res.Stdout), "stderr", len(res.Stderr), "figures", len(res.Figures))
	return res, nil
}

// RunCode executes code without any chunk handling and returns its output.
func (r *Runner) RunCode(ctx context.Context, code string) (*Output, error) {
	execution, err := r.exec.Execute(ctx, code, kernel.ExecuteOptions{StoreHistory: true})
	if err != nil {
		return nil, fmt.Errorf("failed to execute code: %w", err)
	}
	return Collect(execution.Messages, r.cfg.Execution.StripANSI, r.logger), nil
}

func (r *Runner) saveFigures(ctx context.Context, opts *Options) ([]string, error) {
	var fignums []int
	if err := r.commandJSON(ctx, figureNumbersCode(), &fignums); err != nil {
		return nil, err
	}

	figures := make([]string, 0, len(fignums))
	for _, n := range fignums {
		file := opts.FigureFile(n)
		code := saveFigureCode(n, file, opts.DPI, opts.FigWidth, opts.FigHeight)
		if _, err := r.command(ctx, code); err != nil {
			return nil, err
		}
		figures = append(figures, file)
	}

	if len(fignums) > 0 {
		if _, err := r.command(ctx, closeFiguresCode()); err != nil {
			return nil, err
		}
	}
	return figures, nil
}

// figuresExist checks every figure of a cached result is still on disk.
// Relative paths are resolved against the chunk's base directory.
func (r *Runner) figuresExist(opts *Options, res *Result) bool {
	for _, fig := range res.Figures {
		path := fig
		if !filepath.IsAbs(path) && opts.BaseDir != "" {
			path = filepath.Join(opts.BaseDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return false
		}
	}
	return true
}

func (r *Runner) printErrors(opts *Options) bool {
	if opts.PrintErrors != nil {
		return *opts.PrintErrors
	}
	return r.cfg.Execution.PrintErrors
}

func (r *Runner) echoErrors(lines []string) {
	for _, line := range lines {
		fmt.Fprint(r.errOut, line)
		if !strings.HasSuffix(line, "\n") {
			fmt.Fprintln(r.errOut)
		}
	}
}

// command runs a helper command and fails if it raised. Text the command
// writes to stderr without raising, such as warnings, is logged and ignored.
func (r *Runner) command(ctx context.Context, code string) (*Output, error) {
	execution, err := r.exec.Execute(ctx, code, kernel.ExecuteOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to execute kernel command: %w", err)
	}
	out := Collect(execution.Messages, true, r.logger)
	if out.Raised() {
		return nil, &RemoteError{Command: firstLine(code), Stderr: out.Traceback}
	}
	if reply := execution.Reply; reply != nil && reply.Status == "error" {
		lines := []string{reply.EName + ": " + reply.EValue}
		if len(reply.Traceback) > 0 {
			lines = make([]string, len(reply.Traceback))
			for i, line := range reply.Traceback {
				lines[i] = StripANSI(line)
			}
		}
		return nil, &RemoteError{Command: firstLine(code), Stderr: lines}
	}
	if out.HasStderr() {
		r.logger.Debug("kernel command wrote to stderr",
			"command", firstLine(code), "stderr", strings.Join(out.Stderr, ""))
	}
	return out, nil
}

// commandJSON runs a helper command and decodes the last line it printed.
func (r *Runner) commandJSON(ctx context.Context, code string, v any) error {
	out, err := r.command(ctx, code)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimSpace(strings.Join(out.Stdout, "")), "\n")
	last := strings.TrimSpace(lines[len(lines)-1])
	if last == "" {
		return errors.New("kernel command printed nothing")
	}
	if err := json.Unmarshal([]byte(last), v); err != nil {
		return fmt.Errorf("failed to decode kernel command output: %w", err)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
