package chunk

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/knitron/internal/config"
	"github.com/thruflo/knitron/internal/kernel"
)

const testKey = "chunk-test-key"

// fakeKernel answers helper commands the way IPython would and hands
// everything else to chunk.
type fakeKernel struct {
	cwd     string
	fignums string
	chunk   func(code string) kernel.MockExecution

	// helperStderr is written to stderr by every helper command.
	helperStderr string
}

func (f *fakeKernel) execute(code string) kernel.MockExecution {
	switch {
	case strings.Contains(code, "getcwd()"):
		return kernel.MockExecution{Stdout: `"` + f.cwd + `"` + "\n", Stderr: f.helperStderr}
	case strings.Contains(code, "get_fignums()"):
		return kernel.MockExecution{Stdout: f.fignums + "\n", Stderr: f.helperStderr}
	case strings.HasPrefix(code, "__import__"), strings.HasPrefix(code, "import matplotlib"):
		return kernel.MockExecution{Stderr: f.helperStderr}
	}
	if f.chunk != nil {
		return f.chunk(code)
	}
	return kernel.MockExecution{}
}

func newTestRunner(t *testing.T, fk *fakeKernel, opts ...RunnerOption) (*Runner, *kernel.MockTransport) {
	t.Helper()

	mock := kernel.NewMockTransport(testKey)
	mock.SetExecuteFunc(fk.execute)
	info := &kernel.ConnectionInfo{Key: testKey, SignatureScheme: kernel.DefaultSignatureScheme}
	client, err := kernel.NewClient(mock, info, kernel.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	return NewRunner(client, &cfg, opts...), mock
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRunnerRun(t *testing.T) {
	t.Parallel()

	runner, mock := newTestRunner(t, &fakeKernel{
		chunk: func(code string) kernel.MockExecution {
			return kernel.MockExecution{Stdout: "hello\n", Result: "3"}
		},
	})

	opts := DefaultOptions()
	opts.Code = []string{"print('hello')", "1 + 2"}

	res, err := runner.Run(testContext(t), &opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"hello\n"}, res.Stdout)
	assert.Equal(t, []string{}, res.Stderr)
	assert.Equal(t, []string{"3"}, res.Text)
	assert.Equal(t, []string{}, res.Figures)
	assert.Equal(t, []string{"print('hello')\n1 + 2"}, mock.GetExecutedCode())
}

func TestRunnerRun_Figures(t *testing.T) {
	t.Parallel()

	runner, mock := newTestRunner(t, &fakeKernel{cwd: "/home/user", fignums: "[1, 2]"})

	opts := DefaultOptions()
	opts.Code = []string{"plt.plot([1, 2, 3])"}
	opts.Matplotlib = true
	opts.AutoPlot = true
	opts.FigPath = "figure/plot"
	opts.FigExt = "png"
	opts.BaseDir = "/srv/doc"

	res, err := runner.Run(testContext(t), &opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"figure/plot-1.png", "figure/plot-2.png"}, res.Figures)

	assert.Equal(t, []string{
		getcwdCode(),
		chdirCode("/srv/doc"),
		loadMatplotlibCode("AGG"),
		"plt.plot([1, 2, 3])",
		figureNumbersCode(),
		saveFigureCode(1, "figure/plot-1.png", 72, 7, 7),
		saveFigureCode(2, "figure/plot-2.png", 72, 7, 7),
		closeFiguresCode(),
		chdirCode("/home/user"),
	}, mock.GetExecutedCode())
}

func TestRunnerRun_NoFigures(t *testing.T) {
	t.Parallel()

	runner, mock := newTestRunner(t, &fakeKernel{fignums: "[]"})

	opts := DefaultOptions()
	opts.Code = []string{"x = 1"}
	opts.Device = "svg"
	opts.Matplotlib = true
	opts.AutoPlot = true
	opts.FigPath = "figure/x"

	res, err := runner.Run(testContext(t), &opts)
	require.NoError(t, err)
	assert.Equal(t, []string{}, res.Figures)
	assert.Equal(t, []string{
		loadMatplotlibCode("SVG"),
		"x = 1",
		figureNumbersCode(),
	}, mock.GetExecutedCode())
}

func TestRunnerRun_MatplotlibWithoutAutoplot(t *testing.T) {
	t.Parallel()

	runner, mock := newTestRunner(t, &fakeKernel{})

	opts := DefaultOptions()
	opts.Code = []string{"x = 1"}
	opts.Matplotlib = true

	_, err := runner.Run(testContext(t), &opts)
	require.NoError(t, err)
	assert.Equal(t, []string{loadMatplotlibCode("AGG"), "x = 1"}, mock.GetExecutedCode())
}

func TestRunnerRun_KernelError(t *testing.T) {
	t.Parallel()

	failing := func(code string) kernel.MockExecution {
		return kernel.MockExecution{
			Stdout: "before\n",
			Error: &kernel.ErrorContent{
				EName:     "ZeroDivisionError",
				EValue:    "division by zero",
				Traceback: []string{"\x1b[0;31mZeroDivisionError\x1b[0m: division by zero"},
			},
		}
	}

	t.Run("printed by default", func(t *testing.T) {
		t.Parallel()

		var errOut bytes.Buffer
		runner, _ := newTestRunner(t, &fakeKernel{chunk: failing}, WithErrorOutput(&errOut))

		opts := DefaultOptions()
		opts.Code = []string{"1 / 0"}

		res, err := runner.Run(testContext(t), &opts)
		require.NoError(t, err)
		assert.Equal(t, []string{"before\n"}, res.Stdout)
		assert.Equal(t, []string{"ZeroDivisionError: division by zero"}, res.Stderr)
		assert.Equal(t, "ZeroDivisionError: division by zero\n", errOut.String())
	})

	t.Run("suppressed by chunk option", func(t *testing.T) {
		t.Parallel()

		var errOut bytes.Buffer
		runner, _ := newTestRunner(t, &fakeKernel{chunk: failing}, WithErrorOutput(&errOut))

		quiet := false
		opts := DefaultOptions()
		opts.Code = []string{"1 / 0"}
		opts.PrintErrors = &quiet

		res, err := runner.Run(testContext(t), &opts)
		require.NoError(t, err)
		assert.Len(t, res.Stderr, 1)
		assert.Empty(t, errOut.String())
	})
}

func TestRunnerRun_HelperFails(t *testing.T) {
	t.Parallel()

	mock := kernel.NewMockTransport(testKey)
	mock.SetExecuteFunc(func(code string) kernel.MockExecution {
		return kernel.MockExecution{Error: &kernel.ErrorContent{
			EName:     "FileNotFoundError",
			EValue:    "No such file or directory: '/missing'",
			Traceback: []string{"Traceback (most recent call last):", "FileNotFoundError: No such file or directory: '/missing'"},
		}}
	})
	client, err := kernel.NewClient(mock, &kernel.ConnectionInfo{Key: testKey}, kernel.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	runner := NewRunner(client, nil)

	opts := DefaultOptions()
	opts.Code = []string{"x = 1"}
	opts.BaseDir = "/missing"

	_, err = runner.Run(testContext(t), &opts)
	require.Error(t, err)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, err.Error(), "FileNotFoundError: No such file or directory")
	assert.Len(t, mock.GetExecutedCode(), 1, "chunk code must not run")
}

func TestRunnerRun_HelperWarnings(t *testing.T) {
	t.Parallel()

	var errOut bytes.Buffer
	fk := &fakeKernel{
		cwd:          "/home/user",
		fignums:      "[1]",
		helperStderr: "Matplotlib is building the font cache; this may take a moment.\n",
		chunk: func(code string) kernel.MockExecution {
			return kernel.MockExecution{Stdout: "drawn\n"}
		},
	}
	runner, mock := newTestRunner(t, fk, WithErrorOutput(&errOut))

	opts := DefaultOptions()
	opts.Code = []string{"plt.plot([1])"}
	opts.Matplotlib = true
	opts.AutoPlot = true
	opts.FigPath = "figure/warn"
	opts.FigExt = "png"
	opts.BaseDir = "/srv/doc"

	res, err := runner.Run(testContext(t), &opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"drawn\n"}, res.Stdout)
	assert.Equal(t, []string{}, res.Stderr)
	assert.Equal(t, []string{"figure/warn-1.png"}, res.Figures)
	assert.Empty(t, errOut.String())

	assert.Equal(t, []string{
		getcwdCode(),
		chdirCode("/srv/doc"),
		loadMatplotlibCode("AGG"),
		"plt.plot([1])",
		figureNumbersCode(),
		saveFigureCode(1, "figure/warn-1.png", 72, 7, 7),
		closeFiguresCode(),
		chdirCode("/home/user"),
	}, mock.GetExecutedCode())
}

func TestRunnerRun_ChunkWarning(t *testing.T) {
	t.Parallel()

	calls := 0
	var errOut bytes.Buffer
	fk := &fakeKernel{
		chunk: func(code string) kernel.MockExecution {
			calls++
			return kernel.MockExecution{
				Stdout: "1.0\n",
				Stderr: "DeprecationWarning: np.float is deprecated\n",
			}
		},
	}
	runner, _ := newTestRunner(t, fk,
		WithCache(NewFileCache(t.TempDir())),
		WithErrorOutput(&errOut),
	)

	opts := DefaultOptions()
	opts.Code = []string{"np.float(1)"}
	opts.Cache = true

	ctx := testContext(t)
	for i := 0; i < 2; i++ {
		res, err := runner.Run(ctx, &opts)
		require.NoError(t, err)
		assert.Equal(t, []string{"DeprecationWarning: np.float is deprecated\n"}, res.Stderr)
	}

	// Warnings are part of the result but are not errors: the chunk is
	// cached and nothing is echoed.
	assert.Equal(t, 1, calls)
	assert.Empty(t, errOut.String())
}

func TestRunnerRun_KernelErrorEchoesTracebackOnly(t *testing.T) {
	t.Parallel()

	var errOut bytes.Buffer
	runner, _ := newTestRunner(t, &fakeKernel{
		chunk: func(code string) kernel.MockExecution {
			return kernel.MockExecution{
				Stderr: "UserWarning: careful\n",
				Error:  &kernel.ErrorContent{EName: "ValueError", EValue: "bad", Traceback: []string{"ValueError: bad"}},
			}
		},
	}, WithErrorOutput(&errOut))

	opts := DefaultOptions()
	opts.Code = []string{"f()"}

	res, err := runner.Run(testContext(t), &opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"UserWarning: careful\n", "ValueError: bad"}, res.Stderr)
	assert.Equal(t, "ValueError: bad\n", errOut.String())
}

func TestRunnerRun_HelperReplyError(t *testing.T) {
	t.Parallel()

	mock := kernel.NewMockTransport(testKey)
	mock.SetHandler(func(req *kernel.Message) (*kernel.Message, []*kernel.Message) {
		if req.Type() != kernel.MessageTypeExecuteRequest {
			return nil, nil
		}
		reply := kernel.ReplyTo(req, kernel.MessageTypeExecuteReply, kernel.ExecuteReply{
			Status: "error",
			EName:  "OSError",
			EValue: "backend unavailable",
		})
		return reply, []*kernel.Message{
			kernel.ReplyTo(req, kernel.MessageTypeStatus, kernel.StatusContent{ExecutionState: kernel.StateBusy}),
			kernel.ReplyTo(req, kernel.MessageTypeStatus, kernel.StatusContent{ExecutionState: kernel.StateIdle}),
		}
	})
	client, err := kernel.NewClient(mock, &kernel.ConnectionInfo{Key: testKey}, kernel.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)
	runner := NewRunner(client, nil)

	opts := DefaultOptions()
	opts.Code = []string{"x = 1"}
	opts.Matplotlib = true

	_, err = runner.Run(testContext(t), &opts)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, []string{"OSError: backend unavailable"}, remote.Stderr)
	assert.Len(t, mock.GetRequests(), 1, "chunk code must not run")
}

func TestRunnerRun_Cache(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	calls := 0
	fk := &fakeKernel{
		cwd:     "/home/user",
		fignums: "[1]",
		chunk: func(code string) kernel.MockExecution {
			calls++
			return kernel.MockExecution{Stdout: "drawn\n"}
		},
	}
	runner, _ := newTestRunner(t, fk, WithCache(NewFileCache(filepath.Join(base, ".cache"))))

	opts := DefaultOptions()
	opts.Code = []string{"plt.plot([1])"}
	opts.Cache = true
	opts.Matplotlib = true
	opts.AutoPlot = true
	opts.FigPath = "figure/cached"
	opts.FigExt = "png"
	opts.BaseDir = base

	ctx := testContext(t)
	first, err := runner.Run(ctx, &opts)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// The fake kernel does not draw, so the figure is missing and the
	// cached entry is stale.
	_, err = runner.Run(ctx, &opts)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	fig := filepath.Join(base, "figure", "cached-1.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(fig), 0o755))
	require.NoError(t, os.WriteFile(fig, []byte("png"), 0o644))

	hit, err := runner.Run(ctx, &opts)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, first, hit)

	opts.Cache = false
	_, err = runner.Run(ctx, &opts)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunnerRunCode(t *testing.T) {
	t.Parallel()

	runner, mock := newTestRunner(t, &fakeKernel{
		chunk: func(code string) kernel.MockExecution {
			return kernel.MockExecution{Stdout: "3.11\n", Result: "'ok'"}
		},
	})

	out, err := runner.RunCode(testContext(t), "import sys; print(sys.version[:4])")
	require.NoError(t, err)
	assert.Equal(t, []string{"3.11\n"}, out.Stdout)
	assert.Equal(t, []string{"'ok'"}, out.Text)
	assert.Equal(t, []string{"import sys; print(sys.version[:4])"}, mock.GetExecutedCode())
}

type failingExecutor struct{}

func (failingExecutor) Execute(context.Context, string, kernel.ExecuteOptions) (*kernel.Execution, error) {
	return nil, kernel.ErrClosed
}

func TestRunnerRun_ExecuteError(t *testing.T) {
	t.Parallel()

	runner := NewRunner(failingExecutor{}, nil)
	opts := DefaultOptions()
	opts.Code = []string{"x"}

	_, err := runner.Run(testContext(t), &opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, kernel.ErrClosed))

	_, err = runner.RunCode(testContext(t), "x")
	assert.True(t, errors.Is(err, kernel.ErrClosed))
}

func TestRemoteError(t *testing.T) {
	t.Parallel()

	err := &RemoteError{
		Command: "__import__('os').chdir('/x')",
		Stderr:  []string{"Traceback (most recent call last):\n", "FileNotFoundError: '/x'\n"},
	}
	assert.Equal(t, `kernel command "__import__('os').chdir('/x')" failed: FileNotFoundError: '/x'`, err.Error())
}
