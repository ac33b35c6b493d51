package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// SampleChunkOptions is a plain chunk as knitr sends it: every value wrapped
// in a length-one array.
const SampleChunkOptions = `{
  "label": ["setup"],
  "code": ["x = 40", "print('ready')", "x + 2"],
  "engine": ["python"],
  "eval": [true],
  "cache": [false],
  "dev": ["png"],
  "dpi": [72],
  "fig.width": [7],
  "fig.height": [7]
}`

// SamplePlotChunkOptions is a chunk that draws with matplotlib and expects
// the figures to be saved under figure/plot-*.
const SamplePlotChunkOptions = `{
  "label": ["plot"],
  "code": ["plt.plot([1, 2, 3])"],
  "dev": ["png"],
  "dpi": [96],
  "fig.width": [5],
  "fig.height": [4],
  "knitron.fig.path": ["figure/plot"],
  "knitron.matplotlib": [true],
  "knitron.autoplot": [true]
}`

// SampleTraceback returns the traceback lines IPython sends for 1/0.
// Returns a new slice each time to prevent test interference.
func SampleTraceback() []string {
	return []string{
		"\x1b[0;31m---------------------------------------------------------------------------\x1b[0m",
		"\x1b[0;31mZeroDivisionError\x1b[0m                         Traceback (most recent call last)",
		"\x1b[0;32m<ipython-input-1-bc757c3fda29>\x1b[0m in \x1b[0;36m<module>\x1b[0;34m()\x1b[0m\n\x1b[0;32m----> 1\x1b[0;31m \x1b[0;36m1\x1b[0m\x1b[0;34m/\x1b[0m\x1b[0;36m0\x1b[0m\x1b[0;34m\x1b[0m\x1b[0m\n\x1b[0m",
		"\x1b[0;31mZeroDivisionError\x1b[0m: division by zero",
	}
}

// ConnectionFileJSON returns a tcp connection file body whose five ports
// start at basePort.
func ConnectionFileJSON(key string, basePort int) string {
	return fmt.Sprintf(`{
  "shell_port": %d,
  "iopub_port": %d,
  "stdin_port": %d,
  "control_port": %d,
  "hb_port": %d,
  "ip": "127.0.0.1",
  "key": %q,
  "transport": "tcp",
  "signature_scheme": "hmac-sha256",
  "kernel_name": "python3"
}`, basePort, basePort+1, basePort+2, basePort+3, basePort+4, key)
}

// WriteConnectionFile writes a connection file named name into dir and sets
// its modification time. Returns the file path.
func WriteConnectionFile(t *testing.T, dir, name, key string, modTime time.Time) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, []byte(ConnectionFileJSON(key, 50000)), 0o600))
	require.NoError(t, os.Chtimes(path, modTime, modTime))
	return path
}
