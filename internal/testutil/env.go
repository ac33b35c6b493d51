package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// jupyterEnvVars are unset by IsolateJupyterEnv.
var jupyterEnvVars = []string{
	"JUPYTER_RUNTIME_DIR",
	"IPYTHONDIR",
	"DEBUG",
	"KNITRON_DEBUG",
	"KNITRON_LOG_LEVEL",
	"KNITRON_TIMEOUT",
	"KNITRON_POLL_INTERVAL",
	"KNITRON_CACHE_BACKEND",
	"KNITRON_REDIS_URL",
	"KNITRON_JUPYTER_RUNTIME_DIR",
	"KNITRON_IPYTHONDIR",
}

// IsolateJupyterEnv points HOME at a fresh temp dir and unsets the variables
// that steer kernel discovery and knitron's settings, so the developer's own
// kernels and config cannot leak into a test. Returns the new home.
//
// It uses t.Setenv, so callers cannot be parallel tests.
func IsolateJupyterEnv(t *testing.T) string {
	t.Helper()

	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, name := range jupyterEnvVars {
		// Empty values still count as set for envconfig, so unset after
		// t.Setenv has recorded the original for restoring.
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
	return home
}

// SetupProjectDir creates a temp dir containing .knitron/config.yaml with the
// given content and returns the dir.
func SetupProjectDir(t *testing.T, configYAML string) string {
	t.Helper()

	dir := t.TempDir()
	WriteTestFile(t, dir, filepath.Join(".knitron", "config.yaml"), []byte(configYAML))
	return dir
}

// MustUnmarshalJSON unmarshals JSON data into v, failing the test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}

// WriteTestFile writes content to a file in the test directory.
// Creates parent directories as needed.
func WriteTestFile(t *testing.T, basePath, relativePath string, content []byte) {
	t.Helper()
	fullPath := filepath.Join(basePath, relativePath)
	require.NoError(t, os.MkdirAll(filepath.Dir(fullPath), 0o755))
	require.NoError(t, os.WriteFile(fullPath, content, 0o644))
}
