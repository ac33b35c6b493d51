package testutil

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertJSONFile reads the JSON file at path into v.
func AssertJSONFile(t *testing.T, path string, v interface{}) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err, "reading %s", path)
	assert.True(t, strings.HasSuffix(string(data), "\n"), "%s should end with a newline", path)
	MustUnmarshalJSON(t, data, v)
}

// AssertNoANSI asserts that no line contains an escape character.
func AssertNoANSI(t *testing.T, lines []string) {
	t.Helper()
	for i, line := range lines {
		assert.NotContains(t, line, "\x1b", "line[%d] still has terminal escapes", i)
	}
}
