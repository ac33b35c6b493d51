// Package testutil provides shared test helpers for knitron.
//
// # Fixtures
//
// fixtures.go holds sample inputs:
//
//   - SampleChunkOptions, SamplePlotChunkOptions - chunk options as knitr sends them
//   - SampleTraceback() - an IPython traceback with terminal colors
//   - ConnectionFileJSON(key, basePort) - a kernel connection file body
//   - WriteConnectionFile(t, dir, name, key, modTime) - writes one to disk
//
// # Environment Helpers
//
// env.go isolates tests from the developer's own Jupyter setup:
//
//   - IsolateJupyterEnv(t) - points HOME and the Jupyter/IPython variables at a temp dir
//   - SetupProjectDir(t, configYAML) - creates a dir with .knitron/config.yaml
//   - WriteTestFile(t, base, path, content) - writes a file in a test dir
//   - MustUnmarshalJSON(t, data, v) - unmarshals JSON or fails the test
//
// # Assertions
//
//   - AssertJSONFile(t, path, v) - decodes a JSON file into v
//   - AssertNoANSI(t, lines) - checks no terminal control sequences remain
//
// # Timeouts
//
// timeout.go builds contexts that finish before the test deadline:
//
//	func TestSomething(t *testing.T) {
//	    ctx, cancel := testutil.KernelContext(t)
//	    defer cancel()
//	    // ... talk to the kernel using ctx
//	}
package testutil
