// Package kernel talks to an already-running Jupyter/IPython kernel.
//
// It covers the three pieces needed to drive a kernel from the outside:
//   - Locating and parsing the kernel's connection file
//   - Signing, encoding and decoding wire-protocol messages
//   - Submitting code over the shell channel and draining the IOPub
//     channel until the kernel reports it is idle
//
// The ZeroMQ transport is provided by DialZMQ. MockTransport is a scripted
// fake kernel exported for tests in other packages.
package kernel
