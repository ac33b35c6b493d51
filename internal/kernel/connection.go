package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrNoConnectionFile is returned when no connection file matches a kernel spec.
var ErrNoConnectionFile = errors.New("no connection file found")

// Default values for ConnectionInfo.
const (
	DefaultTransport       = "tcp"
	DefaultSignatureScheme = "hmac-sha256"
	DefaultProfile         = "default"
)

// ConnectionInfo is the content of a kernel connection file.
type ConnectionInfo struct {
	ShellPort       int    `json:"shell_port"`
	IOPubPort       int    `json:"iopub_port"`
	StdinPort       int    `json:"stdin_port"`
	ControlPort     int    `json:"control_port"`
	HBPort          int    `json:"hb_port"`
	IP              string `json:"ip"`
	Key             string `json:"key"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name,omitempty"`
}

// LoadConnectionFile reads and validates a connection file.
func LoadConnectionFile(path string) (*ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read connection file: %w", err)
	}

	var info ConnectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse connection file %s: %w", path, err)
	}

	if info.Transport == "" {
		info.Transport = DefaultTransport
	}
	if info.SignatureScheme == "" {
		info.SignatureScheme = DefaultSignatureScheme
	}

	if err := info.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connection file %s: %w", path, err)
	}

	return &info, nil
}

// Validate checks that the connection info can be dialed.
func (c *ConnectionInfo) Validate() error {
	if c.IP == "" {
		return errors.New("ip is empty")
	}
	if c.Transport != "tcp" && c.Transport != "ipc" {
		return fmt.Errorf("unsupported transport %q", c.Transport)
	}
	ports := map[string]int{
		"shell_port":   c.ShellPort,
		"iopub_port":   c.IOPubPort,
		"control_port": c.ControlPort,
		"hb_port":      c.HBPort,
	}
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s must be between 1 and 65535, got %d", name, port)
		}
	}
	return nil
}

// Endpoint returns the ZeroMQ endpoint for the given port.
func (c *ConnectionInfo) Endpoint(port int) string {
	if c.Transport == "ipc" {
		return fmt.Sprintf("ipc://%s-%d", c.IP, port)
	}
	return fmt.Sprintf("tcp://%s:%d", c.IP, port)
}

// SearchDirs returns the directories searched for connection files, in order.
// runtimeDirs are searched first, then the Jupyter runtime directories, then
// the security directory of the IPython profile. A numeric kernel spec (a
// process or kernel id) uses the default profile.
func SearchDirs(spec string, runtimeDirs []string, ipythonDir string) []string {
	dirs := append([]string(nil), runtimeDirs...)

	if dir := os.Getenv("JUPYTER_RUNTIME_DIR"); dir != "" {
		dirs = append(dirs, dir)
	}

	home, err := os.UserHomeDir()
	if err == nil {
		if runtime.GOOS == "darwin" {
			dirs = append(dirs, filepath.Join(home, "Library", "Jupyter", "runtime"))
		}
		dirs = append(dirs, filepath.Join(home, ".local", "share", "jupyter", "runtime"))
	}

	if ipythonDir == "" && home != "" {
		ipythonDir = filepath.Join(home, ".ipython")
	}
	if ipythonDir != "" {
		profile := DefaultProfile
		if isProfileName(spec) {
			profile = spec
		}
		dirs = append(dirs, filepath.Join(ipythonDir, "profile_"+profile, "security"))
	}

	return dedupe(dirs)
}

// isProfileName reports whether spec names an IPython profile rather than a
// kernel id or a path.
func isProfileName(spec string) bool {
	if spec == "" || strings.ContainsAny(spec, `/\*?.`) {
		return false
	}
	if _, err := strconv.Atoi(spec); err == nil {
		return false
	}
	// Kernel ids are uuids.
	return strings.Count(spec, "-") != 4
}

// FindConnectionFile resolves a kernel spec to a connection file path.
// An existing file path is returned unchanged. Otherwise each directory is
// searched for kernel-<spec>.json, then for *<spec>*.json. When several files
// match, the most recently modified one wins.
func FindConnectionFile(spec string, dirs []string) (string, error) {
	if spec == "" {
		return "", fmt.Errorf("%w: empty kernel spec", ErrNoConnectionFile)
	}

	if fi, err := os.Stat(spec); err == nil && !fi.IsDir() {
		return spec, nil
	}

	var patterns []string
	if strings.HasSuffix(spec, ".json") {
		patterns = []string{filepath.Base(spec)}
	} else {
		patterns = []string{"kernel-" + spec + ".json", "*" + spec + "*.json"}
	}

	for _, pattern := range patterns {
		var matches []string
		for _, dir := range dirs {
			found, err := filepath.Glob(filepath.Join(dir, pattern))
			if err != nil {
				return "", fmt.Errorf("invalid kernel spec %q: %w", spec, err)
			}
			matches = append(matches, found...)
		}
		if len(matches) > 0 {
			return newest(matches), nil
		}
	}

	return "", fmt.Errorf("%w: %q in %s", ErrNoConnectionFile, spec, strings.Join(dirs, ", "))
}

// ConnectionFile describes a discovered connection file.
type ConnectionFile struct {
	Path    string
	ModTime time.Time
}

// ListConnectionFiles returns all kernel-*.json files in dirs, newest first.
func ListConnectionFiles(dirs []string) ([]ConnectionFile, error) {
	var files []ConnectionFile
	for _, dir := range dirs {
		found, err := filepath.Glob(filepath.Join(dir, "kernel-*.json"))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, path := range found {
			fi, err := os.Stat(path)
			if err != nil {
				continue // Removed since the glob
			}
			files = append(files, ConnectionFile{Path: path, ModTime: fi.ModTime()})
		}
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})
	return files, nil
}

// newest returns the most recently modified path.
func newest(paths []string) string {
	best := paths[0]
	var bestTime time.Time
	for _, path := range paths {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if fi.ModTime().After(bestTime) {
			best = path
			bestTime = fi.ModTime()
		}
	}
	return best
}

func dedupe(dirs []string) []string {
	seen := make(map[string]bool, len(dirs))
	result := make([]string, 0, len(dirs))
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		result = append(result, dir)
	}
	return result
}
