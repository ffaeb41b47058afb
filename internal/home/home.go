// Package home manages the tcpline home directory.
//
// Layout:
//
//	<root>/
//	  tcpline.yaml   (driver config, used when --config is not given)
//	  machine_id     (stable machine id stamped on telemetry)
package home

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Dir is a tcpline home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir in the platform config directory:
//   - Linux:   ~/.config/tcpline
//   - macOS:   ~/Library/Application Support/tcpline
//   - Windows: %APPDATA%/tcpline
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "tcpline")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the default driver config file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "tcpline.yaml")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}

// MachineID reads the persistent machine id from <root>/machine_id. If the
// file doesn't exist, a new UUIDv7 is generated and written, so the id is
// stable across runs.
func (d Dir) MachineID() (string, error) {
	return d.readOrCreate("machine_id", func() string {
		return uuid.Must(uuid.NewV7()).String()
	})
}

// readOrCreate reads a single-line value from <root>/<filename>.
// If the file doesn't exist, generate() provides the default which is persisted.
func (d Dir) readOrCreate(filename string, generate func() string) (string, error) {
	p := filepath.Join(d.root, filename)
	data, err := os.ReadFile(p) //nolint:gosec // G304: path is the home dir plus a constant filename
	if err == nil {
		if v := strings.TrimSpace(string(data)); v != "" {
			return v, nil
		}
	}
	v := generate()
	if err := os.WriteFile(p, []byte(v+"\n"), 0o640); err != nil { //nolint:gosec // G306: machine id is not secret
		return "", fmt.Errorf("write %s: %w", filename, err)
	}
	return v, nil
}
