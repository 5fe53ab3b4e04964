// Package artifact manages the on-disk directory of encoded audio artifacts.
// Records reference artifacts by plain file name; this package owns the
// mapping from names to absolute paths and all file I/O under the root.
package artifact

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// DefaultExt is the extension given to artifacts recorded on this device.
const DefaultExt = ".m4a"

// Dir is the audio artifact directory rooted at a single local path.
type Dir struct {
	root string
}

// NewDir creates (if needed) and opens the artifact directory.
func NewDir(root string) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("artifact: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}
	return &Dir{root: abs}, nil
}

// Root returns the absolute artifact directory path.
func (d *Dir) Root() string { return d.root }

// NewName returns a fresh, unique artifact file name.
func NewName() string {
	return uuid.New().String() + DefaultExt
}

// safeName validates that name is a plain file name (no separators, no
// traversal) and returns its absolute path under the root.
func (d *Dir) safeName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("artifact: name is required")
	}
	cleaned := filepath.Clean(name)
	if cleaned != filepath.Base(cleaned) || strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("artifact: invalid name: %s", name)
	}
	abs := filepath.Join(d.root, cleaned)
	if !strings.HasPrefix(abs, d.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("artifact: name escapes root: %s", name)
	}
	return abs, nil
}

// Path resolves name to an absolute path without touching the file.
func (d *Dir) Path(name string) (string, error) {
	return d.safeName(name)
}

// Exists reports whether the named artifact is present on disk.
func (d *Dir) Exists(name string) bool {
	abs, err := d.safeName(name)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// Read returns the raw bytes of the named artifact.
func (d *Dir) Read(name string) ([]byte, error) {
	abs, err := d.safeName(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("artifact: read %s: %w", name, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (d *Dir) Write(name string, content []byte) error {
	abs, err := d.safeName(name)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(d.root, ".vb-tmp-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("artifact: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("artifact: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("artifact: rename: %w", err)
	}
	success = true
	return nil
}

// Delete removes the named artifact from disk.
func (d *Dir) Delete(name string) error {
	abs, err := d.safeName(name)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("artifact: delete %s: %w", name, err)
	}
	return nil
}

// MoveIn moves an externally written file (a completed transfer spool or an
// ingest drop) into the artifact directory under name. Falls back to
// copy+remove when src is on a different filesystem.
func (d *Dir) MoveIn(src, name string) error {
	abs, err := d.safeName(name)
	if err != nil {
		return err
	}
	if err := os.Rename(src, abs); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("artifact: move in %s: %w", name, err)
	}
	if err := d.Write(name, data); err != nil {
		return err
	}
	return os.Remove(src)
}

// SpoolDir returns a directory for in-flight transfer spools, created on
// first use. Spool files live outside the artifact names so a half-written
// transfer is never mistaken for a playable artifact.
func (d *Dir) SpoolDir() (string, error) {
	spool := filepath.Join(d.root, ".spool")
	if err := os.MkdirAll(spool, 0o755); err != nil {
		return "", fmt.Errorf("artifact: create spool dir: %w", err)
	}
	return spool, nil
}
