package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	dirPermissions  = 0755
	filePermissions = 0644
)

// FileWriter writes exports into the public www directory.
type FileWriter struct {
	Dir string
}

// ValidateFilename rejects names that would escape the output directory.
func ValidateFilename(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: filename is required", ErrConfiguration)
	case name == "." || name == "..":
		return fmt.Errorf("%w: invalid filename %q", ErrConfiguration, name)
	case strings.ContainsAny(name, `/\`) || filepath.Base(name) != name:
		return fmt.Errorf("%w: filename %q must not contain a path", ErrConfiguration, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: filename %q must not be hidden", ErrConfiguration, name)
	}
	return nil
}

// Path returns where name would be written.
func (w *FileWriter) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// WriteFile stores data as name, creating the directory when missing.
// The data goes to a temporary file in the same directory first and is
// renamed into place, so readers never see a partial export.
func (w *FileWriter) WriteFile(name string, data []byte) (string, error) {
	if err := ValidateFilename(name); err != nil {
		return "", err
	}
	if w.Dir == "" {
		return "", fmt.Errorf("%w: output directory is not configured", ErrConfiguration)
	}
	if err := os.MkdirAll(w.Dir, dirPermissions); err != nil {
		return "", fmt.Errorf("%w: creating %s: %w", ErrIO, w.Dir, err)
	}

	tmp, err := os.CreateTemp(w.Dir, "."+name+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%w: creating temp file: %w", ErrIO, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()        //nolint:errcheck // Already failing
			os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return "", fmt.Errorf("%w: writing %s: %w", ErrIO, name, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("%w: syncing %s: %w", ErrIO, name, err)
	}
	if err := tmp.Chmod(filePermissions); err != nil {
		return "", fmt.Errorf("%w: chmod %s: %w", ErrIO, name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("%w: closing %s: %w", ErrIO, name, err)
	}

	path := w.Path(name)
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck // Best effort cleanup
		committed = true
		return "", fmt.Errorf("%w: renaming into %s: %w", ErrIO, path, err)
	}
	committed = true
	return path, nil
}

// ReadFile returns the contents of a previously written export.
func (w *FileWriter) ReadFile(name string) ([]byte, error) {
	if err := ValidateFilename(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(w.Path(name))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %w", ErrIO, name, err)
	}
	return data, nil
}
