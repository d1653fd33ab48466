package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const backendFile = "file"

// FileLedger stores the marker as a JSON sentinel on instance-local storage.
// It offers no cross-instance locking.
type FileLedger struct {
	path string
}

// NewFileLedger creates the parent directory of path if needed.
func NewFileLedger(path string) (*FileLedger, error) {
	if path == "" {
		return nil, errors.New("ledger path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, Unavailable(backendFile, "init", fmt.Errorf("failed to create ledger directory: %w", err))
	}
	return &FileLedger{path: path}, nil
}

// Path returns the sentinel location.
func (l *FileLedger) Path() string { return l.path }

func (l *FileLedger) IsComplete(ctx context.Context) (bool, error) {
	_, err := os.Stat(l.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, Unavailable(backendFile, "read", err)
	}
}

func (l *FileLedger) Inspect(ctx context.Context) (Marker, bool, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Marker{}, false, nil
		}
		return Marker{}, false, Unavailable(backendFile, "read", err)
	}

	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		// A sentinel from an older release may be empty; its presence is what counts.
		return Marker{}, true, nil
	}
	return m, true, nil
}

// MarkComplete writes to a temp file, syncs it and renames it into place so a
// crash never leaves a partial marker behind.
func (l *FileLedger) MarkComplete(ctx context.Context, m Marker) error {
	if done, err := l.IsComplete(ctx); err != nil {
		return err
	} else if done {
		return nil
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return Unavailable(backendFile, "write", fmt.Errorf("failed to marshal marker: %w", err))
	}

	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".bootgate-ledger-*")
	if err != nil {
		return Unavailable(backendFile, "write", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return Unavailable(backendFile, "write", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Unavailable(backendFile, "write", err)
	}
	if err := tmp.Close(); err != nil {
		return Unavailable(backendFile, "write", err)
	}
	if err := os.Rename(tmpName, l.path); err != nil {
		return Unavailable(backendFile, "write", err)
	}

	return syncDir(dir)
}

func (l *FileLedger) Reset(ctx context.Context) error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Unavailable(backendFile, "reset", err)
	}
	return nil
}

// syncDir persists the rename itself.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return Unavailable(backendFile, "write", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return Unavailable(backendFile, "write", err)
	}
	return nil
}
