// Package fsutil holds the small filesystem primitives the rest of tokei
// relies on for crash safety: replace-on-write, BOM-tolerant reads and
// modification-time probes.
package fsutil

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// utf8BOM is the byte-order marker some Windows editors prepend to JSON files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Hook is invoked between the temp-file write and the rename. Tests use it
// to simulate a crash at the worst possible moment.
type Hook func(tmpPath, destPath string) error

// WriteOptions tunes WriteFileAtomic.
type WriteOptions struct {
	// Perm is the mode of the final file (default 0644).
	Perm fs.FileMode

	// BeforeRename runs after the temp file is synced and closed.
	BeforeRename Hook
}

// WriteFileAtomic writes data to a temporary file in the destination's
// directory, syncs it and renames it over path. Readers observe either the
// old contents or the new contents, never a truncated file.
func WriteFileAtomic(path string, data []byte, opts WriteOptions) error {
	if opts.Perm == 0 {
		opts.Perm = 0o644
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	// Best effort cleanup if anything below fails.
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, opts.Perm); err != nil {
		return fmt.Errorf("failed to chmod temp file %s: %w", tmpPath, err)
	}

	if opts.BeforeRename != nil {
		if err := opts.BeforeRename(tmpPath, path); err != nil {
			return err
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	committed = true

	syncDir(dir)
	return nil
}

// MoveFile renames src over dst, creating dst's directory if needed.
// Both paths must be on the same filesystem for the move to be atomic.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move %s to %s: %w", src, dst, err)
	}
	syncDir(filepath.Dir(dst))
	return nil
}

// syncDir flushes a directory entry so a completed rename survives power loss.
// Not every platform supports it; failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// StripBOM removes a leading UTF-8 byte-order marker.
func StripBOM(data []byte) []byte {
	return bytes.TrimPrefix(data, utf8BOM)
}

// ReadFileNoBOM reads a file and strips a leading byte-order marker.
func ReadFileNoBOM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return StripBOM(data), nil
}

// ModTime returns the modification time of path and whether it exists.
// Any stat error other than "not exist" is reported as not existing with
// the error attached.
func ModTime(path string) (time.Time, bool, error) {
	if path == "" {
		return time.Time{}, false, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return info.ModTime(), true, nil
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
