package producer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tokei-app/tokei/pkg/fsutil"
)

// PollInterval is how often an artifact is re-checked while waiting.
const PollInterval = 250 * time.Millisecond

// ErrNotUpdated means the artifact did not advance before the deadline.
var ErrNotUpdated = errors.New("export did not update")

// ArtifactState is what a producer artifact looks like on disk.
type ArtifactState struct {
	Path    string
	Exists  bool
	ModTime time.Time
}

// ProbeArtifact stats the artifact at path. An empty path or a missing
// file is not an error.
func ProbeArtifact(path string) (ArtifactState, error) {
	mt, ok, err := fsutil.ModTime(path)
	if err != nil {
		return ArtifactState{Path: path}, fmt.Errorf("failed to stat artifact %s: %w", path, err)
	}
	return ArtifactState{Path: path, Exists: ok, ModTime: mt}, nil
}

// Age returns how old the artifact is at now. Missing artifacts have no age.
func (a ArtifactState) Age(now time.Time) (time.Duration, bool) {
	if !a.Exists {
		return 0, false
	}
	return now.Sub(a.ModTime), true
}

// UpdatedSince reports whether the artifact was written after before.
func (a ArtifactState) UpdatedSince(before ArtifactState) bool {
	if !a.Exists {
		return false
	}
	return !before.Exists || a.ModTime.After(before.ModTime)
}

// WaitForUpdate blocks until the artifact at path is newer than before or
// timeout elapses. It polls every PollInterval and also wakes on
// filesystem events in the artifact's directory.
func WaitForUpdate(ctx context.Context, path string, before ArtifactState, timeout time.Duration) error {
	if path == "" {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		// The directory may not exist yet; polling still covers that case.
		if w.Add(filepath.Dir(path)) == nil {
			events, errs = w.Events, w.Errors
		}
	}

	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		state, err := ProbeArtifact(path)
		if err != nil {
			return err
		}
		if state.UpdatedSince(before) {
			return nil
		}

		select {
		case <-waitCtx.Done():
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w at %s within %s", ErrNotUpdated, path, timeout)
		case <-ticker.C:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		}
	}
}
