// Package runlock guarantees at most one tokei run per data root. The lock
// is a file created exclusively under the state directory and holding the
// owner's PID; a lock left by a process that no longer exists is reclaimed.
package runlock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// FileName is the lock file name under the state directory.
const FileName = "run.lock"

// ErrLocked is returned when another live process holds the lock.
var ErrLocked = errors.New("another tokei run is in progress")

// Owner describes the process holding the lock.
type Owner struct {
	PID       int       `json:"pid"`
	RunID     string    `json:"run_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// Lock is a held run lock.
type Lock struct {
	path  string
	owner Owner
}

// alive reports whether a process exists. Replaced in tests.
var alive = processAlive

// Acquire takes the lock at path for runID. It fails with ErrLocked when
// a live process holds it.
func Acquire(path, runID string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	owner := Owner{PID: os.Getpid(), RunID: runID, StartedAt: time.Now().UTC()}
	data, err := json.Marshal(owner)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			return &Lock{path: path, owner: owner}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		holder, rerr := ReadOwner(path)
		if rerr == nil && holder.PID > 0 && holder.PID != os.Getpid() && alive(holder.PID) {
			return nil, fmt.Errorf("%w (pid %d, started %s)", ErrLocked, holder.PID, holder.StartedAt.Format(time.RFC3339))
		}
		if rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
			// Unreadable lock: only reclaim once it is clearly abandoned.
			if info, serr := os.Stat(path); serr == nil && time.Since(info.ModTime()) < time.Minute {
				return nil, fmt.Errorf("%w (lock file %s is unreadable)", ErrLocked, path)
			}
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w (lock contended)", ErrLocked)
}

// ReadOwner reads the lock file at path.
func ReadOwner(path string) (Owner, error) {
	var o Owner
	data, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("invalid lock file: %w", err)
	}
	return o, nil
}

// Owner returns who holds l.
func (l *Lock) Owner() Owner {
	return l.owner
}

// Release removes the lock if this process still owns it.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	holder, err := ReadOwner(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if holder.PID != l.owner.PID || holder.RunID != l.owner.RunID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
