package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/tokei-app/tokei/pkg/fsutil"
)

// Store loads and saves the configuration document at Path.
type Store struct {
	// Path is the configuration file location.
	Path string

	// BeforeRename, when set, runs between the temp write and the rename
	// of every Save. Used for fault injection in tests.
	BeforeRename fsutil.Hook
}

// NewStore creates a store for the document at path.
func NewStore(path string) *Store {
	return &Store{Path: path}
}

// Exists reports whether the configuration file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// Load reads the record. It never fails: a missing file yields an empty
// record, and an unreadable or malformed file yields an empty record plus
// a warning describing what went wrong.
func (s *Store) Load() (Record, []string) {
	data, err := fsutil.ReadFileNoBOM(s.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Record{}, nil
		}
		return Record{}, []string{fmt.Sprintf("config %s could not be read, using defaults: %v", s.Path, err)}
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Record{}, []string{fmt.Sprintf("config %s is not valid JSON, using defaults: %v", s.Path, err)}
	}

	m, ok := raw.(map[string]interface{})
	if !ok {
		return Record{}, []string{fmt.Sprintf("config %s must contain a JSON object, using defaults", s.Path)}
	}
	return Record(m), nil
}

// Save replaces the configuration document with rec. The write is atomic:
// the previous file stays intact until the new one is fully on disk.
func (s *Store) Save(rec Record) error {
	data, err := rec.MarshalIndent()
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(s.Path, data, fsutil.WriteOptions{
		Perm:         0o600,
		BeforeRename: s.BeforeRename,
	}); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}
