package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// snapshotFilePermissions is the mode of the written snapshot file.
const snapshotFilePermissions = 0644

// FileStore persists controllers as a JSON object keyed by name:
//
//	{"controller 1": {"temperature": 23.4417, "level": 61.02, "enabled": true}}
//
// Values are written at full precision so a load reproduces them exactly.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store backed by the file at path.
// The file need not exist yet.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the snapshot file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the snapshot file. A missing or empty file yields an empty map.
func (s *FileStore) Load(_ context.Context) (map[string]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]State{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]State{}, nil
	}

	states := make(map[string]State)
	if err := json.Unmarshal(data, &states); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, s.path, err)
	}
	if err := validateLoaded(states); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return states, nil
}

// Save replaces the snapshot file. The new content is written to a temporary
// file in the same directory and renamed over the old one, so a crash leaves
// either the old or the new snapshot on disk.
func (s *FileStore) Save(_ context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap.States(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // No-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("writing snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("syncing snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Chmod(tmpName, snapshotFilePermissions); err != nil {
		return fmt.Errorf("setting snapshot permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing %s: %w", s.path, err)
	}
	return nil
}

// MoveAside renames the snapshot file to <path>.corrupt-<UTC timestamp> so
// the next Save starts a fresh file without destroying the old one. It
// returns the new location.
func (s *FileStore) MoveAside() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dest := s.path + ".corrupt-" + time.Now().UTC().Format("20060102T150405.000000000Z")
	if err := os.Rename(s.path, dest); err != nil {
		return "", fmt.Errorf("moving %s aside: %w", s.path, err)
	}
	return dest, nil
}
