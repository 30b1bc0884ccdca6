package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps the snapshot in one indented JSON document.
//
// Saves write a temporary file next to the target, sync it and rename it over
// the target, so readers only ever see a complete document.
type FileStore struct {
	path   string
	logger Logger

	mu     sync.Mutex
	closed bool
}

// NewFileStore opens (creating if needed) the JSON document at path.
//
// The parent directory is created and an empty document "{}" is written when
// the file does not exist.
func NewFileStore(path string, logger Logger) (*FileStore, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating state directory: %w", err)
		}
	}

	s := &FileStore{path: path, logger: logger}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := s.saveLocked(Snapshot{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the document location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) LoadAll(_ context.Context) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *FileStore) SaveAll(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.saveLocked(snap)
}

func (s *FileStore) Mutate(_ context.Context, fn func(Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	snap := s.loadLocked()
	if err := fn(snap); err != nil {
		return err
	}
	return s.saveLocked(snap)
}

// Close waits for any in-flight operation and rejects further writes.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) loadLocked() Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("reading state file", "path", s.path, "error", err)
		}
		return Snapshot{}
	}
	if len(data) == 0 {
		return Snapshot{}
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		s.logger.Warn("state file is not a JSON object, starting empty", "path", s.path, "error", err)
		return Snapshot{}
	}
	return decodeSnapshot(raw, s.logger)
}

func (s *FileStore) saveLocked(snap Snapshot) error {
	if snap == nil {
		snap = Snapshot{}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // already renamed on success

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing state: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("setting state permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}
