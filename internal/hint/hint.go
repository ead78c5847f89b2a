// Package hint persists the last-connected device identifier across process
// restarts. The stored value is only a reconnection bias, never
// authoritative: it is written on a successful connect and removed on every
// disconnect path.
package hint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the key-value contract the connection manager persists its
// reconnection hint through.
type Store interface {
	// Load returns the stored device identifier. The ok result is false
	// when no hint is stored.
	Load() (id string, ok bool, err error)
	// Save stores the device identifier, replacing any previous value.
	Save(id string) error
	// Clear removes the stored identifier. Clearing an absent hint is not
	// an error.
	Clear() error
}

// FileStore persists the hint as a single line in a file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a FileStore at path. Parent directories are created
// on first Save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read hint file: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", false, nil
	}
	return id, true, nil
}

func (s *FileStore) Save(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return fmt.Errorf("hint id cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create hint dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(id+"\n"), 0o644); err != nil {
		return fmt.Errorf("write hint file: %w", err)
	}
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove hint file: %w", err)
	}
	return nil
}

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu sync.Mutex
	id string
	ok bool
}

func NewMemStore() *MemStore { return &MemStore{} }

func (s *MemStore) Load() (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.ok, nil
}

func (s *MemStore) Save(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id, s.ok = id, true
	return nil
}

func (s *MemStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id, s.ok = "", false
	return nil
}
