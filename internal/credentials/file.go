package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore persists the credential as a JSON file readable only by the owner.
type FileStore struct {
	path  string
	cache *MemoryStore
}

// OpenFileStore loads the credential saved at path, if any.
// A missing file yields an empty store.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, cache: NewMemoryStore()}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}

	var cred Credential
	if err := json.Unmarshal(data, &cred); err != nil {
		return nil, fmt.Errorf("failed to decode credential file: %w", err)
	}
	_ = s.cache.Set(cred)
	return s, nil
}

// Get implements Store.
func (s *FileStore) Get() (Credential, bool) {
	return s.cache.Get()
}

// Set implements Store.
func (s *FileStore) Set(cred Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("failed to create credential dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write credential file: %w", err)
	}
	return s.cache.Set(cred)
}

// Clear implements Store. The cached credential is dropped even when the
// file cannot be removed.
func (s *FileStore) Clear() error {
	_ = s.cache.Clear()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove credential file: %w", err)
	}
	return nil
}
