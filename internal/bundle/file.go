package bundle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore persists the bundle as a JSON file. Saves are atomic: the new
// contents are written to a temp file in the same directory and renamed
// over the old file, so a crash mid-write never corrupts the store.
type FileStore struct {
	path string
}

var _ Persistence = (*FileStore)(nil)

// NewFileStore creates a file-backed persistence rooted at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the store file. A missing file yields an empty store.
func (f *FileStore) Load(_ context.Context) (*Store, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewStore(), nil
		}
		return nil, fmt.Errorf("reading store file: %w", err)
	}
	s, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("store file %s: %w", f.path, err)
	}
	return s, nil
}

// Save writes the full store back via temp-file-then-rename.
func (f *FileStore) Save(_ context.Context, s *Store) error {
	data, err := Marshal(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bundle-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("setting store permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("replacing store file: %w", err)
	}
	success = true
	return nil
}
