package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore holds document bytes as flat files under one directory.
// The queue service only ever deletes; uploads land here through the
// separate upload path.
type DiskStore struct {
	baseDir string
}

func NewDiskStore(baseDir string) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create documents dir: %w", err)
	}
	return &DiskStore{baseDir: baseDir}, nil
}

// Remove deletes the stored bytes for a key. A key that is already gone
// is not an error; purge must be idempotent.
func (s *DiskStore) Remove(storageKey string) error {
	path, err := s.resolve(storageKey)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove document %s: %w", storageKey, err)
	}
	return nil
}

// resolve rejects keys that escape the base directory.
func (s *DiskStore) resolve(storageKey string) (string, error) {
	clean := filepath.Clean(storageKey)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid storage key: %s", storageKey)
	}
	return filepath.Join(s.baseDir, clean), nil
}
