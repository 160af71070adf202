package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"quill/lib/apperror"
)

// filesystemStore lays objects out under a root directory, one file per
// key. Content types are not persisted; every object we store is HTML.
type filesystemStore struct {
	root string
}

// NewFilesystemStore creates the root directory if needed. A root that
// cannot be created is a startup failure, not a per-request one.
func NewFilesystemStore(root string) (Store, error) {
	if root == "" {
		return nil, fmt.Errorf("blob root is empty: %w", apperror.ErrStorageUnavailable)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob root %s: %v: %w", root, err, apperror.ErrStorageUnavailable)
	}
	return &filesystemStore{root: root}, nil
}

func (s *filesystemStore) path(key string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("bad blob key %q", key)
	}
	return filepath.Join(s.root, cleaned), nil
}

func (s *filesystemStore) Put(ctx context.Context, key string, data []byte, contentType string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *filesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s: %w", key, apperror.ErrNotFound)
	}
	return data, err
}

func (s *filesystemStore) Delete(ctx context.Context, key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
