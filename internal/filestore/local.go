package filestore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gutorka/internal/models"

	"github.com/google/uuid"
)

// LocalFileStore implements FileStore using the local filesystem.
// Handles are relative paths sharded by the first two characters of a
// generated id, e.g. "ab/abc123...pdf".
type LocalFileStore struct {
	root string
}

func NewLocalFileStore(root string) (*LocalFileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalFileStore{root: root}, nil
}

func (s *LocalFileStore) path(handle string) (string, error) {
	// Handles are generated here, but never trust them on the way back in.
	clean := filepath.Clean(handle)
	if strings.Contains(clean, "..") || filepath.IsAbs(clean) {
		return "", fmt.Errorf("invalid handle %q", handle)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *LocalFileStore) Save(r io.Reader, fileName string) (string, int64, error) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	handle := filepath.Join(id[:2], id+strings.ToLower(filepath.Ext(fileName)))

	path, err := s.path(handle)
	if err != nil {
		return "", 0, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", 0, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	// Write to temporary file first
	tmp, err := os.CreateTemp(dir, "upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name()) // Clean up if rename fails
	}()

	size, err := io.Copy(tmp, r)
	if err != nil {
		return "", 0, fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	// Atomically rename
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, fmt.Errorf("failed to rename file: %w", err)
	}

	return handle, size, nil
}

func (s *LocalFileStore) Open(handle string) (io.ReadCloser, error) {
	path, err := s.path(handle)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, handle)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", handle, err)
	}
	return f, nil
}

func (s *LocalFileStore) Delete(handle string) error {
	path, err := s.path(handle)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", models.ErrNotFound, handle)
	}
	return err
}
