// Package blob downloads original documents from object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrStorage wraps every download failure.
var ErrStorage = errors.New("storage error")

// FileStore serves documents from a local directory tree.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrStorage, abs)
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) Download(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrStorage, path, err)
	}
	return data, nil
}

// resolve maps a storage path into the root. Paths that climb out of it are
// rejected.
func (s *FileStore) resolve(path string) (string, error) {
	clean := filepath.Clean("/" + filepath.FromSlash(strings.TrimSpace(path)))
	if clean == string(filepath.Separator) {
		return "", fmt.Errorf("%w: empty path", ErrStorage)
	}
	full := filepath.Join(s.root, clean)
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q escapes storage root", ErrStorage, path)
	}
	return full, nil
}
