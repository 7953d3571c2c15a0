package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidPath is returned for storage paths that escape the base directory.
var ErrInvalidPath = errors.New("invalid storage path")

// FileStore persists attachment bytes.
type FileStore interface {
	// Save writes r under prefix and returns the relative storage path.
	Save(r io.Reader, originalName, prefix string) (string, error)
	Open(path string) (io.ReadCloser, error)
	Delete(path string) error
}

// LocalFileStore keeps files on local disk, partitioned by prefix and date.
type LocalFileStore struct {
	basePath string
	now      func() time.Time
}

// NewLocalFileStore creates the base directory when missing.
func NewLocalFileStore(basePath string) (*LocalFileStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalFileStore{basePath: basePath, now: time.Now}, nil
}

func (s *LocalFileStore) Save(r io.Reader, originalName, prefix string) (string, error) {
	now := s.now()
	ext := strings.ToLower(filepath.Ext(originalName))
	name := fmt.Sprintf("%s-%s%s", now.Format("2006-01-02"), uuid.NewString(), ext)
	dir := filepath.Join(prefix, now.Format("2006/01/02"))

	full, err := s.resolve(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return "", err
	}

	dst, err := os.Create(filepath.Join(full, name))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		_ = os.Remove(dst.Name())
		return "", err
	}
	if err := dst.Close(); err != nil {
		return "", err
	}
	return filepath.ToSlash(filepath.Join(dir, name)), nil
}

func (s *LocalFileStore) Open(path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.Open(full)
}

// Delete removes the file. A file that is already gone is not an error.
func (s *LocalFileStore) Delete(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalFileStore) resolve(rel string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return filepath.Join(s.basePath, cleaned), nil
}
