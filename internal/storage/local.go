// Package storage persists uploaded report files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// BlobStore saves opaque file content and returns a locator for it.
type BlobStore interface {
	Save(ctx context.Context, originalName string, r io.Reader) (string, error)
	Delete(ctx context.Context, locator string) error
}

// LocalStore writes blobs under a directory using random names. Locators
// take the form "<prefix>/<name>".
type LocalStore struct {
	dir    string
	prefix string
}

func NewLocalStore(dir, prefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	if prefix == "" {
		prefix = "uploads"
	}
	return &LocalStore{dir: dir, prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (s *LocalStore) Save(ctx context.Context, originalName string, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	name := uuid.New().String() + ext

	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to close file: %w", err)
	}

	return path.Join(s.prefix, name), nil
}

func (s *LocalStore) Delete(ctx context.Context, locator string) error {
	name := path.Base(locator)
	if name == "." || name == "/" || !strings.HasPrefix(locator, s.prefix+"/") {
		return fmt.Errorf("invalid locator %q", locator)
	}

	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}
