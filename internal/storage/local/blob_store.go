// Package local implements a local filesystem blob store for crawl artifacts.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root directory where artifacts will be stored.
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a new local filesystem-backed blob store, creating BaseDir if
// needed and verifying it is writable.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	baseDir, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}

	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe, err := os.CreateTemp(baseDir, ".writable_test")
	if err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: baseDir}, nil
}

// PutObject writes data under BaseDir and returns a file:// URI. The file is
// staged next to its destination and renamed into place, so readers never
// observe a partial artifact.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(path)))
	if !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(fullPath)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to stage file: %w", err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close staged file: %w", err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to move file into place: %w", err)
	}

	return fmt.Sprintf("file://%s", fullPath), nil
}
