// Package local archives pages below a directory on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Config captures the parameters for the local filesystem blob store.
type Config struct {
	// BaseDir is the root of the archive; it is created when missing.
	BaseDir string
}

// BlobStore writes objects as files below a base directory.
type BlobStore struct {
	root string
}

// New prepares the base directory and probes that it accepts writes.
func New(cfg Config) (*BlobStore, error) {
	root := strings.TrimSpace(cfg.BaseDir)
	if root == "" {
		return nil, errors.New("local archive: base directory is required")
	}
	root = filepath.Clean(root)
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("local archive: %s is not a directory", root)
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("local archive: create %s: %w", root, err)
	}

	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("local archive: %s is not writable: %w", root, err)
	}
	_ = probe.Close()
	if err := os.Remove(probe.Name()); err != nil {
		return nil, fmt.Errorf("local archive: remove probe: %w", err)
	}
	return &BlobStore{root: root}, nil
}

// PutObject streams data into <root>/<name> and returns a file:// URI. The
// file is renamed into place so readers never observe a partial page. The
// content type is not recorded.
func (s *BlobStore) PutObject(ctx context.Context, name string, _ string, data io.Reader) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("local archive: object name is required")
	}
	if !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("local archive: path traversal in %q", name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	target := filepath.Join(s.root, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return "", fmt.Errorf("local archive: create parent: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return "", fmt.Errorf("local archive: create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("local archive: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("local archive: write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", fmt.Errorf("local archive: commit %s: %w", name, err)
	}
	return "file://" + target, nil
}
