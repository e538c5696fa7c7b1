// Package local stores downloaded and derived artifacts under the output directory.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/preprint-crawler/internal/hash/sha256"
)

// Config captures the parameters for the local artifact store.
type Config struct {
	// BaseDir is the root directory artifacts are written under.
	BaseDir string `mapstructure:"base_dir"`
}

// Artifact describes a stored file.
type Artifact struct {
	Path   string
	SHA256 string
	Size   int64
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
}

// New creates a local store, creating BaseDir when missing.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	testFile := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(testFile); err != nil {
		return nil, fmt.Errorf("failed to clean up test file: %w", err)
	}

	return &BlobStore{baseDir: cfg.BaseDir}, nil
}

// BaseDir returns the store root.
func (s *BlobStore) BaseDir() string {
	return s.baseDir
}

// Resolve maps a relative artifact path to its location on disk, rejecting
// paths that escape the base directory.
func (s *BlobStore) Resolve(rel string) (string, error) {
	if strings.TrimSpace(rel) == "" {
		return "", fmt.Errorf("path is required")
	}
	cleanBase := filepath.Clean(s.baseDir)
	full := filepath.Clean(filepath.Join(cleanBase, rel))
	if !strings.HasPrefix(full, cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// Put streams r to rel. Content is written to a temporary sibling and renamed
// into place so readers never observe a partial file.
func (s *BlobStore) Put(ctx context.Context, rel string, r io.Reader) (Artifact, error) {
	full, err := s.Resolve(rel)
	if err != nil {
		return Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return Artifact{}, fmt.Errorf("failed to create parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = os.Remove(tmpName)
	}()

	digest := sha256.NewDigest()
	n, copyErr := io.Copy(io.MultiWriter(tmp, digest), r)
	closeErr := tmp.Close()
	if copyErr != nil {
		return Artifact{}, fmt.Errorf("write %s: %w", rel, copyErr)
	}
	if closeErr != nil {
		return Artifact{}, fmt.Errorf("close %s: %w", rel, closeErr)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return Artifact{}, fmt.Errorf("rename %s: %w", rel, err)
	}
	return Artifact{Path: full, SHA256: digest.Sum(), Size: n}, nil
}

// PutString stores text content at rel.
func (s *BlobStore) PutString(ctx context.Context, rel, content string) (Artifact, error) {
	return s.Put(ctx, rel, strings.NewReader(content))
}
