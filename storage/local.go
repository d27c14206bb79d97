package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// LocalBucket stores objects as files under a directory, for local
// development.
type LocalBucket struct {
	logger *slog.Logger
	dir    string
}

// NewLocal creates a bucket rooted at dir.
func NewLocal(dir string, logger *slog.Logger) *LocalBucket {
	return &LocalBucket{dir: dir, logger: logger}
}

func (b *LocalBucket) path(key string) (string, error) {
	if !filepath.IsLocal(filepath.FromSlash(key)) {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(b.dir, filepath.FromSlash(key)), nil
}

// Put implements Bucket. Files are replaced atomically.
func (b *LocalBucket) Put(_ context.Context, key string, data []byte) error {
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		b.discard(tmp)
		return fmt.Errorf("write to local storage: %w", err)
	}
	if err := tmp.Close(); err != nil {
		b.discard(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		b.discard(tmp)
		return fmt.Errorf("rename into place: %w", err)
	}

	b.logger.Debug("Object saved to local storage", "path", p, "bytes", len(data))
	return nil
}

func (b *LocalBucket) discard(f *os.File) {
	_ = f.Close()
	if err := os.Remove(f.Name()); err != nil {
		b.logger.Warn("Failed to remove temp file", "path", f.Name(), "error", err)
	}
}

// Get implements Bucket. The ETag is derived from the file content.
func (b *LocalBucket) Get(_ context.Context, key string) (*Object, error) {
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read from local storage: %w", err)
	}
	info, err := os.Stat(p)
	if err != nil {
		return nil, fmt.Errorf("stat local object: %w", err)
	}
	sum := sha256.Sum256(data)
	return &Object{
		Data:         data,
		ETag:         hex.EncodeToString(sum[:16]),
		LastModified: info.ModTime().UTC(),
	}, nil
}
