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
	"github.com/spf13/afero"
)

const tempDirName = ".tmp"

// LocalBlobStore keeps blobs as flat files under a root directory.
type LocalBlobStore struct {
	fs   afero.Fs
	root string
}

// NewLocalBlobStore creates root (and its temp dir) on fs if needed.
func NewLocalBlobStore(fs afero.Fs, root string) (*LocalBlobStore, error) {
	root = filepath.Clean(root)
	if err := fs.MkdirAll(filepath.Join(root, tempDirName), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload directory %s: %w", root, err)
	}
	return &LocalBlobStore{fs: fs, root: root}, nil
}

func (l *LocalBlobStore) Put(ctx context.Context, key string, r io.Reader, _ string) (int64, error) {
	full, err := l.fullPath(key)
	if err != nil {
		return 0, err
	}

	tmpPath := filepath.Join(l.root, tempDirName, uuid.NewString())
	f, err := l.fs.Create(tmpPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	written, err := io.Copy(f, &contextReader{ctx: ctx, r: r})
	if err != nil {
		_ = f.Close()
		_ = l.fs.Remove(tmpPath)
		return written, fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = l.fs.Remove(tmpPath)
		return written, fmt.Errorf("failed to sync blob %s: %w", key, err)
	}
	if err := f.Close(); err != nil {
		_ = l.fs.Remove(tmpPath)
		return written, fmt.Errorf("failed to close blob %s: %w", key, err)
	}

	if err := l.fs.Rename(tmpPath, full); err != nil {
		_ = l.fs.Remove(tmpPath)
		return written, fmt.Errorf("failed to commit blob %s: %w", key, err)
	}
	return written, nil
}

func (l *LocalBlobStore) Open(_ context.Context, key string) (*Blob, error) {
	full, err := l.fullPath(key)
	if err != nil {
		return nil, err
	}

	f, err := l.fs.Open(full)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("blob %q: %w", key, ErrBlobNotFound)
		}
		return nil, fmt.Errorf("failed to open blob %q: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat blob %q: %w", key, err)
	}
	return &Blob{ReadSeekCloser: f, Size: info.Size(), ModTime: info.ModTime()}, nil
}

func (l *LocalBlobStore) Exists(_ context.Context, key string) (bool, error) {
	full, err := l.fullPath(key)
	if err != nil {
		return false, err
	}
	return afero.Exists(l.fs, full)
}

func (l *LocalBlobStore) Delete(_ context.Context, key string) error {
	full, err := l.fullPath(key)
	if err != nil {
		return err
	}
	if err := l.fs.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// Walk reports committed blobs by key and temp files as ".tmp/<name>".
func (l *LocalBlobStore) Walk(ctx context.Context, fn func(BlobInfo) error) error {
	return afero.Walk(l.fs, l.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		return fn(BlobInfo{Key: filepath.ToSlash(rel), Size: info.Size(), ModTime: info.ModTime()})
	})
}

func (l *LocalBlobStore) Ping(_ context.Context) error {
	_, err := l.fs.Stat(l.root)
	return err
}

// fullPath maps a key to a file under root. Keys are single path elements,
// except temp files which are addressed as ".tmp/<name>".
func (l *LocalBlobStore) fullPath(key string) (string, error) {
	if key == "" || strings.Contains(key, "\x00") || strings.Contains(key, "\\") {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	dir, name := path.Split(key)
	if name == "" || name == "." || name == ".." || (dir != "" && dir != tempDirName+"/") {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	if dir == "" && name == tempDirName {
		return "", fmt.Errorf("%q: %w", key, ErrInvalidKey)
	}
	return filepath.Join(l.root, filepath.FromSlash(key)), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
