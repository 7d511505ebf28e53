package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
)

var (
	ErrRecordNotFound = errors.New("file record not found")
	ErrRecordExists   = errors.New("file record already exists")
	ErrBlobNotFound   = errors.New("blob not found")
	ErrInvalidKey     = errors.New("invalid blob key")
)

// BlobInfo describes one physical blob.
type BlobInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Blob is an open, seekable blob. The caller must Close it.
type Blob struct {
	io.ReadSeekCloser
	Size    int64
	ModTime time.Time
}

// BlobStore keeps raw bytes under a storage key.
type BlobStore interface {
	// Put stores everything read from r under key and returns the byte count.
	// The bytes are durable once Put returns nil.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, key string) (*Blob, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. A missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Walk calls fn for every physical blob, including abandoned partial writes.
	Walk(ctx context.Context, fn func(BlobInfo) error) error
	Ping(ctx context.Context) error
}

// ExpiryCursor marks the last record of a ListExpired page.
type ExpiryCursor struct {
	ExpiresAt time.Time
	ID        string
}

// CursorAfter returns the cursor positioned after rec.
func CursorAfter(rec *models.FileRecord) *ExpiryCursor {
	if rec == nil || rec.ExpiresAt == nil {
		return nil
	}
	return &ExpiryCursor{ExpiresAt: *rec.ExpiresAt, ID: rec.ID}
}

// MetadataStore persists one FileRecord per blob. Every method is atomic on
// its own; callers compose them without a surrounding transaction.
type MetadataStore interface {
	Insert(ctx context.Context, rec *models.FileRecord) error
	Get(ctx context.Context, id string) (*models.FileRecord, error)
	IncrementDownloadCount(ctx context.Context, id string) (int64, error)
	Delete(ctx context.Context, id string) (bool, error)
	// ListExpired returns up to limit records with expires_at <= now,
	// ordered by (expires_at, id) and strictly after the cursor when one is given.
	ListExpired(ctx context.Context, now time.Time, after *ExpiryCursor, limit int) ([]*models.FileRecord, error)
	// List returns up to limit records ordered by id, strictly after afterID.
	List(ctx context.Context, afterID string, limit int) ([]*models.FileRecord, error)
	HasStoragePath(ctx context.Context, key string) (bool, error)
	Stats(ctx context.Context, now time.Time) (models.Stats, error)
	Ping(ctx context.Context) error
	Close() error
}
