package services

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/metrics"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/storage"
)

const (
	DefaultMaxFileSize       = 25 << 20
	DefaultMaxFilesPerUpload = 10
	DefaultMaxExpiryDays     = 365

	sniffLen = 3072
)

// deniedTypes are refused whether declared by the client or sniffed from content.
var deniedTypes = map[string]bool{
	"application/x-msdownload":                      true,
	"application/x-executable":                      true,
	"application/x-msdos-program":                   true,
	"application/x-sh":                              true,
	"application/x-shellscript":                     true,
	"application/vnd.microsoft.portable-executable": true,
	"application/x-elf":                             true,
	"text/x-shellscript":                            true,
}

// Limits bound what a single upload call may store.
type Limits struct {
	MaxFileSize       int64
	MaxFilesPerUpload int
	MaxExpiryDays     int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFileSize:       DefaultMaxFileSize,
		MaxFilesPerUpload: DefaultMaxFilesPerUpload,
		MaxExpiryDays:     DefaultMaxExpiryDays,
	}
}

// UploadCandidate is one file offered in a batch. Open is called at most once.
type UploadCandidate struct {
	Name     string
	Size     int64 // declared size, negative when unknown
	MimeType string
	Open     func() (io.ReadCloser, error)
}

// UploadOptions apply to every file of the batch.
type UploadOptions struct {
	Password      string
	ExpiresInDays *int
	// BaseURL prefixes the returned links, without trailing slash.
	BaseURL string
}

// Rejection explains why a candidate was left out.
type Rejection struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type UploadResult struct {
	Accepted []models.UploadedFile
	Rejected []Rejection
}

// Uploader validates candidates and stores bytes, then records, then links.
type Uploader struct {
	blobs   storage.BlobStore
	meta    storage.MetadataStore
	limits  Limits
	scanner Scanner
	events  Publisher
	clock   Clock
	log     *zap.Logger
}

type UploaderOption func(*Uploader)

// WithScanner enables malware scanning of every stored blob.
func WithScanner(s Scanner) UploaderOption {
	return func(u *Uploader) { u.scanner = s }
}

func WithUploadEvents(p Publisher) UploaderOption {
	return func(u *Uploader) { u.events = p }
}

func WithUploadClock(c Clock) UploaderOption {
	return func(u *Uploader) { u.clock = c }
}

func NewUploader(blobs storage.BlobStore, meta storage.MetadataStore, limits Limits, log *zap.Logger, opts ...UploaderOption) *Uploader {
	u := &Uploader{
		blobs:  blobs,
		meta:   meta,
		limits: limits,
		events: NopPublisher{},
		log:    log,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// errRejected marks a per-file policy rejection, as opposed to a storage fault.
type errRejected struct{ reason string }

func (e *errRejected) Error() string { return e.reason }

func reject(format string, args ...any) error {
	return &errRejected{reason: fmt.Sprintf(format, args...)}
}

// Upload stores every acceptable candidate. Oversized and denied files are
// left out and reported in Rejected; the call fails only when nothing was
// accepted or the batch itself is invalid. When ctx ends mid-batch the files
// stored so far are returned alongside the context error.
func (u *Uploader) Upload(ctx context.Context, files []UploadCandidate, opts UploadOptions) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, ErrNoValidFiles
	}
	if len(files) > u.limits.MaxFilesPerUpload {
		return nil, fmt.Errorf("%w: got %d, limit is %d", ErrTooManyFiles, len(files), u.limits.MaxFilesPerUpload)
	}

	now := u.clock.now()
	var expiresAt *time.Time
	if opts.ExpiresInDays != nil {
		days := *opts.ExpiresInDays
		if days < 1 || days > u.limits.MaxExpiryDays {
			return nil, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidExpiry, days, u.limits.MaxExpiryDays)
		}
		at := now.Add(time.Duration(days) * 24 * time.Hour)
		expiresAt = &at
	}
	access := models.PolicyForPassword(opts.Password)

	result := &UploadResult{}
	var lastStorageErr error
	storageFaults := 0

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		uploaded, err := u.store(ctx, file, access, expiresAt, now, opts.BaseURL)
		if err != nil {
			var rej *errRejected
			if errors.As(err, &rej) {
				metrics.FilesUploaded.WithLabelValues("rejected").Inc()
				u.log.Info("file rejected", zap.String("name", file.Name), zap.String("reason", rej.reason))
				result.Rejected = append(result.Rejected, Rejection{Name: file.Name, Reason: rej.reason})
				continue
			}
			metrics.FilesUploaded.WithLabelValues("failed").Inc()
			u.log.Error("failed to store file", zap.String("name", file.Name), zap.Error(err))
			result.Rejected = append(result.Rejected, Rejection{Name: file.Name, Reason: "storage failure"})
			storageFaults++
			lastStorageErr = err
			continue
		}

		metrics.FilesUploaded.WithLabelValues("accepted").Inc()
		metrics.UploadedBytes.Add(float64(uploaded.Size))
		result.Accepted = append(result.Accepted, *uploaded)
	}

	if len(result.Accepted) == 0 {
		if storageFaults == len(files) {
			return nil, lastStorageErr
		}
		return nil, ErrNoValidFiles
	}

	u.log.Info("upload completed",
		zap.Int("accepted", len(result.Accepted)),
		zap.Int("rejected", len(result.Rejected)),
	)
	return result, nil
}

// store handles one candidate. It returns *errRejected for policy failures
// and a storage error otherwise.
func (u *Uploader) store(ctx context.Context, file UploadCandidate, access models.AccessPolicy, expiresAt *time.Time, now time.Time, baseURL string) (*models.UploadedFile, error) {
	if file.Size > u.limits.MaxFileSize {
		return nil, reject("file exceeds the %s limit", humanize.IBytes(uint64(u.limits.MaxFileSize)))
	}
	declared := normaliseType(file.MimeType)
	if deniedTypes[declared] {
		return nil, reject("file type %s is not allowed", declared)
	}

	rc, err := file.Open()
	if err != nil {
		return nil, storageErr("open upload", err)
	}
	defer rc.Close()

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, storageErr("read upload", err)
	}
	head = head[:n]

	sniffed := mimetype.Detect(head)
	for t := sniffed; t != nil; t = t.Parent() {
		if deniedTypes[normaliseType(t.String())] {
			return nil, reject("file content %s is not allowed", normaliseType(sniffed.String()))
		}
	}

	contentType := file.MimeType
	if declared == "" || declared == "application/octet-stream" {
		contentType = sniffed.String()
	}

	key := newBlobKey(file.Name, now)
	// one byte past the limit is enough to detect an under-declared upload
	body := io.LimitReader(io.MultiReader(bytes.NewReader(head), rc), u.limits.MaxFileSize+1)
	written, err := u.blobs.Put(ctx, key, body, contentType)
	if err != nil {
		u.discard(key)
		return nil, storageErr("write blob", err)
	}
	if written > u.limits.MaxFileSize {
		u.discard(key)
		return nil, reject("file exceeds the %s limit", humanize.IBytes(uint64(u.limits.MaxFileSize)))
	}

	if u.scanner != nil {
		if err := u.scan(ctx, key); err != nil {
			return nil, err
		}
	}

	rec := &models.FileRecord{
		ID:           uuid.NewString(),
		StoragePath:  key,
		OriginalName: file.Name,
		Size:         written,
		MimeType:     contentType,
		Access:       access,
		ExpiresAt:    expiresAt,
		UploadedAt:   now,
	}
	if err := u.meta.Insert(ctx, rec); err != nil {
		u.discard(key)
		return nil, storageErr("insert record", err)
	}

	u.log.Info("file stored",
		zap.String("file_id", rec.ID),
		zap.String("storage_path", key),
		zap.String("size", humanize.IBytes(uint64(written))),
		zap.Bool("protected", access.Protected()),
	)

	if err := u.events.Publish(ctx, SubjectFileUploaded, FileEvent{
		FileID:      rec.ID,
		StoragePath: key,
		Name:        rec.OriginalName,
		Size:        rec.Size,
		MimeType:    rec.MimeType,
		ExpiresAt:   rec.ExpiresAt,
		OccurredAt:  now,
	}); err != nil {
		u.log.Warn("failed to publish upload event", zap.String("file_id", rec.ID), zap.Error(err))
	}

	return &models.UploadedFile{
		ID:        rec.ID,
		Name:      rec.OriginalName,
		Size:      rec.Size,
		MimeType:  rec.MimeType,
		Path:      baseURL + "/file/" + rec.ID,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

// scan rejects infected blobs. An unreachable scanner does not block uploads.
func (u *Uploader) scan(ctx context.Context, key string) error {
	blob, err := u.blobs.Open(ctx, key)
	if err != nil {
		u.discard(key)
		return storageErr("reopen blob for scan", err)
	}
	verdict, err := u.scanner.Scan(ctx, blob)
	_ = blob.Close()
	if err != nil {
		u.log.Warn("malware scan unavailable, accepting file", zap.String("storage_path", key), zap.Error(err))
		return nil
	}
	if verdict.Infected {
		u.discard(key)
		u.log.Warn("malware detected", zap.String("storage_path", key), zap.String("signature", verdict.Signature))
		return reject("file failed malware scan")
	}
	return nil
}

// discard removes a blob the pipeline will not publish. The orphan sweep
// catches whatever this misses.
func (u *Uploader) discard(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := u.blobs.Delete(ctx, key); err != nil {
		u.log.Warn("failed to remove unpublished blob", zap.String("storage_path", key), zap.Error(err))
	}
}

func normaliseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}

// newBlobKey builds file-<unix ms>-<16 hex><ext>. The random part comes from a
// v4 uuid, so two uploads in the same millisecond do not collide in practice.
func newBlobKey(originalName string, now time.Time) string {
	id := uuid.New()
	return "file-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + hex.EncodeToString(id[:8]) + safeExt(originalName)
}

func safeExt(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if len(ext) < 2 || len(ext) > 17 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}
