package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/metrics"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/storage"
)

// Download is an authorised retrieval. The caller streams Blob and closes it.
type Download struct {
	Record *models.FileRecord
	Blob   *storage.Blob
}

// AccessController gates retrieval on expiry and password and counts downloads.
type AccessController struct {
	blobs  storage.BlobStore
	meta   storage.MetadataStore
	events Publisher
	clock  Clock
	log    *zap.Logger
}

type AccessOption func(*AccessController)

func WithAccessEvents(p Publisher) AccessOption {
	return func(a *AccessController) { a.events = p }
}

func WithAccessClock(c Clock) AccessOption {
	return func(a *AccessController) { a.clock = c }
}

func NewAccessController(blobs storage.BlobStore, meta storage.MetadataStore, log *zap.Logger, opts ...AccessOption) *AccessController {
	a := &AccessController{blobs: blobs, meta: meta, events: NopPublisher{}, log: log}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Precondition inspects a live, permitted record before the download is
// counted. A non-nil error is returned from Retrieve unchanged and nothing is
// counted.
type Precondition func(rec *models.FileRecord) error

// Retrieve runs lookup, expiry, password, preconditions, blob and count in
// that order. The count is taken before any byte is streamed, so an aborted
// transfer still counts.
func (a *AccessController) Retrieve(ctx context.Context, id, password string, checks ...Precondition) (*Download, error) {
	rec, err := a.live(ctx, id)
	if err != nil {
		metrics.Downloads.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	if !rec.Access.Permits(password) {
		metrics.Downloads.WithLabelValues("unauthorized").Inc()
		return nil, &UnauthorizedError{
			FileID:    rec.ID,
			Name:      rec.OriginalName,
			Size:      rec.Size,
			Attempted: password != "",
		}
	}

	for _, check := range checks {
		if err := check(rec); err != nil {
			metrics.Downloads.WithLabelValues("refused").Inc()
			return nil, err
		}
	}

	blob, err := a.blobs.Open(ctx, rec.StoragePath)
	if err != nil {
		if errors.Is(err, storage.ErrBlobNotFound) {
			a.log.Warn("record without blob, removing record",
				zap.String("file_id", rec.ID),
				zap.String("storage_path", rec.StoragePath),
			)
			a.forget(rec, false)
			metrics.Downloads.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		metrics.Downloads.WithLabelValues("error").Inc()
		return nil, storageErr("open blob", err)
	}

	count, err := a.meta.IncrementDownloadCount(ctx, rec.ID)
	if err != nil {
		_ = blob.Close()
		if errors.Is(err, storage.ErrRecordNotFound) {
			// reaped between lookup and increment
			metrics.Downloads.WithLabelValues("not_found").Inc()
			return nil, ErrNotFound
		}
		metrics.Downloads.WithLabelValues("error").Inc()
		return nil, storageErr("increment download count", err)
	}
	rec.DownloadCount = count
	metrics.Downloads.WithLabelValues("served").Inc()

	a.publish(ctx, SubjectFileDownloaded, rec)
	return &Download{Record: rec, Blob: blob}, nil
}

// GetInfo discloses metadata without the password gate and without counting.
func (a *AccessController) GetInfo(ctx context.Context, id string) (*models.FileInfo, error) {
	rec, err := a.live(ctx, id)
	if err != nil {
		return nil, err
	}

	exists, err := a.blobs.Exists(ctx, rec.StoragePath)
	if err != nil {
		return nil, storageErr("check blob", err)
	}
	if !exists {
		a.log.Warn("record without blob, removing record",
			zap.String("file_id", rec.ID),
			zap.String("storage_path", rec.StoragePath),
		)
		a.forget(rec, false)
		return nil, ErrNotFound
	}

	info := rec.Info()
	return &info, nil
}

// live looks the record up and enforces expiry, deleting expired files on sight.
func (a *AccessController) live(ctx context.Context, id string) (*models.FileRecord, error) {
	rec, err := a.meta.Get(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("lookup record", err)
	}

	if rec.ExpiredAt(a.clock.now()) {
		a.log.Info("file expired, removing", zap.String("file_id", rec.ID), zap.Timep("expires_at", rec.ExpiresAt))
		a.forget(rec, true)
		a.publish(ctx, SubjectFileExpired, rec)
		return nil, ErrExpired
	}
	return rec, nil
}

// forget deletes the blob (when asked) and then the record. Failures are
// logged only; the reaper retries whatever survives.
func (a *AccessController) forget(rec *models.FileRecord, withBlob bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if withBlob {
		if err := a.blobs.Delete(ctx, rec.StoragePath); err != nil {
			a.log.Warn("failed to delete blob", zap.String("file_id", rec.ID), zap.String("storage_path", rec.StoragePath), zap.Error(err))
			return
		}
	}
	if _, err := a.meta.Delete(ctx, rec.ID); err != nil {
		a.log.Warn("failed to delete record", zap.String("file_id", rec.ID), zap.Error(err))
	}
}

func (a *AccessController) publish(ctx context.Context, subject string, rec *models.FileRecord) {
	err := a.events.Publish(ctx, subject, FileEvent{
		FileID:        rec.ID,
		StoragePath:   rec.StoragePath,
		Name:          rec.OriginalName,
		Size:          rec.Size,
		MimeType:      rec.MimeType,
		ExpiresAt:     rec.ExpiresAt,
		DownloadCount: rec.DownloadCount,
		OccurredAt:    a.clock.now(),
	})
	if err != nil {
		a.log.Warn("failed to publish event", zap.String("subject", subject), zap.String("file_id", rec.ID), zap.Error(err))
	}
}

func outcome(err error) string {
	switch KindOf(err) {
	case KindNotFound:
		return "not_found"
	case KindExpired:
		return "expired"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "error"
	}
}
