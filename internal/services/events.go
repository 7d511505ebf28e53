package services

import (
	"context"
	"time"
)

const (
	SubjectFileUploaded   = "files.uploaded"
	SubjectFileDownloaded = "files.downloaded"
	SubjectFileExpired    = "files.expired"
	SubjectFileReaped     = "files.reaped"
)

// FileEvent is the payload of every files.* event.
type FileEvent struct {
	FileID        string     `json:"file_id"`
	StoragePath   string     `json:"storage_path"`
	Name          string     `json:"name,omitempty"`
	Size          int64      `json:"size,omitempty"`
	MimeType      string     `json:"mimetype,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	DownloadCount int64      `json:"download_count,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// Publisher announces lifecycle events. Delivery is best effort: a failed
// publish never fails the operation that triggered it.
type Publisher interface {
	Publish(ctx context.Context, subject string, event FileEvent) error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, FileEvent) error { return nil }
