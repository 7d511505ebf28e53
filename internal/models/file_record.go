package models

import (
	"time"
)

// FileRecord is the metadata kept for one stored blob.
type FileRecord struct {
	ID            string       `json:"id"`
	StoragePath   string       `json:"storage_path"`
	OriginalName  string       `json:"original_name"`
	Size          int64        `json:"size"`
	MimeType      string       `json:"mimetype"`
	Access        AccessPolicy `json:"access"`
	ExpiresAt     *time.Time   `json:"expires_at,omitempty"`
	DownloadCount int64        `json:"download_count"`
	UploadedAt    time.Time    `json:"uploaded_at"`
}

// ExpiredAt reports whether the record is logically dead at now.
// A record expiring exactly at now is already expired.
func (r *FileRecord) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// ContentType falls back to a generic binary type when no mimetype was recorded.
func (r *FileRecord) ContentType() string {
	if r.MimeType == "" {
		return "application/octet-stream"
	}
	return r.MimeType
}

// FileInfo is the public view of a record returned by the info endpoint.
type FileInfo struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Size          int64      `json:"size"`
	MimeType      string     `json:"mimetype"`
	DownloadCount int64      `json:"downloadCount"`
	UploadedAt    time.Time  `json:"uploadedAt"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	HasPassword   bool       `json:"hasPassword"`
}

// Info builds the public view. The password hash never leaves the record.
func (r *FileRecord) Info() FileInfo {
	return FileInfo{
		ID:            r.ID,
		Name:          r.OriginalName,
		Size:          r.Size,
		MimeType:      r.MimeType,
		DownloadCount: r.DownloadCount,
		UploadedAt:    r.UploadedAt,
		ExpiresAt:     r.ExpiresAt,
		HasPassword:   r.Access.Protected(),
	}
}

// UploadedFile describes one accepted file in an upload response.
type UploadedFile struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Size      int64      `json:"size"`
	MimeType  string     `json:"mimetype"`
	Path      string     `json:"path"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

// Stats summarises the metadata store.
type Stats struct {
	TotalFiles    int64      `json:"total_files"`
	TotalBytes    int64      `json:"total_bytes"`
	ExpiringFiles int64      `json:"expiring_files"`
	ExpiredFiles  int64      `json:"expired_files"`
	LatestUpload  *time.Time `json:"latest_upload,omitempty"`
}

// Timestamp normalises t to the precision every metadata backend can round-trip.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
