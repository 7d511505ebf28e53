package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
)

// JSONStore keeps all records in memory and rewrites a JSON document on every
// mutation. It is meant for single-node installs and tests.
type JSONStore struct {
	fs   afero.Fs
	path string

	mu      sync.RWMutex
	records map[string]models.FileRecord
}

// NewJSONStore loads path from fs, starting empty when the file does not exist.
func NewJSONStore(fs afero.Fs, path string) (*JSONStore, error) {
	s := &JSONStore{fs: fs, path: path, records: make(map[string]models.FileRecord)}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("failed to parse metadata file: %w", err)
	}
	return s, nil
}

func (s *JSONStore) Insert(_ context.Context, rec *models.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("%s: %w", rec.ID, ErrRecordExists)
	}
	s.records[rec.ID] = *rec
	if err := s.saveLocked(); err != nil {
		// keep memory consistent with what is on disk
		delete(s.records, rec.ID)
		return fmt.Errorf("failed to persist metadata: %w", err)
	}
	return nil
}

func (s *JSONStore) Get(_ context.Context, id string) (*models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrRecordNotFound)
	}
	return &rec, nil
}

func (s *JSONStore) IncrementDownloadCount(_ context.Context, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return 0, fmt.Errorf("%s: %w", id, ErrRecordNotFound)
	}
	rec.DownloadCount++
	s.records[id] = rec
	if err := s.saveLocked(); err != nil {
		rec.DownloadCount--
		s.records[id] = rec
		return 0, fmt.Errorf("failed to persist download count: %w", err)
	}
	return rec.DownloadCount, nil
}

func (s *JSONStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return false, nil
	}
	delete(s.records, id)
	if err := s.saveLocked(); err != nil {
		s.records[id] = rec
		return false, fmt.Errorf("failed to persist metadata deletion: %w", err)
	}
	return true, nil
}

func (s *JSONStore) ListExpired(_ context.Context, now time.Time, after *ExpiryCursor, limit int) ([]*models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var expired []*models.FileRecord
	for _, rec := range s.records {
		if rec.ExpiresAt == nil || rec.ExpiresAt.After(now) {
			continue
		}
		if after != nil && !cursorBefore(after, rec.ExpiresAt, rec.ID) {
			continue
		}
		r := rec
		expired = append(expired, &r)
	}

	sort.Slice(expired, func(i, j int) bool {
		a, b := expired[i], expired[j]
		if !a.ExpiresAt.Equal(*b.ExpiresAt) {
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		return a.ID < b.ID
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

// cursorBefore reports whether (expiresAt, id) sorts strictly after the cursor.
func cursorBefore(c *ExpiryCursor, expiresAt *time.Time, id string) bool {
	if expiresAt.After(c.ExpiresAt) {
		return true
	}
	return expiresAt.Equal(c.ExpiresAt) && id > c.ID
}

func (s *JSONStore) List(_ context.Context, afterID string, limit int) ([]*models.FileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	files := make([]*models.FileRecord, 0, len(ids))
	for _, id := range ids {
		rec := s.records[id]
		files = append(files, &rec)
	}
	return files, nil
}

func (s *JSONStore) HasStoragePath(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.records {
		if rec.StoragePath == key {
			return true, nil
		}
	}
	return false, nil
}

func (s *JSONStore) Stats(_ context.Context, now time.Time) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats models.Stats
	for _, rec := range s.records {
		stats.TotalFiles++
		stats.TotalBytes += rec.Size
		if rec.ExpiresAt != nil {
			stats.ExpiringFiles++
			if rec.ExpiredAt(now) {
				stats.ExpiredFiles++
			}
		}
		if stats.LatestUpload == nil || rec.UploadedAt.After(*stats.LatestUpload) {
			uploaded := rec.UploadedAt
			stats.LatestUpload = &uploaded
		}
	}
	return stats, nil
}

func (s *JSONStore) Ping(_ context.Context) error {
	return nil
}

func (s *JSONStore) Close() error {
	return nil
}

// saveLocked writes the document to a temp file and renames it over the
// previous one. Callers hold s.mu.
func (s *JSONStore) saveLocked() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("failed to create metadata directory: %w", err)
		}
	}

	tempFile := s.path + ".tmp"
	if err := afero.WriteFile(s.fs, tempFile, data, 0o640); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	if err := s.fs.Rename(tempFile, s.path); err != nil {
		return fmt.Errorf("failed to rename metadata file: %w", err)
	}
	return nil
}
