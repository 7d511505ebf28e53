package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
)

var baseTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type storeFactory func(t *testing.T) MetadataStore

func metadataStores() map[string]storeFactory {
	return map[string]storeFactory{
		"json": func(t *testing.T) MetadataStore {
			s, err := NewJSONStore(afero.NewMemMapFs(), "/data/files.json")
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) MetadataStore {
			dsn := "file:" + filepath.Join(t.TempDir(), "meta.db") + "?_busy_timeout=5000"
			s, err := OpenSQLStore(context.Background(), DialectSQLite, dsn, zaptest.NewLogger(t))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func newRecord(name string, expiresIn time.Duration) *models.FileRecord {
	rec := &models.FileRecord{
		ID:           uuid.NewString(),
		StoragePath:  "file-" + name,
		OriginalName: name,
		Size:         int64(len(name)) * 10,
		MimeType:     "text/plain",
		Access:       models.OpenAccess(),
		UploadedAt:   models.Timestamp(baseTime),
	}
	if expiresIn != 0 {
		at := models.Timestamp(baseTime.Add(expiresIn))
		rec.ExpiresAt = &at
	}
	return rec
}

func TestMetadataStores(t *testing.T) {
	for name, factory := range metadataStores() {
		t.Run(name, func(t *testing.T) {
			t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, factory(t)) })
			t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, factory(t)) })
			t.Run("DuplicateInsert", func(t *testing.T) { testDuplicateInsert(t, factory(t)) })
			t.Run("Increment", func(t *testing.T) { testIncrement(t, factory(t)) })
			t.Run("ConcurrentIncrement", func(t *testing.T) { testConcurrentIncrement(t, factory(t)) })
			t.Run("Delete", func(t *testing.T) { testDelete(t, factory(t)) })
			t.Run("ListExpiredPaging", func(t *testing.T) { testListExpiredPaging(t, factory(t)) })
			t.Run("ListByID", func(t *testing.T) { testList(t, factory(t)) })
			t.Run("HasStoragePath", func(t *testing.T) { testHasStoragePath(t, factory(t)) })
			t.Run("Stats", func(t *testing.T) { testStats(t, factory(t)) })
		})
	}
}

func testInsertAndGet(t *testing.T, s MetadataStore) {
	ctx := context.Background()
	rec := newRecord("report.pdf", 24*time.Hour)
	rec.Access = models.PolicyForPassword("hunter2")
	require.NoError(t, s.Insert(ctx, rec))

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.StoragePath, got.StoragePath)
	assert.Equal(t, rec.OriginalName, got.OriginalName)
	assert.Equal(t, rec.Size, got.Size)
	assert.Equal(t, rec.MimeType, got.MimeType)
	assert.True(t, got.UploadedAt.Equal(rec.UploadedAt))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, got.ExpiresAt.Equal(*rec.ExpiresAt))
	assert.True(t, got.Access.Protected())
	assert.True(t, got.Access.Permits("hunter2"))
	assert.False(t, got.Access.Permits("hunter3"))

	open := newRecord("notes.txt", 0)
	require.NoError(t, s.Insert(ctx, open))
	got, err = s.Get(ctx, open.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExpiresAt)
	assert.False(t, got.Access.Protected())
}

func testGetMissing(t *testing.T, s MetadataStore) {
	_, err := s.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func testDuplicateInsert(t *testing.T, s MetadataStore) {
	ctx := context.Background()
	rec := newRecord("a.txt", 0)
	require.NoError(t, s.Insert(ctx, rec))
	assert.ErrorIs(t, s.Insert(ctx, rec), ErrRecordExists)
}

func testIncrement(t *testing.T, s MetadataStore) {
	ctx := context.Background()
	rec := newRecord("a.txt", 0)
	require.NoError(t, s.Insert(ctx, rec))

	for want := int64(1); want <= 3; want++ {
		n, err := s.IncrementDownloadCount(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.DownloadCount)

	_, err = s.IncrementDownloadCount(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func testConcurrentIncrement(t *testing.T, s MetadataStore) {
	ctx := context.Background()
	rec := newRecord("popular.bin", 0)
	require.NoError(t, s.Insert(ctx, rec))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementDownloadCount(ctx, rec.ID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), got.DownloadCount)
}

func testDelete(t *testing.T, s MetadataStore) {
	ctx := context.Background()
	rec := newRecord("a.txt", 0)
	require.NoError(t, s.Insert(ctx, rec))

	deleted, err := s.Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func testListExpiredPaging(t *testing.T, s MetadataStore) {
	ctx := context.Background()

	var expired []string
	for i := 0; i < 7; i++ {
		// two records share each expiry instant so the id tiebreak is exercised
		rec := newRecord(fmt.Sprintf("old-%d", i), -time.Duration(i/2+1)*time.Hour)
		require.NoError(t, s.Insert(ctx, rec))
		expired = append(expired, rec.ID)
	}
	require.NoError(t, s.Insert(ctx, newRecord("future", time.Hour)))
	require.NoError(t, s.Insert(ctx, newRecord("forever", 0)))

	exact := newRecord("exact", 0)
	at := models.Timestamp(baseTime)
	exact.ExpiresAt = &at
	require.NoError(t, s.Insert(ctx, exact))
	expired = append(expired, exact.ID)

	var (
		seen   []string
		cursor *ExpiryCursor
		last   *models.FileRecord
	)
	for {
		page, err := s.ListExpired(ctx, baseTime, cursor, 3)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		assert.LessOrEqual(t, len(page), 3)
		for _, rec := range page {
			if last != nil {
				ordered := last.ExpiresAt.Before(*rec.ExpiresAt) ||
					(last.ExpiresAt.Equal(*rec.ExpiresAt) && last.ID < rec.ID)
				assert.True(t, ordered, "records out of (expires_at, id) order")
			}
			last = rec
			seen = append(seen, rec.ID)
		}
		cursor = CursorAfter(page[len(page)-1])
	}

	assert.ElementsMatch(t, expired, seen)
}

func testList(t *testing.T, s MetadataStore) {
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Insert(ctx, newRecord(fmt.Sprintf("f%d", i), 0)))
	}

	var all []string
	after := ""
	for {
		page, err := s.List(ctx, after, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, rec := range page {
			assert.Greater(t, rec.ID, after)
			after = rec.ID
			all = append(all, rec.ID)
		}
	}
	assert.Len(t, all, 5)
	assert.IsIncreasing(t, all)
}

func testHasStoragePath(t *testing.T, s MetadataStore) {
	ctx := context.Background()
	rec := newRecord("a.txt", 0)
	require.NoError(t, s.Insert(ctx, rec))

	ok, err := s.HasStoragePath(ctx, rec.StoragePath)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.HasStoragePath(ctx, "file-unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testStats(t *testing.T, s MetadataStore) {
	ctx := context.Background()

	stats, err := s.Stats(ctx, baseTime)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)
	assert.Nil(t, stats.LatestUpload)

	a := newRecord("aaaa", -time.Hour)
	b := newRecord("bb", time.Hour)
	c := newRecord("c", 0)
	c.UploadedAt = models.Timestamp(baseTime.Add(time.Minute))
	for _, rec := range []*models.FileRecord{a, b, c} {
		require.NoError(t, s.Insert(ctx, rec))
	}

	stats, err = s.Stats(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalFiles)
	assert.Equal(t, a.Size+b.Size+c.Size, stats.TotalBytes)
	assert.Equal(t, int64(2), stats.ExpiringFiles)
	assert.Equal(t, int64(1), stats.ExpiredFiles)
	require.NotNil(t, stats.LatestUpload)
	assert.True(t, stats.LatestUpload.Equal(c.UploadedAt))
}

func TestJSONStorePersists(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	s, err := NewJSONStore(fs, "/data/files.json")
	require.NoError(t, err)
	rec := newRecord("kept.txt", time.Hour)
	rec.Access = models.PolicyForPassword("pw")
	require.NoError(t, s.Insert(ctx, rec))
	_, err = s.IncrementDownloadCount(ctx, rec.ID)
	require.NoError(t, err)

	reopened, err := NewJSONStore(fs, "/data/files.json")
	require.NoError(t, err)
	got, err := reopened.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.DownloadCount)
	assert.True(t, got.Access.Permits("pw"))

	exists, err := afero.Exists(fs, "/data/files.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestJSONStoreRejectsCorruptFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/files.json", []byte("{not json"), 0o640))

	_, err := NewJSONStore(fs, "/files.json")
	assert.Error(t, err)
}

func TestJSONStoreRollsBackOnWriteFailure(t *testing.T) {
	ctx := context.Background()
	base := afero.NewMemMapFs()
	s, err := NewJSONStore(afero.NewReadOnlyFs(base), "/files.json")
	require.NoError(t, err)

	rec := newRecord("a.txt", 0)
	assert.Error(t, s.Insert(ctx, rec))

	_, err = s.Get(ctx, rec.ID)
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestRebind(t *testing.T) {
	q := `SELECT 1 FROM files WHERE id = ? AND expires_at <= ?`
	assert.Equal(t, q, DialectSQLite.rebind(q))
	assert.Equal(t, `SELECT 1 FROM files WHERE id = $1 AND expires_at <= $2`, DialectPostgres.rebind(q))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, d)

	d, err = DialectFor("SQLite")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d)

	_, err = DialectFor("mongo")
	assert.Error(t, err)
}

func TestMigrateIsIdempotent(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "meta.db")
	s, err := OpenSQLStore(context.Background(), DialectSQLite, dsn, zaptest.NewLogger(t))
	require.NoError(t, err)

	version, err := Migrate(s.db, DialectSQLite)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	require.NoError(t, s.Close())
}
