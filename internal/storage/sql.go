package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
)

// Dialect selects the SQL driver and the placeholder style.
type Dialect struct {
	driverName    string
	migrationsDir string
	numbered      bool
}

var (
	DialectPostgres = Dialect{driverName: "postgres", migrationsDir: "postgres", numbered: true}
	DialectSQLite   = Dialect{driverName: "sqlite3", migrationsDir: "sqlite"}
)

// DialectFor maps a METADATA_DRIVER value to a Dialect.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return Dialect{}, fmt.Errorf("unknown metadata driver %q", name)
	}
}

func (d Dialect) String() string { return d.driverName }

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (d Dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const fileColumns = `id, storage_path, original_name, size, mimetype, password_hash, expires_at, download_count, uploaded_at`

// SQLStore is the MetadataStore backed by postgres or sqlite.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	log     *zap.Logger
}

// OpenSQLStore connects, tunes the pool and applies pending migrations.
func OpenSQLStore(ctx context.Context, dialect Dialect, dsn string, log *zap.Logger) (*SQLStore, error) {
	db, err := sql.Open(dialect.driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY between our own goroutines
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", dialect, err)
	}

	version, err := Migrate(db, dialect)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("connected to metadata database",
		zap.Stringer("driver", dialect),
		zap.Uint("schema_version", version),
	)
	return NewSQLStore(db, dialect, log), nil
}

// NewSQLStore wraps an already migrated database.
func NewSQLStore(db *sql.DB, dialect Dialect, log *zap.Logger) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, log: log}
}

func (s *SQLStore) Insert(ctx context.Context, rec *models.FileRecord) error {
	query := s.dialect.rebind(`INSERT INTO files (` + fileColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	var hash sql.NullString
	if rec.Access.Protected() {
		hash = sql.NullString{String: rec.Access.Hash(), Valid: true}
	}
	var expires sql.NullTime
	if rec.ExpiresAt != nil {
		expires = sql.NullTime{Time: rec.ExpiresAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.StoragePath, rec.OriginalName, rec.Size, rec.MimeType,
		hash, expires, rec.DownloadCount, rec.UploadedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", rec.ID, ErrRecordExists)
		}
		return fmt.Errorf("failed to insert file record: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*models.FileRecord, error) {
	query := s.dialect.rebind(`SELECT ` + fileColumns + ` FROM files WHERE id = ?`)

	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", id, ErrRecordNotFound)
		}
		return nil, fmt.Errorf("failed to get file record: %w", err)
	}
	return rec, nil
}

func (s *SQLStore) IncrementDownloadCount(ctx context.Context, id string) (int64, error) {
	query := s.dialect.rebind(`UPDATE files SET download_count = download_count + 1 WHERE id = ? RETURNING download_count`)

	var count int64
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("%s: %w", id, ErrRecordNotFound)
		}
		return 0, fmt.Errorf("failed to increment download count: %w", err)
	}
	return count, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(`DELETE FROM files WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete file record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read deleted rows: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) ListExpired(ctx context.Context, now time.Time, after *ExpiryCursor, limit int) ([]*models.FileRecord, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT ` + fileColumns + ` FROM files WHERE expires_at IS NOT NULL AND expires_at <= ?`)
	args = append(args, now.UTC())
	if after != nil {
		cursorAt := after.ExpiresAt.UTC()
		b.WriteString(` AND (expires_at > ? OR (expires_at = ? AND id > ?))`)
		args = append(args, cursorAt, cursorAt, after.ID)
	}
	b.WriteString(` ORDER BY expires_at, id`)
	if limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, limit)
	}
	return s.queryRecords(ctx, b.String(), args...)
}

func (s *SQLStore) List(ctx context.Context, afterID string, limit int) ([]*models.FileRecord, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE id > ? ORDER BY id`
	args := []any{afterID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryRecords(ctx, query, args...)
}

func (s *SQLStore) HasStoragePath(ctx context.Context, key string) (bool, error) {
	query := s.dialect.rebind(`SELECT 1 FROM files WHERE storage_path = ? LIMIT 1`)

	var one int
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up storage path: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Stats(ctx context.Context, now time.Time) (models.Stats, error) {
	var stats models.Stats

	query := s.dialect.rebind(`
		SELECT COUNT(*),
		       COALESCE(SUM(size), 0),
		       COUNT(expires_at),
		       COALESCE(SUM(CASE WHEN expires_at IS NOT NULL AND expires_at <= ? THEN 1 ELSE 0 END), 0)
		FROM files`)
	err := s.db.QueryRowContext(ctx, query, now.UTC()).Scan(
		&stats.TotalFiles, &stats.TotalBytes, &stats.ExpiringFiles, &stats.ExpiredFiles,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to compute file stats: %w", err)
	}

	var latest time.Time
	err = s.db.QueryRowContext(ctx, `SELECT uploaded_at FROM files ORDER BY uploaded_at DESC LIMIT 1`).Scan(&latest)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return stats, fmt.Errorf("failed to read latest upload: %w", err)
	default:
		latest = latest.UTC()
		stats.LatestUpload = &latest
	}
	return stats, nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) queryRecords(ctx context.Context, query string, args ...any) ([]*models.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query file records: %w", err)
	}
	defer rows.Close()

	var files []*models.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file record: %w", err)
		}
		files = append(files, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate file records: %w", err)
	}
	return files, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.FileRecord, error) {
	var (
		rec     models.FileRecord
		hash    sql.NullString
		expires sql.NullTime
	)
	err := row.Scan(
		&rec.ID, &rec.StoragePath, &rec.OriginalName, &rec.Size, &rec.MimeType,
		&hash, &expires, &rec.DownloadCount, &rec.UploadedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.UploadedAt = rec.UploadedAt.UTC()
	if expires.Valid {
		t := expires.Time.UTC()
		rec.ExpiresAt = &t
	}
	if hash.Valid {
		rec.Access = models.PasswordGated(strings.TrimSpace(hash.String))
	} else {
		rec.Access = models.OpenAccess()
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
