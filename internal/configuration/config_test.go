package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, int64(25<<20), cfg.Limits.MaxFileSize)
	assert.Equal(t, 10, cfg.Limits.MaxFilesPerUpload)
	assert.Equal(t, 365, cfg.Limits.MaxExpiryDays)
	assert.Equal(t, 100, cfg.Reaper.BatchSize)
	assert.Equal(t, time.Hour, cfg.Reaper.OrphanGracePeriod)
	assert.Equal(t, "sqlite", cfg.Metadata.Driver)
	assert.Equal(t, "local", cfg.Blob.Driver)
	assert.Empty(t, cfg.Server.CORSOrigins)
	assert.Equal(t, "frontend", cfg.OIDCClientID)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PUBLIC_BASE_URL", "https://share.example.com/")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com,,")
	t.Setenv("METADATA_DRIVER", "Postgres")
	t.Setenv("MAX_FILE_SIZE", "1048576")
	t.Setenv("ORPHAN_GRACE_PERIOD", "15m")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("DD_TRACE_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "https://share.example.com", cfg.Server.PublicBaseURL)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "postgres", cfg.Metadata.Driver)
	assert.Equal(t, int64(1048576), cfg.Limits.MaxFileSize)
	assert.Equal(t, 15*time.Minute, cfg.Reaper.OrphanGracePeriod)
	assert.True(t, cfg.MinIO.UseSSL)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoadFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link.yaml")
	require.NoError(t, os.WriteFile(path, []byte("BLOB_DRIVER: minio\nSWEEP_BATCH_SIZE: 25\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SWEEP_BATCH_SIZE", "50")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "minio", cfg.Blob.Driver)
	// environment wins over the file
	assert.Equal(t, 50, cfg.Reaper.BatchSize)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string][2]string{
		"unknown metadata driver": {"METADATA_DRIVER", "mongo"},
		"unknown blob driver":     {"BLOB_DRIVER", "ftp"},
		"zero batch size":         {"SWEEP_BATCH_SIZE", "0"},
		"bad log level":           {"LOG_LEVEL", "chatty"},
		"zero sweep interval":     {"SWEEP_INTERVAL", "0s"},
	}
	for name, kv := range tests {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestConnectionStrings(t *testing.T) {
	db := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "files", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/files?sslmode=disable", db.ConnectionString())

	meta := MetadataConfig{SQLitePath: "/var/lib/link/files.db"}
	assert.Equal(t, "file:/var/lib/link/files.db?_busy_timeout=5000", meta.SQLiteDSN())
}
