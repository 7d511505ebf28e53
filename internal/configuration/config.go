package configuration

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/logger"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Metadata MetadataConfig
	Blob     BlobConfig
	MinIO    MinIOConfig
	Limits   LimitsConfig
	Reaper   ReaperConfig
	Tracing  TracingConfig
	Log      logger.Config

	NATSURL       string
	RedisAddr     string
	RedisPassword string
	CLAMAVURL     string
	KeycloakUrl   string
	OIDCClientID  string
}

type ServerConfig struct {
	Port string
	// PublicBaseURL prefixes share links. Empty means derive it from the request.
	PublicBaseURL   string
	CORSOrigins     []string
	MaxRequestBytes int64
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type MetadataConfig struct {
	Driver     string // postgres, sqlite, json
	SQLitePath string
	JSONFile   string
}

type BlobConfig struct {
	Driver    string // local, minio
	UploadDir string
}

type MinIOConfig struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	UseSSL     bool
}

type LimitsConfig struct {
	MaxFileSize       int64
	MaxFilesPerUpload int
	MaxExpiryDays     int
}

type ReaperConfig struct {
	BatchSize         int
	OrphanGracePeriod time.Duration
	Interval          time.Duration
}

type TracingConfig struct {
	Enabled bool
	Service string
	Env     string
}

var defaults = map[string]any{
	"PORT":              "8000",
	"PUBLIC_BASE_URL":   "",
	"CORS_ORIGINS":      "",
	"MAX_REQUEST_BYTES": int64(300 << 20),

	"DB_HOST":     "localhost",
	"DB_PORT":     "5432",
	"DB_USER":     "fileuser",
	"DB_PASSWORD": "filepassword",
	"DB_NAME":     "filemanager",
	"DB_SSL_MODE": "disable",

	"METADATA_DRIVER": "sqlite",
	"SQLITE_PATH":     "data/files.db",
	"METADATA_FILE":   "data/files.json",

	"BLOB_DRIVER": "local",
	"UPLOAD_DIR":  "uploads",

	"MINIO_ENDPOINT":   "localhost:9000",
	"MINIO_ACCESS_KEY": "minioadmin",
	"MINIO_SECRET_KEY": "minioadmin",
	"MINIO_BUCKET":     "files",
	"MINIO_USE_SSL":    false,

	"MAX_FILE_SIZE":        int64(25 << 20),
	"MAX_FILES_PER_UPLOAD": 10,
	"MAX_EXPIRY_DAYS":      365,

	"SWEEP_BATCH_SIZE":    100,
	"ORPHAN_GRACE_PERIOD": time.Hour,
	"SWEEP_INTERVAL":      time.Hour,

	"DD_TRACE_ENABLED": false,
	"DD_SERVICE":       "link-service",
	"DD_ENV":           "",

	"NATS_URL":       "",
	"REDIS_ADDR":     "",
	"REDIS_PASSWORD": "",
	"CLAMAV_URL":     "",
	"KEYCLOAK_URL":   "",
	"OIDC_CLIENT_ID": "frontend",

	"LOG_LEVEL":        "info",
	"LOG_FORMAT":       "json",
	"LOG_OUTPUT":       "console",
	"LOG_FILE":         "logs/link-service.log",
	"LOG_MAX_SIZE_MB":  100,
	"LOG_MAX_AGE_DAYS": 30,
	"LOG_MAX_BACKUPS":  10,
}

// Load reads configuration from the environment, layered over CONFIG_FILE
// when that is set, layered over built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	port := v.GetString("PORT")
	if v.IsSet("SERVER_PORT") && v.GetString("SERVER_PORT") != "" {
		port = v.GetString("SERVER_PORT")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            port,
			PublicBaseURL:   strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/"),
			CORSOrigins:     splitList(v.GetString("CORS_ORIGINS")),
			MaxRequestBytes: v.GetInt64("MAX_REQUEST_BYTES"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetString("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSL_MODE"),
		},
		Metadata: MetadataConfig{
			Driver:     strings.ToLower(v.GetString("METADATA_DRIVER")),
			SQLitePath: v.GetString("SQLITE_PATH"),
			JSONFile:   v.GetString("METADATA_FILE"),
		},
		Blob: BlobConfig{
			Driver:    strings.ToLower(v.GetString("BLOB_DRIVER")),
			UploadDir: v.GetString("UPLOAD_DIR"),
		},
		MinIO: MinIOConfig{
			Endpoint:   v.GetString("MINIO_ENDPOINT"),
			AccessKey:  v.GetString("MINIO_ACCESS_KEY"),
			SecretKey:  v.GetString("MINIO_SECRET_KEY"),
			BucketName: v.GetString("MINIO_BUCKET"),
			UseSSL:     v.GetBool("MINIO_USE_SSL"),
		},
		Limits: LimitsConfig{
			MaxFileSize:       v.GetInt64("MAX_FILE_SIZE"),
			MaxFilesPerUpload: v.GetInt("MAX_FILES_PER_UPLOAD"),
			MaxExpiryDays:     v.GetInt("MAX_EXPIRY_DAYS"),
		},
		Reaper: ReaperConfig{
			BatchSize:         v.GetInt("SWEEP_BATCH_SIZE"),
			OrphanGracePeriod: v.GetDuration("ORPHAN_GRACE_PERIOD"),
			Interval:          v.GetDuration("SWEEP_INTERVAL"),
		},
		Tracing: TracingConfig{
			Enabled: v.GetBool("DD_TRACE_ENABLED"),
			Service: v.GetString("DD_SERVICE"),
			Env:     v.GetString("DD_ENV"),
		},
		Log: logger.Config{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
			Output: v.GetString("LOG_OUTPUT"),
			File: logger.FileConfig{
				Filename:   v.GetString("LOG_FILE"),
				MaxSize:    v.GetInt("LOG_MAX_SIZE_MB"),
				MaxAge:     v.GetInt("LOG_MAX_AGE_DAYS"),
				MaxBackups: v.GetInt("LOG_MAX_BACKUPS"),
				Compress:   true,
			},
		},
		NATSURL:       v.GetString("NATS_URL"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		CLAMAVURL:     v.GetString("CLAMAV_URL"),
		KeycloakUrl:   v.GetString("KEYCLOAK_URL"),
		OIDCClientID:  v.GetString("OIDC_CLIENT_ID"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Metadata.Driver {
	case "postgres", "sqlite", "json":
	default:
		return fmt.Errorf("METADATA_DRIVER must be postgres, sqlite or json, got %q", c.Metadata.Driver)
	}
	switch c.Blob.Driver {
	case "local", "minio":
	default:
		return fmt.Errorf("BLOB_DRIVER must be local or minio, got %q", c.Blob.Driver)
	}
	if c.Limits.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive")
	}
	if c.Limits.MaxFilesPerUpload <= 0 {
		return fmt.Errorf("MAX_FILES_PER_UPLOAD must be positive")
	}
	if c.Limits.MaxExpiryDays <= 0 {
		return fmt.Errorf("MAX_EXPIRY_DAYS must be positive")
	}
	if c.Reaper.BatchSize <= 0 {
		return fmt.Errorf("SWEEP_BATCH_SIZE must be positive")
	}
	if c.Reaper.OrphanGracePeriod < 0 {
		return fmt.Errorf("ORPHAN_GRACE_PERIOD must not be negative")
	}
	if c.Reaper.Interval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("invalid log settings: %w", err)
	}
	return nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// SQLiteDSN enables the busy timeout so concurrent sweeps and requests wait
// instead of failing.
func (c *MetadataConfig) SQLiteDSN() string {
	return "file:" + c.SQLitePath + "?_busy_timeout=5000"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
