package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/configuration"
	natsclient "github.com/File-Sharing-BondBridg/Link-Service/internal/nats"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/storage"
)

const sweepLockTTL = 15 * time.Minute

// app holds the stores and services shared by every command.
type app struct {
	cfg *configuration.Config
	log *zap.Logger

	meta  storage.MetadataStore
	blobs storage.BlobStore

	uploader *services.Uploader
	access   *services.AccessController
	reaper   *services.Reaper

	nats  *natsclient.Client
	redis *redis.Client
}

func newApp(ctx context.Context, cfg *configuration.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var err error
	if a.meta, err = openMetadata(ctx, cfg, log); err != nil {
		return nil, err
	}
	if a.blobs, err = openBlobs(ctx, cfg, log); err != nil {
		a.Close()
		return nil, err
	}

	var publisher services.Publisher = services.NopPublisher{}
	if cfg.NATSURL != "" {
		client, err := natsclient.NewClient(cfg.NATSURL, log.Named("nats"))
		if err != nil {
			// events are optional; the service keeps working without a broker
			log.Warn("NATS unavailable, lifecycle events disabled", zap.Error(err))
		} else {
			a.nats = client
			publisher = client.Publisher()
		}
	}

	var lock services.SweepLock = services.NewLocalLock()
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed, sweep lock will retry per run", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		lock = services.NewRedisLock(a.redis, sweepLockTTL, log.Named("lock"))
	}

	uploaderOpts := []services.UploaderOption{services.WithUploadEvents(publisher)}
	if cfg.CLAMAVURL != "" {
		scanner := services.NewClamdScanner(cfg.CLAMAVURL)
		if err := scanner.Ping(); err != nil {
			log.Warn("clamd not reachable, uploads are accepted unscanned until it is", zap.String("addr", cfg.CLAMAVURL), zap.Error(err))
		}
		uploaderOpts = append(uploaderOpts, services.WithScanner(scanner))
	}

	limits := services.Limits{
		MaxFileSize:       cfg.Limits.MaxFileSize,
		MaxFilesPerUpload: cfg.Limits.MaxFilesPerUpload,
		MaxExpiryDays:     cfg.Limits.MaxExpiryDays,
	}
	a.uploader = services.NewUploader(a.blobs, a.meta, limits, log.Named("uploader"), uploaderOpts...)
	a.access = services.NewAccessController(a.blobs, a.meta, log.Named("access"), services.WithAccessEvents(publisher))
	a.reaper = services.NewReaper(a.blobs, a.meta, services.ReaperConfig{
		BatchSize:         cfg.Reaper.BatchSize,
		OrphanGracePeriod: cfg.Reaper.OrphanGracePeriod,
	}, log.Named("reaper"), services.WithSweepLock(lock), services.WithReaperEvents(publisher))

	return a, nil
}

func openMetadata(ctx context.Context, cfg *configuration.Config, log *zap.Logger) (storage.MetadataStore, error) {
	switch cfg.Metadata.Driver {
	case "postgres":
		return storage.OpenSQLStore(ctx, storage.DialectPostgres, cfg.Database.ConnectionString(), log.Named("postgres"))
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.Metadata.SQLitePath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		return storage.OpenSQLStore(ctx, storage.DialectSQLite, cfg.Metadata.SQLiteDSN(), log.Named("sqlite"))
	case "json":
		if err := os.MkdirAll(filepath.Dir(cfg.Metadata.JSONFile), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create metadata directory: %w", err)
		}
		return storage.NewJSONStore(afero.NewOsFs(), cfg.Metadata.JSONFile)
	default:
		return nil, fmt.Errorf("unknown metadata driver %q", cfg.Metadata.Driver)
	}
}

func openBlobs(ctx context.Context, cfg *configuration.Config, log *zap.Logger) (storage.BlobStore, error) {
	switch cfg.Blob.Driver {
	case "local":
		return storage.NewLocalBlobStore(afero.NewOsFs(), cfg.Blob.UploadDir)
	case "minio":
		return storage.NewMinioBlobStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.BucketName,
			UseSSL:    cfg.MinIO.UseSSL,
		}, log.Named("minio"))
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Blob.Driver)
	}
}

func (a *app) Close() {
	if a.reaper != nil {
		a.reaper.Stop()
	}
	if a.nats != nil {
		a.nats.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("failed to close redis client", zap.Error(err))
		}
	}
	if a.meta != nil {
		if err := a.meta.Close(); err != nil {
			a.log.Warn("failed to close metadata store", zap.Error(err))
		}
	}
}
