package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/metrics"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/storage"
)

const (
	SweepExpired = "expired"
	SweepOrphans = "orphans"

	DefaultSweepBatchSize    = 100
	DefaultOrphanGracePeriod = time.Hour
)

// SweepResult reports one sweep. Per-item failures are counted, not returned.
type SweepResult struct {
	Kind     string        `json:"kind"`
	Deleted  int           `json:"deleted"`
	Errored  int           `json:"errored"`
	Skipped  bool          `json:"skipped"`
	Duration time.Duration `json:"-"`
}

// ReaperConfig tunes the sweeps.
type ReaperConfig struct {
	BatchSize int
	// OrphanGracePeriod protects blobs whose upload may still be inserting its record.
	OrphanGracePeriod time.Duration
}

// Reaper removes expired files and unreferenced blobs. It never schedules
// itself; callers trigger RunExpirySweep and RunOrphanSweep, or Start a ticker.
type Reaper struct {
	blobs  storage.BlobStore
	meta   storage.MetadataStore
	cfg    ReaperConfig
	lock   SweepLock
	events Publisher
	clock  Clock
	log    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type ReaperOption func(*Reaper)

// WithSweepLock replaces the in-process lock, e.g. with a RedisLock.
func WithSweepLock(l SweepLock) ReaperOption {
	return func(r *Reaper) { r.lock = l }
}

func WithReaperEvents(p Publisher) ReaperOption {
	return func(r *Reaper) { r.events = p }
}

func WithReaperClock(c Clock) ReaperOption {
	return func(r *Reaper) { r.clock = c }
}

func NewReaper(blobs storage.BlobStore, meta storage.MetadataStore, cfg ReaperConfig, log *zap.Logger, opts ...ReaperOption) *Reaper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultSweepBatchSize
	}
	r := &Reaper{
		blobs:  blobs,
		meta:   meta,
		cfg:    cfg,
		lock:   NewLocalLock(),
		events: NopPublisher{},
		log:    log,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunExpirySweep deletes every file whose expiry has passed: blob first, then
// record. A record whose blob could not be deleted is kept for the next run.
func (r *Reaper) RunExpirySweep(ctx context.Context) (SweepResult, error) {
	return r.run(ctx, SweepExpired, r.sweepExpired)
}

// RunOrphanSweep deletes blobs that no record references and that are older
// than the grace period.
func (r *Reaper) RunOrphanSweep(ctx context.Context) (SweepResult, error) {
	return r.run(ctx, SweepOrphans, r.sweepOrphans)
}

func (r *Reaper) run(ctx context.Context, kind string, sweep func(context.Context, *SweepResult) error) (SweepResult, error) {
	result := SweepResult{Kind: kind}

	release, ok, err := r.lock.TryLock(ctx, kind)
	if err != nil {
		return result, err
	}
	if !ok {
		result.Skipped = true
		metrics.SweepRuns.WithLabelValues(kind, "true").Inc()
		r.log.Info("sweep already running elsewhere, skipping", zap.String("kind", kind))
		return result, nil
	}
	defer release()

	start := time.Now()
	err = sweep(ctx, &result)
	result.Duration = time.Since(start)

	metrics.SweepRuns.WithLabelValues(kind, "false").Inc()
	metrics.SweepDeleted.WithLabelValues(kind).Add(float64(result.Deleted))
	metrics.SweepErrors.WithLabelValues(kind).Add(float64(result.Errored))
	metrics.SweepDuration.WithLabelValues(kind).Observe(result.Duration.Seconds())

	fields := []zap.Field{
		zap.String("kind", kind),
		zap.Int("deleted", result.Deleted),
		zap.Int("errored", result.Errored),
		zap.Duration("duration", result.Duration),
	}
	if err != nil {
		r.log.Error("sweep aborted", append(fields, zap.Error(err))...)
		return result, err
	}
	r.log.Info("sweep completed", fields...)
	return result, nil
}

func (r *Reaper) sweepExpired(ctx context.Context, result *SweepResult) error {
	now := r.clock.now()
	var cursor *storage.ExpiryCursor

	for {
		page, err := r.meta.ListExpired(ctx, now, cursor, r.cfg.BatchSize)
		if err != nil {
			return storageErr("list expired records", err)
		}
		for _, rec := range page {
			if err := ctx.Err(); err != nil {
				return err
			}

			log := r.log.With(zap.String("file_id", rec.ID), zap.String("storage_path", rec.StoragePath))
			if err := r.blobs.Delete(ctx, rec.StoragePath); err != nil {
				log.Warn("failed to delete expired blob", zap.Error(err))
				result.Errored++
				continue
			}
			deleted, err := r.meta.Delete(ctx, rec.ID)
			if err != nil {
				log.Warn("failed to delete expired record", zap.Error(err))
				result.Errored++
				continue
			}
			if !deleted {
				// removed concurrently, e.g. by an access that found it expired
				continue
			}
			result.Deleted++

			if err := r.events.Publish(ctx, SubjectFileReaped, FileEvent{
				FileID:        rec.ID,
				StoragePath:   rec.StoragePath,
				Name:          rec.OriginalName,
				Size:          rec.Size,
				ExpiresAt:     rec.ExpiresAt,
				DownloadCount: rec.DownloadCount,
				OccurredAt:    now,
			}); err != nil {
				log.Warn("failed to publish reap event", zap.Error(err))
			}
		}

		if len(page) < r.cfg.BatchSize {
			return nil
		}
		cursor = storage.CursorAfter(page[len(page)-1])
	}
}

func (r *Reaper) sweepOrphans(ctx context.Context, result *SweepResult) error {
	cutoff := r.clock.now().Add(-r.cfg.OrphanGracePeriod)

	err := r.blobs.Walk(ctx, func(blob storage.BlobInfo) error {
		if blob.ModTime.After(cutoff) {
			return nil
		}

		referenced, err := r.meta.HasStoragePath(ctx, blob.Key)
		if err != nil {
			// without the lookup we cannot prove the blob is unreferenced
			r.log.Warn("failed to look up blob reference", zap.String("storage_path", blob.Key), zap.Error(err))
			result.Errored++
			return nil
		}
		if referenced {
			return nil
		}

		if err := r.blobs.Delete(ctx, blob.Key); err != nil {
			r.log.Warn("failed to delete orphan blob", zap.String("storage_path", blob.Key), zap.Error(err))
			result.Errored++
			return nil
		}
		r.log.Info("deleted orphan blob", zap.String("storage_path", blob.Key), zap.Int64("size", blob.Size))
		result.Deleted++
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return storageErr("walk blobs", err)
	}
	return nil
}

// Start runs both sweeps every interval until ctx ends or Stop is called.
func (r *Reaper) Start(ctx context.Context, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			_, _ = r.RunExpirySweep(ctx)
			_, _ = r.RunOrphanSweep(ctx)

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	r.log.Info("periodic sweeps started", zap.Duration("interval", interval))
}

// Stop cancels the ticker started by Start and waits for the running sweep.
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.log.Info("periodic sweeps stopped")
}
