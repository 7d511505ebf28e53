package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/File-Sharing-BondBridg/Link-Service/internal/models"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/storage"
)

const testBaseURL = "https://share.example.com"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]FileEvent
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, e FileEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[string][]FileEvent)
	}
	p.events[subject] = append(p.events[subject], e)
	return nil
}

func (p *recordingPublisher) count(subject string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events[subject])
}

type harness struct {
	fs       afero.Fs
	blobs    storage.BlobStore
	meta     storage.MetadataStore
	clock    *testClock
	events   *recordingPublisher
	uploader *Uploader
	access   *AccessController
	reaper   *Reaper
}

type harnessOptions struct {
	limits   Limits
	blobs    func(storage.BlobStore) storage.BlobStore
	meta     func(storage.MetadataStore) storage.MetadataStore
	scanner  Scanner
	batch    int
	grace    time.Duration
	sweepLck SweepLock
}

func newHarness(t *testing.T, opts ...func(*harnessOptions)) *harness {
	t.Helper()

	o := harnessOptions{limits: DefaultLimits(), batch: 2, grace: time.Hour}
	for _, opt := range opts {
		opt(&o)
	}

	fs := afero.NewMemMapFs()
	local, err := storage.NewLocalBlobStore(fs, "/uploads")
	require.NoError(t, err)
	jsonStore, err := storage.NewJSONStore(fs, "/data/files.json")
	require.NoError(t, err)

	var blobs storage.BlobStore = local
	if o.blobs != nil {
		blobs = o.blobs(local)
	}
	var meta storage.MetadataStore = jsonStore
	if o.meta != nil {
		meta = o.meta(jsonStore)
	}

	h := &harness{
		fs:     fs,
		blobs:  blobs,
		meta:   meta,
		clock:  newTestClock(),
		events: &recordingPublisher{},
	}
	log := zaptest.NewLogger(t)
	clock := Clock(h.clock.Now)

	uploaderOpts := []UploaderOption{WithUploadEvents(h.events), WithUploadClock(clock)}
	if o.scanner != nil {
		uploaderOpts = append(uploaderOpts, WithScanner(o.scanner))
	}
	h.uploader = NewUploader(blobs, meta, o.limits, log.Named("uploader"), uploaderOpts...)
	h.access = NewAccessController(blobs, meta, log.Named("access"), WithAccessEvents(h.events), WithAccessClock(clock))

	reaperOpts := []ReaperOption{WithReaperEvents(h.events), WithReaperClock(clock)}
	if o.sweepLck != nil {
		reaperOpts = append(reaperOpts, WithSweepLock(o.sweepLck))
	}
	h.reaper = NewReaper(blobs, meta, ReaperConfig{BatchSize: o.batch, OrphanGracePeriod: o.grace}, log.Named("reaper"), reaperOpts...)
	return h
}

func candidate(name, mimeType string, data []byte) UploadCandidate {
	return UploadCandidate{
		Name:     name,
		Size:     int64(len(data)),
		MimeType: mimeType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// oversized declares size bytes without ever producing them.
func oversized(name string, size int64) UploadCandidate {
	return UploadCandidate{
		Name:     name,
		Size:     size,
		MimeType: "application/zip",
		Open: func() (io.ReadCloser, error) {
			return nil, errors.New("oversized file must not be opened")
		},
	}
}

func days(n int) *int { return &n }

func (h *harness) upload(t *testing.T, opts UploadOptions, files ...UploadCandidate) *UploadResult {
	t.Helper()
	if opts.BaseURL == "" {
		opts.BaseURL = testBaseURL
	}
	res, err := h.uploader.Upload(context.Background(), files, opts)
	require.NoError(t, err)
	return res
}

func (h *harness) retrieveAll(t *testing.T, id, password string) ([]byte, *models.FileRecord) {
	t.Helper()
	dl, err := h.access.Retrieve(context.Background(), id, password)
	require.NoError(t, err)
	defer dl.Blob.Close()
	data, err := io.ReadAll(dl.Blob)
	require.NoError(t, err)
	return data, dl.Record
}

func (h *harness) blobKeys(t *testing.T) []string {
	t.Helper()
	var keys []string
	require.NoError(t, h.blobs.Walk(context.Background(), func(b storage.BlobInfo) error {
		keys = append(keys, b.Key)
		return nil
	}))
	return keys
}

// failingMeta wraps a store and fails selected operations.
type failingMeta struct {
	storage.MetadataStore
	insertErr    error
	incrementErr error
	deleteErr    error
}

func (f *failingMeta) Insert(ctx context.Context, rec *models.FileRecord) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.MetadataStore.Insert(ctx, rec)
}

func (f *failingMeta) IncrementDownloadCount(ctx context.Context, id string) (int64, error) {
	if f.incrementErr != nil {
		return 0, f.incrementErr
	}
	return f.MetadataStore.IncrementDownloadCount(ctx, id)
}

func (f *failingMeta) Delete(ctx context.Context, id string) (bool, error) {
	if f.deleteErr != nil {
		return false, f.deleteErr
	}
	return f.MetadataStore.Delete(ctx, id)
}

// failingBlobs wraps a store and fails writes or deletes of chosen keys.
type failingBlobs struct {
	storage.BlobStore
	putErr     error
	deleteFail func(key string) bool
	closed     *int
}

func (f *failingBlobs) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	if f.putErr != nil {
		return 0, f.putErr
	}
	return f.BlobStore.Put(ctx, key, r, contentType)
}

func (f *failingBlobs) Delete(ctx context.Context, key string) error {
	if f.deleteFail != nil && f.deleteFail(key) {
		return errors.New("permission denied")
	}
	return f.BlobStore.Delete(ctx, key)
}

func (f *failingBlobs) Open(ctx context.Context, key string) (*storage.Blob, error) {
	blob, err := f.BlobStore.Open(ctx, key)
	if err != nil || f.closed == nil {
		return blob, err
	}
	return &storage.Blob{ReadSeekCloser: &closeCounter{ReadSeekCloser: blob.ReadSeekCloser, n: f.closed}, Size: blob.Size, ModTime: blob.ModTime}, nil
}

type closeCounter struct {
	io.ReadSeekCloser
	n *int
}

func (c *closeCounter) Close() error {
	*c.n++
	return c.ReadSeekCloser.Close()
}

type stubScanner struct {
	verdict Verdict
	err     error
	calls   int
}

func (s *stubScanner) Scan(_ context.Context, r io.Reader) (Verdict, error) {
	s.calls++
	if _, err := io.Copy(io.Discard, r); err != nil {
		return Verdict{}, err
	}
	return s.verdict, s.err
}
