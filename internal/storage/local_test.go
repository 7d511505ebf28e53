package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalStore(t *testing.T) (*LocalBlobStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	store, err := NewLocalBlobStore(fs, "/uploads")
	require.NoError(t, err)
	return store, fs
}

func TestLocalBlobStorePutOpen(t *testing.T) {
	ctx := context.Background()
	store, _ := newLocalStore(t)

	payload := []byte("hello, world")
	n, err := store.Put(ctx, "file-1-abc.txt", bytes.NewReader(payload), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	blob, err := store.Open(ctx, "file-1-abc.txt")
	require.NoError(t, err)
	defer blob.Close()
	assert.Equal(t, int64(len(payload)), blob.Size)

	got, err := io.ReadAll(blob)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	exists, err := store.Exists(ctx, "file-1-abc.txt")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLocalBlobStoreOpenMissing(t *testing.T) {
	store, _ := newLocalStore(t)
	_, err := store.Open(context.Background(), "file-missing")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestLocalBlobStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, _ := newLocalStore(t)

	_, err := store.Put(ctx, "file-2", strings.NewReader("x"), "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "file-2"))
	require.NoError(t, store.Delete(ctx, "file-2"))

	exists, err := store.Exists(ctx, "file-2")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalBlobStoreRejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	store, _ := newLocalStore(t)

	for _, key := range []string{"", "..", "../etc/passwd", "a/b", ".tmp", "dir\\file", "a\x00b"} {
		_, err := store.Put(ctx, key, strings.NewReader("x"), "")
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

type failingReader struct{ after int }

func (f *failingReader) Read(p []byte) (int, error) {
	if f.after <= 0 {
		return 0, errors.New("connection reset")
	}
	n := len(p)
	if n > f.after {
		n = f.after
	}
	f.after -= n
	return n, nil
}

func TestLocalBlobStoreFailedPutLeavesNothing(t *testing.T) {
	ctx := context.Background()
	store, _ := newLocalStore(t)

	_, err := store.Put(ctx, "file-3", &failingReader{after: 10}, "")
	require.Error(t, err)

	exists, err := store.Exists(ctx, "file-3")
	require.NoError(t, err)
	assert.False(t, exists)

	var keys []string
	require.NoError(t, store.Walk(ctx, func(b BlobInfo) error {
		keys = append(keys, b.Key)
		return nil
	}))
	assert.Empty(t, keys)
}

func TestLocalBlobStorePutHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store, _ := newLocalStore(t)

	_, err := store.Put(ctx, "file-4", strings.NewReader("data"), "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalBlobStoreWalkIncludesTempFiles(t *testing.T) {
	ctx := context.Background()
	store, fs := newLocalStore(t)

	_, err := store.Put(ctx, "file-a", strings.NewReader("aa"), "")
	require.NoError(t, err)
	_, err = store.Put(ctx, "file-b", strings.NewReader("bbb"), "")
	require.NoError(t, err)
	// leftover of a crashed write
	require.NoError(t, afero.WriteFile(fs, "/uploads/.tmp/partial", []byte("p"), 0o640))

	sizes := map[string]int64{}
	require.NoError(t, store.Walk(ctx, func(b BlobInfo) error {
		sizes[b.Key] = b.Size
		return nil
	}))

	keys := make([]string, 0, len(sizes))
	for k := range sizes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{".tmp/partial", "file-a", "file-b"}, keys)
	assert.Equal(t, int64(3), sizes["file-b"])

	require.NoError(t, store.Delete(ctx, ".tmp/partial"))
	exists, err := afero.Exists(fs, "/uploads/.tmp/partial")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalBlobStoreWalkStopsOnCallbackError(t *testing.T) {
	ctx := context.Background()
	store, _ := newLocalStore(t)
	_, err := store.Put(ctx, "file-a", strings.NewReader("a"), "")
	require.NoError(t, err)

	stop := errors.New("stop")
	err = store.Walk(ctx, func(BlobInfo) error { return stop })
	assert.ErrorIs(t, err, stop)
}
