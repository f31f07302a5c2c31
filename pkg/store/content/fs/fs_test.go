package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FSContentStore {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFSContentStore(context.Background(), Config{
		LiveRoot:    filepath.Join(dir, "pan"),
		RecycleRoot: filepath.Join(dir, "bin"),
		ChunkSize:   7,
	})
	require.NoError(t, err)
	return store
}

func TestNewFSContentStore_Validation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := NewFSContentStore(ctx, Config{LiveRoot: dir})
	assert.Error(t, err)

	_, err = NewFSContentStore(ctx, Config{LiveRoot: dir, RecycleRoot: dir + "/"})
	assert.Error(t, err)
}

func TestWriteAndOpen(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Mkdir(ctx, content.AreaLive, "u/docs"))
	payload := strings.Repeat("chunked-", 10)

	n, err := store.Write(ctx, content.AreaLive, "u/docs/a.txt", strings.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	f, err := store.Open(ctx, content.AreaLive, "u/docs/a.txt")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	// Exclusive create
	_, err = store.Write(ctx, content.AreaLive, "u/docs/a.txt", strings.NewReader("x"))
	assert.True(t, errors.Is(err, content.ErrExists))
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, errors.New("transport closed")
	}
	n := min(len(p), r.after)
	for i := range n {
		p[i] = 'x'
	}
	r.after -= n
	return n, nil
}

func TestWrite_FailureLeavesNoFile(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.Mkdir(ctx, content.AreaLive, "u"))

	_, err := store.Write(ctx, content.AreaLive, "u/broken.bin", &failingReader{after: 20})
	require.Error(t, err)

	exists, err := store.Exists(ctx, content.AreaLive, "u/broken.bin")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRename_AcrossAreas(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Mkdir(ctx, content.AreaLive, "u/folder/sub"))
	require.NoError(t, store.Mkdir(ctx, content.AreaRecycle, "u"))
	_, err := store.Write(ctx, content.AreaLive, "u/folder/sub/f", bytes.NewReader([]byte("12345")))
	require.NoError(t, err)

	require.NoError(t, store.Rename(ctx, content.AreaLive, "u/folder", content.AreaRecycle, "u/abc"))

	exists, err := store.Exists(ctx, content.AreaLive, "u/folder")
	require.NoError(t, err)
	assert.False(t, exists)

	size, err := store.Size(ctx, content.AreaRecycle, "u/abc")
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	// Occupied target
	require.NoError(t, store.Mkdir(ctx, content.AreaLive, "u/folder"))
	err = store.Rename(ctx, content.AreaRecycle, "u/abc", content.AreaLive, "u/folder")
	assert.True(t, errors.Is(err, content.ErrExists))
}

func TestPathsAreConfined(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Mkdir(ctx, content.AreaLive, "../../escape"))
	_, err := os.Stat(filepath.Join(store.Root(content.AreaLive), "escape"))
	assert.NoError(t, err, "dot-dot segments are resolved inside the area root")
}

func TestRemoveAndWalk(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Mkdir(ctx, content.AreaLive, "u/a/b"))
	_, err := store.Write(ctx, content.AreaLive, "u/a/b/f1", strings.NewReader("1"))
	require.NoError(t, err)
	_, err = store.Write(ctx, content.AreaLive, "u/a/f2", strings.NewReader("22"))
	require.NoError(t, err)

	var seen []string
	require.NoError(t, store.Walk(ctx, content.AreaLive, "u", func(path string, info os.FileInfo) error {
		seen = append(seen, path)
		return nil
	}))
	assert.ElementsMatch(t, []string{"u", "u/a", "u/a/b", "u/a/b/f1", "u/a/f2"}, seen)

	require.NoError(t, store.Remove(ctx, content.AreaLive, "u/a"))
	require.NoError(t, store.Remove(ctx, content.AreaLive, "u/a"), "missing path is not an error")
	assert.Error(t, store.Remove(ctx, content.AreaLive, ""))

	size, err := store.Size(ctx, content.AreaLive, "u")
	require.NoError(t, err)
	assert.Zero(t, size)
}
