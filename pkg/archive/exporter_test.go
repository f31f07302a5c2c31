package archive

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
	contentfs "github.com/marmos91/dittodisk/pkg/store/content/fs"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/store/metadata/memory"
	"github.com/marmos91/dittodisk/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	t     *testing.T
	ctx   context.Context
	store metadata.MetadataStore
	cs    *contentfs.FSContentStore
	mut   *tree.Mutator
	sess  *tree.Session
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryMetadataStoreWithDefaults()
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	cs, err := contentfs.NewFSContentStore(ctx, contentfs.Config{
		LiveRoot:    filepath.Join(dir, "live"),
		RecycleRoot: filepath.Join(dir, "recycle"),
	})
	require.NoError(t, err)
	require.NoError(t, store.Update(ctx, func(tx metadata.Tx) error {
		return tx.PutRoleLimit("member", metadata.LimitStorage, 64<<20)
	}))

	mut, err := tree.New(store, cs, tree.Config{Secret: []byte("archive-secret")})
	require.NoError(t, err)
	_, err = mut.Provision(ctx, "alice", "member")
	require.NoError(t, err)
	sess, err := mut.StartSession(ctx, "alice")
	require.NoError(t, err)

	return &env{t: t, ctx: ctx, store: store, cs: cs, mut: mut, sess: sess}
}

func (e *env) mkdir(parent uuid.UUID, name string) *metadata.Entity {
	e.t.Helper()
	f, err := e.mut.CreateFolder(e.ctx, e.sess, parent, name)
	require.NoError(e.t, err)
	return f
}

func (e *env) put(parent uuid.UUID, name string, data []byte) *metadata.Entity {
	e.t.Helper()
	f, err := e.mut.Upload(e.ctx, e.sess, parent, name, int64(len(data)), bytes.NewReader(data))
	require.NoError(e.t, err)
	return f
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())
		out[f.Name] = b
	}
	return out
}

func names(m map[string][]byte) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func encrypt(t *testing.T, key, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte(nil), plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)

	out := make([]byte, aes.BlockSize+len(padded))
	_, err = rand.Read(out[:aes.BlockSize])
	require.NoError(t, err)
	cipher.NewCBCEncrypter(block, out[:aes.BlockSize]).CryptBlocks(out[aes.BlockSize:], padded)
	return out
}

type fakeMetrics struct {
	mu        sync.Mutex
	exports   []string
	bytes     int64
	fallbacks int
	multipart []string
}

func (m *fakeMetrics) ObserveExport(dest string, _ time.Duration, n int64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.exports = append(m.exports, dest+":"+status)
	m.bytes += n
}

func (m *fakeMetrics) RecordMultipartUpload(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.multipart = append(m.multipart, status)
}

func (m *fakeMetrics) RecordDecryptFallback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallbacks++
}

func TestExportLayout(t *testing.T) {
	e := newEnv(t)
	docs := e.mkdir(e.sess.RootID, "docs")
	sub := e.mkdir(docs.ID, "sub")
	e.mkdir(sub.ID, "empty")
	e.put(docs.ID, "a.txt", []byte("alpha"))
	e.put(sub.ID, "b.txt", []byte("bravo"))
	gone := e.put(docs.ID, "gone.txt", []byte("zzz"))
	_, err := e.mut.Recycle(e.ctx, e.sess, []uuid.UUID{gone.ID})
	require.NoError(t, err)

	fm := &fakeMetrics{}
	x, err := NewExporter(e.store, e.cs, Config{Metrics: fm})
	require.NoError(t, err)

	var buf bytes.Buffer
	n, err := x.Export(e.ctx, e.sess, docs.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	files := readZip(t, buf.Bytes())
	assert.Equal(t, []string{
		"docs/",
		"docs/a.txt",
		"docs/sub/",
		"docs/sub/b.txt",
		"docs/sub/empty/",
	}, names(files))
	assert.Equal(t, "alpha", string(files["docs/a.txt"]))
	assert.Equal(t, "bravo", string(files["docs/sub/b.txt"]))

	assert.Equal(t, []string{"stream:ok"}, fm.exports)
	assert.Equal(t, n, fm.bytes)
}

func TestExportRoot(t *testing.T) {
	e := newEnv(t)
	e.put(e.sess.RootID, "top.txt", []byte("top"))

	x, err := NewExporter(e.store, e.cs, Config{})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = x.Export(e.ctx, e.sess, e.sess.RootID, &buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice/", "alice/top.txt"}, names(readZip(t, buf.Bytes())))
}

func TestExportRejections(t *testing.T) {
	e := newEnv(t)
	file := e.put(e.sess.RootID, "f.txt", []byte("x"))
	folder := e.mkdir(e.sess.RootID, "d")

	x, err := NewExporter(e.store, e.cs, Config{})
	require.NoError(t, err)

	_, err = x.Export(e.ctx, e.sess, file.ID, io.Discard)
	code, _ := metadata.CodeOf(err)
	assert.Equal(t, metadata.ErrNotDirectory, code)

	_, err = x.Export(e.ctx, e.sess, uuid.New(), io.Discard)
	assert.True(t, metadata.IsCode(err, metadata.ErrNotFound))

	_, err = e.mut.Recycle(e.ctx, e.sess, []uuid.UUID{folder.ID})
	require.NoError(t, err)
	_, err = x.Export(e.ctx, e.sess, folder.ID, io.Discard)
	assert.True(t, metadata.IsCode(err, metadata.ErrNotFound))

	other := tree.NewSession("mallory", "member", uuid.New(), uuid.New(), nil)
	_, err = x.Export(e.ctx, other, e.sess.RootID, io.Discard)
	assert.True(t, metadata.IsCode(err, metadata.ErrNotFound))

	_, err = NewExporter(e.store, e.cs, Config{Level: 42})
	require.Error(t, err)
}

func TestExportDecrypts(t *testing.T) {
	e := newEnv(t)
	key := []byte("0123456789abcdef0123456789abcdef")
	dir := e.mkdir(e.sess.RootID, "vault")
	e.put(dir.ID, "secret.txt", encrypt(t, key, []byte("top secret payload")))
	e.put(dir.ID, "plain.txt", []byte("not encrypted at all"))

	dec, err := NewDecrypter(key)
	require.NoError(t, err)
	fm := &fakeMetrics{}
	x, err := NewExporter(e.store, e.cs, Config{Decrypter: dec, Metrics: fm})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = x.Export(e.ctx, e.sess, dir.ID, &buf)
	require.NoError(t, err)

	files := readZip(t, buf.Bytes())
	assert.Equal(t, "top secret payload", string(files["vault/secret.txt"]))
	assert.Equal(t, "not encrypted at all", string(files["vault/plain.txt"]))
	assert.Equal(t, 1, fm.fallbacks)
}

// encryptUnpadded CBC-encrypts plain, whose length must be a multiple of
// the block size, without adding padding.
func encryptUnpadded(t *testing.T, key, plain []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, aes.BlockSize+len(plain))
	_, err = rand.Read(out[:aes.BlockSize])
	require.NoError(t, err)
	cipher.NewCBCEncrypter(block, out[:aes.BlockSize]).CryptBlocks(out[aes.BlockSize:], plain)
	return out
}

func TestExportStreamsLargeFiles(t *testing.T) {
	e := newEnv(t)
	key := []byte("0123456789abcdef0123456789abcdef")
	dir := e.mkdir(e.sess.RootID, "vault")

	big := bytes.Repeat([]byte("0123456789"), 20000)
	e.put(dir.ID, "big.bin", encrypt(t, key, big))
	// Block aligned and long enough to pass the length check, but the last
	// plaintext byte is zero so the padding is invalid.
	tail := bytes.Repeat([]byte{'z'}, 3*streamChunk)
	tail[len(tail)-1] = 0
	opaque := encryptUnpadded(t, key, tail)
	e.put(dir.ID, "opaque.bin", opaque)

	dec, err := NewDecrypter(key)
	require.NoError(t, err)
	fm := &fakeMetrics{}
	x, err := NewExporter(e.store, e.cs, Config{Decrypter: dec, Metrics: fm})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = x.Export(e.ctx, e.sess, dir.ID, &buf)
	require.NoError(t, err)

	files := readZip(t, buf.Bytes())
	assert.Equal(t, big, files["vault/big.bin"])
	assert.Equal(t, opaque, files["vault/opaque.bin"])
	assert.Equal(t, 1, fm.fallbacks)
}

func TestDecryptTo(t *testing.T) {
	key := []byte("0123456789abcdef")
	dec, err := NewDecrypter(key)
	require.NoError(t, err)

	plain := bytes.Repeat([]byte("abcdefg"), 3*streamChunk/7+5)
	var out bytes.Buffer
	n, err := dec.DecryptTo(&out, bytes.NewReader(encrypt(t, key, plain)))
	require.NoError(t, err)
	assert.Equal(t, int64(len(plain)), n)
	assert.Equal(t, plain, out.Bytes())

	bad := make([]byte, 2*streamChunk)
	bad[len(bad)-1] = 0
	src := bytes.NewReader(encryptUnpadded(t, key, bad))
	out.Reset()
	_, err = dec.DecryptTo(&out, src)
	assert.ErrorIs(t, err, ErrNotEncrypted)
	assert.Zero(t, out.Len())
	pos, err := src.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestDecrypter(t *testing.T) {
	key := []byte("0123456789abcdef")
	dec, err := NewDecrypter(key)
	require.NoError(t, err)

	for _, plain := range []string{"", "a", strings.Repeat("b", 16), strings.Repeat("c", 33)} {
		got, err := dec.Decrypt(encrypt(t, key, []byte(plain)))
		require.NoError(t, err)
		assert.Equal(t, plain, string(got))
	}

	_, err = dec.Decrypt([]byte("short"))
	assert.ErrorIs(t, err, ErrNotEncrypted)
	_, err = dec.Decrypt(make([]byte, 31))
	assert.ErrorIs(t, err, ErrNotEncrypted)

	// Well-formed ciphertext whose plaintext ends in a zero byte.
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	unpadded := make([]byte, 2*aes.BlockSize)
	cipher.NewCBCEncrypter(block, unpadded[:aes.BlockSize]).
		CryptBlocks(unpadded[aes.BlockSize:], []byte("0123456789abcde\x00"))
	_, err = dec.Decrypt(unpadded)
	assert.ErrorIs(t, err, ErrNotEncrypted)

	_, err = NewDecrypter([]byte("bad"))
	require.Error(t, err)
}
