package tree

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/fsck"
	contentfs "github.com/marmos91/dittodisk/pkg/store/content/fs"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/store/metadata/memory"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "alice"
	testRole = "member"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   metadata.MetadataStore
	content *contentfs.FSContentStore
	mut     *Mutator
	sess    *Session
	checker *fsck.Checker
}

func newFixture(t *testing.T, limit int64) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewMemoryMetadataStoreWithDefaults(), limit)
}

func newFixtureWithStore(t *testing.T, store metadata.MetadataStore, limit int64) *fixture {
	t.Helper()
	ctx := context.Background()
	t.Cleanup(func() { _ = store.Close() })

	dir := t.TempDir()
	cs, err := contentfs.NewFSContentStore(ctx, contentfs.Config{
		LiveRoot:    filepath.Join(dir, "live"),
		RecycleRoot: filepath.Join(dir, "recycle"),
		ChunkSize:   16,
	})
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, func(tx metadata.Tx) error {
		return tx.PutRoleLimit(testRole, metadata.LimitStorage, limit)
	}))

	mut, err := New(store, cs, Config{Secret: testSecret})
	require.NoError(t, err)

	_, err = mut.Provision(ctx, testUser, testRole)
	require.NoError(t, err)
	sess, err := mut.StartSession(ctx, testUser)
	require.NoError(t, err)

	checker, err := fsck.NewChecker(store, cs, fsck.Config{Physical: true})
	require.NoError(t, err)

	return &fixture{t: t, ctx: ctx, store: store, content: cs, mut: mut, sess: sess, checker: checker}
}

func (f *fixture) root() uuid.UUID {
	return f.sess.RootID
}

func (f *fixture) mkdir(parent uuid.UUID, name string) *metadata.Entity {
	f.t.Helper()
	e, err := f.mut.CreateFolder(f.ctx, f.sess, parent, name)
	require.NoError(f.t, err)
	return e
}

func (f *fixture) upload(parent uuid.UUID, name string, size int) *metadata.Entity {
	f.t.Helper()
	e, err := f.mut.Upload(f.ctx, f.sess, parent, name, int64(size), strings.NewReader(strings.Repeat("x", size)))
	require.NoError(f.t, err)
	return e
}

// entity reads a row regardless of ownership or soft-delete state.
func (f *fixture) entity(id uuid.UUID) *metadata.Entity {
	f.t.Helper()
	var e *metadata.Entity
	require.NoError(f.t, f.store.View(f.ctx, func(tx metadata.Tx) error {
		var err error
		e, err = tx.GetEntity(id)
		return err
	}))
	return e
}

func (f *fixture) size(id uuid.UUID) int64 {
	f.t.Helper()
	return f.entity(id).Size
}

func (f *fixture) missing(id uuid.UUID) bool {
	f.t.Helper()
	err := f.store.View(f.ctx, func(tx metadata.Tx) error {
		_, err := tx.GetEntity(id)
		return err
	})
	return metadata.IsCode(err, metadata.ErrNotFound)
}

func (f *fixture) exists(path string) bool {
	f.t.Helper()
	ok, err := f.mut.Allocator().Exists(f.ctx, path)
	require.NoError(f.t, err)
	return ok
}

// consistent runs the checker as an invariant oracle.
func (f *fixture) consistent() {
	f.t.Helper()
	report, err := f.checker.Check(f.ctx, testUser)
	require.NoError(f.t, err)
	require.True(f.t, report.OK(), "findings: %v", report.Findings)
}

func requireCode(t *testing.T, err error, code metadata.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	got, ok := metadata.CodeOf(err)
	require.True(t, ok, "expected StoreError, got %T: %v", err, err)
	require.Equal(t, code, got, "unexpected error: %v", err)
}
