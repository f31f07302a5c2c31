package fsck

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/content"
	contentfs "github.com/marmos91/dittodisk/pkg/store/content/fs"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/store/metadata/memory"
	"github.com/marmos91/dittodisk/pkg/tree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	ctx     context.Context
	store   metadata.MetadataStore
	content content.ContentStore
	mut     *tree.Mutator
	sess    *tree.Session
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	store := memory.NewMemoryMetadataStoreWithDefaults()
	dir := t.TempDir()
	cs, err := contentfs.NewFSContentStore(ctx, contentfs.Config{
		LiveRoot:    filepath.Join(dir, "live"),
		RecycleRoot: filepath.Join(dir, "recycle"),
	})
	require.NoError(t, err)

	require.NoError(t, store.Update(ctx, func(tx metadata.Tx) error {
		return tx.PutRoleLimit("member", metadata.LimitStorage, 1<<20)
	}))
	mut, err := tree.New(store, cs, tree.Config{Secret: []byte("fsck-test-secret")})
	require.NoError(t, err)
	_, err = mut.Provision(ctx, "alice", "member")
	require.NoError(t, err)
	sess, err := mut.StartSession(ctx, "alice")
	require.NoError(t, err)

	return &env{ctx: ctx, store: store, content: cs, mut: mut, sess: sess}
}

func (e *env) upload(t *testing.T, parent *metadata.Entity, name string, size int) *metadata.Entity {
	t.Helper()
	f, err := e.mut.Upload(e.ctx, e.sess, parent.ID, name, int64(size), strings.NewReader(strings.Repeat("x", size)))
	require.NoError(t, err)
	return f
}

func (e *env) corrupt(t *testing.T, fn func(tx metadata.Tx) error) {
	t.Helper()
	require.NoError(t, e.store.Update(e.ctx, fn))
}

func kinds(r *Report) []string {
	var out []string
	for _, f := range r.Findings {
		out = append(out, f.Kind)
	}
	return out
}

func sorted(s []string) []string {
	slices.Sort(s)
	return s
}

func newTestChecker(t *testing.T, e *env, physical bool) *Checker {
	t.Helper()
	c, err := NewChecker(e.store, e.content, Config{Physical: physical})
	require.NoError(t, err)
	return c
}

func TestCheck_CleanTree(t *testing.T) {
	e := newEnv(t)
	docs, err := e.mut.CreateFolder(e.ctx, e.sess, e.sess.RootID, "docs")
	require.NoError(t, err)
	a := e.upload(t, docs, "a.txt", 10)
	e.upload(t, docs, "b.txt", 5)
	_, err = e.mut.Recycle(e.ctx, e.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)

	r, err := newTestChecker(t, e, true).Check(e.ctx, "alice")
	require.NoError(t, err)
	assert.True(t, r.OK(), "findings: %v", r.Findings)
	assert.Equal(t, 4, r.Entities)
	assert.Equal(t, 1, r.Recycled)
	assert.Contains(t, r.Summary(), "user=alice")
}

func TestCheck_AggregateAndPath(t *testing.T) {
	e := newEnv(t)
	docs, err := e.mut.CreateFolder(e.ctx, e.sess, e.sess.RootID, "docs")
	require.NoError(t, err)
	a := e.upload(t, docs, "a.txt", 10)

	e.corrupt(t, func(tx metadata.Tx) error {
		d, err := tx.GetEntity(docs.ID)
		if err != nil {
			return err
		}
		d.Size = 3
		if err := tx.PutEntity(d); err != nil {
			return err
		}
		f, err := tx.GetEntity(a.ID)
		if err != nil {
			return err
		}
		f.Path = "elsewhere/a.txt"
		return tx.PutEntity(f)
	})

	r, err := newTestChecker(t, e, false).Check(e.ctx, "alice")
	require.NoError(t, err)
	// docs and, through it, the root both disagree with their children
	assert.Equal(t, []string{KindAggregate, KindAggregate, KindPath}, sorted(kinds(r)))
}

func TestCheck_RootUsedCountsRecycled(t *testing.T) {
	e := newEnv(t)
	root, err := e.mut.Get(e.ctx, e.sess, e.sess.RootID)
	require.NoError(t, err)
	a := e.upload(t, root, "a.txt", 10)
	_, err = e.mut.Recycle(e.ctx, e.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)

	e.corrupt(t, func(tx metadata.Tx) error {
		r, err := tx.GetEntity(root.ID)
		if err != nil {
			return err
		}
		r.Size = 0
		return tx.PutEntity(r)
	})

	r, err := newTestChecker(t, e, false).Check(e.ctx, "alice")
	require.NoError(t, err)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, KindAggregate, r.Findings[0].Kind)
	assert.Equal(t, root.ID, r.Findings[0].EntityID)
}

func TestCheck_DeletedWithoutEntry(t *testing.T) {
	e := newEnv(t)
	root, err := e.mut.Get(e.ctx, e.sess, e.sess.RootID)
	require.NoError(t, err)
	a := e.upload(t, root, "a.txt", 10)

	e.corrupt(t, func(tx metadata.Tx) error {
		f, err := tx.GetEntity(a.ID)
		if err != nil {
			return err
		}
		f.Deleted = true
		return tx.PutEntity(f)
	})

	r, err := newTestChecker(t, e, false).Check(e.ctx, "alice")
	require.NoError(t, err)
	assert.Contains(t, kinds(r), KindRecycle)
}

func TestCheck_Physical(t *testing.T) {
	e := newEnv(t)
	root, err := e.mut.Get(e.ctx, e.sess, e.sess.RootID)
	require.NoError(t, err)
	a := e.upload(t, root, "a.txt", 10)
	b := e.upload(t, root, "b.txt", 4)
	entries, err := e.mut.Recycle(e.ctx, e.sess, []uuid.UUID{b.ID})
	require.NoError(t, err)

	require.NoError(t, e.content.Remove(e.ctx, content.AreaLive, a.Path))
	require.NoError(t, e.content.Remove(e.ctx, content.AreaRecycle, entries[0].RecyclePath))

	logical, err := newTestChecker(t, e, false).Check(e.ctx, "alice")
	require.NoError(t, err)
	assert.True(t, logical.OK())

	r, err := newTestChecker(t, e, true).Check(e.ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{KindPhysical, KindPhysical}, kinds(r))
}

func TestCheckAll(t *testing.T) {
	e := newEnv(t)
	_, err := e.mut.Provision(e.ctx, "bob", "member")
	require.NoError(t, err)

	reports, err := newTestChecker(t, e, true).CheckAll(e.ctx)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	for _, r := range reports {
		assert.True(t, r.OK(), "%s: %v", r.Username, r.Findings)
	}
	Log(reports)
}

func TestNewChecker_PhysicalNeedsContent(t *testing.T) {
	_, err := NewChecker(memory.NewMemoryMetadataStoreWithDefaults(), nil, Config{Physical: true})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	e := newEnv(t)

	disabled := newTestChecker(t, e, false)
	disabled.Start()
	assert.NoError(t, disabled.Stop(context.Background()))

	c, err := NewChecker(e.store, e.content, Config{Enabled: true, Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	c.Start()
	c.Start()
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, c.Stop(ctx))
	assert.NoError(t, c.Stop(ctx))
}
