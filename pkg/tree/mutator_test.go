package tree

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/store/metadata/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvision(t *testing.T) {
	f := newFixture(t, 1000)

	root := f.entity(f.root())
	assert.True(t, root.IsRoot())
	assert.Equal(t, f.mut.Allocator().SecretRoot(testUser), root.Path)
	assert.Equal(t, root.Path, root.Name)
	assert.True(t, f.exists(root.Path))

	recycleExists, err := f.content.Exists(f.ctx, content.AreaRecycle, root.Path)
	require.NoError(t, err)
	assert.True(t, recycleExists)

	_, err = f.mut.Provision(f.ctx, testUser, testRole)
	requireCode(t, err, metadata.ErrAlreadyExists)

	_, err = f.mut.Provision(f.ctx, "bad:name", testRole)
	requireCode(t, err, metadata.ErrInvalidArgument)

	assert.Equal(t, int64(1000), mustTerm(t, f.sess, metadata.LimitStorage))
	assert.Zero(t, f.sess.Used())
	f.consistent()
}

func mustTerm(t *testing.T, sess *Session, key string) int64 {
	t.Helper()
	v, ok := sess.Term(key)
	require.True(t, ok)
	return v
}

func TestUploadRecycleRestorePurge(t *testing.T) {
	f := newFixture(t, 1000)
	docs := f.mkdir(f.root(), "docs")

	a := f.upload(docs.ID, "a.txt", 100)
	assert.Equal(t, "txt", a.Suffix)
	assert.Equal(t, int64(100), f.size(docs.ID))
	assert.Equal(t, int64(100), f.size(f.root()))
	assert.Equal(t, int64(100), f.sess.Used())
	f.consistent()

	entries, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Zero(t, f.size(docs.ID))
	assert.Equal(t, int64(100), f.size(f.root()), "recycled bytes still count as used")
	assert.Equal(t, int64(100), f.sess.Used())
	assert.False(t, f.exists(a.Path))
	f.consistent()

	_, err = f.mut.Get(f.ctx, f.sess, a.ID)
	requireCode(t, err, metadata.ErrNotFound)

	result, err := f.mut.Restore(f.ctx, f.sess, []uuid.UUID{entries[0].ID})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.False(t, result.Conflict)
	restored := result.Items[0].Entity
	assert.Equal(t, a.Path, restored.Path)
	assert.Equal(t, docs.ID, restored.ParentID)
	assert.Equal(t, int64(100), f.size(docs.ID))
	assert.Equal(t, int64(100), f.size(f.root()))
	assert.True(t, f.exists(a.Path))
	f.consistent()

	entries, err = f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)
	freed, err := f.mut.Purge(f.ctx, f.sess, []uuid.UUID{entries[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(100), freed)
	assert.Zero(t, f.size(f.root()))
	assert.Zero(t, f.sess.Used())
	assert.True(t, f.missing(a.ID))

	blob, err := f.content.Exists(f.ctx, content.AreaRecycle, entries[0].RecyclePath)
	require.NoError(t, err)
	assert.False(t, blob)

	items, err := f.mut.ListRecycled(f.ctx, f.sess)
	require.NoError(t, err)
	assert.Empty(t, items)
	f.consistent()
}

func TestUpload_QuotaExceeded(t *testing.T) {
	f := newFixture(t, 150)
	f.upload(f.root(), "a.bin", 100)

	_, err := f.mut.Upload(f.ctx, f.sess, f.root(), "b.bin", 51, strings.NewReader(strings.Repeat("x", 51)))
	requireCode(t, err, metadata.ErrQuotaExceeded)
	assert.Equal(t, int64(100), f.sess.Used())
	assert.Equal(t, int64(100), f.size(f.root()))

	f.upload(f.root(), "b.bin", 50)
	assert.Equal(t, int64(150), f.sess.Used())
	f.consistent()
}

func TestUpload_DuplicateNameRejected(t *testing.T) {
	f := newFixture(t, 1000)
	f.upload(f.root(), "a.txt", 10)

	_, err := f.mut.Upload(f.ctx, f.sess, f.root(), "a.txt", 5, strings.NewReader("12345"))
	requireCode(t, err, metadata.ErrNameCollision)

	_, err = f.mut.CreateFolder(f.ctx, f.sess, f.root(), "a.txt")
	requireCode(t, err, metadata.ErrNameCollision)

	assert.Equal(t, int64(10), f.sess.Used())
	f.consistent()
}

func TestUpload_SizeMismatch(t *testing.T) {
	f := newFixture(t, 1000)

	_, err := f.mut.Upload(f.ctx, f.sess, f.root(), "short.bin", 10, strings.NewReader("12345"))
	requireCode(t, err, metadata.ErrInvalidArgument)

	_, err = f.mut.Upload(f.ctx, f.sess, f.root(), "long.bin", 3, strings.NewReader("12345"))
	requireCode(t, err, metadata.ErrInvalidArgument)

	list, err := f.mut.List(f.ctx, f.sess, f.root())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Zero(t, f.sess.Used())
	f.consistent()
}

func TestUpload_PhysicalFailureIsFatal(t *testing.T) {
	f := newFixture(t, 1000)
	docs := f.mkdir(f.root(), "docs")
	require.NoError(t, f.content.Remove(f.ctx, content.AreaLive, docs.Path))

	_, err := f.mut.Upload(f.ctx, f.sess, docs.ID, "a.txt", 3, strings.NewReader("abc"))
	requireCode(t, err, metadata.ErrFatalStorage)

	list, err := f.mut.List(f.ctx, f.sess, docs.ID)
	require.NoError(t, err)
	assert.Empty(t, list, "metadata rolled back")
	assert.Zero(t, f.size(f.root()))
	assert.Zero(t, f.sess.Used())
}

func TestUpload_IntoFile(t *testing.T) {
	f := newFixture(t, 1000)
	file := f.upload(f.root(), "a.txt", 1)

	_, err := f.mut.Upload(f.ctx, f.sess, file.ID, "b.txt", 1, strings.NewReader("x"))
	requireCode(t, err, metadata.ErrNotDirectory)
}

func TestMove_Propagation(t *testing.T) {
	f := newFixture(t, 1000)
	c := f.mkdir(f.root(), "c")
	a := f.mkdir(c.ID, "a")
	b := f.mkdir(c.ID, "b")
	file := f.upload(a.ID, "f.dat", 30)

	moved, err := f.mut.Move(f.ctx, f.sess, file.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Path+"/f.dat", moved.Path)

	assert.Equal(t, int64(30), f.size(c.ID), "common ancestor unchanged")
	assert.Zero(t, f.size(a.ID))
	assert.Equal(t, int64(30), f.size(b.ID))
	assert.Equal(t, int64(30), f.size(f.root()))
	assert.True(t, f.exists(moved.Path))
	assert.False(t, f.exists(file.Path))
	f.consistent()

	// Folder move rewrites descendant paths
	other := f.mkdir(f.root(), "other")
	_, err = f.mut.Move(f.ctx, f.sess, b.ID, other.ID)
	require.NoError(t, err)
	assert.Equal(t, other.Path+"/b/f.dat", f.entity(file.ID).Path)
	assert.Zero(t, f.size(c.ID))
	assert.Equal(t, int64(30), f.size(other.ID))
	f.consistent()
}

func TestMove_Rejections(t *testing.T) {
	f := newFixture(t, 1000)
	c := f.mkdir(f.root(), "c")
	a := f.mkdir(c.ID, "a")
	file := f.upload(f.root(), "f.dat", 1)
	f.upload(a.ID, "f.dat", 1)

	_, err := f.mut.Move(f.ctx, f.sess, c.ID, a.ID)
	requireCode(t, err, metadata.ErrInvalidArgument)

	_, err = f.mut.Move(f.ctx, f.sess, c.ID, c.ID)
	requireCode(t, err, metadata.ErrInvalidArgument)

	_, err = f.mut.Move(f.ctx, f.sess, a.ID, file.ID)
	requireCode(t, err, metadata.ErrNotDirectory)

	_, err = f.mut.Move(f.ctx, f.sess, file.ID, a.ID)
	requireCode(t, err, metadata.ErrNameCollision)

	_, err = f.mut.Move(f.ctx, f.sess, f.root(), a.ID)
	requireCode(t, err, metadata.ErrPermissionViolation)

	same, err := f.mut.Move(f.ctx, f.sess, a.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Path, same.Path)
	f.consistent()
}

func TestRename(t *testing.T) {
	f := newFixture(t, 1000)
	c := f.mkdir(f.root(), "c")
	sub := f.mkdir(c.ID, "sub")
	file := f.upload(sub.ID, "notes.txt", 4)
	f.mkdir(f.root(), "taken")

	renamed, err := f.mut.Rename(f.ctx, f.sess, c.ID, "d")
	require.NoError(t, err)
	rootPath := f.entity(f.root()).Path
	assert.Equal(t, rootPath+"/d", renamed.Path)
	assert.Equal(t, rootPath+"/d/sub/notes.txt", f.entity(file.ID).Path)
	assert.True(t, f.exists(rootPath+"/d/sub/notes.txt"))
	assert.False(t, f.exists(c.Path))

	file2, err := f.mut.Rename(f.ctx, f.sess, file.ID, "notes.MD")
	require.NoError(t, err)
	assert.Equal(t, "md", file2.Suffix)

	_, err = f.mut.Rename(f.ctx, f.sess, renamed.ID, "taken")
	requireCode(t, err, metadata.ErrNameCollision)

	_, err = f.mut.Rename(f.ctx, f.sess, f.root(), "x")
	requireCode(t, err, metadata.ErrPermissionViolation)

	_, err = f.mut.Rename(f.ctx, f.sess, renamed.ID, "a/b")
	requireCode(t, err, metadata.ErrInvalidArgument)
	f.consistent()
}

func TestRecycle_BatchCoversNestedItems(t *testing.T) {
	f := newFixture(t, 1000)
	c := f.mkdir(f.root(), "c")
	a := f.mkdir(c.ID, "a")
	file := f.upload(a.ID, "f", 10)

	entries, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{file.ID, c.ID, a.ID, c.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, c.ID, entries[0].OriginID)
	assert.Equal(t, c.Path, entries[0].OriginPath)

	for _, id := range []uuid.UUID{c.ID, a.ID, file.ID} {
		e := f.entity(id)
		assert.True(t, e.Deleted)
		assert.Equal(t, c.ID, e.TrashedBy)
	}
	assert.Equal(t, int64(10), f.size(f.root()))
	f.consistent()

	_, err = f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{f.root()})
	requireCode(t, err, metadata.ErrPermissionViolation)

	_, err = f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{c.ID})
	requireCode(t, err, metadata.ErrNotFound)
}

func TestRestore_NameTakenConflict(t *testing.T) {
	f := newFixture(t, 1000)
	docs := f.mkdir(f.root(), "docs")
	a := f.upload(docs.ID, "a.txt", 100)

	entries, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)
	f.upload(docs.ID, "a.txt", 50)

	result, err := f.mut.Restore(f.ctx, f.sess, []uuid.UUID{entries[0].ID})
	require.NoError(t, err)
	require.True(t, result.Conflict)
	item := result.Items[0]
	assert.True(t, item.Conflict)
	assert.Equal(t, f.root(), item.Entity.ParentID)
	assert.NotEqual(t, "a.txt", item.Entity.Name)
	assert.True(t, strings.HasSuffix(item.Entity.Name, ".txt"))
	assert.True(t, f.exists(item.Entity.Path))

	assert.Equal(t, int64(50), f.size(docs.ID))
	assert.Equal(t, int64(150), f.size(f.root()))
	f.consistent()
}

func TestRestore_DeletedParentConflict(t *testing.T) {
	f := newFixture(t, 1000)
	docs := f.mkdir(f.root(), "docs")
	a := f.upload(docs.ID, "a.txt", 100)

	first, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)
	_, err = f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{docs.ID})
	require.NoError(t, err)
	f.consistent()

	result, err := f.mut.Restore(f.ctx, f.sess, []uuid.UUID{first[0].ID})
	require.NoError(t, err)
	assert.True(t, result.Conflict)
	assert.Equal(t, f.root(), result.Items[0].Entity.ParentID)
	assert.Equal(t, int64(100), f.size(f.root()))
	f.consistent()
}

func TestRestore_NestedItemsInOneBatch(t *testing.T) {
	f := newFixture(t, 1000)
	docs := f.mkdir(f.root(), "docs")
	a := f.upload(docs.ID, "a.txt", 100)
	f.upload(docs.ID, "b.txt", 20)

	inner, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)
	outer, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{docs.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(120), f.size(f.root()))
	f.consistent()

	// Inner entry listed first; the outer folder must come back before it.
	result, err := f.mut.Restore(f.ctx, f.sess, []uuid.UUID{inner[0].ID, outer[0].ID})
	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, a.Path, f.entity(a.ID).Path)
	assert.Equal(t, int64(120), f.size(docs.ID))
	assert.True(t, f.exists(a.Path))
	f.consistent()
}

func TestRestore_OuterLeavesSeparatelyRecycledChild(t *testing.T) {
	f := newFixture(t, 1000)
	docs := f.mkdir(f.root(), "docs")
	a := f.upload(docs.ID, "a.txt", 100)
	b := f.upload(docs.ID, "b.txt", 20)

	inner, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)
	outer, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{docs.ID})
	require.NoError(t, err)

	_, err = f.mut.Restore(f.ctx, f.sess, []uuid.UUID{outer[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(20), f.size(docs.ID))
	assert.False(t, f.entity(b.ID).Deleted)
	assert.True(t, f.entity(a.ID).Deleted, "a was recycled on its own")
	f.consistent()

	_, err = f.mut.Restore(f.ctx, f.sess, []uuid.UUID{inner[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(120), f.size(docs.ID))
	f.consistent()
}

func TestPurge_IncludesSeparatelyRecycledDescendants(t *testing.T) {
	f := newFixture(t, 1000)
	docs := f.mkdir(f.root(), "docs")
	a := f.upload(docs.ID, "a.txt", 100)
	f.upload(docs.ID, "b.txt", 20)

	inner, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)
	outer, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{docs.ID})
	require.NoError(t, err)

	freed, err := f.mut.Purge(f.ctx, f.sess, []uuid.UUID{outer[0].ID, inner[0].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(120), freed)
	assert.Zero(t, f.size(f.root()))
	assert.Zero(t, f.sess.Used())
	assert.True(t, f.missing(a.ID))
	assert.True(t, f.missing(docs.ID))

	for _, p := range []string{inner[0].RecyclePath, outer[0].RecyclePath} {
		ok, err := f.content.Exists(f.ctx, content.AreaRecycle, p)
		require.NoError(t, err)
		assert.False(t, ok, p)
	}
	f.consistent()

	_, err = f.mut.Purge(f.ctx, f.sess, []uuid.UUID{f.sess.RecycleRootID})
	requireCode(t, err, metadata.ErrNotFound)
}

func TestUploadTree(t *testing.T) {
	f := newFixture(t, 1000)

	items := []UploadItem{
		{RelPath: "a.txt", Size: 3, Body: strings.NewReader("aaa")},
		{RelPath: "sub/b.txt", Size: 4, Body: strings.NewReader("bbbb")},
		{RelPath: "sub/deeper/c.txt", Size: 5, Body: strings.NewReader("ccccc")},
		{RelPath: "sub/d.txt", Size: 1, Body: strings.NewReader("d")},
	}
	top, err := f.mut.UploadTree(f.ctx, f.sess, f.root(), "project", items)
	require.NoError(t, err)
	assert.Equal(t, int64(13), top.Size)
	assert.Equal(t, int64(13), f.size(f.root()))
	assert.Equal(t, int64(13), f.sess.Used())

	folders, err := f.mut.ListFolders(f.ctx, f.sess, top.ID, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "sub", folders[0].Name)
	assert.Equal(t, int64(10), folders[0].Size)

	files, err := f.mut.ListFiles(f.ctx, f.sess, folders[0].ID)
	require.NoError(t, err)
	assert.Len(t, files, 2)
	f.consistent()

	_, err = f.mut.UploadTree(f.ctx, f.sess, f.root(), "project", items[:1])
	requireCode(t, err, metadata.ErrNameCollision)
}

func TestUploadTree_RejectsWholeBatch(t *testing.T) {
	f := newFixture(t, 1000)

	_, err := f.mut.UploadTree(f.ctx, f.sess, f.root(), "dup", []UploadItem{
		{RelPath: "x/a", Size: 1, Body: strings.NewReader("1")},
		{RelPath: "x/a", Size: 1, Body: strings.NewReader("1")},
	})
	requireCode(t, err, metadata.ErrNameCollision)

	_, err = f.mut.UploadTree(f.ctx, f.sess, f.root(), "big", []UploadItem{
		{RelPath: "a", Size: 600},
		{RelPath: "b", Size: 600},
	})
	requireCode(t, err, metadata.ErrQuotaExceeded)

	list, err := f.mut.List(f.ctx, f.sess, f.root())
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.False(t, f.exists(f.entity(f.root()).Path+"/dup"))
	f.consistent()
}

func TestListingAndOpen(t *testing.T) {
	f := newFixture(t, 1000)
	f.upload(f.root(), "b.txt", 2)
	f.upload(f.root(), "a.txt", 1)
	z := f.mkdir(f.root(), "z")
	f.mkdir(f.root(), "y")

	list, err := f.mut.List(f.ctx, f.sess, f.root())
	require.NoError(t, err)
	var names []string
	for _, e := range list {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"y", "z", "a.txt", "b.txt"}, names)

	folders, err := f.mut.ListFolders(f.ctx, f.sess, f.root(), z.ID)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "y", folders[0].Name)

	file, e, err := f.mut.Open(f.ctx, f.sess, list[3].ID)
	require.NoError(t, err)
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	require.NoError(t, err)
	assert.Equal(t, "xx", string(data))
	assert.Equal(t, "b.txt", e.Name)

	_, _, err = f.mut.Open(f.ctx, f.sess, z.ID)
	requireCode(t, err, metadata.ErrInvalidArgument)
}

func TestOwnershipScoping(t *testing.T) {
	f := newFixture(t, 1000)
	mine := f.upload(f.root(), "mine.txt", 1)

	_, err := f.mut.Provision(f.ctx, "mallory", testRole)
	require.NoError(t, err)
	other, err := f.mut.StartSession(f.ctx, "mallory")
	require.NoError(t, err)

	_, err = f.mut.Get(f.ctx, other, mine.ID)
	requireCode(t, err, metadata.ErrNotFound)
	_, err = f.mut.Recycle(f.ctx, other, []uuid.UUID{mine.ID})
	requireCode(t, err, metadata.ErrNotFound)
	_, err = f.mut.Move(f.ctx, other, mine.ID, other.RootID)
	requireCode(t, err, metadata.ErrNotFound)
}

func TestStartSession_UsedMatchesRoot(t *testing.T) {
	f := newFixture(t, 1000)
	a := f.upload(f.root(), "a", 40)
	f.upload(f.root(), "b", 2)
	_, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)

	sess, err := f.mut.StartSession(f.ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, int64(42), sess.Used())
	assert.Equal(t, f.sess.Used(), sess.Used())

	_, err = f.mut.StartSession(f.ctx, "nobody")
	requireCode(t, err, metadata.ErrNotFound)
}

func TestConcurrentUploads(t *testing.T) {
	f := newFixture(t, 1<<20)
	docs := f.mkdir(f.root(), "docs")

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := strings.Repeat("z", i+1)
			_, err := f.mut.Upload(context.Background(), f.sess, docs.ID, fmt.Sprintf("f%02d", i), int64(len(body)), strings.NewReader(body))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int64(210), f.size(docs.ID))
	assert.Equal(t, int64(210), f.sess.Used())
	f.consistent()
}

func TestScenarioOnBadger(t *testing.T) {
	store, err := badger.NewBadgerMetadataStoreInMemory(context.Background())
	require.NoError(t, err)
	f := newFixtureWithStore(t, store, 1000)

	docs := f.mkdir(f.root(), "docs")
	a := f.upload(docs.ID, "a.txt", 100)
	entries, err := f.mut.Recycle(f.ctx, f.sess, []uuid.UUID{a.ID})
	require.NoError(t, err)
	f.consistent()

	_, err = f.mut.Rename(f.ctx, f.sess, docs.ID, "papers")
	require.NoError(t, err)
	assert.Equal(t, f.entity(docs.ID).Path+"/a.txt", f.entity(a.ID).Path, "recycled rows follow renames")

	result, err := f.mut.Restore(f.ctx, f.sess, []uuid.UUID{entries[0].ID})
	require.NoError(t, err)
	assert.False(t, result.Conflict)
	assert.Equal(t, int64(100), f.size(docs.ID))
	f.consistent()
}
