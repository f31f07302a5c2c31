package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunEntityTests(t *testing.T) {
	t.Run("PutGet_RoundTrip", suite.TestPutGet_RoundTrip)
	t.Run("Get_NotFound", suite.TestGet_NotFound)
	t.Run("Put_DuplicateLiveName", suite.TestPut_DuplicateLiveName)
	t.Run("Put_DeletedFreesName", suite.TestPut_DeletedFreesName)
	t.Run("Put_RenameUpdatesIndex", suite.TestPut_RenameUpdatesIndex)
	t.Run("Put_ReparentUpdatesChildren", suite.TestPut_ReparentUpdatesChildren)
	t.Run("ListChildren_MultipleParents", suite.TestListChildren_MultipleParents)
	t.Run("ListEntities_ByOwner", suite.TestListEntities_ByOwner)
	t.Run("Delete_Cascades", suite.TestDelete_Cascades)
}

func (suite *StoreTestSuite) TestPutGet_RoundTrip(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	file := NewChild(root, "a.txt", metadata.FileTypeFile, 100)
	put(t, store, root, file)

	view(t, store, func(tx metadata.Tx) error {
		got, err := tx.GetEntity(file.ID)
		require.NoError(t, err)
		assert.Equal(t, "a.txt", got.Name)
		assert.Equal(t, "txt", got.Suffix)
		assert.Equal(t, int64(100), got.Size)
		assert.Equal(t, root.ID, got.ParentID)
		assert.Equal(t, root.Path+"/a.txt", got.Path)

		byName, err := tx.LookupChild(root.ID, "a.txt")
		require.NoError(t, err)
		assert.Equal(t, file.ID, byName.ID)
		return nil
	})
}

func (suite *StoreTestSuite) TestGet_NotFound(t *testing.T) {
	store := suite.newStore(t)

	view(t, store, func(tx metadata.Tx) error {
		_, err := tx.GetEntity(uuid.New())
		requireCode(t, err, metadata.ErrNotFound)

		_, err = tx.LookupChild(uuid.New(), "missing")
		requireCode(t, err, metadata.ErrNotFound)
		return nil
	})
}

func (suite *StoreTestSuite) TestPut_DuplicateLiveName(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	first := NewChild(root, "x.txt", metadata.FileTypeFile, 1)
	put(t, store, root, first)

	second := NewChild(root, "x.txt", metadata.FileTypeFile, 2)
	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		return tx.PutEntity(second)
	})
	requireCode(t, err, metadata.ErrNameCollision)

	view(t, store, func(tx metadata.Tx) error {
		_, err := tx.GetEntity(second.ID)
		requireCode(t, err, metadata.ErrNotFound)
		return nil
	})
}

func (suite *StoreTestSuite) TestPut_DeletedFreesName(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	first := NewChild(root, "x.txt", metadata.FileTypeFile, 1)
	put(t, store, root, first)

	first.Deleted = true
	first.TrashedBy = first.ID
	second := NewChild(root, "x.txt", metadata.FileTypeFile, 2)
	put(t, store, first, second)

	view(t, store, func(tx metadata.Tx) error {
		live, err := tx.LookupChild(root.ID, "x.txt")
		require.NoError(t, err)
		assert.Equal(t, second.ID, live.ID)

		children, err := tx.ListChildren(root.ID)
		require.NoError(t, err)
		assert.Len(t, children, 2, "deleted children stay listed")
		return nil
	})

	// Reviving the first one now collides
	first.Deleted = false
	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		return tx.PutEntity(first)
	})
	requireCode(t, err, metadata.ErrNameCollision)
}

func (suite *StoreTestSuite) TestPut_RenameUpdatesIndex(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	file := NewChild(root, "old.txt", metadata.FileTypeFile, 1)
	put(t, store, root, file)

	file.Name = "new.txt"
	file.Path = root.Path + "/new.txt"
	put(t, store, file)

	view(t, store, func(tx metadata.Tx) error {
		_, err := tx.LookupChild(root.ID, "old.txt")
		requireCode(t, err, metadata.ErrNotFound)
		got, err := tx.LookupChild(root.ID, "new.txt")
		require.NoError(t, err)
		assert.Equal(t, file.ID, got.ID)
		return nil
	})

	// The old name is free again
	put(t, store, NewChild(root, "old.txt", metadata.FileTypeFile, 1))
}

func (suite *StoreTestSuite) TestPut_ReparentUpdatesChildren(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	a := NewChild(root, "a", metadata.FileTypeFolder, 0)
	b := NewChild(root, "b", metadata.FileTypeFolder, 0)
	file := NewChild(a, "f.bin", metadata.FileTypeFile, 5)
	put(t, store, root, a, b, file)

	file.ParentID = b.ID
	file.Path = b.Path + "/f.bin"
	put(t, store, file)

	view(t, store, func(tx metadata.Tx) error {
		inA, err := tx.ListChildren(a.ID)
		require.NoError(t, err)
		assert.Empty(t, inA)

		inB, err := tx.ListChildren(b.ID)
		require.NoError(t, err)
		require.Len(t, inB, 1)
		assert.Equal(t, file.ID, inB[0].ID)

		_, err = tx.LookupChild(a.ID, "f.bin")
		requireCode(t, err, metadata.ErrNotFound)
		return nil
	})
}

func (suite *StoreTestSuite) TestListChildren_MultipleParents(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	a := NewChild(root, "a", metadata.FileTypeFolder, 0)
	b := NewChild(root, "b", metadata.FileTypeFolder, 0)
	put(t, store, root, a, b,
		NewChild(a, "1", metadata.FileTypeFile, 1),
		NewChild(a, "2", metadata.FileTypeFile, 1),
		NewChild(b, "3", metadata.FileTypeFile, 1),
	)

	view(t, store, func(tx metadata.Tx) error {
		children, err := tx.ListChildren(a.ID, b.ID)
		require.NoError(t, err)
		names := make([]string, 0, len(children))
		for _, c := range children {
			names = append(names, c.Name)
		}
		assert.ElementsMatch(t, []string{"1", "2", "3"}, names)
		return nil
	})
}

func (suite *StoreTestSuite) TestListEntities_ByOwner(t *testing.T) {
	store := suite.newStore(t)
	alice := NewRoot("alice")
	bob := NewRoot("bob")
	put(t, store, alice, bob, NewChild(alice, "a", metadata.FileTypeFile, 1))

	view(t, store, func(tx metadata.Tx) error {
		list, err := tx.ListEntities("alice")
		require.NoError(t, err)
		assert.Len(t, list, 2)

		list, err = tx.ListEntities("bob")
		require.NoError(t, err)
		assert.Len(t, list, 1)
		return nil
	})
}

func (suite *StoreTestSuite) TestDelete_Cascades(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	file := NewChild(root, "gone.txt", metadata.FileTypeFile, 10)
	put(t, store, root, file)

	entry := &metadata.RecycleEntry{ID: uuid.New(), OriginID: file.ID, RecyclePath: "bin/x", OriginPath: file.Path, Owner: "alice"}
	link := &metadata.ShareLink{Key: "abc123", FileID: file.ID, Owner: "alice"}
	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		if err := tx.PutRecycleEntry(entry); err != nil {
			return err
		}
		if err := tx.PutShareLink(link); err != nil {
			return err
		}
		return tx.PutAccessRecord(&metadata.AccessRecord{LinkKey: link.Key, RemoteAddr: "10.0.0.1"})
	})
	require.NoError(t, err)

	err = store.Update(context.Background(), func(tx metadata.Tx) error {
		return tx.DeleteEntity(file.ID)
	})
	require.NoError(t, err)

	view(t, store, func(tx metadata.Tx) error {
		_, err := tx.GetEntity(file.ID)
		requireCode(t, err, metadata.ErrNotFound)
		_, err = tx.GetRecycleEntry(entry.ID)
		requireCode(t, err, metadata.ErrNotFound)
		_, err = tx.FindRecycleEntry(file.ID)
		requireCode(t, err, metadata.ErrNotFound)
		_, err = tx.GetShareLink(link.Key)
		requireCode(t, err, metadata.ErrNotFound)

		records, err := tx.ListAccessRecords(link.Key)
		require.NoError(t, err)
		assert.Empty(t, records)

		children, err := tx.ListChildren(root.ID)
		require.NoError(t, err)
		assert.Empty(t, children)
		return nil
	})
}

func (suite *StoreTestSuite) RunTransactionTests(t *testing.T) {
	t.Run("Update_AbortDiscardsWrites", suite.TestUpdate_AbortDiscardsWrites)
	t.Run("View_RejectsWrites", suite.TestView_RejectsWrites)
	t.Run("Update_CancelledContext", suite.TestUpdate_CancelledContext)
}

func (suite *StoreTestSuite) TestUpdate_AbortDiscardsWrites(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	put(t, store, root)

	boom := errors.New("boom")
	file := NewChild(root, "a.txt", metadata.FileTypeFile, 100)
	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		if err := tx.PutEntity(file); err != nil {
			return err
		}
		r, err := tx.GetEntity(root.ID)
		if err != nil {
			return err
		}
		r.Size = 100
		if err := tx.PutEntity(r); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	view(t, store, func(tx metadata.Tx) error {
		_, err := tx.GetEntity(file.ID)
		requireCode(t, err, metadata.ErrNotFound)
		r, err := tx.GetEntity(root.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), r.Size)
		_, err = tx.LookupChild(root.ID, "a.txt")
		requireCode(t, err, metadata.ErrNotFound)
		return nil
	})
}

func (suite *StoreTestSuite) TestView_RejectsWrites(t *testing.T) {
	store := suite.newStore(t)
	err := store.View(context.Background(), func(tx metadata.Tx) error {
		return tx.PutEntity(NewRoot("alice"))
	})
	requireCode(t, err, metadata.ErrInvalidArgument)
}

func (suite *StoreTestSuite) TestUpdate_CancelledContext(t *testing.T) {
	store := suite.newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Update(ctx, func(tx metadata.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}
