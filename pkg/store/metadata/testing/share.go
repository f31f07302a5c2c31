package testing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunShareTests(t *testing.T) {
	t.Run("ShareLink_Lifecycle", suite.TestShareLink_Lifecycle)
	t.Run("AccessRecord_RequiresLink", suite.TestAccessRecord_RequiresLink)
}

func (suite *StoreTestSuite) TestShareLink_Lifecycle(t *testing.T) {
	store := suite.newStore(t)
	root := NewRoot("alice")
	f1 := NewChild(root, "1.txt", metadata.FileTypeFile, 1)
	f2 := NewChild(root, "2.txt", metadata.FileTypeFile, 1)
	put(t, store, root, f1, f2)

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		for _, l := range []*metadata.ShareLink{
			{Key: "aaaaaa", FileID: f1.ID, Owner: "alice", ExpiresAt: expires},
			{Key: "bbbbbb", FileID: f1.ID, Owner: "alice", ExpiresAt: expires},
			{Key: "cccccc", FileID: f2.ID, Owner: "alice", ExpiresAt: expires},
			{Key: "dddddd", FileID: uuid.New(), Owner: "bob", ExpiresAt: expires},
		} {
			if err := tx.PutShareLink(l); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	view(t, store, func(tx metadata.Tx) error {
		got, err := tx.GetShareLink("aaaaaa")
		require.NoError(t, err)
		assert.True(t, expires.Equal(got.ExpiresAt))

		mine, err := tx.ListShareLinks("alice")
		require.NoError(t, err)
		assert.Len(t, mine, 3)

		forF1, err := tx.ListShareLinksForFile(f1.ID)
		require.NoError(t, err)
		assert.Len(t, forF1, 2)
		return nil
	})

	err = store.Update(context.Background(), func(tx metadata.Tx) error {
		link, err := tx.GetShareLink("aaaaaa")
		if err != nil {
			return err
		}
		link.Summary = "updated"
		if err := tx.PutShareLink(link); err != nil {
			return err
		}
		return tx.DeleteShareLink("bbbbbb")
	})
	require.NoError(t, err)

	view(t, store, func(tx metadata.Tx) error {
		got, err := tx.GetShareLink("aaaaaa")
		require.NoError(t, err)
		assert.Equal(t, "updated", got.Summary)

		_, err = tx.GetShareLink("bbbbbb")
		requireCode(t, err, metadata.ErrNotFound)

		forF1, err := tx.ListShareLinksForFile(f1.ID)
		require.NoError(t, err)
		assert.Len(t, forF1, 1)
		return nil
	})
}

func (suite *StoreTestSuite) TestAccessRecord_RequiresLink(t *testing.T) {
	store := suite.newStore(t)

	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		return tx.PutAccessRecord(&metadata.AccessRecord{LinkKey: "nope00", RemoteAddr: "1.2.3.4"})
	})
	requireCode(t, err, metadata.ErrNotFound)

	err = store.Update(context.Background(), func(tx metadata.Tx) error {
		if err := tx.PutShareLink(&metadata.ShareLink{Key: "k00001", FileID: uuid.New(), Owner: "alice"}); err != nil {
			return err
		}
		if err := tx.PutAccessRecord(&metadata.AccessRecord{LinkKey: "k00001", Username: "bob"}); err != nil {
			return err
		}
		return tx.PutAccessRecord(&metadata.AccessRecord{LinkKey: "k00001", RemoteAddr: "1.2.3.4"})
	})
	require.NoError(t, err)

	view(t, store, func(tx metadata.Tx) error {
		records, err := tx.ListAccessRecords("k00001")
		require.NoError(t, err)
		assert.Len(t, records, 2)
		return nil
	})
}
