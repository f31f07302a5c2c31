package testing

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (suite *StoreTestSuite) RunRecycleTests(t *testing.T) {
	t.Run("RecycleEntry_Lifecycle", suite.TestRecycleEntry_Lifecycle)
}

func (suite *StoreTestSuite) TestRecycleEntry_Lifecycle(t *testing.T) {
	store := suite.newStore(t)
	origin := uuid.New()

	recRoot := &metadata.RecycleEntry{ID: uuid.New(), RecyclePath: "token", Owner: "alice"}
	entry := &metadata.RecycleEntry{ID: uuid.New(), OriginID: origin, RecyclePath: "token/1", OriginPath: "root/a", Owner: "alice"}
	other := &metadata.RecycleEntry{ID: uuid.New(), OriginID: uuid.New(), RecyclePath: "bob/1", Owner: "bob"}

	err := store.Update(context.Background(), func(tx metadata.Tx) error {
		for _, e := range []*metadata.RecycleEntry{recRoot, entry, other} {
			if err := tx.PutRecycleEntry(e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	view(t, store, func(tx metadata.Tx) error {
		found, err := tx.FindRecycleEntry(origin)
		require.NoError(t, err)
		assert.Equal(t, entry.ID, found.ID)

		list, err := tx.ListRecycleEntries("alice")
		require.NoError(t, err)
		require.Len(t, list, 1, "recycle root is not listed")
		assert.Equal(t, entry.ID, list[0].ID)

		root, err := tx.GetRecycleEntry(recRoot.ID)
		require.NoError(t, err)
		assert.True(t, root.IsRecycleRoot())
		return nil
	})

	err = store.Update(context.Background(), func(tx metadata.Tx) error {
		return tx.DeleteRecycleEntry(entry.ID)
	})
	require.NoError(t, err)

	view(t, store, func(tx metadata.Tx) error {
		_, err := tx.FindRecycleEntry(origin)
		requireCode(t, err, metadata.ErrNotFound)
		list, err := tx.ListRecycleEntries("alice")
		require.NoError(t, err)
		assert.Empty(t, list)
		return nil
	})
}
