package memory

import (
	"context"
	"testing"
	"time"

	"github.com/marmos91/dittodisk/pkg/store/metadata"
	metadatatesting "github.com/marmos91/dittodisk/pkg/store/metadata/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryMetadataStore runs the complete MetadataStore test suite
// against the MemoryMetadataStore implementation.
func TestMemoryMetadataStore(t *testing.T) {
	suite := &metadatatesting.StoreTestSuite{
		NewStore: func(t *testing.T) metadata.MetadataStore {
			return NewMemoryMetadataStoreWithDefaults()
		},
	}

	suite.Run(t)
}

// TestMemoryMetadataStore_SnapshotIsolation verifies a view started before a
// commit keeps seeing the old generation.
func TestMemoryMetadataStore_SnapshotIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMetadataStoreWithDefaults()

	root := metadatatesting.NewRoot("alice")
	require.NoError(t, store.Update(ctx, func(tx metadata.Tx) error { return tx.PutEntity(root) }))

	require.NoError(t, store.View(ctx, func(view metadata.Tx) error {
		child := metadatatesting.NewChild(root, "late.txt", metadata.FileTypeFile, 1)
		require.NoError(t, store.Update(ctx, func(tx metadata.Tx) error { return tx.PutEntity(child) }))

		children, err := view.ListChildren(root.ID)
		require.NoError(t, err)
		assert.Empty(t, children)
		return nil
	}))
}

func TestMemoryMetadataStore_ViewDoesNotWaitForUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryMetadataStoreWithDefaults()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.Update(ctx, func(tx metadata.Tx) error {
			close(entered)
			<-release
			return tx.PutRoleLimit("common", metadata.LimitStorage, 1)
		})
	}()
	<-entered

	viewed := make(chan error, 1)
	go func() {
		viewed <- store.View(ctx, func(tx metadata.Tx) error {
			limits, err := tx.GetRoleLimits("common")
			if err == nil && len(limits) != 0 {
				t.Errorf("uncommitted limit visible: %v", limits)
			}
			return err
		})
	}()
	select {
	case err := <-viewed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("view waited for a running update")
	}

	close(release)
	require.NoError(t, <-done)
}

func TestMemoryMetadataStore_Closed(t *testing.T) {
	store := NewMemoryMetadataStoreWithDefaults()
	require.NoError(t, store.Close())

	err := store.View(context.Background(), func(tx metadata.Tx) error { return nil })
	assert.True(t, metadata.IsCode(err, metadata.ErrInvalidArgument))
}
