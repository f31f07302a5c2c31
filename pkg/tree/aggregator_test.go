package tree

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
	"github.com/marmos91/dittodisk/pkg/store/metadata/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func folder(name string, parent *metadata.Entity, size int64) *metadata.Entity {
	e := &metadata.Entity{ID: uuid.New(), Name: name, Type: metadata.FileTypeFolder, Size: size, Owner: "u"}
	if parent == nil {
		e.Path = name
	} else {
		e.ParentID = parent.ID
		e.Path = metadata.JoinPath(parent.Path, name)
	}
	return e
}

func TestSizeDelta_NetsSharedAncestors(t *testing.T) {
	root := folder("root", nil, 30)
	c := folder("c", root, 30)
	a := folder("a", c, 30)
	b := folder("b", c, 0)

	d := NewSizeDelta()
	d.Add([]*metadata.Entity{a, c, root}, -30, IncludeRoot)
	d.Add([]*metadata.Entity{b, c, root}, 30, IncludeRoot)

	assert.Equal(t, int64(-30), d.Net(a.ID))
	assert.Equal(t, int64(30), d.Net(b.ID))
	assert.Zero(t, d.Net(c.ID))
	assert.Zero(t, d.Net(root.ID))
	assert.Equal(t, []uuid.UUID{a.ID, b.ID}, d.Touched())
}

func TestSizeDelta_ExcludeRoot(t *testing.T) {
	root := folder("root", nil, 10)
	c := folder("c", root, 10)

	d := NewSizeDelta()
	d.Add([]*metadata.Entity{c, root}, -10, ExcludeRoot)
	d.Add([]*metadata.Entity{c, root}, 0, IncludeRoot)

	assert.Equal(t, int64(-10), d.Net(c.ID))
	assert.Zero(t, d.Net(root.ID))
	assert.Equal(t, []uuid.UUID{c.ID}, d.Touched())
}

func TestSizeDelta_ApplyAndAncestors(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryMetadataStoreWithDefaults()

	root := folder("root", nil, 5)
	c := folder("c", root, 5)
	a := folder("a", c, 5)
	require.NoError(t, store.Update(ctx, func(tx metadata.Tx) error {
		for _, e := range []*metadata.Entity{root, c, a} {
			if err := tx.PutEntity(e); err != nil {
				return err
			}
		}
		return nil
	}))

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.Update(ctx, func(tx metadata.Tx) error {
		chain, err := Ancestors(tx, a.ID)
		require.NoError(t, err)
		require.Len(t, chain, 3)
		assert.Equal(t, []uuid.UUID{a.ID, c.ID, root.ID}, []uuid.UUID{chain[0].ID, chain[1].ID, chain[2].ID})

		d := NewSizeDelta()
		d.Add(chain, 7, ExcludeRoot)
		return d.Apply(tx, "bob", now)
	}))

	require.NoError(t, store.View(ctx, func(tx metadata.Tx) error {
		for id, want := range map[uuid.UUID]int64{a.ID: 12, c.ID: 12, root.ID: 5} {
			e, err := tx.GetEntity(id)
			require.NoError(t, err)
			assert.Equal(t, want, e.Size)
		}
		e, err := tx.GetEntity(a.ID)
		require.NoError(t, err)
		assert.Equal(t, "bob", e.UpdatedBy)
		assert.True(t, now.Equal(e.UpdatedAt))
		return nil
	}))
}
