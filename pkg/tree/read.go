package tree

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// Get returns a live entity owned by sess.
func (m *Mutator) Get(ctx context.Context, sess *Session, id uuid.UUID) (*metadata.Entity, error) {
	var e *metadata.Entity
	err := m.view(ctx, "get", func(tx metadata.Tx) error {
		var err error
		e, err = loadEntity(tx, sess, id)
		return err
	})
	return e, err
}

// sortListing orders folders before files, then by name.
func sortListing(es []*metadata.Entity) {
	slices.SortFunc(es, func(a, b *metadata.Entity) int {
		if a.Type != b.Type {
			return cmp.Compare(a.Type, b.Type)
		}
		return cmp.Compare(a.Name, b.Name)
	})
}

func (m *Mutator) listLive(ctx context.Context, op string, sess *Session, parentID uuid.UUID, keep func(*metadata.Entity) bool) ([]*metadata.Entity, error) {
	var out []*metadata.Entity
	err := m.view(ctx, op, func(tx metadata.Tx) error {
		parent, err := loadFolder(tx, sess, parentID)
		if err != nil {
			return err
		}
		children, err := tx.ListChildren(parent.ID)
		if err != nil {
			return err
		}
		for _, c := range children {
			if !c.Deleted && keep(c) {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortListing(out)
	return out, nil
}

// List returns the live children of parentID.
func (m *Mutator) List(ctx context.Context, sess *Session, parentID uuid.UUID) ([]*metadata.Entity, error) {
	return m.listLive(ctx, "list", sess, parentID, func(*metadata.Entity) bool { return true })
}

// ListFolders returns the live sub-folders of parentID except exclude,
// typically the item being moved so it cannot be picked as its own
// destination.
func (m *Mutator) ListFolders(ctx context.Context, sess *Session, parentID, exclude uuid.UUID) ([]*metadata.Entity, error) {
	return m.listLive(ctx, "list_folders", sess, parentID, func(e *metadata.Entity) bool {
		return e.IsFolder() && e.ID != exclude
	})
}

// ListFiles returns the live files of parentID.
func (m *Mutator) ListFiles(ctx context.Context, sess *Session, parentID uuid.UUID) ([]*metadata.Entity, error) {
	return m.listLive(ctx, "list_files", sess, parentID, func(e *metadata.Entity) bool {
		return !e.IsFolder()
	})
}

// ListRecycled returns the user's recycle bin, newest first.
func (m *Mutator) ListRecycled(ctx context.Context, sess *Session) ([]RecycledItem, error) {
	var items []RecycledItem
	err := m.view(ctx, "list_recycled", func(tx metadata.Tx) error {
		entries, err := tx.ListRecycleEntries(sess.Username)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			e, err := tx.GetEntity(entry.OriginID)
			if err != nil {
				return err
			}
			items = append(items, RecycledItem{Entry: entry, Entity: e})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(items, func(a, b RecycledItem) int {
		return b.Entry.CreatedAt.Compare(a.Entry.CreatedAt)
	})
	return items, nil
}

// Open returns a read stream for a live file. The caller closes it.
func (m *Mutator) Open(ctx context.Context, sess *Session, id uuid.UUID) (content.File, *metadata.Entity, error) {
	var e *metadata.Entity
	err := m.view(ctx, "open", func(tx metadata.Tx) error {
		var err error
		e, err = loadEntity(tx, sess, id)
		if err != nil {
			return err
		}
		if e.IsFolder() {
			return metadata.NewError(metadata.ErrInvalidArgument, "cannot open a folder", e.Path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	f, err := m.content.Open(ctx, content.AreaLive, e.Path)
	if err != nil {
		return nil, nil, metadata.NewFatal("open", e.Path, err)
	}
	return f, e, nil
}
