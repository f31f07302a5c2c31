package tree

import (
	"context"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// Rename gives id a new name within its folder. The node is renamed
// physically in one step and the paths of all its descendants are
// re-derived.
func (m *Mutator) Rename(ctx context.Context, sess *Session, id uuid.UUID, newName string) (*metadata.Entity, error) {
	var renamed *metadata.Entity
	err := m.update(ctx, sess.Username, "rename", func(tx metadata.Tx, p *plan) error {
		e, err := loadMutable(tx, sess, id)
		if err != nil {
			return err
		}
		if e.Name == newName {
			renamed = e
			return nil
		}
		parent, err := loadFolder(tx, sess, e.ParentID)
		if err != nil {
			return err
		}
		path, err := m.alloc.Admit(ctx, tx, parent, newName)
		if err != nil {
			return err
		}

		now := m.now()
		oldPath := e.Path
		e.Name = newName
		e.Path = path
		if !e.IsFolder() {
			e.Suffix = metadata.SuffixOf(newName)
		}
		e.Touch(sess.Username, now)
		if err := tx.PutEntity(e); err != nil {
			return err
		}
		if err := m.rewritePaths(tx, e, sess.Username, now); err != nil {
			return err
		}

		p.add("rename "+oldPath,
			func(ctx context.Context) error {
				return m.content.Rename(ctx, content.AreaLive, oldPath, content.AreaLive, path)
			},
			func(ctx context.Context) error {
				return m.content.Rename(ctx, content.AreaLive, path, content.AreaLive, oldPath)
			})
		renamed = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("tree: %s renamed %s", sess.Username, describe(renamed))
	return renamed, nil
}

// Move re-parents id under dstID, keeping its name. Moving into the
// current parent is a no-op.
func (m *Mutator) Move(ctx context.Context, sess *Session, id, dstID uuid.UUID) (*metadata.Entity, error) {
	if id == dstID {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "cannot move an item into itself", id.String())
	}

	var moved *metadata.Entity
	err := m.update(ctx, sess.Username, "move", func(tx metadata.Tx, p *plan) error {
		e, err := loadMutable(tx, sess, id)
		if err != nil {
			return err
		}
		dst, err := loadFolder(tx, sess, dstID)
		if err != nil {
			return err
		}
		if e.ParentID == dst.ID {
			moved = e
			return nil
		}

		dstChain, err := Ancestors(tx, dst.ID)
		if err != nil {
			return err
		}
		for _, a := range dstChain {
			if a.ID == e.ID {
				return metadata.NewError(metadata.ErrInvalidArgument, "cannot move a folder into its own subtree", dst.Path)
			}
		}
		srcChain, err := Ancestors(tx, e.ParentID)
		if err != nil {
			return err
		}

		path, err := m.alloc.Admit(ctx, tx, dst, e.Name)
		if err != nil {
			return err
		}

		now := m.now()
		oldPath := e.Path
		e.ParentID = dst.ID
		e.Path = path
		e.Touch(sess.Username, now)
		if err := tx.PutEntity(e); err != nil {
			return err
		}
		if err := m.rewritePaths(tx, e, sess.Username, now); err != nil {
			return err
		}

		delta := NewSizeDelta()
		delta.Add(srcChain, -e.Size, IncludeRoot)
		delta.Add(dstChain, e.Size, IncludeRoot)
		if err := delta.Apply(tx, sess.Username, now); err != nil {
			return err
		}

		p.add("move "+oldPath,
			func(ctx context.Context) error {
				return m.content.Rename(ctx, content.AreaLive, oldPath, content.AreaLive, path)
			},
			func(ctx context.Context) error {
				return m.content.Rename(ctx, content.AreaLive, path, content.AreaLive, oldPath)
			})
		moved = e
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("tree: %s moved %s", sess.Username, describe(moved))
	return moved, nil
}
