package tree

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/internal/logger"
	"github.com/marmos91/dittodisk/pkg/store/content"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// RestoredItem is the outcome of restoring one recycle entry.
type RestoredItem struct {
	EntryID uuid.UUID
	Entity  *metadata.Entity

	// Conflict is set when the item could not go back to its original
	// place and was renamed under the user root instead.
	Conflict bool
}

// RestoreResult reports a restore batch.
type RestoreResult struct {
	Items []RestoredItem

	// Conflict is set if any item was restored with a conflict.
	Conflict bool
}

// RecycledItem pairs a recycle entry with the entity it holds.
type RecycledItem struct {
	Entry  *metadata.RecycleEntry
	Entity *metadata.Entity
}

// Recycle soft-deletes the given items.
//
// Items nested under another item of the same batch are carried along by
// that ancestor. Each remaining top item gets one recycle entry and one
// physical rename into the recycle area. Folder sizes up to, not including,
// the root drop by the item size; the root keeps counting the bytes until
// they are purged.
func (m *Mutator) Recycle(ctx context.Context, sess *Session, ids []uuid.UUID) ([]*metadata.RecycleEntry, error) {
	if len(ids) == 0 {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "nothing to recycle", "")
	}

	var entries []*metadata.RecycleEntry
	err := m.update(ctx, sess.Username, "recycle", func(tx metadata.Tx, p *plan) error {
		binRoot, err := loadRecycleRoot(tx, sess)
		if err != nil {
			return err
		}

		selected := make(map[uuid.UUID]bool, len(ids))
		var items []*metadata.Entity
		for _, id := range ids {
			if selected[id] {
				continue
			}
			e, err := loadMutable(tx, sess, id)
			if err != nil {
				return err
			}
			selected[id] = true
			items = append(items, e)
		}

		type top struct {
			entity *metadata.Entity
			chain  []*metadata.Entity
		}
		var tops []top
	items:
		for _, e := range items {
			chain, err := Ancestors(tx, e.ParentID)
			if err != nil {
				return err
			}
			for _, a := range chain {
				if selected[a.ID] {
					continue items
				}
			}
			tops = append(tops, top{entity: e, chain: chain})
		}

		now := m.now()
		delta := NewSizeDelta()
		entries = entries[:0]
		for _, t := range tops {
			e := t.entity
			entry := &metadata.RecycleEntry{
				ID:          uuid.New(),
				OriginID:    e.ID,
				RecyclePath: metadata.JoinPath(binRoot.RecyclePath, uuid.NewString()),
				OriginPath:  e.Path,
				Owner:       sess.Username,
				CreatedAt:   now,
			}
			if err := tx.PutRecycleEntry(entry); err != nil {
				return err
			}

			e.Deleted = true
			e.TrashedBy = e.ID
			e.Touch(sess.Username, now)
			if err := tx.PutEntity(e); err != nil {
				return err
			}
			err := walkDescendants(tx, e, func(_, child *metadata.Entity) error {
				if child.Deleted {
					return nil
				}
				child.Deleted = true
				child.TrashedBy = e.ID
				child.Touch(sess.Username, now)
				return tx.PutEntity(child)
			})
			if err != nil {
				return err
			}

			delta.Add(t.chain, -e.Size, ExcludeRoot)

			from, to := e.Path, entry.RecyclePath
			p.add("recycle "+from,
				func(ctx context.Context) error {
					return m.content.Rename(ctx, content.AreaLive, from, content.AreaRecycle, to)
				},
				func(ctx context.Context) error {
					return m.content.Rename(ctx, content.AreaRecycle, to, content.AreaLive, from)
				})
			entries = append(entries, entry)
		}

		return delta.Apply(tx, sess.Username, now)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("tree: %s recycled %d item(s)", sess.Username, len(entries))
	return entries, nil
}

// loadEntry returns a recycle entry owned by sess, recycle root excluded.
func loadEntry(tx metadata.Tx, sess *Session, id uuid.UUID) (*metadata.RecycleEntry, error) {
	entry, err := tx.GetRecycleEntry(id)
	if err != nil {
		return nil, err
	}
	if entry.Owner != sess.Username || entry.IsRecycleRoot() {
		return nil, metadata.NewError(metadata.ErrNotFound, "recycle entry not found", id.String())
	}
	return entry, nil
}

// underAny reports whether p equals or lies below one of roots.
func underAny(p string, roots []string) bool {
	for _, r := range roots {
		if p == r || strings.HasPrefix(p, r+"/") {
			return true
		}
	}
	return false
}

// Restore brings recycled items back.
//
// An item returns to its original folder when that folder is live and
// physically present and its old name is free there both logically and
// physically. Otherwise it is renamed with a random token and placed under
// the user root, and the item is flagged as a conflict. Only the rows the
// item's own recycle marked are revived. Folder sizes are re-added only for
// in-place restores.
func (m *Mutator) Restore(ctx context.Context, sess *Session, entryIDs []uuid.UUID) (*RestoreResult, error) {
	if len(entryIDs) == 0 {
		return nil, metadata.NewError(metadata.ErrInvalidArgument, "nothing to restore", "")
	}

	result := &RestoreResult{}
	err := m.update(ctx, sess.Username, "restore", func(tx metadata.Tx, p *plan) error {
		result.Items = result.Items[:0]
		result.Conflict = false

		type pending struct {
			entry *metadata.RecycleEntry
			top   *metadata.Entity
		}
		var batch []pending
		seen := make(map[uuid.UUID]bool, len(entryIDs))
		for _, id := range entryIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			entry, err := loadEntry(tx, sess, id)
			if err != nil {
				return err
			}
			top, err := tx.GetEntity(entry.OriginID)
			if err != nil {
				return err
			}
			batch = append(batch, pending{entry: entry, top: top})
		}
		// Ancestors first, so a nested item sees its folder already revived.
		slices.SortStableFunc(batch, func(a, b pending) int {
			return strings.Count(a.top.Path, "/") - strings.Count(b.top.Path, "/")
		})

		now := m.now()
		delta := NewSizeDelta()
		var planned []string

		for _, it := range batch {
			top := it.top
			parent, err := tx.GetEntity(top.ParentID)
			if err != nil {
				return err
			}

			conflict, err := m.restoreConflict(ctx, tx, parent, top.Name, planned)
			if err != nil {
				return err
			}

			name := top.Name
			if conflict {
				root, err := tx.GetEntity(sess.RootID)
				if err != nil {
					return err
				}
				parent = root
				if name, err = m.alloc.UniqueName(ctx, tx, root, top.Name); err != nil {
					return err
				}
			}

			top.Name = name
			top.ParentID = parent.ID
			top.Path = metadata.JoinPath(parent.Path, name)
			if !top.IsFolder() {
				top.Suffix = metadata.SuffixOf(name)
			}
			top.Deleted = false
			top.TrashedBy = uuid.Nil
			top.Touch(sess.Username, now)
			if err := tx.PutEntity(top); err != nil {
				return err
			}

			err = walkDescendants(tx, top, func(parent, child *metadata.Entity) error {
				child.Path = metadata.JoinPath(parent.Path, child.Name)
				if child.Deleted && child.TrashedBy == top.ID {
					child.Deleted = false
					child.TrashedBy = uuid.Nil
				}
				child.Touch(sess.Username, now)
				if err := tx.PutEntity(child); err != nil {
					return err
				}
				return retargetRecycleEntry(tx, child)
			})
			if err != nil {
				return err
			}

			if !conflict {
				chain, err := Ancestors(tx, parent.ID)
				if err != nil {
					return err
				}
				delta.Add(chain, top.Size, ExcludeRoot)
			}

			if err := tx.DeleteRecycleEntry(it.entry.ID); err != nil {
				return err
			}

			from, to := it.entry.RecyclePath, top.Path
			p.add("restore "+to,
				func(ctx context.Context) error {
					return m.content.Rename(ctx, content.AreaRecycle, from, content.AreaLive, to)
				},
				func(ctx context.Context) error {
					return m.content.Rename(ctx, content.AreaLive, to, content.AreaRecycle, from)
				})
			planned = append(planned, to)

			result.Items = append(result.Items, RestoredItem{EntryID: it.entry.ID, Entity: top.Clone(), Conflict: conflict})
			result.Conflict = result.Conflict || conflict
		}

		return delta.Apply(tx, sess.Username, now)
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("tree: %s restored %d item(s), conflict=%v", sess.Username, len(result.Items), result.Conflict)
	return result, nil
}

// restoreConflict decides whether name can go back under parent. planned
// holds live paths that earlier items of the batch will occupy once the
// physical plan runs.
func (m *Mutator) restoreConflict(ctx context.Context, tx metadata.Tx, parent *metadata.Entity, name string, planned []string) (bool, error) {
	if parent.Deleted {
		return true, nil
	}

	if !underAny(parent.Path, planned) {
		present, err := m.content.Exists(ctx, content.AreaLive, parent.Path)
		if err != nil {
			return false, err
		}
		if !present {
			return true, nil
		}
	}

	target := metadata.JoinPath(parent.Path, name)
	occupied, err := m.content.Exists(ctx, content.AreaLive, target)
	if err != nil {
		return false, err
	}
	if occupied || slices.Contains(planned, target) {
		return true, nil
	}

	unique, err := m.alloc.IsUniqueAmongSiblings(tx, parent.ID, name)
	if err != nil {
		return false, err
	}
	return !unique, nil
}

// Purge permanently deletes recycled items and returns the bytes freed.
//
// Freed bytes cover the item and any of its descendants that were
// recycled separately before it. Their rows are deleted (cascading to
// recycle entries and share links), the root's used figure drops by the
// freed amount, and the recycle blobs are moved aside as the physical step
// and deleted once the transaction has committed.
func (m *Mutator) Purge(ctx context.Context, sess *Session, entryIDs []uuid.UUID) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, metadata.NewError(metadata.ErrInvalidArgument, "nothing to purge", "")
	}

	var freed int64
	err := m.update(ctx, sess.Username, "purge", func(tx metadata.Tx, p *plan) error {
		freed = 0

		for _, id := range entryIDs {
			if _, err := loadEntry(tx, sess, id); err != nil {
				return err
			}
		}

		var blobs []string
		for _, id := range entryIDs {
			entry, err := tx.GetRecycleEntry(id)
			if metadata.IsCode(err, metadata.ErrNotFound) {
				// removed with an earlier entry of the batch
				continue
			}
			if err != nil {
				return err
			}

			top, err := tx.GetEntity(entry.OriginID)
			if err != nil {
				return err
			}
			freed += top.Size
			blobs = append(blobs, entry.RecyclePath)

			var subtree []*metadata.Entity
			err = walkDescendants(tx, top, func(_, child *metadata.Entity) error {
				subtree = append(subtree, child)
				if child.Deleted && child.TrashedBy == child.ID {
					nested, err := tx.FindRecycleEntry(child.ID)
					if err != nil {
						return err
					}
					freed += child.Size
					blobs = append(blobs, nested.RecyclePath)
				}
				return nil
			})
			if err != nil {
				return err
			}

			for i := len(subtree) - 1; i >= 0; i-- {
				if err := tx.DeleteEntity(subtree[i].ID); err != nil {
					return err
				}
			}
			if err := tx.DeleteEntity(top.ID); err != nil {
				return err
			}
		}

		root, err := tx.GetEntity(sess.RootID)
		if err != nil {
			return err
		}
		delta := NewSizeDelta()
		delta.Add([]*metadata.Entity{root}, -freed, IncludeRoot)
		if err := delta.Apply(tx, sess.Username, m.now()); err != nil {
			return err
		}

		for _, blob := range blobs {
			staged := stagingPath()
			p.add("purge "+blob,
				func(ctx context.Context) error {
					if err := m.content.Mkdir(ctx, content.AreaRecycle, stagingDir); err != nil {
						return err
					}
					return m.content.Rename(ctx, content.AreaRecycle, blob, content.AreaRecycle, staged)
				},
				func(ctx context.Context) error {
					return m.content.Rename(ctx, content.AreaRecycle, staged, content.AreaRecycle, blob)
				})
			p.afterCommit(func(ctx context.Context) error {
				return m.content.Remove(ctx, content.AreaRecycle, staged)
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	sess.AddUsed(-freed)
	logger.Debug("tree: %s purged %d item(s), freed %d bytes", sess.Username, len(entryIDs), freed)
	return freed, nil
}
