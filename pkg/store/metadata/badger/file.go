package badger

import (
	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// GetEntity returns the entity with the given ID, deleted or not.
func (t *badgerTx) GetEntity(id uuid.UUID) (*metadata.Entity, error) {
	var e metadata.Entity
	if err := t.getJSON(keyEntity(id), "entity", id.String(), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// PutEntity inserts or replaces an entity and keeps the children, name and
// owner indexes in step with it.
//
// Index maintenance:
//  1. Check the live name index for a different live sibling with the same name
//  2. Drop index keys the previous version held but the new one no longer does
//  3. Write the entity and its current index keys
func (t *badgerTx) PutEntity(e *metadata.Entity) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if e.ID == uuid.Nil {
		return metadata.NewError(metadata.ErrInvalidArgument, "entity id is required", e.Name)
	}

	// ========================================================================
	// Step 1: Enforce live sibling name uniqueness
	// ========================================================================

	if !e.IsRoot() && !e.Deleted {
		val, ok, err := t.getValue(keyName(e.ParentID, e.Name))
		if err != nil {
			return err
		}
		if ok {
			holder, err := decodeUUID(val)
			if err != nil {
				return err
			}
			if holder != e.ID {
				return metadata.NewError(metadata.ErrNameCollision, "name already in use", e.Path)
			}
		}
	}

	// ========================================================================
	// Step 2: Drop stale index keys of the previous version
	// ========================================================================

	old, err := t.GetEntity(e.ID)
	if err != nil && !metadata.IsCode(err, metadata.ErrNotFound) {
		return err
	}
	if old != nil {
		if !old.IsRoot() && old.ParentID != e.ParentID {
			if err := t.txn.Delete(keyChild(old.ParentID, old.ID)); err != nil {
				return err
			}
		}
		if !old.IsRoot() && !old.Deleted &&
			(e.Deleted || old.ParentID != e.ParentID || old.Name != e.Name) {
			if err := t.txn.Delete(keyName(old.ParentID, old.Name)); err != nil {
				return err
			}
		}
		if old.Owner != e.Owner {
			if err := t.txn.Delete(keyOwner(old.Owner, old.ID)); err != nil {
				return err
			}
		}
	}

	// ========================================================================
	// Step 3: Write entity and current index keys
	// ========================================================================

	if err := t.setJSON(keyEntity(e.ID), "entity", e); err != nil {
		return err
	}
	if !e.IsRoot() {
		if err := t.txn.Set(keyChild(e.ParentID, e.ID), nil); err != nil {
			return err
		}
		if !e.Deleted {
			if err := t.txn.Set(keyName(e.ParentID, e.Name), encodeUUID(e.ID)); err != nil {
				return err
			}
		}
	}
	return t.txn.Set(keyOwner(e.Owner, e.ID), nil)
}

// DeleteEntity removes the entity and cascades to the records that cannot
// outlive it: its recycle entry and its share links (with their access records).
func (t *badgerTx) DeleteEntity(id uuid.UUID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	e, err := t.GetEntity(id)
	if err != nil {
		return err
	}

	if !e.IsRoot() {
		if err := t.txn.Delete(keyChild(e.ParentID, e.ID)); err != nil {
			return err
		}
		if !e.Deleted {
			if err := t.txn.Delete(keyName(e.ParentID, e.Name)); err != nil {
				return err
			}
		}
	}
	if err := t.txn.Delete(keyOwner(e.Owner, e.ID)); err != nil {
		return err
	}
	if err := t.txn.Delete(keyEntity(e.ID)); err != nil {
		return err
	}

	// Cascade: recycle entry
	entry, err := t.FindRecycleEntry(id)
	switch {
	case err == nil:
		if err := t.DeleteRecycleEntry(entry.ID); err != nil {
			return err
		}
	case !metadata.IsCode(err, metadata.ErrNotFound):
		return err
	}

	// Cascade: share links
	keys, err := t.scanKeys(keyShareFilePrefix(id))
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := t.DeleteShareLink(key); err != nil {
			return err
		}
	}
	return nil
}

// LookupChild returns the live child of parentID named name.
func (t *badgerTx) LookupChild(parentID uuid.UUID, name string) (*metadata.Entity, error) {
	val, ok, err := t.getValue(keyName(parentID, name))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "entity not found", name)
	}
	id, err := decodeUUID(val)
	if err != nil {
		return nil, err
	}
	return t.GetEntity(id)
}

// ListChildren returns every child (live or deleted) of the given parents.
func (t *badgerTx) ListChildren(parentIDs ...uuid.UUID) ([]*metadata.Entity, error) {
	var out []*metadata.Entity
	for _, pid := range parentIDs {
		suffixes, err := t.scanKeys(keyChildPrefix(pid))
		if err != nil {
			return nil, err
		}
		for _, s := range suffixes {
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, err
			}
			e, err := t.GetEntity(id)
			if err != nil {
				return nil, err
			}
			out = append(out, e)
		}
	}
	return out, nil
}

// ListEntities returns every entity owned by owner.
func (t *badgerTx) ListEntities(owner string) ([]*metadata.Entity, error) {
	suffixes, err := t.scanKeys(keyOwnerPrefix(owner))
	if err != nil {
		return nil, err
	}
	out := make([]*metadata.Entity, 0, len(suffixes))
	for _, s := range suffixes {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		e, err := t.GetEntity(id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
