package badger

import (
	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

func (t *badgerTx) GetRecycleEntry(id uuid.UUID) (*metadata.RecycleEntry, error) {
	var r metadata.RecycleEntry
	if err := t.getJSON(keyRecycle(id), "recycle entry", id.String(), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (t *badgerTx) FindRecycleEntry(originID uuid.UUID) (*metadata.RecycleEntry, error) {
	val, ok, err := t.getValue(keyRecycleOrigin(originID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, metadata.NewError(metadata.ErrNotFound, "recycle entry not found", originID.String())
	}
	id, err := decodeUUID(val)
	if err != nil {
		return nil, err
	}
	return t.GetRecycleEntry(id)
}

func (t *badgerTx) PutRecycleEntry(entry *metadata.RecycleEntry) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if entry.ID == uuid.Nil {
		return metadata.NewError(metadata.ErrInvalidArgument, "recycle entry id is required", entry.RecyclePath)
	}

	old, err := t.GetRecycleEntry(entry.ID)
	if err != nil && !metadata.IsCode(err, metadata.ErrNotFound) {
		return err
	}
	if old != nil {
		if old.OriginID != uuid.Nil && old.OriginID != entry.OriginID {
			if err := t.txn.Delete(keyRecycleOrigin(old.OriginID)); err != nil {
				return err
			}
		}
		if old.Owner != entry.Owner {
			if err := t.txn.Delete(keyRecycleOwner(old.Owner, old.ID)); err != nil {
				return err
			}
		}
	}

	if err := t.setJSON(keyRecycle(entry.ID), "recycle entry", entry); err != nil {
		return err
	}
	if err := t.txn.Set(keyRecycleOwner(entry.Owner, entry.ID), nil); err != nil {
		return err
	}
	if entry.OriginID != uuid.Nil {
		return t.txn.Set(keyRecycleOrigin(entry.OriginID), encodeUUID(entry.ID))
	}
	return nil
}

func (t *badgerTx) DeleteRecycleEntry(id uuid.UUID) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	entry, err := t.GetRecycleEntry(id)
	if err != nil {
		return err
	}
	if entry.OriginID != uuid.Nil {
		if err := t.txn.Delete(keyRecycleOrigin(entry.OriginID)); err != nil {
			return err
		}
	}
	if err := t.txn.Delete(keyRecycleOwner(entry.Owner, entry.ID)); err != nil {
		return err
	}
	return t.txn.Delete(keyRecycle(entry.ID))
}

func (t *badgerTx) ListRecycleEntries(owner string) ([]*metadata.RecycleEntry, error) {
	suffixes, err := t.scanKeys(keyRecycleOwnerPrefix(owner))
	if err != nil {
		return nil, err
	}
	var out []*metadata.RecycleEntry
	for _, s := range suffixes {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		entry, err := t.GetRecycleEntry(id)
		if err != nil {
			return nil, err
		}
		if entry.IsRecycleRoot() {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}
