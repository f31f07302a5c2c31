package badger

import (
	"github.com/google/uuid"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

func (t *badgerTx) GetShareLink(key string) (*metadata.ShareLink, error) {
	var link metadata.ShareLink
	if err := t.getJSON(keyShare(key), "share link", key, &link); err != nil {
		return nil, err
	}
	return &link, nil
}

// PutShareLink inserts or updates a link. The target file and owner of an
// existing link never change, so only the record itself is rewritten on update.
func (t *badgerTx) PutShareLink(link *metadata.ShareLink) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if link.Key == "" {
		return metadata.NewError(metadata.ErrInvalidArgument, "share key is required", "")
	}
	if err := t.setJSON(keyShare(link.Key), "share link", link); err != nil {
		return err
	}
	if err := t.txn.Set(keyShareFile(link.FileID, link.Key), nil); err != nil {
		return err
	}
	return t.txn.Set(keyShareOwner(link.Owner, link.Key), nil)
}

func (t *badgerTx) DeleteShareLink(key string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	link, err := t.GetShareLink(key)
	if err != nil {
		return err
	}
	if err := t.deletePrefix(keyAccessPrefix(key)); err != nil {
		return err
	}
	if err := t.txn.Delete(keyShareFile(link.FileID, key)); err != nil {
		return err
	}
	if err := t.txn.Delete(keyShareOwner(link.Owner, key)); err != nil {
		return err
	}
	return t.txn.Delete(keyShare(key))
}

func (t *badgerTx) listShareLinks(prefix []byte) ([]*metadata.ShareLink, error) {
	keys, err := t.scanKeys(prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*metadata.ShareLink, 0, len(keys))
	for _, key := range keys {
		link, err := t.GetShareLink(key)
		if err != nil {
			return nil, err
		}
		out = append(out, link)
	}
	return out, nil
}

func (t *badgerTx) ListShareLinks(owner string) ([]*metadata.ShareLink, error) {
	return t.listShareLinks(keyShareOwnerPrefix(owner))
}

func (t *badgerTx) ListShareLinksForFile(fileID uuid.UUID) ([]*metadata.ShareLink, error) {
	return t.listShareLinks(keyShareFilePrefix(fileID))
}

// PutAccessRecord stores an access record under its link. The link must exist.
func (t *badgerTx) PutAccessRecord(rec *metadata.AccessRecord) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	ok, err := t.exists(keyShare(rec.LinkKey))
	if err != nil {
		return err
	}
	if !ok {
		return metadata.NewError(metadata.ErrNotFound, "share link not found", rec.LinkKey)
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	return t.setJSON(keyAccess(rec.LinkKey, rec.ID), "access record", rec)
}

func (t *badgerTx) ListAccessRecords(key string) ([]*metadata.AccessRecord, error) {
	values, err := t.scanValues(keyAccessPrefix(key))
	if err != nil {
		return nil, err
	}
	out := make([]*metadata.AccessRecord, 0, len(values))
	for _, val := range values {
		var rec metadata.AccessRecord
		if err := decodeJSON("access record", val, &rec); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, nil
}
