package badger

import (
	"errors"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittodisk/pkg/store/metadata"
)

// badgerTx adapts a *badger.Txn to metadata.Tx.
type badgerTx struct {
	txn      *badger.Txn
	writable bool
}

var _ metadata.Tx = (*badgerTx)(nil)

func (t *badgerTx) checkWritable() error {
	if !t.writable {
		return metadata.NewError(metadata.ErrInvalidArgument, "write in read-only transaction", "")
	}
	return nil
}

// getValue returns a copy of the value stored at key, or (nil, false) if
// the key does not exist.
func (t *badgerTx) getValue(key []byte) ([]byte, bool, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// getJSON decodes the record at key into v. Missing keys yield ErrNotFound
// with what as message.
func (t *badgerTx) getJSON(key []byte, kind, what string, v any) error {
	val, ok, err := t.getValue(key)
	if err != nil {
		return err
	}
	if !ok {
		return metadata.NewError(metadata.ErrNotFound, kind+" not found", what)
	}
	return decodeJSON(kind, val, v)
}

func (t *badgerTx) setJSON(key []byte, kind string, v any) error {
	val, err := encodeJSON(kind, v)
	if err != nil {
		return err
	}
	return t.txn.Set(key, val)
}

func (t *badgerTx) exists(key []byte) (bool, error) {
	_, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// scanKeys returns the suffixes (after prefix) of every key under prefix.
//
// Keys are copied and the iterator is closed before returning, so callers
// may write to the transaction while consuming the result.
func (t *badgerTx) scanKeys(prefix []byte) ([]string, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var suffixes []string
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		suffixes = append(suffixes, string(key[len(prefix):]))
	}
	return suffixes, nil
}

// scanValues returns a copy of every value under prefix.
func (t *badgerTx) scanValues(prefix []byte) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix

	it := t.txn.NewIterator(opts)
	defer it.Close()

	var values [][]byte
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		values = append(values, val)
	}
	return values, nil
}

// deletePrefix removes every key under prefix.
func (t *badgerTx) deletePrefix(prefix []byte) error {
	suffixes, err := t.scanKeys(prefix)
	if err != nil {
		return err
	}
	for _, s := range suffixes {
		if err := t.txn.Delete(append(append([]byte{}, prefix...), s...)); err != nil {
			return err
		}
	}
	return nil
}
