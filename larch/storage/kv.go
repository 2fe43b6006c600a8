// Package storage implements the larch backend engine: the mapping of DNs to
// packed records in the underlying key/value store, index maintenance, the
// transactional write path and the sequence-number bookkeeping.
package storage

import (
	"errors"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/larchdb/larch/larch"
)

// StoreFlag selects the store semantics for a record write.
type StoreFlag int

const (
	// StoreInsert fails with entryAlreadyExists when the key is present.
	StoreInsert StoreFlag = iota
	// StoreModify fails with noSuchObject when the key is absent.
	StoreModify
	// StoreReplace writes unconditionally.
	StoreReplace
)

// kvStore wraps the underlying key/value engine behind the narrow contract
// the write path needs: flagged stores, fetches, deletes, an ordered walk,
// and depth-counted transactions. All engine errors are mapped to larch
// result codes here and nowhere else.
type kvStore struct {
	db       *badger.DB
	txn      *badger.Txn // active write transaction, nil outside one
	depth    int
	readOnly bool
}

func openKV(path string, opts badger.Options, perm os.FileMode, readOnly bool) (*kvStore, error) {
	if !readOnly {
		if err := os.MkdirAll(path, perm); err != nil {
			return nil, larch.Errf(larch.ResultOperationsError, "cannot create store at %q: %v", path, err)
		}
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &kvStore{db: db, readOnly: readOnly}, nil
}

func (kv *kvStore) close() error {
	if kv.txn != nil {
		kv.txn.Discard()
		kv.txn = nil
		kv.depth = 0
	}
	return kv.db.Close()
}

// mapStoreError translates an underlying-engine error into a larch error.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return larch.Errf(larch.ResultNoSuchObject, "no such object")
	case errors.Is(err, badger.ErrConflict), errors.Is(err, badger.ErrBlockedWrites):
		return larch.Errf(larch.ResultBusy, "store busy: %v", err)
	case errors.Is(err, badger.ErrReadOnlyTxn):
		return larch.Errf(larch.ResultInsufficientAccessRights, "store is read-only")
	case errors.Is(err, badger.ErrEmptyKey), errors.Is(err, badger.ErrInvalidKey):
		return larch.Errf(larch.ResultProtocolError, "invalid store key: %v", err)
	default:
		return larch.Errf(larch.ResultOperationsError, "store error: %v", err)
	}
}

// Begin opens (or nests into) the write transaction.
func (kv *kvStore) Begin() error {
	if kv.readOnly {
		return larch.Errf(larch.ResultInsufficientAccessRights, "store is read-only")
	}
	if kv.txn == nil {
		kv.txn = kv.db.NewTransaction(true)
	}
	kv.depth++
	return nil
}

// Commit finalises the transaction once the depth counter unwinds to zero.
func (kv *kvStore) Commit() error {
	if kv.depth == 0 {
		return larch.Errf(larch.ResultOperationsError, "commit outside transaction")
	}
	kv.depth--
	if kv.depth > 0 {
		return nil
	}
	txn := kv.txn
	kv.txn = nil
	if err := txn.Commit(); err != nil {
		return mapStoreError(err)
	}
	return nil
}

// Cancel discards the transaction once the depth counter unwinds to zero,
// undoing every store and index edit made inside it.
func (kv *kvStore) Cancel() error {
	if kv.depth == 0 {
		return larch.Errf(larch.ResultOperationsError, "cancel outside transaction")
	}
	kv.depth--
	if kv.depth > 0 {
		return nil
	}
	kv.txn.Discard()
	kv.txn = nil
	return nil
}

func (kv *kvStore) inTransaction() bool {
	return kv.depth > 0
}

// update runs fn inside the active transaction, or a one-shot one.
func (kv *kvStore) update(fn func(txn *badger.Txn) error) error {
	if kv.txn != nil {
		return fn(kv.txn)
	}
	if kv.readOnly {
		return larch.Errf(larch.ResultInsufficientAccessRights, "store is read-only")
	}
	return kv.db.Update(fn)
}

// view runs fn against the active transaction so that reads observe
// uncommitted writes, or against a read-only snapshot.
func (kv *kvStore) view(fn func(txn *badger.Txn) error) error {
	if kv.txn != nil {
		return fn(kv.txn)
	}
	return kv.db.View(fn)
}

// Fetch returns the record stored under key.
func (kv *kvStore) Fetch(key []byte) ([]byte, error) {
	var out []byte
	err := kv.view(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return out, nil
}

// Store writes a record under key according to flag.
func (kv *kvStore) Store(key, val []byte, flag StoreFlag) error {
	err := kv.update(func(txn *badger.Txn) error {
		_, getErr := txn.Get(key)
		exists := getErr == nil
		if getErr != nil && !errors.Is(getErr, badger.ErrKeyNotFound) {
			return getErr
		}
		switch flag {
		case StoreInsert:
			if exists {
				return larch.Errf(larch.ResultEntryAlreadyExists, "key already exists")
			}
		case StoreModify:
			if !exists {
				return badger.ErrKeyNotFound
			}
		}
		return txn.Set(key, val)
	})
	var lerr *larch.Error
	if errors.As(err, &lerr) {
		return err
	}
	return mapStoreError(err)
}

// Delete removes the record under key; a missing key is noSuchObject.
func (kv *kvStore) Delete(key []byte) error {
	err := kv.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return mapStoreError(err)
}

// Walk calls fn for every record whose key starts with prefix. Keys are
// collected before fn runs so the callback may mutate the store.
func (kv *kvStore) Walk(prefix []byte, fn func(key, val []byte) error) error {
	var keys [][]byte
	err := kv.view(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return mapStoreError(err)
	}
	for _, key := range keys {
		val, err := kv.Fetch(key)
		if err != nil {
			// Deleted by an earlier callback.
			if larch.CodeOf(err) == larch.ResultNoSuchObject {
				continue
			}
			return err
		}
		if err := fn(key, val); err != nil {
			return err
		}
	}
	return nil
}
