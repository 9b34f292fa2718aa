// ABOUTME: Local BadgerDB key-value store used when Charm Cloud sync is not configured
// ABOUTME: Same method set as charm/kv.KV so the client can swap backends

package charm

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"
)

// LocalKV is a BadgerDB-backed store on the local filesystem.
type LocalKV struct {
	db *badger.DB
}

// OpenLocal opens (creating if needed) a BadgerDB at dir. With inMemory the
// directory is ignored and nothing touches disk.
func OpenLocal(dir string, inMemory bool) (*LocalKV, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if dir == "" {
			return nil, fmt.Errorf("local kv path is required")
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create kv directory: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}

	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &LocalKV{db: db}, nil
}

func (t *LocalKV) Get(key []byte) ([]byte, error) {
	var result []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	return result, err
}

func (t *LocalKV) Set(key, value []byte) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (t *LocalKV) Delete(key []byte) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (t *LocalKV) Keys() ([][]byte, error) {
	var keys [][]byte
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	return keys, err
}

// Sync is a no-op; local writes are durable once Update returns.
func (t *LocalKV) Sync() error {
	return nil
}

func (t *LocalKV) Reset() error {
	return t.db.DropAll()
}

func (t *LocalKV) Close() error {
	return t.db.Close()
}
