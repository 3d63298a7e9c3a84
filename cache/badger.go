package cache

import (
	"context"
	"fmt"

	badger "github.com/dgraph-io/badger/v3"

	log "github.com/erigontech/erigon-lib/log/v3"
)

// BadgerStore is a Store backed by a single-process embedded
// key-value database, matching the persistent-cache shape
// nakominosu-oasis-core's storage worker uses for its own
// write-ahead state.
type BadgerStore struct {
	db     *badger.DB
	logger log.Logger
}

// OpenBadgerStore opens (creating if necessary) a BadgerStore rooted
// at dir.
func OpenBadgerStore(dir string, logger log.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = log.Root()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("cache: open badger store at %s: %w", dir, err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func compositeKey(store, key string) []byte {
	return []byte(store + "/" + key)
}

func (b *BadgerStore) Get(_ context.Context, store, key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(compositeKey(store, key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			value = append([]byte(nil), v...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cache: get %s/%s: %w", store, key, err)
	}
	return value, nil
}

func (b *BadgerStore) Put(_ context.Context, store, key string, value []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(compositeKey(store, key), value)
	})
	if err != nil {
		return fmt.Errorf("cache: put %s/%s: %w", store, key, err)
	}
	return nil
}
