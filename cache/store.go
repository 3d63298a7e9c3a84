// Package cache implements the PersistentCache collaborator: a
// single-writer key-value store the synchronizer uses for two logical
// stores, "BlockNumber" (the last block the local replica is current
// to) and "State" (a serialized CacheStore).
package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/lattice-sync/statesync/ecs"
)

// Store names and key used by the synchronizer.
const (
	StoreBlockNumber = "BlockNumber"
	StoreState       = "State"
	KeyCurrent       = "current"
)

// ErrCacheCorrupt is returned when the persistent cache holds data
// that fails to deserialize. Callers treat it as "cache empty"
// and log a recoverable warning rather than propagating it.
var ErrCacheCorrupt = errors.New("cache: stored state failed to deserialize")

// Store is the PersistentCache collaborator: get/put with string
// keys, scoped to a named logical store. Get returns (nil, nil) for a
// missing key.
type Store interface {
	Get(ctx context.Context, store, key string) ([]byte, error)
	Put(ctx context.Context, store, key string, value []byte) error
}

// ReadBlockNumber reads the last block number the local replica is
// current to. hasData is false when no value has ever been written.
func ReadBlockNumber(ctx context.Context, s Store) (blockNumber uint64, hasData bool, err error) {
	raw, err := s.Get(ctx, StoreBlockNumber, KeyCurrent)
	if err != nil {
		return 0, false, err
	}
	if raw == nil {
		return 0, false, nil
	}
	if len(raw) != 8 {
		return 0, false, ErrCacheCorrupt
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// WriteBlockNumber persists the block number the local replica is now
// current to.
func WriteBlockNumber(ctx context.Context, s Store, blockNumber uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, blockNumber)
	return s.Put(ctx, StoreBlockNumber, KeyCurrent, raw)
}

// ReadState reads the persisted CacheStore. A missing key yields an
// empty store, not an error.
func ReadState(ctx context.Context, s Store) (*ecs.CacheStore, error) {
	raw, err := s.Get(ctx, StoreState, KeyCurrent)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return ecs.NewCacheStore(), nil
	}
	store, err := ecs.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCacheCorrupt, err)
	}
	return store, nil
}

// WriteState persists a CacheStore snapshot of the local replica.
func WriteState(ctx context.Context, s Store, store *ecs.CacheStore) error {
	data, err := ecs.Encode(store)
	if err != nil {
		return err
	}
	return s.Put(ctx, StoreState, KeyCurrent, data)
}
