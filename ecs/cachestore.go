package ecs

import "sort"

// compactedEntry is the latest observed value for a (component, entity)
// pair plus the block number the observation came from.
type compactedEntry struct {
	value       []byte
	blockNumber uint64
}

// CacheStore is an append-only log of ComponentUpdates plus the
// compacted state map it reduces to. It is the unit the resolver,
// gap filler and orchestrator pass around while reconstructing and
// backfilling chain state.
//
// CacheStore is not safe for concurrent use; the orchestrator that
// owns one never shares it across goroutines while it is being
// mutated (see the synchronizer's single cooperative-task model).
type CacheStore struct {
	sequence  []ComponentUpdate
	compacted map[ComponentEntityKey]compactedEntry
}

// NewCacheStore returns an empty CacheStore.
func NewCacheStore() *CacheStore {
	return &CacheStore{compacted: make(map[ComponentEntityKey]compactedEntry)}
}

// StoreEvent appends update to the sequence and folds it into the
// compacted state; a later update for the same (component, entity)
// overwrites the earlier one.
func (s *CacheStore) StoreEvent(update ComponentUpdate) {
	s.sequence = append(s.sequence, update)
	s.compacted[update.Key()] = compactedEntry{value: update.Value, blockNumber: update.BlockNumber}
}

// Sequence returns the updates in observation order. The slice is
// owned by the store and must not be mutated by the caller.
func (s *CacheStore) Sequence() []ComponentUpdate {
	return s.sequence
}

// Len reports the number of updates recorded in the sequence.
func (s *CacheStore) Len() int {
	return len(s.sequence)
}

// State returns the compacted state as synthetic ComponentUpdates:
// TxHash is always TxHashCache, LastEventInTx is always false, and
// BlockNumber is the block originally associated with that compacted
// entry. Iterating State twice without intervening writes yields the
// same sequence; entries are ordered by (component, entity) so output
// is deterministic and reproducible across runs.
func (s *CacheStore) State() []ComponentUpdate {
	keys := make([]ComponentEntityKey, 0, len(s.compacted))
	for k := range s.compacted {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Component != keys[j].Component {
			return keys[i].Component < keys[j].Component
		}
		return keys[i].Entity < keys[j].Entity
	})

	out := make([]ComponentUpdate, 0, len(keys))
	for _, k := range keys {
		entry := s.compacted[k]
		out = append(out, ComponentUpdate{
			Component:     []byte(k.Component),
			Entity:        []byte(k.Entity),
			Value:         entry.value,
			TxHash:        TxHashCache,
			LastEventInTx: false,
			BlockNumber:   entry.blockNumber,
		})
	}
	return out
}

// MergeFrom applies StoreEvent for each update in other's sequence, in
// order. The outcome is associative: A.MergeFrom(B) then MergeFrom(C)
// produces the same compacted state as observing A, then B, then C.
func (s *CacheStore) MergeFrom(other *CacheStore) {
	if other == nil {
		return
	}
	for _, update := range other.sequence {
		s.StoreEvent(update)
	}
}
