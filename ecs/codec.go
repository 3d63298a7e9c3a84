package ecs

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// wireComponentUpdate is the on-disk/on-wire shape for a ComponentUpdate.
// Kept separate from ComponentUpdate so the in-memory type can change
// without touching the persisted format.
type wireComponentUpdate struct {
	Component     []byte `json:"component"`
	Entity        []byte `json:"entity"`
	Value         []byte `json:"value"`
	TxHash        string `json:"txHash"`
	LastEventInTx bool   `json:"lastEventInTx"`
	BlockNumber   uint64 `json:"blockNumber"`
}

// Encode serializes a CacheStore's sequence; replaying the decoded
// sequence through StoreEvent reproduces the same compacted state
// (the CacheStore invariant from the data model).
func Encode(store *CacheStore) ([]byte, error) {
	wire := make([]wireComponentUpdate, len(store.sequence))
	for i, u := range store.sequence {
		wire[i] = wireComponentUpdate{
			Component:     u.Component,
			Entity:        u.Entity,
			Value:         u.Value,
			TxHash:        u.TxHash,
			LastEventInTx: u.LastEventInTx,
			BlockNumber:   u.BlockNumber,
		}
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("ecs: encode cache store: %w", err)
	}
	return data, nil
}

// Decode rebuilds a CacheStore from bytes produced by Encode.
func Decode(data []byte) (*CacheStore, error) {
	var wire []wireComponentUpdate
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("ecs: decode cache store: %w", err)
	}
	store := NewCacheStore()
	for _, w := range wire {
		store.StoreEvent(ComponentUpdate{
			Component:     w.Component,
			Entity:        w.Entity,
			Value:         w.Value,
			TxHash:        w.TxHash,
			LastEventInTx: w.LastEventInTx,
			BlockNumber:   w.BlockNumber,
		})
	}
	return store, nil
}
