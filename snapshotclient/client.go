// Package snapshotclient implements the SnapshotClient collaborator:
// querying the snapshot service for its latest available block and
// fetching a full state dump at that block.
package snapshotclient

import (
	"context"

	"github.com/lattice-sync/statesync/ecs"
)

// Client is the SnapshotClient collaborator. Any failure (network,
// protocol, empty URL, timeout) collapses to "snapshot unavailable";
// implementations never return an error from LatestBlockNumber, they
// simply report ok=false and let the resolver fall back.
type Client interface {
	// LatestBlockNumber returns the block a snapshot is available at,
	// or ok=false if no snapshot service is configured or reachable.
	LatestBlockNumber(ctx context.Context) (blockNumber uint64, ok bool)

	// Fetch returns the full snapshot CacheStore. Only called after
	// LatestBlockNumber has reported ok=true and the resolver decided
	// to use it.
	Fetch(ctx context.Context) (*ecs.CacheStore, error)
}
