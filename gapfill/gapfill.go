// Package gapfill implements the GapFiller: fetching the block range
// between a seed's block number and the chain head observed at the
// moment the seed finished resolving.
package gapfill

import (
	"context"

	"github.com/lattice-sync/statesync/ecs"
	"github.com/lattice-sync/statesync/fetch"
)

// Fill returns every ComponentUpdate observed in [from, to], or an
// empty CacheStore if to <= from. It blocks the orchestrator's
// INITIAL phase until the underlying fetch completes.
func Fill(ctx context.Context, fetcher fetch.Fetcher, from, to uint64) (*ecs.CacheStore, error) {
	if to <= from {
		return ecs.NewCacheStore(), nil
	}
	return fetcher.Fetch(ctx, from, to)
}
