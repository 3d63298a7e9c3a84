// Package fetch implements the BlockRangeFetcher collaborator: given
// an inclusive block range, it returns every component update the
// world contract emitted in that range.
package fetch

import (
	"context"

	"github.com/lattice-sync/statesync/ecs"
)

// Fetcher fetches every ComponentUpdate observed within an inclusive
// block range, in observation order. Implementations retry transient
// failures internally (see RANGE_FETCH_MAX_RETRIES) and return an
// error, wrapped in *ecs.FatalSyncError, once the retry budget is
// exhausted or on a failure that is not retried.
type Fetcher interface {
	Fetch(ctx context.Context, from, to uint64) (*ecs.CacheStore, error)
}
