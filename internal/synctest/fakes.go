// Package synctest provides in-memory fakes for the orchestrator's
// collaborators, used by orchestrator tests to drive specific
// resolution and gap-fill scenarios without any network or disk I/O.
package synctest

import (
	"context"
	"sync"

	"github.com/lattice-sync/statesync/ecs"
)

// FakeFetcher answers BlockRangeFetcher.fetch with a preprogrammed
// result, recording the (from, to) it was called with.
type FakeFetcher struct {
	mu       sync.Mutex
	Result   *ecs.CacheStore
	Err      error
	LastFrom uint64
	LastTo   uint64
	Calls    int
}

func NewFakeFetcher(result *ecs.CacheStore) *FakeFetcher {
	if result == nil {
		result = ecs.NewCacheStore()
	}
	return &FakeFetcher{Result: result}
}

func (f *FakeFetcher) Fetch(_ context.Context, from, to uint64) (*ecs.CacheStore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	f.LastFrom, f.LastTo = from, to
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Result, nil
}

// FakeSnapshotClient answers SnapshotClient's two RPCs from fixed
// fields; a zero value behaves as "snapshot unavailable".
type FakeSnapshotClient struct {
	BlockNumber uint64
	Available   bool
	Store       *ecs.CacheStore
	FetchErr    error
}

func (s *FakeSnapshotClient) LatestBlockNumber(_ context.Context) (uint64, bool) {
	return s.BlockNumber, s.Available
}

func (s *FakeSnapshotClient) Fetch(_ context.Context) (*ecs.CacheStore, error) {
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	if s.Store == nil {
		return ecs.NewCacheStore(), nil
	}
	return s.Store, nil
}

// FakeLiveSource is a livestream.Source whose two channels are fed
// directly by the test, letting it interleave live events with the
// orchestrator's suspension points deterministically.
type FakeLiveSource struct {
	events chan ecs.ComponentUpdate
	ticks  chan uint64
}

func NewFakeLiveSource() *FakeLiveSource {
	return &FakeLiveSource{
		events: make(chan ecs.ComponentUpdate, 64),
		ticks:  make(chan uint64, 64),
	}
}

func (s *FakeLiveSource) SubscribeEvents(_ context.Context) (<-chan ecs.ComponentUpdate, error) {
	return s.events, nil
}

func (s *FakeLiveSource) SubscribeBlockNumbers(_ context.Context) (<-chan uint64, error) {
	return s.ticks, nil
}

// PushEvent and PushTick feed the respective subscription channel from
// the test goroutine.
func (s *FakeLiveSource) PushEvent(u ecs.ComponentUpdate) { s.events <- u }
func (s *FakeLiveSource) PushTick(n uint64)               { s.ticks <- n }

// Close closes both channels; call only after all Push* calls are
// done, to signal the orchestrator the source is exhausted.
func (s *FakeLiveSource) Close() {
	close(s.events)
	close(s.ticks)
}
