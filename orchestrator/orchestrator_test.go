package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lattice-sync/statesync/cache"
	"github.com/lattice-sync/statesync/ecs"
	"github.com/lattice-sync/statesync/internal/synctest"
	"github.com/lattice-sync/statesync/orchestrator"
)

func newTestOrchestrator(fetcher *synctest.FakeFetcher, snap *synctest.FakeSnapshotClient, store cache.Store, live *synctest.FakeLiveSource) *orchestrator.Orchestrator {
	return &orchestrator.Orchestrator{
		Fetcher:        fetcher,
		SnapshotClient: snap,
		Cache:          store,
		LiveSource:     live,
	}
}

func collect(t *testing.T, out <-chan ecs.ComponentUpdate, errc <-chan error, timeout time.Duration) ([]ecs.ComponentUpdate, error) {
	t.Helper()
	var got []ecs.ComponentUpdate
	deadline := time.After(timeout)
	for {
		select {
		case u, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			got = append(got, u)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			return got, err
		case <-deadline:
			t.Fatal("timed out waiting for orchestrator output")
		}
		if out == nil && errc == nil {
			return got, nil
		}
	}
}

// With no cached state or snapshot, live events pass straight through unrewritten.
func TestOrchestratorLivePassThrough(t *testing.T) {
	fetcher := synctest.NewFakeFetcher(nil)
	snap := &synctest.FakeSnapshotClient{}
	store := cache.NewInMemoryStore()
	live := synctest.NewFakeLiveSource()

	o := newTestOrchestrator(fetcher, snap, store, live)
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := o.Run(ctx)

	live.PushTick(101)
	// the initial phase emits nothing here; give it time to finish so
	// the event arrives in LIVE rather than being buffered and rewritten.
	time.Sleep(50 * time.Millisecond)
	live.PushEvent(ecs.ComponentUpdate{Component: []byte("0x0"), Entity: []byte("0x1"), TxHash: "0x2", LastEventInTx: true, BlockNumber: 111})

	var got ecs.ComponentUpdate
	select {
	case got = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live event")
	}
	require.Equal(t, ecs.ComponentUpdate{Component: []byte("0x0"), Entity: []byte("0x1"), TxHash: "0x2", LastEventInTx: true, BlockNumber: 111}, got)

	cancel()
	live.Close()
	_, _ = collect(t, out, errc, 2*time.Second)
}

// A snapshot far enough ahead of the cache wins the seed decision.
func TestOrchestratorSnapshotWins(t *testing.T) {
	fetcher := synctest.NewFakeFetcher(nil)
	seed := ecs.NewCacheStore()
	seed.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x30"), Entity: []byte("0x31"), Value: []byte("v"), BlockNumber: 9999})
	snap := &synctest.FakeSnapshotClient{BlockNumber: 9999, Available: true, Store: seed}
	store := cache.NewInMemoryStore()
	require.NoError(t, cache.WriteBlockNumber(context.Background(), store, 99))
	live := synctest.NewFakeLiveSource()

	o := newTestOrchestrator(fetcher, snap, store, live)
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := o.Run(ctx)

	live.PushTick(101)

	var got ecs.ComponentUpdate
	select {
	case got = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for seed event")
	}
	require.EqualValues(t, 100, got.BlockNumber)
	require.Equal(t, ecs.TxHashCache, got.TxHash)
	require.False(t, got.LastEventInTx)

	cancel()
	live.Close()
	_, _ = collect(t, out, errc, 2*time.Second)
}

// With no snapshot available, the persistent cache seeds state instead.
func TestOrchestratorCacheWinsWhenSnapshotUnavailable(t *testing.T) {
	fetcher := synctest.NewFakeFetcher(nil)
	snap := &synctest.FakeSnapshotClient{}
	store := cache.NewInMemoryStore()
	require.NoError(t, cache.WriteBlockNumber(context.Background(), store, 100))
	cached := ecs.NewCacheStore()
	cached.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x10"), Entity: []byte("0x11"), Value: []byte("cv"), BlockNumber: 100})
	require.NoError(t, cache.WriteState(context.Background(), store, cached))
	live := synctest.NewFakeLiveSource()

	o := newTestOrchestrator(fetcher, snap, store, live)
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := o.Run(ctx)

	live.PushTick(101)

	var got ecs.ComponentUpdate
	select {
	case got = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for seed event")
	}
	require.EqualValues(t, 100, got.BlockNumber)
	require.Equal(t, ecs.TxHashCache, got.TxHash)
	require.False(t, got.LastEventInTx)
	require.Equal(t, []byte("cv"), got.Value)

	cancel()
	live.Close()
	_, _ = collect(t, out, errc, 2*time.Second)
}

// Blocks between the seed and the observed chain head are backfilled before going live.
func TestOrchestratorGapFill(t *testing.T) {
	gapStore := ecs.NewCacheStore()
	gapStore.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x20"), Entity: []byte("0x21"), Value: []byte("gv"), BlockNumber: 999})
	fetcher := synctest.NewFakeFetcher(gapStore)
	snap := &synctest.FakeSnapshotClient{}
	store := cache.NewInMemoryStore()
	require.NoError(t, cache.WriteBlockNumber(context.Background(), store, 99))
	cached := ecs.NewCacheStore()
	cached.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x40"), Entity: []byte("0x41"), Value: []byte("seed"), BlockNumber: 99})
	require.NoError(t, cache.WriteState(context.Background(), store, cached))
	live := synctest.NewFakeLiveSource()

	o := newTestOrchestrator(fetcher, snap, store, live)
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := o.Run(ctx)

	live.PushTick(1001)

	var got []ecs.ComponentUpdate
	for i := 0; i < 2; i++ {
		select {
		case u := <-out:
			got = append(got, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	require.Len(t, got, 2)
	require.EqualValues(t, 1000, got[0].BlockNumber)
	require.EqualValues(t, 1000, got[1].BlockNumber)
	require.Equal(t, ecs.TxHashCache, got[1].TxHash)
	require.EqualValues(t, 99, fetcher.LastFrom)
	require.EqualValues(t, 1001, fetcher.LastTo)

	cancel()
	live.Close()
	_, _ = collect(t, out, errc, 2*time.Second)
}

// Live events arriving during the initial phase buffer and drain before live forwarding resumes.
func TestOrchestratorInterleavedInitialAndLive(t *testing.T) {
	gapStore := ecs.NewCacheStore()
	gapStore.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x20"), Entity: []byte("0x21"), Value: []byte("gv"), BlockNumber: 999})
	fetcher := synctest.NewFakeFetcher(gapStore)
	snap := &synctest.FakeSnapshotClient{}
	store := cache.NewInMemoryStore()
	require.NoError(t, cache.WriteBlockNumber(context.Background(), store, 99))
	cached := ecs.NewCacheStore()
	cached.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x40"), Entity: []byte("0x41"), Value: []byte("seed"), BlockNumber: 99})
	require.NoError(t, cache.WriteState(context.Background(), store, cached))
	live := synctest.NewFakeLiveSource()

	o := newTestOrchestrator(fetcher, snap, store, live)
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := o.Run(ctx)

	// the orchestrator subscribes at BOOT, so these are safe to push
	// before it has necessarily reached RESOLVING/GAP_FETCHING.
	live.PushTick(1001)
	live.PushEvent(ecs.ComponentUpdate{Component: []byte("0x50"), Entity: []byte("0x51"), TxHash: "0xaaa", LastEventInTx: true, BlockNumber: 1001})
	live.PushEvent(ecs.ComponentUpdate{Component: []byte("0x52"), Entity: []byte("0x53"), TxHash: "0xbbb", LastEventInTx: true, BlockNumber: 1002})

	var got []ecs.ComponentUpdate
	for i := 0; i < 4; i++ {
		select {
		case u := <-out:
			got = append(got, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d, have %d so far", i, len(got))
		}
	}

	// after the 4 initial-phase events have drained, advance the tick
	// and push the live-phase event.
	live.PushTick(1002)
	live.PushEvent(ecs.ComponentUpdate{Component: []byte("0x54"), Entity: []byte("0x55"), TxHash: "0xccc", LastEventInTx: true, BlockNumber: 1003})

	select {
	case u := <-out:
		got = append(got, u)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final live event")
	}

	require.Len(t, got, 5)
	for _, u := range got[:4] {
		require.EqualValues(t, 1000, u.BlockNumber, "initial-phase events rewrite to targetBlock-1 observed at seed time")
	}
	require.EqualValues(t, 1003, got[4].BlockNumber)
	require.Equal(t, "0xccc", got[4].TxHash)
	require.True(t, got[4].LastEventInTx)

	cancel()
	live.Close()
	_, _ = collect(t, out, errc, 2*time.Second)
}

// A corrupt persistent block number is treated as "cache empty"
// rather than failing the session: resolution falls through to the
// configured floor and a gap fetch backfills from there.
func TestOrchestratorCorruptCachedBlockNumberRecovers(t *testing.T) {
	gapStore := ecs.NewCacheStore()
	gapStore.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x20"), Entity: []byte("0x21"), Value: []byte("gv"), BlockNumber: 500})
	fetcher := synctest.NewFakeFetcher(gapStore)
	snap := &synctest.FakeSnapshotClient{}
	store := cache.NewInMemoryStore()
	require.NoError(t, store.Put(context.Background(), cache.StoreBlockNumber, cache.KeyCurrent, []byte("short")))
	live := synctest.NewFakeLiveSource()

	o := newTestOrchestrator(fetcher, snap, store, live)
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := o.Run(ctx)

	live.PushTick(1001)

	var got ecs.ComponentUpdate
	select {
	case got = <-out:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gap event")
	}
	require.EqualValues(t, 1000, got.BlockNumber)
	require.EqualValues(t, 0, fetcher.LastFrom, "corrupt cache falls back to the configured floor, zero here")
	require.EqualValues(t, 1001, fetcher.LastTo)

	cancel()
	live.Close()
	got2, err := collect(t, out, errc, 2*time.Second)
	require.Empty(t, got2)
	require.NoError(t, err)
}

// Cancelling mid gap-fetch unblocks the fetch and ends the session cleanly, with no output.
func TestOrchestratorCancellationMidGapFetch(t *testing.T) {
	blockFetch := make(chan struct{})
	fetcher := &blockingFetcher{unblock: blockFetch}
	snap := &synctest.FakeSnapshotClient{}
	store := cache.NewInMemoryStore()
	require.NoError(t, cache.WriteBlockNumber(context.Background(), store, 99))
	live := synctest.NewFakeLiveSource()

	o := &orchestrator.Orchestrator{
		Fetcher:        fetcher,
		SnapshotClient: snap,
		Cache:          store,
		LiveSource:     live,
	}
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := o.Run(ctx)

	live.PushTick(1001)

	// drain the seed event (cache is empty here, so none is emitted);
	// give the orchestrator time to reach GAP_FETCHING, then cancel.
	time.Sleep(50 * time.Millisecond)
	live.PushEvent(ecs.ComponentUpdate{Component: []byte("0x60"), Entity: []byte("0x61"), BlockNumber: 1001})
	cancel()
	close(blockFetch)

	got, err := collect(t, out, errc, 2*time.Second)
	require.Empty(t, got)
	require.NoError(t, err)
}

// A tick arriving while the gap fetch is in flight rewrites both the
// already-collected seed batch and the gap batch to that later tick:
// the fetch itself still runs against the range observed before it
// started, but the whole initial-phase batch only goes out once, so
// it can't straddle two different rewrite targets.
func TestOrchestratorSeedAndGapShareTickObservedDuringFetch(t *testing.T) {
	gapStore := ecs.NewCacheStore()
	gapStore.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x20"), Entity: []byte("0x21"), Value: []byte("gv"), BlockNumber: 999})
	fetcher := newBlockingFetcher(gapStore)
	snap := &synctest.FakeSnapshotClient{}
	store := cache.NewInMemoryStore()
	require.NoError(t, cache.WriteBlockNumber(context.Background(), store, 99))
	cached := ecs.NewCacheStore()
	cached.StoreEvent(ecs.ComponentUpdate{Component: []byte("0x40"), Entity: []byte("0x41"), Value: []byte("seed"), BlockNumber: 99})
	require.NoError(t, cache.WriteState(context.Background(), store, cached))
	live := synctest.NewFakeLiveSource()

	o := &orchestrator.Orchestrator{
		Fetcher:        fetcher,
		SnapshotClient: snap,
		Cache:          store,
		LiveSource:     live,
	}
	ctx, cancel := context.WithCancel(context.Background())
	out, errc := o.Run(ctx)

	live.PushTick(1001)

	select {
	case <-fetcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for gap fetch to start")
	}

	// a fresher tick lands while the gap fetch is still blocked.
	live.PushTick(1002)
	close(fetcher.unblock)

	var got []ecs.ComponentUpdate
	for i := 0; i < 2; i++ {
		select {
		case u := <-out:
			got = append(got, u)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}

	require.Len(t, got, 2)
	require.EqualValues(t, 1001, got[0].BlockNumber, "seed batch rewrites to the tick observed during the fetch, not the stale pre-fetch one")
	require.EqualValues(t, 1001, got[1].BlockNumber)
	require.EqualValues(t, 99, fetcher.from())
	require.EqualValues(t, 1001, fetcher.to(), "the fetch itself still runs against the range observed before it started")

	cancel()
	live.Close()
	_, _ = collect(t, out, errc, 2*time.Second)
}

type blockingFetcher struct {
	unblock chan struct{}

	entered     chan struct{}
	enteredOnce sync.Once

	mu               sync.Mutex
	result           *ecs.CacheStore
	lastFrom, lastTo uint64
}

// newBlockingFetcher builds a blockingFetcher that signals entered
// once Fetch starts and returns result once unblock is closed.
func newBlockingFetcher(result *ecs.CacheStore) *blockingFetcher {
	return &blockingFetcher{
		unblock: make(chan struct{}),
		entered: make(chan struct{}),
		result:  result,
	}
}

func (f *blockingFetcher) Fetch(ctx context.Context, from, to uint64) (*ecs.CacheStore, error) {
	f.mu.Lock()
	f.lastFrom, f.lastTo = from, to
	f.mu.Unlock()
	f.enteredOnce.Do(func() {
		if f.entered != nil {
			close(f.entered)
		}
	})
	select {
	case <-f.unblock:
		if f.result != nil {
			return f.result, nil
		}
		return ecs.NewCacheStore(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *blockingFetcher) from() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastFrom
}

func (f *blockingFetcher) to() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastTo
}
