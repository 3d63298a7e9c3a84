// Copyright 2024 The Erigon Authors
// (modifications)
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package orchestrator implements the SyncOrchestrator state machine:
// it composes the resolver, gap filler and live stream into a single
// output stream of ComponentUpdates, owning all block-number rewriting
// and transaction-boundary bookkeeping.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	log "github.com/erigontech/erigon-lib/log/v3"
	"github.com/gammazero/deque"
	"golang.org/x/sync/errgroup"

	"github.com/lattice-sync/statesync/cache"
	"github.com/lattice-sync/statesync/ecs"
	"github.com/lattice-sync/statesync/fetch"
	"github.com/lattice-sync/statesync/gapfill"
	"github.com/lattice-sync/statesync/livestream"
	"github.com/lattice-sync/statesync/resolver"
)

// phase is the ordinal encoding of the state machine's position, used
// both for control flow and as the value of the phase metric.
type phase int

const (
	phaseBoot phase = iota
	phaseResolving
	phaseSeeding
	phaseGapFetching
	phaseDrainingBuffer
	phaseLive
	phaseTerminated
)

func (p phase) String() string {
	switch p {
	case phaseBoot:
		return "BOOT"
	case phaseResolving:
		return "RESOLVING"
	case phaseSeeding:
		return "SEEDING"
	case phaseGapFetching:
		return "GAP_FETCHING"
	case phaseDrainingBuffer:
		return "DRAINING_BUFFER"
	case phaseLive:
		return "LIVE"
	default:
		return "TERMINATED"
	}
}

// initialPhaseLabel is used for the emitted-updates metric during
// SEEDING/GAP_FETCHING/DRAINING_BUFFER, all of which share the same
// rewrite rule and should be counted together.
const initialPhaseLabel = "initial"
const livePhaseLabel = "live"

// LiveBufferHighWater is the default high-water mark past which a
// growing live-event buffer is logged at Warn instead of dropping
// events silently. Implementations may tune it per Orchestrator.
const LiveBufferHighWater = 50_000

// Orchestrator wires together one synchronization session's
// collaborators. Every field is required except Logger, Metrics and
// LiveBufferHighWater (zero means the LiveBufferHighWater default).
type Orchestrator struct {
	Fetcher        fetch.Fetcher
	SnapshotClient SnapshotClient
	Cache          cache.Store
	LiveSource     livestream.Source
	Config         ecs.SyncConfig

	Logger              log.Logger
	Metrics             *Metrics
	LiveBufferHighWater int
}

// SnapshotClient is the subset of snapshotclient.Client the
// orchestrator depends on; declared locally so callers can pass a test
// double without importing the concrete package.
type SnapshotClient interface {
	LatestBlockNumber(ctx context.Context) (uint64, bool)
	Fetch(ctx context.Context) (*ecs.CacheStore, error)
}

// Run starts one synchronization session. It returns immediately; the
// output stream and termination-error channel are delivered to
// asynchronously. The output channel is closed exactly once, when the
// session reaches TERMINATED. The error channel receives at most one
// value — a FatalSyncError — and is otherwise closed without a value
// on clean cancellation or source exhaustion.
func (o *Orchestrator) Run(ctx context.Context) (<-chan ecs.ComponentUpdate, <-chan error) {
	out := make(chan ecs.ComponentUpdate, 256)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)
		if err := o.run(ctx, out); err != nil {
			var fatal *ecs.FatalSyncError
			if errors.As(err, &fatal) {
				errc <- err
				return
			}
			if !errors.Is(err, context.Canceled) {
				errc <- &ecs.FatalSyncError{Err: err}
			}
		}
	}()

	return out, errc
}

func (o *Orchestrator) logger() log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return log.Root()
}

func (o *Orchestrator) highWater() int {
	if o.LiveBufferHighWater > 0 {
		return o.LiveBufferHighWater
	}
	return LiveBufferHighWater
}

// run drives the state machine to completion, writing every emitted
// ComponentUpdate to out. A non-nil, non-cancellation error that is not
// already a FatalSyncError is wrapped in one by Run.
func (o *Orchestrator) run(ctx context.Context, out chan<- ecs.ComponentUpdate) error {
	logger := o.logger()
	o.Metrics.setPhase(phaseBoot)

	// BOOT: subscribe before doing any resolver work, so early live
	// events land in the buffer instead of being lost.
	liveEvents, err := o.LiveSource.SubscribeEvents(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribe live events: %w", err)
	}
	liveTicks, err := o.LiveSource.SubscribeBlockNumbers(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: subscribe block numbers: %w", err)
	}

	buffer := deque.New[ecs.ComponentUpdate]()
	warnedHighWater := false

	bufferEvent := func(u ecs.ComponentUpdate) {
		buffer.PushBack(u)
		o.Metrics.observeBufferDepth(buffer.Len())
		if !warnedHighWater && buffer.Len() > o.highWater() {
			warnedHighWater = true
			logger.Warn("orchestrator: live buffer passed high-water mark, still accepting events", "depth", buffer.Len())
		}
	}

	var targetBlock uint64
	var gotFirstTick bool
	for !gotFirstTick {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-liveTicks:
			if !ok {
				return fmt.Errorf("orchestrator: block-number stream closed before first tick")
			}
			targetBlock = tick
			gotFirstTick = true
		case ev, ok := <-liveEvents:
			if !ok {
				return fmt.Errorf("orchestrator: live-event stream closed before first tick")
			}
			bufferEvent(ev)
		}
	}

	// RESOLVING: read persistent-cache block number and query the
	// snapshot client concurrently, while still draining live events
	// into the buffer so nothing arriving during the wait is lost.
	o.Metrics.setPhase(phaseResolving)
	var (
		cacheBlockNumber    uint64
		cacheHasData        bool
		snapshotBlockNumber uint64
		snapshotAvailable   bool
	)
	err = o.drainWhile(ctx, &liveEvents, &liveTicks, &targetBlock, bufferEvent, func(subCtx context.Context) error {
		g, gctx := errgroup.WithContext(subCtx)
		g.Go(func() error {
			bn, hasData, err := cache.ReadBlockNumber(gctx, o.Cache)
			if err != nil {
				if errors.Is(err, cache.ErrCacheCorrupt) {
					logger.Warn("orchestrator: persistent cache block number corrupt, treating as empty", "err", err)
					cacheBlockNumber, cacheHasData = 0, false
					return nil
				}
				return fmt.Errorf("orchestrator: read cached block number: %w", err)
			}
			cacheBlockNumber, cacheHasData = bn, hasData
			return nil
		})
		g.Go(func() error {
			bn, available := o.SnapshotClient.LatestBlockNumber(gctx)
			snapshotBlockNumber, snapshotAvailable = bn, available
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		return err
	}

	decision := resolver.Decide(cacheBlockNumber, cacheHasData, snapshotBlockNumber, snapshotAvailable, o.Config.InitialBlockNumber)

	var seedStore *ecs.CacheStore
	switch decision.Source {
	case resolver.SourceSnapshot:
		// Suspension point c: awaiting snapshot fetch.
		err = o.drainWhile(ctx, &liveEvents, &liveTicks, &targetBlock, bufferEvent, func(subCtx context.Context) error {
			var fetchErr error
			seedStore, fetchErr = o.SnapshotClient.Fetch(subCtx)
			return fetchErr
		})
		if err != nil {
			logger.Warn("orchestrator: snapshot fetch failed, falling back to cache", "err", err)
			seedStore, err = o.loadCacheSeed(ctx)
			if err != nil {
				return err
			}
		}
	case resolver.SourceCache:
		seedStore, err = o.loadCacheSeed(ctx)
		if err != nil {
			return err
		}
	default:
		seedStore = ecs.NewCacheStore()
	}
	seedBlock := decision.BlockNumber

	// SEEDING: collect the seed batch but don't emit it yet. The
	// block-number rewrite is shared by the whole seed+gap+buffer
	// batch and must use one targetBlock snapshot, taken only after
	// GAP_FETCHING's own drainWhile below has had its chance to
	// observe a fresher tick arriving while the gap fetch is in
	// flight; emitting the seed batch any earlier would rewrite it
	// against a staler target than the gap batch beside it.
	o.Metrics.setPhase(phaseSeeding)
	seedBatch := seedStore.State()

	// GAP_FETCHING: suspension point d, awaiting gap fetch.
	o.Metrics.setPhase(phaseGapFetching)
	var gapStore *ecs.CacheStore
	err = o.drainWhile(ctx, &liveEvents, &liveTicks, &targetBlock, bufferEvent, func(subCtx context.Context) error {
		var fetchErr error
		gapStore, fetchErr = gapfill.Fill(subCtx, o.Fetcher, seedBlock, targetBlock)
		return fetchErr
	})
	if err != nil {
		return err
	}
	if err := o.emitInitial(ctx, out, seedBatch, targetBlock); err != nil {
		return err
	}
	if err := o.emitInitial(ctx, out, gapStore.Sequence(), targetBlock); err != nil {
		return err
	}

	// DRAINING_BUFFER
	o.Metrics.setPhase(phaseDrainingBuffer)
	drained := make([]ecs.ComponentUpdate, 0, buffer.Len())
	for buffer.Len() > 0 {
		drained = append(drained, buffer.PopFront())
	}
	o.Metrics.observeBufferDepth(0)
	if err := o.emitInitial(ctx, out, drained, targetBlock); err != nil {
		return err
	}

	// LIVE
	o.Metrics.setPhase(phaseLive)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tick, ok := <-liveTicks:
			if !ok {
				return nil
			}
			targetBlock = tick
		case ev, ok := <-liveEvents:
			if !ok {
				return nil
			}
			select {
			case out <- ev:
				o.Metrics.observeEmit(livePhaseLabel)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// drainWhile runs fn in the background and, until it returns, keeps
// servicing the live-event and block-number streams so nothing is
// lost while the orchestrator is suspended awaiting a slower
// collaborator. Either stream channel is set to nil in place once closed,
// disabling that select case without busy-looping.
func (o *Orchestrator) drainWhile(ctx context.Context, liveEvents *<-chan ecs.ComponentUpdate, liveTicks *<-chan uint64, targetBlock *uint64, bufferEvent func(ecs.ComponentUpdate), fn func(context.Context) error) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resultCh := make(chan error, 1)
	go func() { resultCh <- fn(subCtx) }()

	events, ticks := *liveEvents, *liveTicks
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-resultCh:
			return err
		case tick, ok := <-ticks:
			if !ok {
				ticks = nil
				*liveTicks = nil
				continue
			}
			*targetBlock = tick
		case ev, ok := <-events:
			if !ok {
				events = nil
				*liveEvents = nil
				continue
			}
			bufferEvent(ev)
		}
	}
}

func (o *Orchestrator) loadCacheSeed(ctx context.Context) (*ecs.CacheStore, error) {
	store, err := cache.ReadState(ctx, o.Cache)
	if err != nil {
		if errors.Is(err, cache.ErrCacheCorrupt) {
			o.logger().Warn("orchestrator: persistent cache state corrupt, seeding empty", "err", err)
			return ecs.NewCacheStore(), nil
		}
		return nil, fmt.Errorf("orchestrator: read cached state: %w", err)
	}
	return store, nil
}

// emitInitial applies the block-number rewrite rule to every
// update in updates and writes the result to out, in order. It is
// used by SEEDING, GAP_FETCHING and DRAINING_BUFFER alike — the three
// phases sharing the rewrite rule.
func (o *Orchestrator) emitInitial(ctx context.Context, out chan<- ecs.ComponentUpdate, updates []ecs.ComponentUpdate, currentTargetBlock uint64) error {
	rewriteBlock := currentTargetBlock
	if rewriteBlock > 0 {
		rewriteBlock--
	}
	for _, u := range updates {
		u.BlockNumber = rewriteBlock
		u.LastEventInTx = false
		u.TxHash = ecs.TxHashCache
		select {
		case out <- u:
			o.Metrics.observeEmit(initialPhaseLabel)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
