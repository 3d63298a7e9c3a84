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

// Package ecs holds the wire-level data model shared by every stage of
// the synchronizer: the atomic ComponentUpdate, the CacheStore that
// accumulates them, and the SyncConfig a session is started with.
package ecs

// TxHashCache marks a ComponentUpdate synthesized from cache, snapshot
// or gap-fill data rather than observed directly in a transaction.
const TxHashCache = "cache"

// ComponentUpdate is the atomic unit flowing through the synchronizer.
type ComponentUpdate struct {
	Component     []byte
	Entity        []byte
	Value         []byte
	TxHash        string
	LastEventInTx bool
	BlockNumber   uint64
}

// Key identifies the (component, entity) pair a ComponentUpdate targets.
func (u ComponentUpdate) Key() ComponentEntityKey {
	return ComponentEntityKey{Component: string(u.Component), Entity: string(u.Entity)}
}

// ComponentEntityKey is the compacted-state key: a component type
// paired with the entity it is attached to.
type ComponentEntityKey struct {
	Component string
	Entity    string
}

// PhaseMarker labels which half of the synchronizer's lifecycle is
// currently active. It is internal to the orchestrator.
type PhaseMarker int

const (
	PhaseInitial PhaseMarker = iota
	PhaseLive
)

func (p PhaseMarker) String() string {
	if p == PhaseLive {
		return "LIVE"
	}
	return "INITIAL"
}

// ProviderOptions configures the RPC provider collaborator that feeds
// blockNumber$ and liveEvent$; the synchronizer core never talks to an
// RPC endpoint itself, but carries these settings through to whichever
// adapter the caller wires in.
type ProviderOptions struct {
	PollingInterval  uint64 // milliseconds
	Batch            bool
	SkipNetworkCheck bool
}

// SyncConfig is the immutable input to one synchronization session.
type SyncConfig struct {
	SnapshotServiceURL   string
	ChainID              uint64
	WorldContractAddress string
	WorldContractABI     string
	ProviderOptions      ProviderOptions
	InitialBlockNumber   uint64
}
