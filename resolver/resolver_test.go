package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-sync/statesync/resolver"
)

func TestDecideSnapshotWinsPastThreshold(t *testing.T) {
	d := resolver.Decide(99, true, 9999, true, 0)
	require.Equal(t, resolver.SourceSnapshot, d.Source)
	require.EqualValues(t, 9999, d.BlockNumber)
}

func TestDecideCacheWinsWhenSnapshotUnavailable(t *testing.T) {
	d := resolver.Decide(100, true, 0, false, 0)
	require.Equal(t, resolver.SourceCache, d.Source)
	require.EqualValues(t, 100, d.BlockNumber)
}

func TestDecideCacheWinsWhenSnapshotWithinThreshold(t *testing.T) {
	d := resolver.Decide(100, true, 150, true, 0)
	require.Equal(t, resolver.SourceCache, d.Source)
}

func TestDecideSnapshotExactlyAtThresholdLoses(t *testing.T) {
	// snapshot must be STRICTLY greater than candidateCache + 100.
	d := resolver.Decide(0, true, 100, true, 0)
	require.Equal(t, resolver.SourceCache, d.Source)
}

func TestDecideEmptyWhenNoCacheNoSnapshot(t *testing.T) {
	d := resolver.Decide(0, false, 0, false, 500)
	require.Equal(t, resolver.SourceEmpty, d.Source)
	require.EqualValues(t, 500, d.BlockNumber)
}

func TestDecideFloorRaisesCandidateCache(t *testing.T) {
	// cache is behind the floor: candidateCache = floor, and a
	// snapshot must clear floor+100 to win. 205 would clear the raw
	// cache (10+100) but not the floor (200+100).
	d := resolver.Decide(10, true, 205, true, 200)
	require.Equal(t, resolver.SourceCache, d.Source)

	d2 := resolver.Decide(10, true, 250, true, 200)
	require.Equal(t, resolver.SourceCache, d2.Source)
	require.EqualValues(t, 200, d2.BlockNumber)
}

func TestDecideSnapshotNeverBehindCacheWins(t *testing.T) {
	// decision: snapshot behind cache always loses, never ties or wins.
	d := resolver.Decide(500, true, 100, true, 0)
	require.Equal(t, resolver.SourceCache, d.Source)
}
