// Package resolver implements the InitialStateResolver: deciding,
// from a cache block number, a snapshot block number and the
// configured floor, whether to seed from snapshot, from persistent
// cache, or from neither.
package resolver

// Source names which collaborator the decision picked.
type Source int

const (
	SourceEmpty Source = iota
	SourceCache
	SourceSnapshot
)

func (s Source) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceSnapshot:
		return "snapshot"
	default:
		return "empty"
	}
}

// SnapshotPreferThreshold is the cost-model bias: a snapshot only wins
// when it is more than this many blocks ahead of the candidate cache
// state. A fixed-cost round trip only pays for itself once the
// gap it would otherwise require fetching block-by-block is large.
const SnapshotPreferThreshold = 100

// Decision is the InitialStateResolver's output: which source to seed
// from, and the block number the seed will be current to once
// materialized.
type Decision struct {
	Source      Source
	BlockNumber uint64
}

// Decide implements the snapshot/cache/empty decision. cacheHasData reports
// whether the persistent cache has ever written a block number (a
// corrupt or missing cache is treated as cacheHasData=false upstream).
func Decide(cacheBlockNumber uint64, cacheHasData bool, snapshotBlockNumber uint64, snapshotAvailable bool, initialBlockNumber uint64) Decision {
	candidateCache := cacheBlockNumber
	if initialBlockNumber > candidateCache {
		candidateCache = initialBlockNumber
	}

	if snapshotAvailable && snapshotBlockNumber > candidateCache+SnapshotPreferThreshold {
		return Decision{Source: SourceSnapshot, BlockNumber: snapshotBlockNumber}
	}

	if cacheHasData && candidateCache >= initialBlockNumber {
		return Decision{Source: SourceCache, BlockNumber: candidateCache}
	}

	return Decision{Source: SourceEmpty, BlockNumber: initialBlockNumber}
}
