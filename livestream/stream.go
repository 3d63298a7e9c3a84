// Package livestream defines the two hot input feeds the orchestrator
// subscribes to at BOOT: the raw ComponentUpdate stream and the
// block-number tick stream.
package livestream

import (
	"context"

	"github.com/lattice-sync/statesync/ecs"
)

// Source produces the two subscriptions the orchestrator needs before
// it starts resolver work. Implementations must support being
// subscribed to exactly once per orchestrator run.
type Source interface {
	// SubscribeEvents returns a channel of live ComponentUpdates in
	// chain-observed order. The channel is closed when the source's
	// context is cancelled or the upstream connection is permanently
	// lost.
	SubscribeEvents(ctx context.Context) (<-chan ecs.ComponentUpdate, error)

	// SubscribeBlockNumbers returns a channel of block-number ticks.
	// The first value received is the orchestrator's targetBlock.
	SubscribeBlockNumbers(ctx context.Context) (<-chan uint64, error)
}
