package livestream

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/lattice-sync/statesync/ecs"
)

// wireUpdate is the on-the-wire shape of a component-update
// notification, mirroring ecs's own wireComponentUpdate convention.
type wireUpdate struct {
	Component     []byte `json:"component"`
	Entity        []byte `json:"entity"`
	Value         []byte `json:"value"`
	TxHash        string `json:"txHash"`
	LastEventInTx bool   `json:"lastEventInTx"`
	BlockNumber   uint64 `json:"blockNumber"`
}

func (w wireUpdate) toComponentUpdate() ecs.ComponentUpdate {
	return ecs.ComponentUpdate{
		Component:     w.Component,
		Entity:        w.Entity,
		Value:         w.Value,
		TxHash:        w.TxHash,
		LastEventInTx: w.LastEventInTx,
		BlockNumber:   w.BlockNumber,
	}
}

// wireMessage is the envelope the upstream node sends on the
// subscription socket: either a component-update notification or a
// block-number tick, discriminated by Kind.
type wireMessage struct {
	Kind        string      `json:"kind"`
	Update      *wireUpdate `json:"update,omitempty"`
	BlockNumber *uint64     `json:"blockNumber,omitempty"`
}

// WSSource is a Source backed by a single gorilla/websocket connection
// to a node's subscription endpoint. It reconnects on a dropped
// connection and keeps forwarding onto the same output channels,
// reconnect continues the LIVE phase transparently, without re-seeding;
// without re-seeding.
type WSSource struct {
	url    string
	logger log.Logger

	dialer *websocket.Dialer

	reconnectWait time.Duration
}

// NewWSSource returns a WSSource dialing url lazily on first
// subscription.
func NewWSSource(url string, logger log.Logger) *WSSource {
	if logger == nil {
		logger = log.Root()
	}
	return &WSSource{
		url:           url,
		logger:        logger,
		dialer:        websocket.DefaultDialer,
		reconnectWait: time.Second,
	}
}

func (s *WSSource) SubscribeEvents(ctx context.Context) (<-chan ecs.ComponentUpdate, error) {
	out := make(chan ecs.ComponentUpdate, 256)
	go s.pump(ctx, func(msg wireMessage) {
		if msg.Kind == "update" && msg.Update != nil {
			select {
			case out <- msg.Update.toComponentUpdate():
			case <-ctx.Done():
			}
		}
	}, out, nil)
	return out, nil
}

func (s *WSSource) SubscribeBlockNumbers(ctx context.Context) (<-chan uint64, error) {
	out := make(chan uint64, 16)
	go s.pump(ctx, func(msg wireMessage) {
		if msg.Kind == "blockNumber" && msg.BlockNumber != nil {
			select {
			case out <- *msg.BlockNumber:
			case <-ctx.Done():
			}
		}
	}, nil, out)
	return out, nil
}

// pump dials the socket and forwards decoded messages to dispatch
// until ctx is cancelled, reconnecting on read errors. Exactly one of
// events/ticks is non-nil per call; each owns a separate connection.
func (s *WSSource) pump(ctx context.Context, dispatch func(wireMessage), events chan ecs.ComponentUpdate, ticks chan uint64) {
	defer closeChannels(events, ticks)

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.logger.Warn("livestream: dial failed, retrying", "err", err, "wait", s.reconnectWait)
			if !sleepOrDone(ctx, s.reconnectWait) {
				return
			}
			continue
		}

		s.readLoop(ctx, conn, dispatch)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("livestream: connection lost, reconnecting", "wait", s.reconnectWait)
		if !sleepOrDone(ctx, s.reconnectWait) {
			return
		}
	}
}

func (s *WSSource) readLoop(ctx context.Context, conn *websocket.Conn, dispatch func(wireMessage)) {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wireMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("livestream: malformed message, dropping", "err", err)
			continue
		}
		dispatch(msg)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func closeChannels(events chan ecs.ComponentUpdate, ticks chan uint64) {
	if events != nil {
		close(events)
	}
	if ticks != nil {
		close(ticks)
	}
}
