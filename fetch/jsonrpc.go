package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	json "github.com/goccy/go-json"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/lattice-sync/statesync/ecs"
)

// RangeFetchMaxRetries and the backoff curve:
// bounded exponential backoff, 100ms base, 2x multiplier, 30s cap.
const (
	RangeFetchMaxRetries  = 5
	rangeFetchInitialWait = 100 * time.Millisecond
	rangeFetchMultiplier  = 2.0
	rangeFetchMaxWait     = 30 * time.Second
)

// RPCFetcher is a BlockRangeFetcher backed by a JSON-RPC endpoint that
// returns pre-decoded component updates for a block range. Decoding
// the world contract's ABI-encoded logs into ComponentUpdates is the
// driver's job (out of scope here); RPCFetcher talks to an
// endpoint that has already done so.
type RPCFetcher struct {
	endpoint            string
	worldContractAddr   string
	httpClient          *http.Client
	logger              log.Logger
	rangeFetchLogPrefix string
}

// NewRPCFetcher builds a RangeFetcher against endpoint for the given
// world contract address.
func NewRPCFetcher(endpoint, worldContractAddr string, logger log.Logger) *RPCFetcher {
	if logger == nil {
		logger = log.Root()
	}
	return &RPCFetcher{
		endpoint:            endpoint,
		worldContractAddr:   worldContractAddr,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
		logger:              logger,
		rangeFetchLogPrefix: "fetch",
	}
}

type rangeFetchRequest struct {
	Address string `json:"address"`
	From    uint64 `json:"fromBlock"`
	To      uint64 `json:"toBlock"`
}

type wireUpdate struct {
	Component     []byte `json:"component"`
	Entity        []byte `json:"entity"`
	Value         []byte `json:"value"`
	TxHash        string `json:"txHash"`
	LastEventInTx bool   `json:"lastEventInTx"`
	BlockNumber   uint64 `json:"blockNumber"`
}

// Fetch implements Fetcher.
func (f *RPCFetcher) Fetch(ctx context.Context, from, to uint64) (*ecs.CacheStore, error) {
	if from > to {
		return nil, fmt.Errorf("fetch: invalid range [%d,%d]", from, to)
	}

	var result *ecs.CacheStore
	attempt := 0
	op := func() error {
		attempt++
		store, err := f.fetchOnce(ctx, from, to)
		if err != nil {
			if isTransient(err) {
				f.logger.Warn(fmt.Sprintf("[%s] range fetch attempt failed, retrying", f.rangeFetchLogPrefix),
					"from", from, "to", to, "attempt", attempt, "err", err)
				return err
			}
			return backoff.Permanent(err)
		}
		result = store
		return nil
	}

	curve := backoff.NewExponentialBackOff()
	curve.InitialInterval = rangeFetchInitialWait
	curve.Multiplier = rangeFetchMultiplier
	curve.MaxInterval = rangeFetchMaxWait
	retrying := backoff.WithContext(backoff.WithMaxRetries(curve, RangeFetchMaxRetries), ctx)

	if err := backoff.Retry(op, retrying); err != nil {
		return nil, &ecs.FatalSyncError{Err: fmt.Errorf("range fetch [%d,%d] exhausted retries: %w", from, to, err)}
	}
	return result, nil
}

func (f *RPCFetcher) fetchOnce(ctx context.Context, from, to uint64) (*ecs.CacheStore, error) {
	body, err := json.Marshal(rangeFetchRequest{Address: f.worldContractAddr, From: from, To: to})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, &transientError{err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &transientError{fmt.Errorf("range fetch: server error %d", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("range fetch: unexpected status %d", resp.StatusCode)
	}

	var wire []wireUpdate
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &transientError{fmt.Errorf("range fetch: decode response: %w", err)}
	}

	store := ecs.NewCacheStore()
	for _, w := range wire {
		store.StoreEvent(ecs.ComponentUpdate{
			Component:     w.Component,
			Entity:        w.Entity,
			Value:         w.Value,
			TxHash:        w.TxHash,
			LastEventInTx: w.LastEventInTx,
			BlockNumber:   w.BlockNumber,
		})
	}
	return store, nil
}

// transientError marks a failure the retry loop should retry:
// timeouts, connection resets, 5xx responses.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
