package snapshotclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/lattice-sync/statesync/ecs"
)

// SnapshotQueryTimeout bounds the latest-block query (named
// SNAPSHOT_QUERY_TIMEOUT by callers). A timeout here is just another
// reason the snapshot collapses to "unavailable".
const SnapshotQueryTimeout = 10 * time.Second

// HTTPClient is a SnapshotClient adapter for a REST snapshot service
// exposing GET /latest and GET /snapshot.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	logger     log.Logger
}

// NewHTTPClient returns a snapshot client for baseURL. An empty
// baseURL means "no snapshot service"; LatestBlockNumber always
// reports ok=false in that case without making a request.
func NewHTTPClient(baseURL string, logger log.Logger) *HTTPClient {
	if logger == nil {
		logger = log.Root()
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: SnapshotQueryTimeout},
		logger:     logger,
	}
}

type latestBlockResponse struct {
	BlockNumber uint64 `json:"blockNumber"`
}

func (c *HTTPClient) LatestBlockNumber(ctx context.Context) (uint64, bool) {
	if c.baseURL == "" {
		return 0, false
	}

	cctx, cancel := context.WithTimeout(ctx, SnapshotQueryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, c.baseURL+"/latest", nil)
	if err != nil {
		c.logger.Warn("snapshot service: build latest request", "err", err)
		return 0, false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("snapshot service: latest query failed, treating as unavailable", "err", err)
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("snapshot service: latest query non-200, treating as unavailable", "status", resp.StatusCode)
		return 0, false
	}

	var body latestBlockResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.logger.Warn("snapshot service: latest query decode failed, treating as unavailable", "err", err)
		return 0, false
	}
	return body.BlockNumber, true
}

type wireUpdate struct {
	Component     []byte `json:"component"`
	Entity        []byte `json:"entity"`
	Value         []byte `json:"value"`
	TxHash        string `json:"txHash"`
	LastEventInTx bool   `json:"lastEventInTx"`
	BlockNumber   uint64 `json:"blockNumber"`
}

func (c *HTTPClient) Fetch(ctx context.Context) (*ecs.CacheStore, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/snapshot", nil)
	if err != nil {
		return nil, fmt.Errorf("snapshot service: build fetch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("snapshot service: fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot service: fetch non-200 status %d", resp.StatusCode)
	}

	var wire []wireUpdate
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("snapshot service: decode snapshot: %w", err)
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
