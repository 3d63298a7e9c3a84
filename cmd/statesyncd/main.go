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

// Command statesyncd runs one chain state synchronizer session against
// a live RPC endpoint, logging every emitted ComponentUpdate.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	log "github.com/erigontech/erigon-lib/log/v3"

	"github.com/lattice-sync/statesync/cache"
	"github.com/lattice-sync/statesync/ecs"
	"github.com/lattice-sync/statesync/fetch"
	"github.com/lattice-sync/statesync/livestream"
	"github.com/lattice-sync/statesync/orchestrator"
	"github.com/lattice-sync/statesync/snapshotclient"
)

// cli is the flag surface for one synchronizer run, parsed by kong.
type cli struct {
	RPCEndpoint        string `help:"JSON-RPC endpoint serving ranged component-update queries." required:""`
	LiveWSEndpoint     string `help:"Websocket endpoint serving liveEvent$/blockNumber$ subscriptions." required:""`
	SnapshotServiceURL string `help:"Snapshot service base URL; empty disables snapshot seeding."`
	ChainID            uint64 `help:"Chain ID this session synchronizes." required:""`
	WorldContractAddr  string `help:"World contract address to synchronize." required:""`
	WorldContractABI   string `help:"Path to the world contract ABI, informational only."`
	InitialBlockNumber uint64 `help:"Floor block number; sync never starts earlier than this."`
	CacheDir           string `help:"Badger data directory for the persistent cache." default:"./statesync-cache"`
	MetricsAddr        string `help:"Address to serve /metrics on; empty disables it." default:":9090"`
}

func main() {
	var c cli
	kong.Parse(&c, kong.Description("Chain state synchronizer daemon."))

	logger := log.Root()

	reg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(reg)
	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(c.MetricsAddr, mux); err != nil {
				logger.Warn("statesyncd: metrics server stopped", "err", err)
			}
		}()
	}

	cacheStore, err := cache.OpenBadgerStore(c.CacheDir, logger)
	if err != nil {
		logger.Error("statesyncd: open persistent cache", "err", err)
		os.Exit(1)
	}
	defer cacheStore.Close()

	o := &orchestrator.Orchestrator{
		Fetcher:        fetch.NewRPCFetcher(c.RPCEndpoint, c.WorldContractAddr, logger),
		SnapshotClient: snapshotclient.NewHTTPClient(c.SnapshotServiceURL, logger),
		Cache:          cacheStore,
		LiveSource:     livestream.NewWSSource(c.LiveWSEndpoint, logger),
		Config: ecs.SyncConfig{
			SnapshotServiceURL:   c.SnapshotServiceURL,
			ChainID:              c.ChainID,
			WorldContractAddress: c.WorldContractAddr,
			WorldContractABI:     c.WorldContractABI,
			InitialBlockNumber:   c.InitialBlockNumber,
		},
		Logger:  logger,
		Metrics: metrics,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	out, errc := o.Run(ctx)
	for {
		select {
		case u, ok := <-out:
			if !ok {
				out = nil
				continue
			}
			logger.Info("statesyncd: emitted update",
				"component", string(u.Component), "entity", string(u.Entity),
				"block", u.BlockNumber, "txHash", u.TxHash, "lastEventInTx", u.LastEventInTx)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			logger.Error("statesyncd: session terminated", "err", err)
			os.Exit(1)
		}
		if out == nil && errc == nil {
			return
		}
	}
}
