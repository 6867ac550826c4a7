// Package main implements shardd, the partitioned ledger daemon. One
// process hosts every shard: each shard owns a disjoint slice of the
// account space and runs its own executor and transfer coordinator, so the
// HTTP surface is a thin routing layer over the engine.
//
// HTTP API:
//
//	POST /batch          - execute an intra-shard batch
//	POST /transfer       - submit a cross-shard transfer
//	GET  /transfer/{id}  - poll a transfer's state
//	POST /finalize       - mark a committed batch final
//	GET  /accounts/{id}  - read one account
//	GET  /stats          - per-shard counters and totals
//	GET  /health         - liveness probe
//
// Configuration comes from KOTARE_* environment variables, plus an
// optional YAML topology file (KOTARE_TOPOLOGY) for the genesis-fixed
// shard count and initial balances.
//
// Example usage:
//
//	KOTARE_SHARDS=4 \
//	KOTARE_TOPOLOGY=topology.yaml \
//	KOTARE_STORE_DIR=/var/lib/kotare \
//	./shardd
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreamware/kotare/internal/config"
	"github.com/dreamware/kotare/internal/engine"
	"github.com/dreamware/kotare/internal/ledger"
	"github.com/dreamware/kotare/internal/telemetry"
)

// logFatal is a variable to allow mocking log.Fatal in tests.
var logFatal = log.Fatalf

func main() {
	cfg, err := config.Load()
	if err != nil {
		logFatal("config: %v", err)
	}

	genesis := make([]engine.GenesisAccount, 0, len(cfg.Genesis))
	for _, g := range cfg.Genesis {
		genesis = append(genesis, engine.GenesisAccount{ID: ledger.AccountID(g.ID), Balance: g.Balance})
	}

	eng, err := engine.New(engine.Config{
		Shards:          cfg.Shards,
		Workers:         cfg.Workers,
		MaxBatch:        cfg.MaxBatch,
		TransferTimeout: cfg.TransferTimeout,
		CrossShardFee:   cfg.CrossShardFee,
		StoreDir:        cfg.StoreDir,
		Genesis:         genesis,
	})
	if err != nil {
		logFatal("engine: %v", err)
	}

	// Metrics are opt-in; without an OTLP endpoint the instruments are
	// wired to the global no-op provider.
	shutdownMetrics, err := telemetry.Setup(context.Background(), "kotare-shardd", cfg.OTELEndpoint)
	if err != nil {
		logFatal("telemetry: %v", err)
	}
	metrics, err := telemetry.New(eng.TransferTotals)
	if err != nil {
		logFatal("telemetry: %v", err)
	}
	eng.SetMetrics(metrics)

	eng.Start()
	log.Printf("shardd[%d shards] engine started (workers=%d, fee=%d)",
		eng.Shards(), cfg.Workers, cfg.CrossShardFee)

	srv := newServer(eng)
	mux := http.NewServeMux()
	mux.HandleFunc("/batch", srv.handleBatch)
	mux.HandleFunc("/transfer", srv.handleTransferSubmit)
	mux.HandleFunc("/transfer/", srv.handleTransferStatus)
	mux.HandleFunc("/finalize", srv.handleFinalize)
	mux.HandleFunc("/accounts/", srv.handleAccount)
	mux.HandleFunc("/stats", srv.handleStats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("shardd listening on %s", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logFatal("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	eng.Stop()
	if err := shutdownMetrics(ctx); err != nil {
		log.Printf("metrics shutdown: %v", err)
	}
	log.Println("shardd stopped")
}
