package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dreamware/kotare/internal/cluster"
	"github.com/dreamware/kotare/internal/engine"
	"github.com/dreamware/kotare/internal/executor"
	"github.com/dreamware/kotare/internal/ledger"
	"github.com/dreamware/kotare/internal/transfer"
)

// server wires the HTTP surface to the engine. All state lives in the
// engine; handlers only translate between JSON and engine calls.
type server struct {
	engine *engine.Engine
}

func newServer(e *engine.Engine) *server {
	return &server{engine: e}
}

// writeJSON encodes v with a 200. Encoding failures are already past the
// status line, so they are only logged by the http server.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP status codes and a JSON body.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, engine.ErrUnknownShard):
		status = http.StatusNotFound
	case errors.Is(err, engine.ErrSameShard),
		errors.Is(err, transfer.ErrMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, executor.ErrBatchTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, executor.ErrHalted),
		errors.Is(err, transfer.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(cluster.ErrorResponse{Error: err.Error()})
}

// handleBatch executes an intra-shard batch.
//
// Endpoint: POST /batch
func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	res, err := s.engine.SubmitBatch(r.Context(), req.Shard, req.Batch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, cluster.BatchResponse{Result: res})
}

// handleTransferSubmit accepts a cross-shard transfer. The answer is a
// receipt, not an outcome; the transfer settles asynchronously.
//
// Endpoint: POST /transfer
func (s *server) handleTransferSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req engine.TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	receipt, err := s.engine.SubmitTransfer(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(cluster.TransferResponse{Receipt: receipt})
}

// handleTransferStatus polls one transfer.
//
// Endpoint: GET /transfer/{id}
func (s *server) handleTransferStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/transfer/")
	if id == "" {
		http.Error(w, "transfer id required", http.StatusBadRequest)
		return
	}

	view, ok := s.engine.TransferStatus(id)
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(cluster.ErrorResponse{Error: "transfer not found"})
		return
	}
	writeJSON(w, cluster.TransferStatusResponse{Transfer: view})
}

// handleFinalize flushes a committed batch to the durable store. Driven by
// the external finality collaborator.
//
// Endpoint: POST /finalize
func (s *server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cluster.FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.BatchID == "" {
		http.Error(w, "batch_id required", http.StatusBadRequest)
		return
	}

	if err := s.engine.Finalize(r.Context(), req.Shard, req.BatchID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAccount reads one account from its owning shard.
//
// Endpoint: GET /accounts/{id}
func (s *server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/accounts/")
	if id == "" {
		http.Error(w, "account id required", http.StatusBadRequest)
		return
	}

	acct, ok := s.engine.AccountInfo(ledger.AccountID(id))
	if !ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(cluster.ErrorResponse{Error: "account not found"})
		return
	}
	writeJSON(w, cluster.AccountResponse{Account: acct})
}

// handleStats reports the engine-wide counters.
//
// Endpoint: GET /stats
func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, cluster.StatsResponse{Stats: s.engine.StatsSnapshot()})
}
