package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreamware/kotare/internal/executor"
	"github.com/dreamware/kotare/internal/ledger"
	"github.com/dreamware/kotare/internal/transfer"
)

// Shard bundles the components that together own one state partition. The
// ledger is mutated only by this shard's executor, which both the batch
// path and the transfer coordinator go through.
type Shard struct {
	ID          ledger.ShardID
	Ledger      *ledger.Ledger
	Executor    *executor.Executor
	Coordinator *transfer.Coordinator
	Store       ledger.Store // nil when running without persistence

	mu      sync.Mutex
	pending map[string][]ledger.AccountID // batch id -> touched accounts, awaiting finality
}

// trackPending remembers a committed batch's touched accounts until the
// finality layer confirms it.
func (s *Shard) trackPending(batchID string, touched []ledger.AccountID) {
	if batchID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		s.pending = make(map[string][]ledger.AccountID)
	}
	s.pending[batchID] = touched
}

// finalize flushes a previously committed batch's accounts to the durable
// store and forgets the speculative record.
func (s *Shard) finalize(ctx context.Context, batchID string) error {
	s.mu.Lock()
	touched, ok := s.pending[batchID]
	delete(s.pending, batchID)
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown batch %q on shard %d", batchID, s.ID)
	}
	if s.Store == nil {
		return nil
	}
	return s.Ledger.Flush(ctx, s.Store, touched)
}
