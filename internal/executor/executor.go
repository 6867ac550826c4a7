package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dreamware/kotare/internal/conflict"
	"github.com/dreamware/kotare/internal/ledger"
)

// Errors surfaced by batch execution. ErrSchedulingFault indicates a
// correctness bug in the scheduler itself; the shard halts and every later
// submission fails with ErrHalted until the operator intervenes.
var (
	ErrSchedulingFault = errors.New("conflict scheduling fault")
	ErrHalted          = errors.New("shard halted after scheduling fault")
	ErrBatchTooLarge   = errors.New("batch exceeds configured size bound")
	ErrNoWorkers       = errors.New("worker count must be positive")
)

// Config bounds an executor. Workers and MaxBatch affect throughput only,
// never the final state. MaxBatch of zero means unbounded.
type Config struct {
	Workers      int
	MaxBatch     int
	FeeCollector ledger.AccountID
}

// Stats counts executor activity. Fields are read and written atomically,
// so a snapshot is cheap enough to serve on every stats request.
type Stats struct {
	TxApplied        uint64 `json:"tx_applied"`
	TxRejected       uint64 `json:"tx_rejected"`
	BatchesCommitted uint64 `json:"batches_committed"`
	Conflicts        uint64 `json:"conflicts"`
}

// Executor executes batches against one shard's ledger.
type Executor struct {
	ledger *ledger.Ledger
	locks  *LockTable
	cfg    Config

	halted atomic.Bool
	stats  Stats
}

// New creates an executor over the given ledger. The lock table must be the
// one shared with the shard's transfer coordinator.
func New(l *ledger.Ledger, locks *LockTable, cfg Config) (*Executor, error) {
	if cfg.Workers <= 0 {
		return nil, ErrNoWorkers
	}
	return &Executor{ledger: l, locks: locks, cfg: cfg}, nil
}

// Ledger returns the shard ledger this executor mutates.
func (e *Executor) Ledger() *ledger.Ledger { return e.ledger }

// Locks returns the shard's account lock table.
func (e *Executor) Locks() *LockTable { return e.locks }

// Halted reports whether a scheduling fault has stopped this shard.
func (e *Executor) Halted() bool { return e.halted.Load() }

// StatsSnapshot returns a point-in-time copy of the executor counters.
func (e *Executor) StatsSnapshot() Stats {
	return Stats{
		TxApplied:        atomic.LoadUint64(&e.stats.TxApplied),
		TxRejected:       atomic.LoadUint64(&e.stats.TxRejected),
		BatchesCommitted: atomic.LoadUint64(&e.stats.BatchesCommitted),
		Conflicts:        atomic.LoadUint64(&e.stats.Conflicts),
	}
}

// txResult carries one transaction's outcome plus its ledger effect, filled
// in by whichever worker ran the transaction.
type txResult struct {
	outcome Outcome
	changes []balanceChange
	fault   error
}

type balanceChange struct {
	account ledger.AccountID
	delta   int64
}

// ExecuteBatch runs every transaction of the batch and returns one outcome
// per transaction in original order plus the batch's net ledger deltas.
//
// The returned error is nil for ordinary batches, including batches where
// every transaction was rejected; it is non-nil only for submission-level
// problems (size bound, halted shard) or a fatal scheduling fault.
func (e *Executor) ExecuteBatch(ctx context.Context, batch ledger.Batch) (BatchResult, error) {
	if e.halted.Load() {
		return BatchResult{}, ErrHalted
	}
	if e.cfg.MaxBatch > 0 && len(batch.Txs) > e.cfg.MaxBatch {
		return BatchResult{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(batch.Txs), e.cfg.MaxBatch)
	}
	if err := ctx.Err(); err != nil {
		return BatchResult{}, err
	}

	result := BatchResult{BatchID: batch.ID, State: BatchReceived}
	results := make([]txResult, len(batch.Txs))

	// Execution order is sequence-number order even if the caller shuffled
	// the slice; outcomes are still reported in submission slice order.
	order := make([]int, len(batch.Txs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return batch.Txs[order[a]].Seq < batch.Txs[order[b]].Seq
	})

	// Analysis pass: malformed transactions are rejected up front and take
	// no part in scheduling.
	var validPos []int
	var sets []conflict.RWSet
	for _, pos := range order {
		tx := batch.Txs[pos]
		set, err := conflict.Analyze(tx, e.cfg.FeeCollector)
		if err != nil {
			results[pos] = txResult{outcome: Outcome{Seq: tx.Seq, Status: StatusRejected, Reason: err.Error()}}
			continue
		}
		validPos = append(validPos, pos)
		sets = append(sets, set)
	}

	chains := conflict.Chains(sets)
	result.State = BatchScheduled
	result.Conflicts = len(validPos) - len(chains)

	// Dispatch chains to the bounded pool. A chain's transactions run in
	// order on one worker; chains touch disjoint accounts so workers never
	// contend except on the lock table map itself.
	result.State = BatchExecuting
	chainCh := make(chan conflict.Chain)
	var wg sync.WaitGroup
	for w := 0; w < e.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chain := range chainCh {
				for _, local := range chain {
					pos := validPos[local]
					results[pos] = e.applyTx(batch.Txs[pos], sets[local])
				}
			}
		}()
	}
	for _, chain := range chains {
		chainCh <- chain
	}
	close(chainCh)
	wg.Wait()

	return e.mergeResults(batch, result, results)
}

// mergeResults folds per-transaction results back into submission order,
// aggregates deltas, and detects scheduling faults.
func (e *Executor) mergeResults(batch ledger.Batch, result BatchResult, results []txResult) (BatchResult, error) {
	var fault error
	netChange := make(map[ledger.AccountID]int64)

	result.Outcomes = make([]Outcome, len(batch.Txs))
	for pos, res := range results {
		if res.outcome.Status == "" {
			// A transaction the scheduler never ran: invariant violation.
			res = txResult{
				outcome: Outcome{Seq: batch.Txs[pos].Seq, Status: StatusAborted, Reason: "transaction never scheduled"},
				fault:   fmt.Errorf("%w: position %d never scheduled", ErrSchedulingFault, pos),
			}
		}
		result.Outcomes[pos] = res.outcome
		if res.fault != nil && fault == nil {
			fault = res.fault
		}

		switch res.outcome.Status {
		case StatusApplied:
			atomic.AddUint64(&e.stats.TxApplied, 1)
			for _, c := range res.changes {
				netChange[c.account] += c.delta
			}
		case StatusRejected:
			atomic.AddUint64(&e.stats.TxRejected, 1)
		}
	}

	accounts := make([]ledger.AccountID, 0, len(netChange))
	for id := range netChange {
		accounts = append(accounts, id)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	for _, id := range accounts {
		result.Deltas = append(result.Deltas, ledger.Delta{
			Account:       id,
			BalanceChange: netChange[id],
			Nonce:         e.ledger.NonceOf(id),
		})
	}

	if fault != nil {
		// A scheduling fault means parallel execution may have diverged
		// from sequential semantics. Halt the shard and surface it.
		e.halted.Store(true)
		return result, fault
	}

	atomic.AddUint64(&e.stats.BatchesCommitted, 1)
	atomic.AddUint64(&e.stats.Conflicts, uint64(result.Conflicts))
	result.State = BatchCommitted
	return result, nil
}

// applyTx validates and applies one transaction under its account locks.
func (e *Executor) applyTx(tx ledger.Transaction, set conflict.RWSet) txResult {
	release := e.locks.Acquire(set.Accounts())
	defer release()

	reject := func(reason string) txResult {
		return txResult{outcome: Outcome{Seq: tx.Seq, Status: StatusRejected, Reason: reason}}
	}

	if expected := e.ledger.NonceOf(tx.Sender); tx.Nonce != expected {
		return reject(fmt.Sprintf("nonce mismatch: got %d, want %d", tx.Nonce, expected))
	}
	total, ok := tx.Total()
	if !ok {
		return reject("amount+fee overflows")
	}
	if e.ledger.Balance(tx.Sender) < total {
		return reject(fmt.Sprintf("insufficient balance: have %d, need %d", e.ledger.Balance(tx.Sender), total))
	}

	// Checks passed under the account locks, so these must all succeed;
	// any failure here is an executor bug, not a bad transaction.
	if err := e.ledger.Debit(tx.Sender, total); err != nil {
		return e.fault(tx, fmt.Errorf("debit after validation: %w", err))
	}
	if err := e.ledger.Credit(tx.Recipient, tx.Amount); err != nil {
		return e.fault(tx, fmt.Errorf("credit after validation: %w", err))
	}
	if tx.Fee > 0 {
		if err := e.ledger.Credit(e.cfg.FeeCollector, tx.Fee); err != nil {
			return e.fault(tx, fmt.Errorf("fee credit after validation: %w", err))
		}
	}
	if err := e.ledger.BumpNonce(tx.Sender); err != nil {
		return e.fault(tx, fmt.Errorf("nonce bump after validation: %w", err))
	}

	changes := []balanceChange{
		{account: tx.Sender, delta: -int64(total)},
		{account: tx.Recipient, delta: int64(tx.Amount)},
	}
	if tx.Fee > 0 {
		changes = append(changes, balanceChange{account: e.cfg.FeeCollector, delta: int64(tx.Fee)})
	}
	return txResult{
		outcome: Outcome{Seq: tx.Seq, Status: StatusApplied},
		changes: changes,
	}
}

func (e *Executor) fault(tx ledger.Transaction, err error) txResult {
	return txResult{
		outcome: Outcome{Seq: tx.Seq, Status: StatusAborted, Reason: err.Error()},
		fault:   fmt.Errorf("%w: %v", ErrSchedulingFault, err),
	}
}
