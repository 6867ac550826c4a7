package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dreamware/kotare/internal/executor"
	"github.com/dreamware/kotare/internal/ledger"
	"github.com/dreamware/kotare/internal/router"
	"github.com/dreamware/kotare/internal/telemetry"
	"github.com/dreamware/kotare/internal/transfer"
)

// Errors returned by engine operations.
var (
	ErrUnknownShard = errors.New("unknown shard")
	ErrSameShard    = errors.New("sender and recipient share a shard: submit as a batch transaction")
)

// GenesisAccount seeds one account at startup. The account lands on
// whichever shard its identifier routes to.
type GenesisAccount struct {
	ID      ledger.AccountID `json:"id" yaml:"id"`
	Balance uint64           `json:"balance" yaml:"balance"`
}

// Config fixes the engine's genesis and tuning parameters. Shards is the
// network-wide shard count and must never change once state exists;
// Workers, MaxBatch, and the transfer timeout bound throughput only.
type Config struct {
	Shards          int
	Workers         int
	MaxBatch        int
	TransferTimeout time.Duration
	SweepInterval   time.Duration
	CrossShardFee   uint64
	StoreDir        string // when set, each shard persists to StoreDir/shard-N.db
	Genesis         []GenesisAccount
}

// TransferRequest is the engine-level transfer submission; the destination
// shard is derived from the recipient, never chosen by the caller.
type TransferRequest struct {
	ID        string           `json:"id,omitempty"`
	Sender    ledger.AccountID `json:"sender"`
	Recipient ledger.AccountID `json:"recipient"`
	Amount    uint64           `json:"amount"`
	Nonce     uint64           `json:"nonce"`
}

// ShardStats is the per-shard slice of the metrics surface.
type ShardStats struct {
	Shard     ledger.ShardID `json:"shard"`
	Accounts  int            `json:"accounts"`
	Halted    bool           `json:"halted"`
	Executor  executor.Stats `json:"executor"`
	Transfers transfer.Stats `json:"transfers"`
}

// Stats aggregates the whole engine for the stats endpoint.
type Stats struct {
	Shards       []ShardStats `json:"shards"`
	TotalBalance uint64       `json:"total_balance"`
}

// Engine owns every shard and routes work to them.
type Engine struct {
	router  *router.Router
	shards  []*Shard
	metrics *telemetry.Metrics
}

// New builds the engine: one ledger, executor, and coordinator per shard,
// wired to each other, restored from durable stores when configured, and
// seeded with genesis accounts.
func New(cfg Config) (*Engine, error) {
	r, err := router.New(cfg.Shards)
	if err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	e := &Engine{router: r}

	coordinators := make(map[ledger.ShardID]*transfer.Coordinator, cfg.Shards)
	resolve := func(s ledger.ShardID) *transfer.Coordinator { return coordinators[s] }

	for i := 0; i < cfg.Shards; i++ {
		id := ledger.ShardID(i)
		l := ledger.New(id)
		locks := executor.NewLockTable()
		feeCollector := feeAccountFor(r, id)

		exec, err := executor.New(l, locks, executor.Config{
			Workers:      cfg.Workers,
			MaxBatch:     cfg.MaxBatch,
			FeeCollector: feeCollector,
		})
		if err != nil {
			return nil, err
		}

		coord := transfer.NewCoordinator(id, exec, transfer.Config{
			Timeout:       cfg.TransferTimeout,
			SweepInterval: cfg.SweepInterval,
			Fee:           cfg.CrossShardFee,
			FeeCollector:  feeCollector,
		})
		coord.Connect(resolve)
		coordinators[id] = coord

		shard := &Shard{ID: id, Ledger: l, Executor: exec, Coordinator: coord}

		if cfg.StoreDir != "" {
			store, err := ledger.OpenSQLite(filepath.Join(cfg.StoreDir, fmt.Sprintf("shard-%d.db", i)))
			if err != nil {
				e.closeStores()
				return nil, fmt.Errorf("shard %d store: %w", i, err)
			}
			shard.Store = store
			if err := l.Restore(context.Background(), store); err != nil {
				e.closeStores()
				_ = store.Close()
				return nil, err
			}
		}

		e.shards = append(e.shards, shard)
	}

	for _, g := range cfg.Genesis {
		shard := e.shards[r.Route(g.ID)]
		if _, exists := shard.Ledger.Get(g.ID); !exists {
			shard.Ledger.Seed(g.ID, g.Balance)
		}
	}

	return e, nil
}

// feeAccountFor derives a fee pool account that provably routes to the
// given shard, preserving the one-account-one-shard invariant. The probe
// is deterministic, so every node derives the same pool accounts.
func feeAccountFor(r *router.Router, shard ledger.ShardID) ledger.AccountID {
	for i := 0; ; i++ {
		id := ledger.AccountID(fmt.Sprintf("fee-pool/%d/%d", shard, i))
		if r.Route(id) == shard {
			return id
		}
	}
}

// Start launches every shard's coordinator loops.
func (e *Engine) Start() {
	for _, s := range e.shards {
		s.Coordinator.Start()
	}
}

// Stop shuts down coordinators and closes durable stores.
func (e *Engine) Stop() {
	for _, s := range e.shards {
		s.Coordinator.Stop()
	}
	e.closeStores()
}

func (e *Engine) closeStores() {
	for _, s := range e.shards {
		if s.Store != nil {
			_ = s.Store.Close()
			s.Store = nil
		}
	}
}

// SetMetrics attaches the telemetry instruments. Safe to skip; a nil
// metrics receiver is a no-op.
func (e *Engine) SetMetrics(m *telemetry.Metrics) { e.metrics = m }

// Router exposes the account-to-shard mapping.
func (e *Engine) Router() *router.Router { return e.router }

// Shards returns the shard count.
func (e *Engine) Shards() int { return len(e.shards) }

func (e *Engine) shard(id ledger.ShardID) (*Shard, error) {
	if int(id) < 0 || int(id) >= len(e.shards) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownShard, id)
	}
	return e.shards[id], nil
}

// SubmitBatch executes an ordered batch of intra-shard transactions on the
// given shard. Transactions that do not belong on the shard (sender routed
// elsewhere, or recipient on another shard) are rejected individually; the
// rest execute in parallel under the shard's conflict schedule.
func (e *Engine) SubmitBatch(ctx context.Context, shardID ledger.ShardID, batch ledger.Batch) (executor.BatchResult, error) {
	s, err := e.shard(shardID)
	if err != nil {
		return executor.BatchResult{}, err
	}

	// Split out misrouted transactions before scheduling.
	prefiltered := make([]executor.Outcome, len(batch.Txs))
	sub := ledger.Batch{ID: batch.ID}
	subPos := make([]int, 0, len(batch.Txs))
	for i, tx := range batch.Txs {
		switch {
		case tx.Sender != "" && e.router.Route(tx.Sender) != shardID:
			prefiltered[i] = executor.Outcome{Seq: tx.Seq, Status: executor.StatusRejected,
				Reason: fmt.Sprintf("sender %s not on shard %d", tx.Sender, shardID)}
		case tx.Recipient != "" && e.router.Route(tx.Recipient) != shardID:
			prefiltered[i] = executor.Outcome{Seq: tx.Seq, Status: executor.StatusRejected,
				Reason: "cross-shard recipient: submit as a transfer"}
		default:
			sub.Txs = append(sub.Txs, tx)
			subPos = append(subPos, i)
		}
	}

	start := time.Now()
	res, execErr := s.Executor.ExecuteBatch(ctx, sub)
	if execErr != nil {
		return res, execErr
	}

	// Merge executor outcomes back over the prefiltered rejections.
	merged := prefiltered
	for subIdx, outcome := range res.Outcomes {
		merged[subPos[subIdx]] = outcome
	}
	res.Outcomes = merged

	s.trackPending(batch.ID, res.Touched())

	var applied, rejected int
	for _, o := range res.Outcomes {
		switch o.Status {
		case executor.StatusApplied:
			applied++
		case executor.StatusRejected:
			rejected++
		}
	}
	e.metrics.RecordBatch(ctx, int(shardID), applied, rejected, res.Conflicts, time.Since(start).Seconds())

	return res, nil
}

// SubmitTransfer routes a cross-shard transfer to the sender's shard
// coordinator and returns its receipt. The transfer proceeds
// asynchronously; poll TransferStatus for the terminal outcome.
func (e *Engine) SubmitTransfer(ctx context.Context, req TransferRequest) (transfer.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return transfer.Receipt{}, err
	}
	if req.Sender == "" || req.Recipient == "" {
		return transfer.Receipt{}, fmt.Errorf("%w: empty sender or recipient", transfer.ErrMalformed)
	}

	src := e.router.Route(req.Sender)
	dst := e.router.Route(req.Recipient)
	if src == dst {
		return transfer.Receipt{}, ErrSameShard
	}

	s, err := e.shard(src)
	if err != nil {
		return transfer.Receipt{}, err
	}
	return s.Coordinator.Submit(transfer.Request{
		ID:        req.ID,
		DestShard: dst,
		Sender:    req.Sender,
		Recipient: req.Recipient,
		Amount:    req.Amount,
		Nonce:     req.Nonce,
	})
}

// TransferStatus looks up a transfer by id across all shards.
func (e *Engine) TransferStatus(id string) (transfer.View, bool) {
	for _, s := range e.shards {
		if view, ok := s.Coordinator.Status(id); ok {
			return view, true
		}
	}
	return transfer.View{}, false
}

// Finalize marks a committed batch final and flushes its accounts to the
// shard's durable store. Driven by the consensus collaborator.
func (e *Engine) Finalize(ctx context.Context, shardID ledger.ShardID, batchID string) error {
	s, err := e.shard(shardID)
	if err != nil {
		return err
	}
	return s.finalize(ctx, batchID)
}

// AccountInfo returns the current state of an account from its owning
// shard.
func (e *Engine) AccountInfo(id ledger.AccountID) (ledger.Account, bool) {
	s, err := e.shard(e.router.Route(id))
	if err != nil {
		return ledger.Account{}, false
	}
	return s.Ledger.Get(id)
}

// TotalBalance sums every account across every shard. Invariant under any
// committed workload with a zero fee, since fees only move value into the
// shard fee pools.
func (e *Engine) TotalBalance() uint64 {
	var total uint64
	for _, s := range e.shards {
		total += s.Ledger.TotalBalance()
	}
	return total
}

// TransferTotals aggregates coordinator counters for the observable
// telemetry instruments.
func (e *Engine) TransferTotals() telemetry.TransferTotals {
	var t telemetry.TransferTotals
	for _, s := range e.shards {
		stats := s.Coordinator.StatsSnapshot()
		t.Submitted += stats.Submitted
		t.Committed += stats.Committed
		t.Aborted += stats.Aborted
	}
	return t
}

// StatsSnapshot reports the numeric metrics surface for every shard.
func (e *Engine) StatsSnapshot() Stats {
	out := Stats{TotalBalance: e.TotalBalance()}
	for _, s := range e.shards {
		out.Shards = append(out.Shards, ShardStats{
			Shard:     s.ID,
			Accounts:  len(s.Ledger.Accounts()),
			Halted:    s.Executor.Halted(),
			Executor:  s.Executor.StatsSnapshot(),
			Transfers: s.Coordinator.StatsSnapshot(),
		})
	}
	return out
}
