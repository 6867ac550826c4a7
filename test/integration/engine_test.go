// Package integration exercises the whole engine end to end: routing,
// parallel batch execution, cross-shard transfers, and durable finality,
// all in process.
package integration

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/kotare/internal/engine"
	"github.com/dreamware/kotare/internal/executor"
	"github.com/dreamware/kotare/internal/ledger"
	"github.com/dreamware/kotare/internal/transfer"
)

const shardCount = 4

func startEngine(t *testing.T, cfg engine.Config) *engine.Engine {
	t.Helper()
	if cfg.Shards == 0 {
		cfg.Shards = shardCount
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.TransferTimeout == 0 {
		cfg.TransferTimeout = 2 * time.Second
	}
	e, err := engine.New(cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

// accountsPerShard probes identifiers until each shard has n of them.
func accountsPerShard(t *testing.T, e *engine.Engine, n int) [][]ledger.AccountID {
	t.Helper()
	out := make([][]ledger.AccountID, e.Shards())
	for i := 0; ; i++ {
		id := ledger.AccountID(fmt.Sprintf("acct-%d", i))
		s := e.Router().Route(id)
		if len(out[s]) < n {
			out[s] = append(out[s], id)
		}
		done := true
		for _, ids := range out {
			if len(ids) < n {
				done = false
				break
			}
		}
		if done {
			return out
		}
	}
}

func waitCommitted(t *testing.T, e *engine.Engine, id string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if view, ok := e.TransferStatus(id); ok && view.Status.Terminal() {
			if view.Status != transfer.StatusCommitted {
				t.Fatalf("transfer %s aborted: %s", id, view.Reason)
			}
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("transfer %s never settled", id)
}

// TestMixedWorkloadConservation drives concurrent batches on every shard
// plus cross-shard transfers between them, then checks that no value was
// created or destroyed.
func TestMixedWorkloadConservation(t *testing.T) {
	accounts := func() [][]ledger.AccountID {
		probe := startEngine(t, engine.Config{})
		return accountsPerShard(t, probe, 4)
	}()

	var genesis []engine.GenesisAccount
	for _, ids := range accounts {
		for _, id := range ids {
			genesis = append(genesis, engine.GenesisAccount{ID: id, Balance: 10_000})
		}
	}
	e := startEngine(t, engine.Config{Genesis: genesis})

	before := e.TotalBalance()
	ctx := context.Background()

	var wg sync.WaitGroup
	// One batch submitter per shard
	for s := 0; s < shardCount; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			ids := accounts[s]
			rng := rand.New(rand.NewSource(int64(s)))
			nonces := make(map[ledger.AccountID]uint64)
			for round := 0; round < 10; round++ {
				var txs []ledger.Transaction
				for i := 0; i < 8; i++ {
					from := ids[rng.Intn(len(ids))]
					to := ids[rng.Intn(len(ids))]
					txs = append(txs, ledger.Transaction{
						Sender:    from,
						Recipient: to,
						Amount:    uint64(1 + rng.Intn(50)),
						Nonce:     nonces[from],
						Seq:       uint64(i + 1),
					})
					nonces[from]++
				}
				if _, err := e.SubmitBatch(ctx, ledger.ShardID(s), ledger.Batch{
					ID:  fmt.Sprintf("shard%d-round%d", s, round),
					Txs: txs,
				}); err != nil {
					t.Errorf("shard %d round %d: %v", s, round, err)
					return
				}
				// Rejected transactions do not consume nonces, so rebuild
				// expectations from the ledger after each round.
				for _, id := range ids {
					if acct, ok := e.AccountInfo(id); ok {
						nonces[id] = acct.Nonce
					}
				}
			}
		}(s)
	}
	wg.Wait()

	// Transfers reuse the batch accounts, so they run after the batch
	// rounds settle to keep each sender's nonce sequential.
	var ids []string
	for s := 0; s < shardCount; s++ {
		from := accounts[s][0]
		to := accounts[(s+1)%shardCount][0]
		fromAcct, _ := e.AccountInfo(from)
		receipt, err := e.SubmitTransfer(ctx, engine.TransferRequest{
			Sender: from, Recipient: to, Amount: 100, Nonce: fromAcct.Nonce,
		})
		if err != nil {
			t.Fatalf("transfer from shard %d: %v", s, err)
		}
		ids = append(ids, receipt.ID)
	}
	for _, id := range ids {
		waitCommitted(t, e, id)
	}

	if after := e.TotalBalance(); after != before {
		t.Fatalf("balance not conserved: before %d, after %d", before, after)
	}

	stats := e.StatsSnapshot()
	for _, s := range stats.Shards {
		if s.Halted {
			t.Fatalf("shard %d halted", s.Shard)
		}
	}
}

// TestFinalityAcrossRestart commits a batch, finalizes it, restarts the
// engine from the same store directory, and checks the state survived.
func TestFinalityAcrossRestart(t *testing.T) {
	dir := t.TempDir()

	probe := startEngine(t, engine.Config{})
	accounts := accountsPerShard(t, probe, 2)
	a, b := accounts[0][0], accounts[0][1]

	e := startEngine(t, engine.Config{
		StoreDir: dir,
		Genesis:  []engine.GenesisAccount{{ID: a, Balance: 1_000}},
	})

	ctx := context.Background()
	res, err := e.SubmitBatch(ctx, 0, ledger.Batch{
		ID: "final-1",
		Txs: []ledger.Transaction{
			{Sender: a, Recipient: b, Amount: 250, Nonce: 0, Seq: 1},
		},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if res.Outcomes[0].Status != executor.StatusApplied {
		t.Fatalf("outcome = %+v", res.Outcomes[0])
	}
	if err := e.Finalize(ctx, 0, "final-1"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	e.Stop()

	restarted := startEngine(t, engine.Config{StoreDir: dir})
	acctA, ok := restarted.AccountInfo(a)
	if !ok || acctA.Balance != 750 || acctA.Nonce != 1 {
		t.Fatalf("account %s after restart: %+v (ok=%v)", a, acctA, ok)
	}
	acctB, ok := restarted.AccountInfo(b)
	if !ok || acctB.Balance != 250 {
		t.Fatalf("account %s after restart: %+v (ok=%v)", b, acctB, ok)
	}
}

// TestBidirectionalTransfers runs opposing transfers between every shard
// pair concurrently. Each account sends exactly once, so nonces do not
// race, and every transfer must commit.
func TestBidirectionalTransfers(t *testing.T) {
	probe := startEngine(t, engine.Config{})
	accounts := accountsPerShard(t, probe, shardCount)

	var genesis []engine.GenesisAccount
	for _, ids := range accounts {
		for _, id := range ids {
			genesis = append(genesis, engine.GenesisAccount{ID: id, Balance: 1_000})
		}
	}
	e := startEngine(t, engine.Config{Genesis: genesis})
	before := e.TotalBalance()

	var (
		mu  sync.Mutex
		ids []string
		wg  sync.WaitGroup
	)
	for src := 0; src < shardCount; src++ {
		for dst := 0; dst < shardCount; dst++ {
			if src == dst {
				continue
			}
			wg.Add(1)
			go func(src, dst int) {
				defer wg.Done()
				// accounts[src][dst] sends only to shard dst, so each
				// sender has exactly one in-flight nonce.
				receipt, err := e.SubmitTransfer(context.Background(), engine.TransferRequest{
					Sender:    accounts[src][dst],
					Recipient: accounts[dst][src],
					Amount:    uint64(10 * (src + dst + 1)),
					Nonce:     0,
				})
				if err != nil {
					t.Errorf("transfer %d->%d: %v", src, dst, err)
					return
				}
				mu.Lock()
				ids = append(ids, receipt.ID)
				mu.Unlock()
			}(src, dst)
		}
	}
	wg.Wait()

	for _, id := range ids {
		waitCommitted(t, e, id)
	}
	if len(ids) != shardCount*(shardCount-1) {
		t.Fatalf("submitted %d transfers, want %d", len(ids), shardCount*(shardCount-1))
	}
	if after := e.TotalBalance(); after != before {
		t.Fatalf("balance not conserved: before %d, after %d", before, after)
	}
}
