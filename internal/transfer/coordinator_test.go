package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/kotare/internal/executor"
	"github.com/dreamware/kotare/internal/ledger"
)

// pair builds two connected coordinators on shards 2 and 3 with the given
// seed balances on shard 2.
func pair(t *testing.T, cfg Config, seed map[ledger.AccountID]uint64) (source, dest *Coordinator) {
	t.Helper()

	srcLedger := ledger.New(2)
	for id, bal := range seed {
		srcLedger.Seed(id, bal)
	}
	srcExec, err := executor.New(srcLedger, executor.NewLockTable(), executor.Config{Workers: 2})
	require.NoError(t, err)

	destLedger := ledger.New(3)
	destExec, err := executor.New(destLedger, executor.NewLockTable(), executor.Config{Workers: 2})
	require.NoError(t, err)

	source = NewCoordinator(2, srcExec, cfg)
	dest = NewCoordinator(3, destExec, cfg)

	resolve := func(s ledger.ShardID) *Coordinator {
		switch s {
		case 2:
			return source
		case 3:
			return dest
		default:
			return nil
		}
	}
	source.Connect(resolve)
	dest.Connect(resolve)
	return source, dest
}

func waitStatus(t *testing.T, c *Coordinator, id string, want Status) View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if view, ok := c.Status(id); ok && view.Status == want {
			return view
		}
		time.Sleep(5 * time.Millisecond)
	}
	view, _ := c.Status(id)
	t.Fatalf("transfer %s never reached %s (stuck at %s, reason %q)", id, want, view.Status, view.Reason)
	return View{}
}

// TestTransferCommits moves 100 units from A (balance 500, shard 2) to B
// (balance 0, shard 3).
func TestTransferCommits(t *testing.T) {
	source, dest := pair(t, Config{Timeout: time.Second}, map[ledger.AccountID]uint64{"A": 500})
	source.Start()
	defer source.Stop()
	dest.Start()
	defer dest.Stop()

	receipt, err := source.Submit(Request{
		DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)
	require.NotEmpty(t, receipt.ID)

	waitStatus(t, source, receipt.ID, StatusCommitted)

	assert.Equal(t, uint64(400), source.exec.Ledger().Balance("A"))
	assert.Equal(t, uint64(100), dest.exec.Ledger().Balance("B"))
	assert.Equal(t, uint64(1), source.exec.Ledger().NonceOf("A"))

	stats := source.StatsSnapshot()
	assert.Equal(t, uint64(1), stats.Committed)
	assert.Equal(t, uint64(0), stats.Aborted)
}

// TestSubmitValidation verifies malformed and misrouted requests never
// start the protocol.
func TestSubmitValidation(t *testing.T) {
	source, _ := pair(t, Config{Timeout: time.Second}, map[ledger.AccountID]uint64{"A": 500})
	source.Start()
	defer source.Stop()

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty sender", Request{DestShard: 3, Recipient: "B", Amount: 1}, ErrMalformed},
		{"empty recipient", Request{DestShard: 3, Sender: "A", Amount: 1}, ErrMalformed},
		{"zero amount", Request{DestShard: 3, Sender: "A", Recipient: "B"}, ErrMalformed},
		{"same shard", Request{DestShard: 2, Sender: "A", Recipient: "B", Amount: 1}, ErrNotCrossShard},
		{"unknown shard", Request{DestShard: 9, Sender: "A", Recipient: "B", Amount: 1}, ErrUnknownPeer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := source.Submit(tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

// TestInsufficientBalanceAborts verifies a failed source lock terminates
// the transfer without any ledger change.
func TestInsufficientBalanceAborts(t *testing.T) {
	source, dest := pair(t, Config{Timeout: time.Second}, map[ledger.AccountID]uint64{"A": 50})
	source.Start()
	defer source.Stop()
	dest.Start()
	defer dest.Stop()

	receipt, err := source.Submit(Request{
		DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, receipt.Status)

	view, ok := source.Status(receipt.ID)
	require.True(t, ok)
	assert.Equal(t, StatusAborted, view.Status)
	assert.Contains(t, view.Reason, "insufficient")

	// Nothing applied anywhere: no debit, nonce not consumed
	assert.Equal(t, uint64(50), source.exec.Ledger().Balance("A"))
	assert.Equal(t, uint64(0), source.exec.Ledger().NonceOf("A"))
	assert.Equal(t, uint64(0), dest.exec.Ledger().Balance("B"))
}

// TestTimeoutAbortRestoresBalance: the transfer reaches SourceLocked but
// the destination never responds. The source must abort, refund the
// sender, and keep the nonce consumed.
func TestTimeoutAbortRestoresBalance(t *testing.T) {
	cfg := Config{Timeout: 80 * time.Millisecond, SweepInterval: 10 * time.Millisecond}
	source, dest := pair(t, cfg, map[ledger.AccountID]uint64{"A": 500})
	source.Start()
	defer source.Stop()
	// The destination is never started, so its inbox is consumed by no one
	_ = dest

	receipt, err := source.Submit(Request{
		DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)

	view := waitStatus(t, source, receipt.ID, StatusAborted)
	assert.Contains(t, view.Reason, "timeout")

	// Balance restored, nonce consumed
	assert.Equal(t, uint64(500), source.exec.Ledger().Balance("A"))
	assert.Equal(t, uint64(1), source.exec.Ledger().NonceOf("A"))
	assert.Equal(t, uint64(0), dest.exec.Ledger().Balance("B"))

	// Resubmitting the identical transaction with the same nonce must be
	// rejected as stale
	receipt2, err := source.Submit(Request{
		DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, receipt2.Status)
	view2, _ := source.Status(receipt2.ID)
	assert.Contains(t, view2.Reason, "nonce mismatch")
	assert.Equal(t, uint64(500), source.exec.Ledger().Balance("A"))
}

// TestDuplicateRelayIsNoOp verifies the redelivery defense: a second
// relayed record for a committed id answers success without a second
// credit.
func TestDuplicateRelayIsNoOp(t *testing.T) {
	source, dest := pair(t, Config{Timeout: time.Second}, map[ledger.AccountID]uint64{"A": 500})
	source.Start()
	defer source.Stop()
	dest.Start()
	defer dest.Stop()

	receipt, err := source.Submit(Request{
		DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)
	waitStatus(t, source, receipt.ID, StatusCommitted)

	source.mu.RLock()
	tr := source.transfers[receipt.ID]
	source.mu.RUnlock()
	require.NotNil(t, tr)

	// Redeliver the same record straight into the destination's apply path
	resp := dest.applyInbound(tr)
	assert.True(t, resp.committed)
	assert.True(t, resp.duplicate)

	assert.Equal(t, uint64(100), dest.exec.Ledger().Balance("B"), "duplicate relay must not credit twice")
	assert.Equal(t, uint64(1), dest.StatsSnapshot().Duplicates)
}

// TestSubmitSameIDIsIdempotent verifies resubmitting a known id returns
// the existing record instead of starting a second protocol run.
func TestSubmitSameIDIsIdempotent(t *testing.T) {
	source, dest := pair(t, Config{Timeout: time.Second}, map[ledger.AccountID]uint64{"A": 500})
	source.Start()
	defer source.Stop()
	dest.Start()
	defer dest.Stop()

	receipt, err := source.Submit(Request{
		ID: "fixed-id", DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)
	waitStatus(t, source, receipt.ID, StatusCommitted)

	again, err := source.Submit(Request{
		ID: "fixed-id", DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, again.Status)

	assert.Equal(t, uint64(400), source.exec.Ledger().Balance("A"), "one debit only")
	assert.Equal(t, uint64(100), dest.exec.Ledger().Balance("B"), "one credit only")
}

// TestCrossShardFee verifies the fee leg: charged at lock, pooled on
// commit, returned on abort.
func TestCrossShardFee(t *testing.T) {
	t.Run("fee pooled on commit", func(t *testing.T) {
		cfg := Config{Timeout: time.Second, Fee: 5, FeeCollector: "pool"}
		source, dest := pair(t, cfg, map[ledger.AccountID]uint64{"A": 500})
		source.Start()
		defer source.Stop()
		dest.Start()
		defer dest.Stop()

		receipt, err := source.Submit(Request{
			DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
		})
		require.NoError(t, err)
		waitStatus(t, source, receipt.ID, StatusCommitted)

		// Fee credit is asynchronous bookkeeping after the commit response
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) && source.exec.Ledger().Balance("pool") == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		assert.Equal(t, uint64(395), source.exec.Ledger().Balance("A"))
		assert.Equal(t, uint64(100), dest.exec.Ledger().Balance("B"))
		assert.Equal(t, uint64(5), source.exec.Ledger().Balance("pool"))
	})

	t.Run("fee refunded on timeout", func(t *testing.T) {
		cfg := Config{Timeout: 80 * time.Millisecond, SweepInterval: 10 * time.Millisecond, Fee: 5, FeeCollector: "pool"}
		source, dest := pair(t, cfg, map[ledger.AccountID]uint64{"A": 500})
		source.Start()
		defer source.Stop()
		_ = dest // destination never started

		receipt, err := source.Submit(Request{
			DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
		})
		require.NoError(t, err)
		waitStatus(t, source, receipt.ID, StatusAborted)

		assert.Equal(t, uint64(500), source.exec.Ledger().Balance("A"))
		assert.Equal(t, uint64(0), source.exec.Ledger().Balance("pool"))
	})
}

// TestConservationAcrossShards verifies no value is created or destroyed
// by a mix of committed and aborted transfers (fee = 0).
func TestConservationAcrossShards(t *testing.T) {
	source, dest := pair(t, Config{Timeout: time.Second}, map[ledger.AccountID]uint64{"A": 500, "C": 300})
	source.Start()
	defer source.Stop()
	dest.Start()
	defer dest.Stop()

	total := func() uint64 {
		return source.exec.Ledger().TotalBalance() + dest.exec.Ledger().TotalBalance()
	}
	before := total()

	r1, err := source.Submit(Request{DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0})
	require.NoError(t, err)
	// Underfunded: aborts at source lock
	r2, err := source.Submit(Request{DestShard: 3, Sender: "C", Recipient: "B", Amount: 1_000, Nonce: 0})
	require.NoError(t, err)

	waitStatus(t, source, r1.ID, StatusCommitted)
	waitStatus(t, source, r2.ID, StatusAborted)

	assert.Equal(t, before, total())
}

// TestAbortDuringStalledDebitRefunds covers the race between the sweeper
// and a Submit stalled on the sender's account lock: the abort fires while
// nothing is debited yet, the debit lands afterwards, and Submit itself
// must then issue the compensating credit.
func TestAbortDuringStalledDebitRefunds(t *testing.T) {
	cfg := Config{Timeout: 60 * time.Millisecond, SweepInterval: 10 * time.Millisecond}

	srcLedger := ledger.New(2)
	srcLedger.Seed("A", 500)
	locks := executor.NewLockTable()
	srcExec, err := executor.New(srcLedger, locks, executor.Config{Workers: 2})
	require.NoError(t, err)
	destExec, err := executor.New(ledger.New(3), executor.NewLockTable(), executor.Config{Workers: 2})
	require.NoError(t, err)

	source := NewCoordinator(2, srcExec, cfg)
	dest := NewCoordinator(3, destExec, cfg)
	resolve := func(s ledger.ShardID) *Coordinator {
		if s == 3 {
			return dest
		}
		return nil
	}
	source.Connect(resolve)
	source.Start()
	defer source.Stop()

	// Hold the sender's lock so the debit cannot land until the transfer
	// has already been swept into Aborted.
	release := locks.Acquire([]ledger.AccountID{"A"})

	type submitResult struct {
		receipt Receipt
		err     error
	}
	done := make(chan submitResult, 1)
	go func() {
		receipt, err := source.Submit(Request{
			ID: "stalled-1", DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
		})
		done <- submitResult{receipt, err}
	}()

	waitStatus(t, source, "stalled-1", StatusAborted)
	release()

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatusAborted, res.receipt.Status)

	// The debit landed after the abort; Submit must have compensated it
	assert.Equal(t, uint64(500), srcLedger.Balance("A"))
	assert.Equal(t, uint64(1), srcLedger.NonceOf("A"), "nonce stays consumed")
	assert.Equal(t, uint64(1), source.StatsSnapshot().Aborted)
}

// TestLateCommitSettlesBookkeeping covers a destination that commits after
// the relayer's response window: the sweeper must still pool the fee and
// count the commit.
func TestLateCommitSettlesBookkeeping(t *testing.T) {
	cfg := Config{Timeout: 50 * time.Millisecond, SweepInterval: 10 * time.Millisecond, Fee: 5, FeeCollector: "pool"}
	source, dest := pair(t, cfg, map[ledger.AccountID]uint64{"A": 500})

	// Neither side started: the relayer enqueues, waits out its window,
	// and gives up with the record still sitting in the destination inbox.
	receipt, err := source.Submit(Request{
		DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)
	time.Sleep(2 * cfg.Timeout)

	// Destination comes up late and commits the queued record
	dest.Start()
	defer dest.Stop()
	waitStatus(t, source, receipt.ID, StatusCommitted)

	// Only now does the source's sweeper run; it must settle the commit
	source.Start()
	defer source.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && source.StatsSnapshot().Committed == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, uint64(1), source.StatsSnapshot().Committed)
	assert.Equal(t, uint64(395), source.exec.Ledger().Balance("A"))
	assert.Equal(t, uint64(5), source.exec.Ledger().Balance("pool"))
	assert.Equal(t, uint64(100), dest.exec.Ledger().Balance("B"))
	total := source.exec.Ledger().TotalBalance() + dest.exec.Ledger().TotalBalance()
	assert.Equal(t, uint64(500), total, "fee must move to the pool, not vanish")
}

// TestCommitSettlesOnce verifies the prompt-response path settles exactly
// once even when the sweeper also scans the committed transfer.
func TestCommitSettlesOnce(t *testing.T) {
	cfg := Config{Timeout: time.Second, SweepInterval: 10 * time.Millisecond, Fee: 5, FeeCollector: "pool"}
	source, dest := pair(t, cfg, map[ledger.AccountID]uint64{"A": 500})
	source.Start()
	defer source.Stop()
	dest.Start()
	defer dest.Stop()

	receipt, err := source.Submit(Request{
		DestShard: 3, Sender: "A", Recipient: "B", Amount: 100, Nonce: 0,
	})
	require.NoError(t, err)
	waitStatus(t, source, receipt.ID, StatusCommitted)

	// Give the sweeper several ticks to (wrongly) settle again
	time.Sleep(5 * cfg.SweepInterval)

	assert.Equal(t, uint64(1), source.StatsSnapshot().Committed)
	assert.Equal(t, uint64(5), source.exec.Ledger().Balance("pool"), "fee pooled exactly once")
}

// TestTimeoutMeasuredFromCreation pins the expiry clock to the transfer's
// creation: status transitions refresh updatedAt but must not restart the
// window.
func TestTimeoutMeasuredFromCreation(t *testing.T) {
	now := time.Now().UTC()
	tr := &Transfer{
		status:    StatusRelayed,
		createdAt: now.Add(-200 * time.Millisecond),
		updatedAt: now, // transitioned just now
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	assert.True(t, tr.expiredLocked(100*time.Millisecond, now))
	assert.False(t, tr.expiredLocked(time.Second, now))
}
