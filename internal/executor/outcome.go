package executor

import "github.com/dreamware/kotare/internal/ledger"

// Status is the terminal per-transaction result of batch execution.
type Status string

const (
	// StatusApplied means balance and nonce were updated.
	StatusApplied Status = "applied"
	// StatusRejected means the transaction was refused with no state change.
	StatusRejected Status = "rejected"
	// StatusAborted means an internal scheduling fault; fatal for the shard.
	StatusAborted Status = "aborted"
)

// BatchState tracks the lifecycle of a batch inside the executor.
type BatchState string

const (
	BatchReceived  BatchState = "received"
	BatchScheduled BatchState = "scheduled"
	BatchExecuting BatchState = "executing"
	BatchCommitted BatchState = "committed"
)

// Outcome is the result for one transaction. Seq echoes the transaction's
// sequence number; Reason is set for rejections and aborts.
type Outcome struct {
	Seq    uint64 `json:"seq"`
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// BatchResult reports one outcome per transaction in original submission
// order plus the net ledger deltas of the committed batch.
type BatchResult struct {
	BatchID   string         `json:"batch_id"`
	State     BatchState     `json:"state"`
	Outcomes  []Outcome      `json:"outcomes"`
	Deltas    []ledger.Delta `json:"deltas"`
	Conflicts int            `json:"conflicts"`
}

// Touched returns the ids of every account the batch changed, for the
// post-commit flush to the persistence layer.
func (r BatchResult) Touched() []ledger.AccountID {
	out := make([]ledger.AccountID, 0, len(r.Deltas))
	for _, d := range r.Deltas {
		out = append(out, d.Account)
	}
	return out
}
