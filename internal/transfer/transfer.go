package transfer

import (
	"sync"
	"time"

	"github.com/dreamware/kotare/internal/ledger"
)

// Status enumerates the cross-shard transfer state machine. Transitions
// are one-directional; Committed and Aborted are terminal.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSourceLocked Status = "source-locked"
	StatusRelayed      Status = "relayed"
	StatusCommitted    Status = "committed"
	StatusAborted      Status = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCommitted || s == StatusAborted
}

// Transfer is one cross-shard value movement. After reaching a terminal
// status it is retained as an immutable audit record.
//
// The mutex is the linearization point of the protocol: the source's
// relayer and sweeper and the destination's credit path all transition
// status under it, which is what prevents an abort racing a credit.
type Transfer struct {
	mu sync.Mutex

	id          string
	sourceShard ledger.ShardID
	destShard   ledger.ShardID
	sender      ledger.AccountID
	recipient   ledger.AccountID
	amount      uint64
	fee         uint64
	nonce       uint64

	status    Status
	reason    string
	debited   bool
	refunded  bool
	settled   bool // source-side commit bookkeeping done (fee pooled, counted)
	createdAt time.Time
	updatedAt time.Time
}

// View is an immutable snapshot of a transfer, safe to hand to callers and
// to serialize.
type View struct {
	ID          string           `json:"id"`
	SourceShard ledger.ShardID   `json:"source_shard"`
	DestShard   ledger.ShardID   `json:"dest_shard"`
	Sender      ledger.AccountID `json:"sender"`
	Recipient   ledger.AccountID `json:"recipient"`
	Amount      uint64           `json:"amount"`
	Fee         uint64           `json:"fee"`
	Nonce       uint64           `json:"nonce"`
	Status      Status           `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// view snapshots the transfer. Caller must not hold t.mu.
func (t *Transfer) view() View {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *Transfer) viewLocked() View {
	return View{
		ID:          t.id,
		SourceShard: t.sourceShard,
		DestShard:   t.destShard,
		Sender:      t.sender,
		Recipient:   t.recipient,
		Amount:      t.amount,
		Fee:         t.fee,
		Nonce:       t.nonce,
		Status:      t.status,
		Reason:      t.reason,
		CreatedAt:   t.createdAt,
		UpdatedAt:   t.updatedAt,
	}
}

// setStatusLocked transitions the state machine. Caller holds t.mu.
// Returns false when the transfer is already terminal.
func (t *Transfer) setStatusLocked(to Status, reason string) bool {
	if t.status.Terminal() {
		return false
	}
	t.status = to
	if reason != "" {
		t.reason = reason
	}
	t.updatedAt = time.Now().UTC()
	return true
}

// expiredLocked reports whether the transfer outlived the timeout window.
// The window is measured from creation, not from the last transition, so
// it bounds the whole protocol run. Caller holds t.mu.
func (t *Transfer) expiredLocked(timeout time.Duration, now time.Time) bool {
	return now.Sub(t.createdAt) > timeout
}
