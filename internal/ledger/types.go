package ledger

import "errors"

// AccountID uniquely identifies an account across the whole network.
type AccountID string

// ShardID identifies one state partition. Valid range is [0, shard count).
type ShardID int

// Errors returned by ledger operations.
var (
	// ErrAccountNotFound is returned when a debit or nonce operation
	// references an account that has never been credited.
	ErrAccountNotFound = errors.New("account not found")

	// ErrInsufficientFunds is returned when a debit exceeds the account's
	// current balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNonceMismatch is returned when a transaction's nonce does not match
	// the account's next expected nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")
)

// Account is the unit of state a shard owns. Balance is an unsigned amount;
// Nonce counts committed outgoing transactions from this account.
type Account struct {
	ID      AccountID `json:"id"`
	Shard   ShardID   `json:"shard"`
	Balance uint64    `json:"balance"`
	Nonce   uint64    `json:"nonce"`
}

// Transaction is an already-authenticated, already-ordered value transfer.
// Seq establishes the caller-visible submission order within a batch and is
// assigned by the ordering layer, not by this engine.
type Transaction struct {
	Sender    AccountID `json:"sender"`
	Recipient AccountID `json:"recipient"`
	Amount    uint64    `json:"amount"`
	Fee       uint64    `json:"fee"`
	Nonce     uint64    `json:"nonce"`
	Seq       uint64    `json:"seq"`
}

// Total returns amount plus fee, reporting overflow instead of wrapping.
func (t Transaction) Total() (uint64, bool) {
	total := t.Amount + t.Fee
	if total < t.Amount {
		return 0, false
	}
	return total, true
}

// Batch is an ordered sequence of transactions submitted together to one
// shard. Transactions are expected in ascending Seq order.
type Batch struct {
	ID  string        `json:"id"`
	Txs []Transaction `json:"txs"`
}

// Delta describes the net effect of a committed batch on one account.
// BalanceChange is signed so a debit and a credit can share one record.
type Delta struct {
	Account       AccountID `json:"account"`
	BalanceChange int64     `json:"balance_change"`
	Nonce         uint64    `json:"nonce"`
}
