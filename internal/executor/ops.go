package executor

import (
	"fmt"

	"github.com/dreamware/kotare/internal/ledger"
)

// The operations below are the local legs of a cross-shard transfer. The
// shard's transfer coordinator drives them so that every ledger mutation on
// a shard, batch or transfer, goes through that shard's executor and its
// lock table.

// ApplyDebit atomically validates and debits the source leg of a transfer:
// nonce must match, balance must cover total, and on success the sender is
// debited and its nonce consumed.
func (e *Executor) ApplyDebit(sender ledger.AccountID, total uint64, nonce uint64) error {
	if e.halted.Load() {
		return ErrHalted
	}

	release := e.locks.Acquire([]ledger.AccountID{sender})
	defer release()

	if expected := e.ledger.NonceOf(sender); nonce != expected {
		return fmt.Errorf("%w: got %d, want %d", ledger.ErrNonceMismatch, nonce, expected)
	}
	if err := e.ledger.Debit(sender, total); err != nil {
		return err
	}
	if err := e.ledger.BumpNonce(sender); err != nil {
		return err
	}
	return nil
}

// ApplyCredit credits an account under its lock, creating the account on
// first credit. Used for the destination leg and for compensating refunds.
func (e *Executor) ApplyCredit(recipient ledger.AccountID, amount uint64) error {
	if e.halted.Load() {
		return ErrHalted
	}

	release := e.locks.Acquire([]ledger.AccountID{recipient})
	defer release()

	return e.ledger.Credit(recipient, amount)
}
