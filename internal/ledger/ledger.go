package ledger

import (
	"context"
	"fmt"
	"sync"
)

// Ledger holds the accounts owned by one shard.
//
// The internal mutex protects the account map itself (lookups and lazy
// account creation). It does not serialize balance or nonce mutation across
// transactions; callers must hold the per-account locks handed out by the
// shard's lock table before mutating an account.
type Ledger struct {
	shard    ShardID
	mu       sync.RWMutex
	accounts map[AccountID]*Account
}

// New creates an empty ledger for the given shard.
func New(shard ShardID) *Ledger {
	return &Ledger{
		shard:    shard,
		accounts: make(map[AccountID]*Account),
	}
}

// Shard returns the shard this ledger belongs to.
func (l *Ledger) Shard() ShardID { return l.shard }

// Get returns a copy of the account, and whether it exists.
func (l *Ledger) Get(id AccountID) (Account, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	acct, ok := l.accounts[id]
	if !ok {
		return Account{}, false
	}
	return *acct, true
}

// Balance returns the account's balance, zero for unknown accounts.
func (l *Ledger) Balance(id AccountID) uint64 {
	acct, _ := l.Get(id)
	return acct.Balance
}

// NonceOf returns the account's next expected transaction nonce, zero for
// unknown accounts.
func (l *Ledger) NonceOf(id AccountID) uint64 {
	acct, _ := l.Get(id)
	return acct.Nonce
}

// Credit adds amount to the account, creating it on first credit.
func (l *Ledger) Credit(id AccountID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		acct = &Account{ID: id, Shard: l.shard}
		l.accounts[id] = acct
	}
	if acct.Balance+amount < acct.Balance {
		return fmt.Errorf("credit %s: balance overflow", id)
	}
	acct.Balance += amount
	return nil
}

// Debit removes amount from the account. The account must exist and hold at
// least amount.
func (l *Ledger) Debit(id AccountID, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("debit %s: %w", id, ErrAccountNotFound)
	}
	if acct.Balance < amount {
		return fmt.Errorf("debit %s: %w (have %d, need %d)", id, ErrInsufficientFunds, acct.Balance, amount)
	}
	acct.Balance -= amount
	return nil
}

// BumpNonce advances the account's nonce by one. Called exactly once per
// committed outgoing transaction, after the debit succeeds.
func (l *Ledger) BumpNonce(id AccountID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[id]
	if !ok {
		return fmt.Errorf("bump nonce %s: %w", id, ErrAccountNotFound)
	}
	acct.Nonce++
	return nil
}

// Seed installs an account with the given balance, used for genesis state.
// Overwrites any existing account with the same id.
func (l *Ledger) Seed(id AccountID, balance uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts[id] = &Account{ID: id, Shard: l.shard, Balance: balance}
}

// TotalBalance sums every account balance on this shard.
func (l *Ledger) TotalBalance() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var total uint64
	for _, acct := range l.accounts {
		total += acct.Balance
	}
	return total
}

// Accounts returns a copy of every account on the shard, in no particular
// order.
func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Account, 0, len(l.accounts))
	for _, acct := range l.accounts {
		out = append(out, *acct)
	}
	return out
}

// Flush writes the named accounts to the store. Called by the engine after
// a batch is finalized; unknown ids are skipped.
func (l *Ledger) Flush(ctx context.Context, store Store, ids []AccountID) error {
	for _, id := range ids {
		acct, ok := l.Get(id)
		if !ok {
			continue
		}
		if err := store.Write(ctx, acct); err != nil {
			return fmt.Errorf("flush %s: %w", id, err)
		}
	}
	return nil
}

// Restore loads every account the store holds into the ledger, replacing
// any in-memory state. Used at startup to resume from a durable store.
func (l *Ledger) Restore(ctx context.Context, store Store) error {
	accounts, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("restore shard %d: %w", l.shard, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.accounts = make(map[AccountID]*Account, len(accounts))
	for _, acct := range accounts {
		a := acct
		a.Shard = l.shard
		l.accounts[a.ID] = &a
	}
	return nil
}
